package bearer

import (
	"bufio"
	"bytes"
	"testing"

	"meshio/pkg/codec"
)

func TestFrameStreamRoundTrip(t *testing.T) {
	cdc, err := codec.CBOR()
	if err != nil {
		t.Fatalf("cbor: %v", err)
	}
	var buf bytes.Buffer
	in := Frame{Origin: 0xDEADBEEF, Channel: 39, Data: []byte{0x2A, 0x01, 0x02}}
	if err := WriteFrame(&buf, cdc, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadFrame(bufio.NewReader(&buf), cdc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Origin != in.Origin || out.Channel != in.Channel || !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestReadFrameRejectsBogusLength(t *testing.T) {
	cdc := codec.JSON()
	// u32 LE length far beyond the frame cap
	junk := []byte{0xFF, 0xFF, 0xFF, 0x7F, 0x00}
	if _, err := ReadFrame(bufio.NewReader(bytes.NewReader(junk)), cdc); err == nil {
		t.Fatalf("expected frame size error")
	}
}

func TestParseKind(t *testing.T) {
	for s, k := range map[string]Kind{
		"mem":     KindMem,
		"udp":     KindUDP,
		"winpipe": KindWinPipe,
		"bogus":   KindUnknown,
	} {
		if got := ParseKind(s); got != k {
			t.Fatalf("ParseKind(%q) = %v, want %v", s, got, k)
		}
		if k != KindUnknown && k.String() != s {
			t.Fatalf("Kind(%v).String() = %q", k, k.String())
		}
	}
}

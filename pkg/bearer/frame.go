package bearer

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"meshio/pkg/codec"
)

// Frame is the on-the-wire envelope used by bearers that carry packets over
// sockets or pipes. Only reception metadata is framed; the payload bytes
// stay opaque. Origin is a random per-bearer tag used to suppress multicast
// loopback of a node's own transmissions.
type Frame struct {
	Origin  uint64 `json:"origin" cbor:"1,keyasint"`
	Channel uint8  `json:"channel" cbor:"2,keyasint"`
	Data    []byte `json:"data" cbor:"3,keyasint"`
}

const maxFrameSize = 1 << 16

// EncodeFrame marshals a frame with the given codec.
func EncodeFrame(c codec.Codec, f Frame) ([]byte, error) { return c.Marshal(f) }

// DecodeFrame unmarshals a frame with the given codec.
func DecodeFrame(c codec.Codec, b []byte) (Frame, error) {
	var f Frame
	if err := c.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// WriteFrame writes one length-prefixed frame (u32 LE) to a stream bearer.
func WriteFrame(w io.Writer, c codec.Codec, f Frame) error {
	b, err := c.Marshal(f)
	if err != nil {
		return err
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame from a stream bearer.
func ReadFrame(br *bufio.Reader, c codec.Codec) (Frame, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(br, lenbuf[:]); err != nil {
		return Frame{}, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n <= 0 || n > maxFrameSize {
		return Frame{}, errors.New("bearer: invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return Frame{}, err
	}
	return DecodeFrame(c, buf)
}

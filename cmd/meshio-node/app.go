package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"meshio/pkg/bearer"
	"meshio/pkg/bearer/mem"
	"meshio/pkg/bearer/udp"
	"meshio/pkg/bearer/winpipe"
	"meshio/pkg/config"
	"meshio/pkg/meshio"
	"meshio/pkg/observability"
)

// Advertising data types carried by mesh packets (Bluetooth assigned
// numbers). Used as the demo match patterns.
const (
	adTypePbAdv      = 0x29
	adTypeMeshMsg    = 0x2A
	adTypeMeshBeacon = 0x2B
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("meshio-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	factory := bearer.NewFactory()
	factory.Register(bearer.KindMem, mem.NewBus().Constructor())
	factory.Register(bearer.KindUDP, udp.Constructor())
	factory.Register(bearer.KindWinPipe, winpipe.Constructor())

	kind := bearer.ParseKind(cfg.Bearer.Kind)
	var backendOpts any
	switch kind {
	case bearer.KindUDP:
		backendOpts = udp.Options{
			Group:     cfg.Bearer.UDP.Group,
			Interface: cfg.Bearer.UDP.Interface,
			Channel:   cfg.Bearer.UDP.Channel,
		}
	case bearer.KindWinPipe:
		backendOpts = winpipe.Options{Name: cfg.Bearer.Pipe.Name}
	case bearer.KindMem:
		backendOpts = mem.Options{}
	}

	io, err := meshio.New(factory, kind, backendOpts, meshio.Options{
		DutyCycled:         !cfg.IO.PassiveScan,
		CloseWindowOnMatch: cfg.IO.CloseWindowOnMatch,
		MaxPayload:         cfg.IO.MaxPayload,
	})
	if err != nil {
		zap.L().Error("failed to create I/O instance", zap.Error(err))
		return 1
	}

	onPacket := func(name string) meshio.RecvFunc {
		return func(_ any, info meshio.RecvInfo, payload []byte) {
			zap.L().Info("packet received",
				zap.String("filter", name),
				zap.Uint8("channel", info.Channel),
				zap.Int8("rssi", info.RSSI),
				zap.Binary("payload", payload))
		}
	}
	onStatus := func(_ any, status meshio.FilterStatus, id meshio.FilterID) {
		zap.L().Info("filter status",
			zap.Stringer("filter", id),
			zap.Stringer("status", status))
	}

	for _, f := range []struct {
		id    meshio.FilterID
		match byte
	}{
		{meshio.FilterNetwork, adTypeMeshMsg},
		{meshio.FilterBeacon, adTypeMeshBeacon},
		{meshio.FilterProvisioning, adTypePbAdv},
	} {
		if err := io.RegisterRecv(f.id, onPacket(f.id.String()), nil); err != nil {
			zap.L().Error("register failed", zap.Stringer("filter", f.id), zap.Error(err))
			return 1
		}
		if err := io.SetFilter(f.id, []byte{f.match}, onStatus, nil); err != nil {
			zap.L().Error("set filter failed", zap.Stringer("filter", f.id), zap.Error(err))
			return 1
		}
	}

	beacon := []byte{adTypeMeshBeacon, 0x01, 0x00}
	err = io.Send(meshio.General{
		Interval: time.Duration(cfg.IO.BeaconIntervalMS) * time.Millisecond,
		Count:    meshio.TxCountUnlimited,
		MinDelay: 0,
		MaxDelay: 20 * time.Millisecond,
	}, beacon)
	if err != nil {
		zap.L().Error("beacon send failed", zap.Error(err))
		return 1
	}

	zap.L().Info("node is running; press Ctrl+C to exit")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	n := io.Cancel(nil)
	zap.L().Info("shutting down", zap.Int("cancelled", n))
	if err := io.Close(); err != nil {
		zap.L().Warn("close", zap.Error(err))
	}
	return 0
}

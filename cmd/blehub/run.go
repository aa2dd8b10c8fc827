package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/bledecode"
	"github.com/srg/blehub/internal/hub"
	"github.com/srg/blehub/internal/mqttpub"
	"github.com/srg/blehub/parser"
	"github.com/srg/blehub/pkg/config"
	"github.com/srg/blehub/scanner"
)

// newMQTTPublisher connects the publisher (can be overridden in tests)
var newMQTTPublisher = func(ctx context.Context, cfg mqttpub.Config, logger *logrus.Logger) (*mqttpub.Publisher, error) {
	p := mqttpub.New(cfg, logger)
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func newRunCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decode sensor advertisements and publish them",
		Long: `Run the hub: scan on every configured adapter, decode sensor beacons with
the built-in decoders or the Lua parsers listed in the configuration, and
publish sensor state and availability to MQTT. Without an MQTT broker the
updates are logged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHub(cmd, duration)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")

	return cmd
}

func runHub(cmd *cobra.Command, duration time.Duration) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, cfg.Level())
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	libraries, closeLibraries, err := buildLibraries(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLibraries()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	var publisher hub.Publisher = hub.LogPublisher{Logger: logger}
	if cfg.MQTT.Broker != "" {
		p, err := newMQTTPublisher(ctx, cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.MQTT.Broker, err)
		}
		defer p.Close()
		publisher = p
	}

	manager := bluetooth.NewManager(logger, bluetooth.WithOptions(cfg.ManagerOptions()))
	done := manager.Start(ctx)

	h := hub.New(manager, libraries, publisher, logger)
	h.Start()
	defer h.Stop()

	for _, adapter := range cfg.Adapters {
		if _, err := manager.StartScanner(ctx, scanner.New(manager, logger, cfg.ScannerOptions(adapter))); err != nil {
			_ = manager.Stop()
			<-done
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"adapters": cfg.Adapters,
		"parsers":  len(libraries),
	}).Info("Hub running")

	<-ctx.Done()

	err = manager.Stop()
	<-done
	logger.WithField("devices", len(h.Devices())).Info("Hub stopped")
	return err
}

// buildLibraries maps every company id to its parser: the built-in decoders
// first, then the configured Lua scripts, which take precedence.
func buildLibraries(cfg *config.Config, logger *logrus.Logger) (map[uint16]parser.Library, func(), error) {
	libraries := make(map[uint16]parser.Library)
	for _, id := range bledecode.CompanyIDs() {
		libraries[id] = parser.Builtin
	}

	var scripts []*parser.LuaLibrary
	closeAll := func() {
		for _, s := range scripts {
			s.Close()
		}
	}

	for id, path := range cfg.Parsers {
		lib, err := parser.LoadLuaLibrary(path, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("parser for company 0x%04X: %w", id, err)
		}
		scripts = append(scripts, lib)
		libraries[id] = lib
	}

	return libraries, closeAll, nil
}

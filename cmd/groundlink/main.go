// groundlink maintains the telemetry link to a flight-data source and
// republishes decoded flight state as per-category events.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmast/groundlink/internal/config"
	"github.com/openmast/groundlink/internal/history"
	"github.com/openmast/groundlink/internal/link"
	"github.com/openmast/groundlink/internal/logging"
	"github.com/openmast/groundlink/internal/status"
	"github.com/openmast/groundlink/internal/telemetry"
	"github.com/openmast/groundlink/internal/transport"
)

func main() {
	configPath := flag.String("config", "groundlink.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "groundlink: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level)

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	storeOpts := []telemetry.Option{
		telemetry.WithMaxListeners(cfg.Link.MaxListeners),
	}

	if cfg.History.Enabled {
		archive, err := history.Open(cfg.History.Path, log)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer archive.Close()
		storeOpts = append(storeOpts, telemetry.WithArchive(archive))
	}

	store := telemetry.New(log, storeOpts...)
	register := status.NewRegister()
	registry := transport.NewRegistry(log)

	mgr := link.New(link.Config{
		LegacyMode:      cfg.Link.LegacyMode,
		LegacyHost:      cfg.Link.LegacyHost,
		LegacyPort:      cfg.Link.LegacyPort,
		DiscoveryPort:   cfg.Discovery.Port,
		DiscoveryWindow: time.Duration(cfg.Discovery.WindowMs) * time.Millisecond,
		IdleTimeout:     time.Duration(cfg.Link.IdleTimeoutMs) * time.Millisecond,
	}, link.WrapRegistry(registry), register, store, log)

	if log.GetLevel() <= zerolog.DebugLevel {
		subscribeDebugTaps(store, log)
	}

	mgr.Start()
	log.Info().Str("state", mgr.State().String()).Msg("telemetry link started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			// the link never retries by itself; SIGHUP is the external
			// restart trigger
			log.Info().Msg("restart requested")
			mgr.Start()
		default:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			registry.RemoveAll(link.ConnectionName)
			return nil
		}
	}
	return nil
}

// subscribeDebugTaps logs every published packet so operators can watch the
// decoded feed.
func subscribeDebugTaps(store *telemetry.Store, log zerolog.Logger) {
	for _, cat := range telemetry.Categories() {
		if _, err := store.Subscribe(cat, func(p telemetry.Packet) {
			log.Debug().
				Str("category", string(p.Category)).
				Interface("payload", p.Payload).
				Msg("telemetry packet")
		}); err != nil {
			log.Warn().Err(err).Str("category", string(cat)).Msg("debug tap not registered")
		}
	}
}

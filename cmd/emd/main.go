// Command emd is the EVE market dump hoarder: a long-running daemon that
// periodically downloads order books, daily price histories, and structure
// metadata from the public game API and persists them as checksummed
// binary dump files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/evemarket/emd/internal/config"
	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/esi"
	"github.com/evemarket/emd/internal/hoard"
	"github.com/evemarket/emd/internal/metrics"
	"github.com/evemarket/emd/internal/sde"
	"github.com/evemarket/emd/internal/secrets"
	"github.com/evemarket/emd/internal/server"
)

type flags struct {
	secretsJSON string
	dumpDir     string
	configPath  string
	listen      string
	history     bool
	structure   bool
}

func main() {
	// All timestamps in dumps and logs are UTC.
	os.Setenv("TZ", "GMT")
	time.Local = time.UTC

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var f flags
	root := &cobra.Command{
		Use:           "emd",
		Short:         "EVE market dump hoarder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}
	root.Flags().StringVar(&f.secretsJSON, "secrets", "{}", "JSON object of secret values")
	root.Flags().StringVar(&f.dumpDir, "dump_dir", ".", "directory dumps are written to")
	root.Flags().StringVar(&f.configPath, "config", "", "optional YAML config file")
	root.Flags().StringVar(&f.listen, "listen", "", "dump-listing HTTP address, empty disables")
	root.Flags().BoolVar(&f.history, "history", true, "run the histories worker")
	root.Flags().BoolVar(&f.structure, "structure", true, "run the locations worker")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("emd exited")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("dump_dir") || cfg.DumpDir == "" {
		cfg.DumpDir = f.dumpDir
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = f.listen
	}

	store, err := secrets.Parse(f.secretsJSON)
	if err != nil {
		return err
	}

	var tokens *esi.TokenCache
	if f.structure {
		clientID, err := store.Get(secrets.KeySSOClientID)
		if err != nil {
			return err
		}
		clientSecret, err := store.Get(secrets.KeySSOClientSecret)
		if err != nil {
			return err
		}
		refreshToken, err := store.Get(secrets.KeySSORefreshToken)
		if err != nil {
			return err
		}
		tokens = esi.NewTokenCache(log.Logger, cfg.Upstream.TokenURL, clientID, clientSecret, refreshToken)
	}

	systems, err := sde.LoadSystems()
	if err != nil {
		return err
	}

	m := metrics.New()
	registry := dump.NewRegistry()
	client := esi.NewClient(log.Logger, cfg.Upstream.BaseURL, esi.NewGate(), tokens, m)
	rt := hoard.NewRuntime(log.Logger, cfg, client, registry, m, systems)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// Whatever path leaves run, no partially-written dump survives.
	defer registry.Burn()

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	start("orders", hoard.NewOrdersWorker(rt).Run)
	if f.structure {
		lw, err := hoard.NewLocationsWorker(rt)
		if err != nil {
			return err
		}
		start("locations", lw.Run)
	} else {
		log.Info().Msg("locations worker disabled")
	}
	if f.history {
		start("histories", hoard.NewHistoriesWorker(rt).Run)
	} else {
		log.Info().Msg("histories worker disabled")
	}
	if cfg.Listen != "" {
		start("server", server.New(log.Logger, cfg.Listen, cfg.DumpDir, m).Run)
	}

	log.Info().Str("dump_dir", cfg.DumpDir).
		Bool("history", f.history).Bool("structure", f.structure).
		Msg("emd started")

	var runErr error
	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errc:
	}
	cancel()
	wg.Wait()
	return runErr
}

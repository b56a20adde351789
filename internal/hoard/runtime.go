// Package hoard contains the three long-running workers that drive the
// daemon: orders, locations, and histories. Each worker is an independent
// state machine over the shared fetch layer and dump writer.
package hoard

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/evemarket/emd/internal/config"
	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/esi"
	"github.com/evemarket/emd/internal/fifo"
	"github.com/evemarket/emd/internal/market"
	"github.com/evemarket/emd/internal/metrics"
	"github.com/evemarket/emd/internal/sde"
)

// Runtime carries the process-wide singletons. It is constructed once at
// startup and handed to every worker; there is no package-global state.
type Runtime struct {
	Log      zerolog.Logger
	Cfg      config.Config
	Client   *esi.Client
	Registry *dump.Registry
	Metrics  *metrics.Set
	Systems  *sde.SystemTable

	// LocationBatches carries the distinct location-ID set of each orders
	// tick to the locations worker.
	LocationBatches *fifo.FIFO[[]uint64]
	// MarketRequests carries one token per active-markets request from
	// the histories worker; MarketResponses carries the answer back.
	MarketRequests  *fifo.FIFO[struct{}]
	MarketResponses *fifo.FIFO[[]market.Market]
}

// NewRuntime wires the queues around the given collaborators.
func NewRuntime(log zerolog.Logger, cfg config.Config, client *esi.Client, reg *dump.Registry, m *metrics.Set, systems *sde.SystemTable) *Runtime {
	return &Runtime{
		Log:             log,
		Cfg:             cfg,
		Client:          client,
		Registry:        reg,
		Metrics:         m,
		Systems:         systems,
		LocationBatches: fifo.New[[]uint64](cfg.Locations.QueueCapacity),
		MarketRequests:  fifo.New[struct{}](1),
		MarketResponses: fifo.New[[]market.Market](1),
	}
}

// sleepUntil blocks until the instant has passed or ctx is done.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

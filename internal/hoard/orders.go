package hoard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/fifo"
	"github.com/evemarket/emd/internal/market"
	"github.com/evemarket/emd/internal/sde"
)

// pageRetries is the fetch retry budget per order page.
const pageRetries = 5

// ordersExpiry is how long an orders dump stays fresh.
const ordersExpiry = 300

// OrdersWorker sweeps every region's order book on a fixed cadence,
// publishes an orders dump per sweep, and feeds the other two workers.
type OrdersWorker struct {
	rt  *Runtime
	log zerolog.Logger

	orders      []market.Order
	nextTickDue time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrdersWorker builds the worker. The first tick fires immediately.
func NewOrdersWorker(rt *Runtime) *OrdersWorker {
	return &OrdersWorker{
		rt:    rt,
		log:   rt.Log.With().Str("worker", "orders").Logger(),
		sleep: realSleep,
	}
}

// Run loops until ctx is cancelled. Sweep failures back off and retry;
// the worker never exits on its own.
func (w *OrdersWorker) Run(ctx context.Context) error {
	for {
		if err := sleepUntil(ctx, w.nextTickDue); err != nil {
			return err
		}
		now := time.Now()
		if err := w.tick(ctx, now); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Dur("backoff", w.rt.Cfg.OrdersBackoff()).Msg("sweep failed")
			if err := w.sleep(ctx, w.rt.Cfg.OrdersBackoff()); err != nil {
				return err
			}
			continue
		}
		w.nextTickDue = now.Add(w.rt.Cfg.OrdersCadence())
	}
}

// tick performs one full cycle: sweep, dump, fanout, market service.
func (w *OrdersWorker) tick(ctx context.Context, now time.Time) error {
	w.orders = w.orders[:0]
	if err := w.sweep(ctx); err != nil {
		return err
	}
	if err := w.writeDump(now); err != nil {
		return err
	}
	w.fanoutLocations(ctx)
	w.serveActiveMarkets(ctx)
	return nil
}

// sweep downloads every page of every region into w.orders.
func (w *OrdersWorker) sweep(ctx context.Context) error {
	for _, regionID := range sde.Regions {
		if err := w.sweepRegion(ctx, regionID); err != nil {
			return fmt.Errorf("region %d: %w", regionID, err)
		}
	}
	w.log.Info().Int("orders", len(w.orders)).Msg("sweep complete")
	return nil
}

func (w *OrdersWorker) sweepRegion(ctx context.Context, regionID uint64) error {
	pages := 1
	for page := 1; page <= pages; page++ {
		uri := fmt.Sprintf("/markets/%d/orders?order_type=all&page=%d", regionID, page)
		resp, err := w.rt.Client.Fetch(ctx, http.MethodGet, uri, nil, false, pageRetries)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		if resp.Pages > 0 && resp.Pages != pages {
			if page > 1 {
				w.log.Warn().Uint64("region", regionID).
					Int("was", pages).Int("now", resp.Pages).
					Msg("page count changed mid-sweep")
			}
			pages = resp.Pages
		}
		parsed, err := market.ParseOrders(resp.Body, regionID)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		w.orders = append(w.orders, parsed...)
	}
	return nil
}

func (w *OrdersWorker) writeDump(now time.Time) error {
	path := filepath.Join(w.rt.Cfg.DumpDir, fmt.Sprintf("orders-%d.dump", now.Unix()))
	dw, err := dump.OpenWrite(w.rt.Registry, path, dump.KindOrders, uint64(now.Unix())+ordersExpiry)
	if err != nil {
		return err
	}
	if err := market.WriteOrdersBody(dw, w.orders); err != nil {
		dw.Abort()
		return err
	}
	if err := dw.Close(); err != nil {
		return err
	}
	if w.rt.Metrics != nil {
		w.rt.Metrics.DumpsWritten.WithLabelValues(dump.KindOrders.String()).Inc()
	}
	w.log.Info().Str("path", path).Int("orders", len(w.orders)).Msg("orders dump written")
	return nil
}

// fanoutLocations pushes the distinct location IDs of this sweep to the
// locations worker. The push gives up after the configured timeout so a
// lagging consumer can never deadlock this worker.
func (w *OrdersWorker) fanoutLocations(ctx context.Context) {
	ids := w.locationSet()
	if len(ids) == 0 {
		return
	}
	err := w.rt.LocationBatches.Push(ctx, ids, w.rt.Cfg.PushTimeout())
	if errors.Is(err, fifo.ErrTimeout) {
		if w.rt.Metrics != nil {
			w.rt.Metrics.DroppedBatches.Inc()
		}
		w.log.Warn().Int("ids", len(ids)).Msg("locations queue full, batch dropped")
	} else if err != nil {
		w.log.Warn().Err(err).Msg("location fanout aborted")
	}
}

// locationSet returns the distinct location IDs in first-appearance order.
func (w *OrdersWorker) locationSet() []uint64 {
	seen := make(map[uint64]struct{}, 64)
	var ids []uint64
	for i := range w.orders {
		id := w.orders[i].LocationID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// serveActiveMarkets answers a pending active-markets request, if any,
// with the distinct (region, type) pairs of this sweep.
func (w *OrdersWorker) serveActiveMarkets(ctx context.Context) {
	if _, err := w.rt.MarketRequests.TryPop(); err != nil {
		return
	}
	markets := w.activeMarkets()
	if err := w.rt.MarketResponses.Push(ctx, markets, 0); err != nil {
		w.log.Warn().Err(err).Msg("active-markets response dropped")
		return
	}
	w.log.Info().Int("markets", len(markets)).Msg("active markets served")
}

// activeMarkets returns the distinct markets in first-appearance order.
func (w *OrdersWorker) activeMarkets() []market.Market {
	seen := make(map[market.Market]struct{}, 256)
	var markets []market.Market
	for i := range w.orders {
		m := market.Market{RegionID: w.orders[i].RegionID, TypeID: w.orders[i].TypeID}
		if _, ok := seen[m]; !ok {
			seen[m] = struct{}{}
			markets = append(markets, m)
		}
	}
	return markets
}

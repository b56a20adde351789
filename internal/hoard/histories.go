package hoard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/esi"
	"github.com/evemarket/emd/internal/market"
)

// historyRetries is the fetch-layer retry budget per history request.
const historyRetries = 5

// historyLadder is the worker-level backoff between download attempts,
// on top of the fetch layer's own retries.
var historyLadder = [...]time.Duration{
	5 * time.Minute, 5 * time.Minute, 5 * time.Minute,
	30 * time.Minute, 30 * time.Minute, 2 * time.Hour,
}

// marketWait bounds how long the worker waits for the orders worker to
// answer an active-markets request.
const marketWait = 3 * time.Hour

// snapshotChunk is how many history records the backfill scans per pass.
const snapshotChunk = 10000

// errMarketGone marks a market whose history the upstream does not have;
// the market is skipped, not retried.
var errMarketGone = errors.New("market history not found")

// HistoriesWorker downloads daily price statistics for every active
// market once per day and emits one dump per calendar day.
type HistoriesWorker struct {
	rt  *Runtime
	log zerolog.Logger

	nextTickDue time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHistoriesWorker builds the worker.
func NewHistoriesWorker(rt *Runtime) *HistoriesWorker {
	return &HistoriesWorker{
		rt:    rt,
		log:   rt.Log.With().Str("worker", "histories").Logger(),
		now:   time.Now,
		sleep: realSleep,
	}
}

// Run performs the initial backfill when needed, then settles into the
// daily anchor loop. Structural failures are returned and take the
// process down.
func (w *HistoriesWorker) Run(ctx context.Context) error {
	now := w.now().UTC()
	w.nextTickDue = w.anchorAfter(now)

	if w.backfillNeeded(now) {
		w.log.Info().Msg("history backfill starting")
		if err := w.backfill(ctx); err != nil {
			return fmt.Errorf("history backfill: %w", err)
		}
	}

	for {
		if err := sleepUntil(ctx, w.nextTickDue); err != nil {
			return err
		}
		if err := w.dailyTick(ctx); err != nil {
			return err
		}
		w.nextTickDue = w.nextTickDue.Add(24 * time.Hour)
	}
}

// anchorAfter returns the next daily anchor instant at or after now.
func (w *HistoriesWorker) anchorAfter(now time.Time) time.Time {
	hour, minute, _ := w.rt.Cfg.AnchorClock()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if now.Before(anchor) {
		return anchor
	}
	return anchor.Add(24 * time.Hour)
}

// targetDay returns the most recent date the upstream guarantees final.
func (w *HistoriesWorker) targetDay(now time.Time) market.Date {
	hour, minute, _ := w.rt.Cfg.AnchorClock()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if now.Before(anchor) {
		return market.DateOf(now.Add(-48 * time.Hour))
	}
	return market.DateOf(now.Add(-24 * time.Hour))
}

func (w *HistoriesWorker) dayDumpPath(d market.Date) string {
	return filepath.Join(w.rt.Cfg.DumpDir, fmt.Sprintf("history-day-%d-%d.dump", d.Year, d.Day))
}

// backfillNeeded reports whether the dump for the day before yesterday is
// missing, which marks a fresh or stale dump directory.
func (w *HistoriesWorker) backfillNeeded(now time.Time) bool {
	d := market.DateOf(now.Add(-48 * time.Hour))
	_, err := os.Stat(w.dayDumpPath(d))
	return os.IsNotExist(err)
}

// dailyTick downloads the finalized day for every active market and emits
// its dump.
func (w *HistoriesWorker) dailyTick(ctx context.Context) error {
	markets, err := w.requestActiveMarkets(ctx)
	if err != nil {
		return err
	}
	day := w.targetDay(w.now().UTC())

	var bits []market.HistoryBit
	for _, m := range markets {
		got, err := w.download(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).
				Uint64("region", m.RegionID).Uint64("type", m.TypeID).
				Msg("market skipped")
			continue
		}
		for i := range got {
			if got[i].Date == day {
				bits = append(bits, got[i])
			}
		}
	}
	return w.writeDayDump(day, bits)
}

// requestActiveMarkets asks the orders worker for the markets seen in its
// latest sweep and waits for the answer.
func (w *HistoriesWorker) requestActiveMarkets(ctx context.Context) ([]market.Market, error) {
	if err := w.rt.MarketRequests.Push(ctx, struct{}{}, marketWait); err != nil {
		return nil, fmt.Errorf("active-markets request: %w", err)
	}
	markets, err := w.rt.MarketResponses.Pop(ctx, marketWait)
	if err != nil {
		return nil, fmt.Errorf("active-markets response: %w", err)
	}
	w.log.Info().Int("markets", len(markets)).Msg("active markets received")
	return markets, nil
}

// download fetches one market's full history, climbing the backoff ladder
// on persistent failure. A 404 means the upstream has no history for the
// market and is surfaced as errMarketGone.
func (w *HistoriesWorker) download(ctx context.Context, m market.Market) ([]market.HistoryBit, error) {
	bits, err := w.fetchHistory(ctx, m)
	for try := 0; err != nil && try < len(historyLadder); try++ {
		if errors.Is(err, errMarketGone) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.log.Warn().Err(err).
			Uint64("region", m.RegionID).Uint64("type", m.TypeID).
			Dur("backoff", historyLadder[try]).Msg("history download failed")
		if serr := w.sleep(ctx, historyLadder[try]); serr != nil {
			return nil, serr
		}
		bits, err = w.fetchHistory(ctx, m)
	}
	return bits, err
}

func (w *HistoriesWorker) fetchHistory(ctx context.Context, m market.Market) ([]market.HistoryBit, error) {
	uri := fmt.Sprintf("/markets/%d/history?type_id=%d", m.RegionID, m.TypeID)
	resp, err := w.rt.Client.Fetch(ctx, http.MethodGet, uri, nil, false, historyRetries)
	if err != nil {
		if ue, ok := esi.IsUpstreamRejected(err); ok && ue.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %d/%d", errMarketGone, m.RegionID, m.TypeID)
		}
		return nil, err
	}
	return market.ParseHistory(resp.Body, m)
}

// backfill downloads the full history of every active market through a
// scratch snapshot dump in the temp dir, then replays the snapshot date
// by date into per-day dumps. The snapshot keeps the multi-day dataset
// off the heap.
func (w *HistoriesWorker) backfill(ctx context.Context) error {
	markets, err := w.requestActiveMarkets(ctx)
	if err != nil {
		return err
	}

	snapPath := filepath.Join(os.TempDir(), fmt.Sprintf("emd-history-snapshot-%d.dump", w.now().Unix()))
	defer os.Remove(snapPath)

	earliest, latest, err := w.writeSnapshot(ctx, snapPath, markets)
	if err != nil {
		return err
	}
	if earliest == (market.Date{}) {
		w.log.Warn().Msg("backfill found no history at all")
		return nil
	}

	r, err := dump.OpenRead(snapPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for d := earliest; ; d = d.Incr() {
		if err := w.emitDayFromSnapshot(r, d); err != nil {
			return err
		}
		if d == latest {
			return nil
		}
	}
}

// writeSnapshot streams every market's history into the scratch dump and
// returns the date range observed.
func (w *HistoriesWorker) writeSnapshot(ctx context.Context, path string, markets []market.Market) (earliest, latest market.Date, err error) {
	sw, err := dump.OpenWrite(w.rt.Registry, path, dump.KindInternal, 0)
	if err != nil {
		return earliest, latest, err
	}
	have := false
	for _, m := range markets {
		bits, err := w.download(ctx, m)
		if err != nil {
			if ctx.Err() != nil {
				sw.Abort()
				return earliest, latest, ctx.Err()
			}
			w.log.Warn().Err(err).
				Uint64("region", m.RegionID).Uint64("type", m.TypeID).
				Msg("market skipped in backfill")
			continue
		}
		for i := range bits {
			if err := market.WriteHistoryBit(sw, &bits[i]); err != nil {
				sw.Abort()
				return earliest, latest, err
			}
			if !have || bits[i].Date.Before(earliest) {
				earliest = bits[i].Date
			}
			if !have || bits[i].Date.After(latest) {
				latest = bits[i].Date
			}
			have = true
		}
	}
	if err := sw.Close(); err != nil {
		return earliest, latest, err
	}
	return earliest, latest, nil
}

// emitDayFromSnapshot scans the snapshot in fixed-size chunks, keeps the
// bits of one day, and writes that day's dump.
func (w *HistoriesWorker) emitDayFromSnapshot(r *dump.Reader, day market.Date) error {
	if err := r.SeekStart(); err != nil {
		return err
	}
	chunk := make([]market.HistoryBit, snapshotChunk)
	var bits []market.HistoryBit
	for {
		n, err := market.ReadHistoryChunk(r, chunk)
		for i := 0; i < n; i++ {
			if chunk[i].Date == day {
				bits = append(bits, chunk[i])
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return w.writeDayDump(day, bits)
}

// writeDayDump emits one day's dump, refusing to touch an existing file.
func (w *HistoriesWorker) writeDayDump(day market.Date, bits []market.HistoryBit) error {
	path := w.dayDumpPath(day)
	dw, err := dump.OpenExclusive(w.rt.Registry, path, dump.KindHistories, 0)
	if errors.Is(err, dump.ErrExists) {
		w.log.Warn().Str("path", path).Msg("day dump already exists, skipped")
		return nil
	}
	if err != nil {
		return err
	}
	for i := range bits {
		if err := market.WriteHistoryBit(dw, &bits[i]); err != nil {
			dw.Abort()
			return err
		}
	}
	if err := dw.Close(); err != nil {
		return err
	}
	if w.rt.Metrics != nil {
		w.rt.Metrics.DumpsWritten.WithLabelValues(dump.KindHistories.String()).Inc()
	}
	w.log.Info().Str("path", path).Int("bits", len(bits)).Msg("history day dump written")
	return nil
}

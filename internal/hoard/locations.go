package hoard

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/esi"
	"github.com/evemarket/emd/internal/market"
	"github.com/evemarket/emd/internal/sde"
)

// structureRetries is the fetch retry budget per structure; structures
// fail often enough that retrying hard is wasteful.
const structureRetries = 1

// LocationsWorker resolves the location IDs seen in order sweeps into
// named structures and stations, and dumps the growing set whenever it
// learns something new.
type LocationsWorker struct {
	rt  *Runtime
	log zerolog.Logger

	locations []market.Location
	known     map[uint64]struct{}
	// forbidden holds IDs the upstream rejected; retrying them would only
	// burn error budget.
	forbidden map[uint64]struct{}
}

// NewLocationsWorker builds the worker with the baseline NPC station set.
func NewLocationsWorker(rt *Runtime) (*LocationsWorker, error) {
	baseline, err := sde.BaselineLocations()
	if err != nil {
		return nil, fmt.Errorf("locations bootstrap: %w", err)
	}
	w := &LocationsWorker{
		rt:        rt,
		log:       rt.Log.With().Str("worker", "locations").Logger(),
		locations: baseline,
		known:     make(map[uint64]struct{}, len(baseline)),
		forbidden: make(map[uint64]struct{}),
	}
	for i := range baseline {
		w.known[baseline[i].ID] = struct{}{}
	}
	w.log.Info().Int("baseline", len(baseline)).Msg("locations bootstrapped")
	return w, nil
}

// Run consumes location-ID batches until ctx is cancelled. Per-ID
// failures are logged and skipped; structural failures are returned and
// take the process down.
func (w *LocationsWorker) Run(ctx context.Context) error {
	for {
		batch, err := w.rt.LocationBatches.Pop(ctx, 0)
		if err != nil {
			return err
		}
		if err := w.processBatch(ctx, batch, time.Now()); err != nil {
			return err
		}
	}
}

// processBatch resolves the unknown IDs of one batch and dumps the set if
// anything was added.
func (w *LocationsWorker) processBatch(ctx context.Context, batch []uint64, now time.Time) error {
	added := 0
	for _, id := range batch {
		if _, ok := w.known[id]; ok {
			continue
		}
		if _, ok := w.forbidden[id]; ok {
			continue
		}
		loc, err := w.fetchStructure(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, rejected := esi.IsUpstreamRejected(err); rejected {
				w.forbidden[id] = struct{}{}
				if w.rt.Metrics != nil {
					w.rt.Metrics.ForbiddenAdds.Inc()
				}
				w.log.Info().Uint64("id", id).Msg("structure forbidden, blacklisted")
			} else {
				w.log.Warn().Err(err).Uint64("id", id).Msg("structure fetch failed")
			}
			continue
		}
		w.locations = append(w.locations, loc)
		w.known[id] = struct{}{}
		added++
	}
	if added == 0 {
		return nil
	}
	w.log.Info().Int("added", added).Int("total", len(w.locations)).Msg("locations grew")
	return w.writeDump(now)
}

func (w *LocationsWorker) fetchStructure(ctx context.Context, id uint64) (market.Location, error) {
	uri := fmt.Sprintf("/universe/structures/%d", id)
	resp, err := w.rt.Client.Fetch(ctx, http.MethodGet, uri, nil, true, structureRetries)
	if err != nil {
		return market.Location{}, err
	}
	loc, err := market.ParseStructure(resp.Body, id)
	if err != nil {
		return market.Location{}, err
	}
	loc.Security = w.rt.Systems.Security(loc.SystemID)
	return loc, nil
}

func (w *LocationsWorker) writeDump(now time.Time) error {
	path := filepath.Join(w.rt.Cfg.DumpDir, fmt.Sprintf("loc-%d.dump", now.Unix()))
	dw, err := dump.OpenWrite(w.rt.Registry, path, dump.KindLocations, 0)
	if err != nil {
		return err
	}
	for i := range w.locations {
		if err := market.WriteLocation(dw, &w.locations[i]); err != nil {
			dw.Abort()
			return err
		}
	}
	if err := dw.Close(); err != nil {
		return err
	}
	if w.rt.Metrics != nil {
		w.rt.Metrics.DumpsWritten.WithLabelValues(dump.KindLocations.String()).Inc()
	}
	w.log.Info().Str("path", path).Int("locations", len(w.locations)).Msg("locations dump written")
	return nil
}

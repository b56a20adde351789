// Package server exposes the dump directory over HTTP: a JSON listing of
// finalized dumps, the files themselves, a health probe, and the
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/metrics"
)

// Server is the optional read-only HTTP interface of the daemon.
type Server struct {
	log     zerolog.Logger
	dumpDir string
	httpSrv *http.Server
}

// New builds a server on addr serving dumps from dumpDir.
func New(log zerolog.Logger, addr, dumpDir string, m *metrics.Set) *Server {
	s := &Server{
		log:     log.With().Str("component", "server").Logger(),
		dumpDir: dumpDir,
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/dumps", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/dumps/{name}", s.handleFile).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.httpSrv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errc
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// dumpInfo is one listing entry.
type dumpInfo struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Size       int64  `json:"size"`
	Expiration uint64 `json:"expiration,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	matches, err := filepath.Glob(filepath.Join(s.dumpDir, "*.dump"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	infos := make([]dumpInfo, 0, len(matches))
	for _, path := range matches {
		r, err := dump.OpenRead(path)
		if err != nil {
			// Unfinalized or foreign files stay out of the listing.
			continue
		}
		kind := r.Kind()
		exp := r.Expiration()
		verifyErr := r.Verify()
		r.Close()
		if verifyErr != nil {
			s.log.Warn().Str("path", path).Msg("corrupt dump excluded from listing")
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, dumpInfo{
			Name:       filepath.Base(path),
			Kind:       kind.String(),
			Size:       fi.Size(),
			Expiration: exp,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".dump") {
		http.Error(w, "bad dump name", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.dumpDir, name))
}

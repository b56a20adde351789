package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evemarket/emd/internal/dump"
	"github.com/evemarket/emd/internal/market"
	"github.com/evemarket/emd/internal/metrics"
)

func writeOrdersDump(t *testing.T, dir string, name string) {
	t.Helper()
	reg := dump.NewRegistry()
	w, err := dump.OpenWrite(reg, filepath.Join(dir, name), dump.KindOrders, 1700000300)
	require.NoError(t, err)
	require.NoError(t, market.WriteOrdersBody(w, nil))
	require.NoError(t, w.Close())
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	return New(zerolog.Nop(), "127.0.0.1:0", dir, metrics.New()), dir
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListDumps(t *testing.T) {
	s, dir := newTestServer(t)
	writeOrdersDump(t, dir, "orders-1700000000.dump")
	// A foreign file is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.dump"), []byte("nope"), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dumps", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var infos []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "orders-1700000000.dump", infos[0]["name"])
	assert.Equal(t, "orders", infos[0]["kind"])
	assert.Equal(t, float64(1700000300), infos[0]["expiration"])
}

func TestListExcludesCorrupt(t *testing.T) {
	s, dir := newTestServer(t)
	name := "orders-1700000000.dump"
	writeOrdersDump(t, dir, name)

	raw, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	raw[dump.HeaderSize] ^= 0x01
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dumps", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestServeDumpFile(t *testing.T) {
	s, dir := newTestServer(t)
	name := "orders-1700000000.dump"
	writeOrdersDump(t, dir, name)
	want, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dumps/"+name, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want, rec.Body.Bytes())
}

func TestServeFileRejectsBadNames(t *testing.T) {
	s, _ := newTestServer(t)
	for _, name := range []string{"..%2Fsecrets", "no-suffix", ".hidden.dump"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dumps/"+name, nil))
		assert.NotEqual(t, http.StatusOK, rec.Code, name)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

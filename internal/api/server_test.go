package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mwadds/tile-core/internal/infrastructure/config"
	"github.com/mwadds/tile-core/internal/infrastructure/logging"
)

// stubStatus returns a fixed set of entry and tile statuses.
type stubStatus struct {
	statuses []EntryStatus
	tiles    map[string][]TileStatus
}

func (s *stubStatus) EntryStatuses() []EntryStatus {
	return s.statuses
}

func (s *stubStatus) TileStatuses(entryID string) ([]TileStatus, bool) {
	tiles, ok := s.tiles[entryID]
	return tiles, ok
}

// stubCheck is a health checker returning a fixed error.
type stubCheck struct {
	err error
}

func (s *stubCheck) HealthCheck(ctx context.Context) error {
	return s.err
}

func newTestServer(t *testing.T, status StatusSource, checks map[string]HealthChecker) *Server {
	t.Helper()

	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:  logging.Default(),
		Status:  status,
		Checks:  checks,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{Status: &stubStatus{}}); err == nil {
		t.Error("New() without logger succeeded, want error")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without status source succeeded, want error")
	}
}

func TestHealthAllOK(t *testing.T) {
	srv := newTestServer(t, &stubStatus{}, map[string]HealthChecker{
		"database": &stubCheck{},
		"mqtt":     &stubCheck{},
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "ok" || body.Version != "test" {
		t.Errorf("body = %+v", body)
	}
	if body.Components["database"] != "ok" {
		t.Errorf("database component = %q, want ok", body.Components["database"])
	}
}

func TestHealthDegraded(t *testing.T) {
	srv := newTestServer(t, &stubStatus{}, map[string]HealthChecker{
		"database": &stubCheck{},
		"mqtt":     &stubCheck{err: errors.New("broker unreachable")},
	})

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}

func TestListEntries(t *testing.T) {
	srv := newTestServer(t, &stubStatus{statuses: []EntryStatus{
		{ID: "entry-1", Username: "user@example.com", Loaded: true, TileCount: 3},
		{ID: "entry-2", Username: "other@example.com", Loaded: false},
	}}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/entries")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Entries []EntryStatus `json:"entries"`
		Count   int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 2 || len(body.Entries) != 2 {
		t.Fatalf("count = %d, entries = %d", body.Count, len(body.Entries))
	}
	if !body.Entries[0].Loaded || body.Entries[0].TileCount != 3 {
		t.Errorf("entry-1 = %+v", body.Entries[0])
	}
}

func TestListTiles(t *testing.T) {
	srv := newTestServer(t, &stubStatus{
		tiles: map[string][]TileStatus{
			"entry-1": {
				{UUID: "tile-aaa", Name: "Keys", LastUpdateSuccess: true, Latitude: 51.5, Longitude: -0.12},
				{UUID: "tile-bbb", Name: "Wallet", LastError: "service unavailable"},
			},
		},
	}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/entries/entry-1/tiles")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Tiles []TileStatus `json:"tiles"`
		Count int          `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("count = %d, want 2", body.Count)
	}
}

func TestListTilesEntryNotLoaded(t *testing.T) {
	srv := newTestServer(t, &stubStatus{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/entries/missing/tiles")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListTrackersEntryNotLoaded(t *testing.T) {
	srv := newTestServer(t, &stubStatus{statuses: []EntryStatus{
		{ID: "entry-1", Loaded: false},
	}}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/entries/entry-1/trackers")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, &stubStatus{}, nil)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("X-Request-ID = %q, want client-supplied", got)
	}
}

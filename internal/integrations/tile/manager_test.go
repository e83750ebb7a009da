package tile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mwadds/tile-core/internal/coordinator"
	"github.com/mwadds/tile-core/internal/entry"
	"github.com/mwadds/tile-core/internal/infrastructure/config"
	"github.com/mwadds/tile-core/internal/platform"
	"github.com/mwadds/tile-core/internal/registry"
	tileapi "github.com/mwadds/tile-core/internal/tile"
)

// fakeCloud is a minimal stand-in for the Tile API.
type fakeCloud struct {
	email    string
	password string
	tiles    []string

	detailDelay time.Duration
	inFlight    atomic.Int64
	peak        atomic.Int64

	expireNext     atomic.Bool // next authenticated GET returns 401
	rejectSessions atomic.Bool // session creation returns 401
	failDetails    atomic.Bool // detail fetches return 503
}

func (f *fakeCloud) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("PUT /clients/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, `{}`)
	})

	mux.HandleFunc("POST /clients/{uuid}/sessions", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectSessions.Load() ||
			r.FormValue("email") != f.email || r.FormValue("password") != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Set-Cookie", "tile_session=ok")
		writeResult(w, `{"user":{"user_uuid":"user-1"}}`)
	})

	mux.HandleFunc("GET /tiles/tile_states", func(w http.ResponseWriter, r *http.Request) {
		if f.maybeExpire(w) {
			return
		}
		body := "["
		for i, uuid := range f.tiles {
			if i > 0 {
				body += ","
			}
			body += fmt.Sprintf(`{"tile_id":%q}`, uuid)
		}
		writeResult(w, body+"]")
	})

	mux.HandleFunc("GET /tiles/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		if f.maybeExpire(w) {
			return
		}
		if f.failDetails.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		current := f.inFlight.Add(1)
		for {
			peak := f.peak.Load()
			if current <= peak || f.peak.CompareAndSwap(peak, current) {
				break
			}
		}
		if f.detailDelay > 0 {
			time.Sleep(f.detailDelay)
		}
		f.inFlight.Add(-1)

		uuid := r.PathValue("uuid")
		writeResult(w, fmt.Sprintf(`{
			"tile_uuid": %q, "name": "Tile %s", "visible": true, "is_dead": false,
			"archetype": "KEYS",
			"last_tile_state": {"latitude": 1, "longitude": 2, "h_accuracy": 3,
				"altitude": 4, "timestamp": 1755600000000}
		}`, uuid, uuid))
	})

	return mux
}

// maybeExpire simulates a one-shot session expiry on authenticated GETs.
func (f *fakeCloud) maybeExpire(w http.ResponseWriter) bool {
	if f.expireNext.CompareAndSwap(true, false) {
		w.WriteHeader(http.StatusUnauthorized)
		return true
	}
	return false
}

func writeResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"version":1,"result":%s}`, result)
}

// memRegistry is an in-memory registry.Repository.
type memRegistry struct {
	mu       sync.Mutex
	entities map[string]registry.Entity // keyed by unique ID
}

func newMemRegistry() *memRegistry {
	return &memRegistry{entities: make(map[string]registry.Entity)}
}

func (m *memRegistry) GetByUniqueID(ctx context.Context, uniqueID string) (*registry.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[uniqueID]
	if !ok {
		return nil, registry.ErrEntityNotFound
	}
	return &e, nil
}

func (m *memRegistry) ListByConfigEntry(ctx context.Context, configEntryID string) ([]registry.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []registry.Entity
	for _, e := range m.entities {
		if e.ConfigEntryID == configEntryID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memRegistry) Upsert(ctx context.Context, e *registry.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.UniqueID] = *e
	return nil
}

func (m *memRegistry) UpdateUniqueID(ctx context.Context, oldUniqueID, newUniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.entities[newUniqueID]; taken {
		return registry.ErrUniqueIDTaken
	}
	e, ok := m.entities[oldUniqueID]
	if !ok {
		return registry.ErrEntityNotFound
	}
	delete(m.entities, oldUniqueID)
	e.UniqueID = newUniqueID
	m.entities[newUniqueID] = e
	return nil
}

func (m *memRegistry) DeleteByConfigEntry(ctx context.Context, configEntryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, e := range m.entities {
		if e.ConfigEntryID == configEntryID {
			delete(m.entities, uid)
		}
	}
	return nil
}

// stubPlatform records setup and unload calls.
type stubPlatform struct {
	mu        sync.Mutex
	setups    map[string][]platform.TrackedTile
	unloadErr error
	unloads   int
}

func newStubPlatform() *stubPlatform {
	return &stubPlatform{setups: make(map[string][]platform.TrackedTile)}
}

func (s *stubPlatform) Name() string { return "device_tracker" }

func (s *stubPlatform) SetupEntry(ctx context.Context, e entry.Entry, tracked []platform.TrackedTile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups[e.ID] = tracked
	return nil
}

func (s *stubPlatform) UnloadEntry(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unloads++
	return s.unloadErr
}

func (s *stubPlatform) trackedFor(entryID string) []platform.TrackedTile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setups[entryID]
}

type testHarness struct {
	manager  *Manager
	cloud    *fakeCloud
	registry *memRegistry
	platform *stubPlatform
}

func newHarness(t *testing.T, cloud *fakeCloud) *testHarness {
	t.Helper()

	srv := httptest.NewServer(cloud.handler())
	t.Cleanup(srv.Close)

	entries, err := entry.NewStore([]config.AccountConfig{
		{ID: "entry-1", Username: cloud.email, Password: cloud.password},
	})
	if err != nil {
		t.Fatalf("building entry store: %v", err)
	}

	reg := newMemRegistry()
	stub := newStubPlatform()
	loader := platform.NewLoader()
	if err := loader.Register(stub); err != nil {
		t.Fatalf("registering platform: %v", err)
	}

	manager := NewManager(Options{
		Entries:         entries,
		Registry:        reg,
		Loader:          loader,
		PollInterval:    time.Hour,
		InitConcurrency: 2,
		Session:         srv.Client(),
		APIBaseURL:      srv.URL,
	})

	return &testHarness{manager: manager, cloud: cloud, registry: reg, platform: stub}
}

func defaultCloud() *fakeCloud {
	return &fakeCloud{
		email:    "user@example.com",
		password: "correct-horse",
		tiles:    []string{"tile-aaa", "tile-bbb"},
	}
}

func TestSetupEntry(t *testing.T) {
	h := newHarness(t, defaultCloud())

	if err := h.manager.SetupEntry(context.Background(), "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}

	data := h.manager.EntryData("entry-1")
	if data == nil {
		t.Fatal("EntryData() = nil after setup")
	}
	if len(data.Tiles) != 2 || len(data.Coordinators) != 2 {
		t.Errorf("tiles/coordinators = %d/%d, want 2/2", len(data.Tiles), len(data.Coordinators))
	}

	for uuid, c := range data.Coordinators {
		if !c.LastUpdateSuccess() {
			t.Errorf("coordinator %s not refreshed before platform load", uuid)
		}
	}

	tracked := h.platform.trackedFor("entry-1")
	if len(tracked) != 2 {
		t.Errorf("platform received %d tiles, want 2", len(tracked))
	}

	// Cleanup stops the polling loops.
	if _, err := h.manager.UnloadEntry(context.Background(), "entry-1"); err != nil {
		t.Errorf("UnloadEntry() error = %v", err)
	}
}

func TestSetupEntryInvalidCredentials(t *testing.T) {
	cloud := defaultCloud()
	h := newHarness(t, cloud)
	cloud.password = "changed-upstream"

	err := h.manager.SetupEntry(context.Background(), "entry-1")
	if !errors.Is(err, ErrSetupFailed) {
		t.Errorf("SetupEntry() error = %v, want ErrSetupFailed", err)
	}
	if h.manager.EntryData("entry-1") != nil {
		t.Error("EntryData() set after failed setup")
	}
}

func TestSetupEntryServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	entries, err := entry.NewStore([]config.AccountConfig{
		{ID: "entry-1", Username: "u@example.com", Password: "pw"},
	})
	if err != nil {
		t.Fatalf("building entry store: %v", err)
	}

	loader := platform.NewLoader()
	manager := NewManager(Options{
		Entries:    entries,
		Registry:   newMemRegistry(),
		Loader:     loader,
		Session:    srv.Client(),
		APIBaseURL: srv.URL,
	})

	if err := manager.SetupEntry(context.Background(), "entry-1"); !errors.Is(err, ErrNotReady) {
		t.Errorf("SetupEntry() error = %v, want ErrNotReady", err)
	}
}

func TestSetupEntryUnknownEntry(t *testing.T) {
	h := newHarness(t, defaultCloud())

	err := h.manager.SetupEntry(context.Background(), "nope")
	if !errors.Is(err, ErrSetupFailed) {
		t.Errorf("SetupEntry() error = %v, want ErrSetupFailed", err)
	}
}

func TestSetupEntryAlreadySetUp(t *testing.T) {
	h := newHarness(t, defaultCloud())

	if err := h.manager.SetupEntry(context.Background(), "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	defer h.manager.UnloadEntry(context.Background(), "entry-1") //nolint:errcheck // Test cleanup

	if err := h.manager.SetupEntry(context.Background(), "entry-1"); !errors.Is(err, ErrAlreadySetUp) {
		t.Errorf("second SetupEntry() error = %v, want ErrAlreadySetUp", err)
	}
}

func TestSetupEntryBoundedInitialRefresh(t *testing.T) {
	cloud := defaultCloud()
	cloud.tiles = []string{"t1", "t2", "t3", "t4", "t5"}
	cloud.detailDelay = 20 * time.Millisecond
	h := newHarness(t, cloud)

	if err := h.manager.SetupEntry(context.Background(), "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	defer h.manager.UnloadEntry(context.Background(), "entry-1") //nolint:errcheck // Test cleanup

	// Discovery fetches details sequentially; only the initial refresh
	// runs concurrently, and it must stay within the configured limit.
	if peak := h.cloud.peak.Load(); peak > 2 {
		t.Errorf("peak concurrent detail fetches = %d, want at most 2", peak)
	}
}

func TestSetupEntryMigratesLegacyUniqueIDs(t *testing.T) {
	h := newHarness(t, defaultCloud())
	ctx := context.Background()

	seed := &registry.Entity{
		EntityID:      "device_tracker.keys",
		UniqueID:      "tile_tile-aaa",
		ConfigEntryID: "entry-1",
		Platform:      "device_tracker",
	}
	if err := h.registry.Upsert(ctx, seed); err != nil {
		t.Fatalf("seeding registry: %v", err)
	}

	if err := h.manager.SetupEntry(ctx, "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	defer h.manager.UnloadEntry(ctx, "entry-1") //nolint:errcheck // Test cleanup

	if _, err := h.registry.GetByUniqueID(ctx, "tile_tile-aaa"); !errors.Is(err, registry.ErrEntityNotFound) {
		t.Error("legacy unique id still present after setup")
	}
	if _, err := h.registry.GetByUniqueID(ctx, "user@example.com_tile-aaa"); err != nil {
		t.Errorf("migrated unique id missing: %v", err)
	}
}

func TestSetupEntryMigrationCollisionSkipped(t *testing.T) {
	h := newHarness(t, defaultCloud())
	ctx := context.Background()

	for _, e := range []*registry.Entity{
		{EntityID: "device_tracker.old", UniqueID: "tile_tile-aaa", ConfigEntryID: "entry-1", Platform: "device_tracker"},
		{EntityID: "device_tracker.new", UniqueID: "user@example.com_tile-aaa", ConfigEntryID: "entry-1", Platform: "device_tracker"},
	} {
		if err := h.registry.Upsert(ctx, e); err != nil {
			t.Fatalf("seeding registry: %v", err)
		}
	}

	// Collision must not fail setup; the legacy row is left alone.
	if err := h.manager.SetupEntry(ctx, "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	defer h.manager.UnloadEntry(ctx, "entry-1") //nolint:errcheck // Test cleanup

	if _, err := h.registry.GetByUniqueID(ctx, "tile_tile-aaa"); err != nil {
		t.Errorf("legacy row removed despite collision: %v", err)
	}
}

func TestSetupEntryMigrationIdempotentForLegacyPrefixedUsername(t *testing.T) {
	cloud := defaultCloud()
	cloud.email = "tile_user@example.com"
	h := newHarness(t, cloud)
	ctx := context.Background()

	// Already-migrated row whose unique ID also matches the legacy
	// prefix because the username itself begins with it.
	migrated := "tile_user@example.com_tile-aaa"
	for _, e := range []*registry.Entity{
		{EntityID: "device_tracker.keys", UniqueID: migrated, ConfigEntryID: "entry-1", Platform: "device_tracker"},
		{EntityID: "device_tracker.wallet", UniqueID: "tile_tile-bbb", ConfigEntryID: "entry-1", Platform: "device_tracker"},
	} {
		if err := h.registry.Upsert(ctx, e); err != nil {
			t.Fatalf("seeding registry: %v", err)
		}
	}

	if err := h.manager.SetupEntry(ctx, "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	defer h.manager.UnloadEntry(ctx, "entry-1") //nolint:errcheck // Test cleanup

	if _, err := h.registry.GetByUniqueID(ctx, migrated); err != nil {
		t.Errorf("already-migrated unique id was rewritten: %v", err)
	}
	doubled := "tile_user@example.com_user@example.com_tile-aaa"
	if _, err := h.registry.GetByUniqueID(ctx, doubled); !errors.Is(err, registry.ErrEntityNotFound) {
		t.Errorf("corrupted unique id %q exists, error = %v", doubled, err)
	}

	// A genuinely legacy row still migrates for such a username.
	if _, err := h.registry.GetByUniqueID(ctx, "tile_user@example.com_tile-bbb"); err != nil {
		t.Errorf("legacy unique id not migrated: %v", err)
	}
}

func setupCoordinator(t *testing.T, h *testHarness, tileUUID string) *coordinator.Coordinator {
	t.Helper()

	if err := h.manager.SetupEntry(context.Background(), "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}
	t.Cleanup(func() {
		h.manager.UnloadEntry(context.Background(), "entry-1") //nolint:errcheck // Test cleanup
	})

	c := h.manager.EntryData("entry-1").Coordinators[tileUUID]
	if c == nil {
		t.Fatalf("no coordinator for %s", tileUUID)
	}
	return c
}

func TestUpdateRecoversFromSessionExpiry(t *testing.T) {
	h := newHarness(t, defaultCloud())
	c := setupCoordinator(t, h, "tile-aaa")

	h.cloud.expireNext.Store(true)
	result := c.Refresh(context.Background())

	if result.Outcome != coordinator.Success {
		t.Errorf("Refresh() outcome = %v, want Success", result.Outcome)
	}
	if !c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = false after recovered expiry")
	}
	if c.LastError() != nil {
		t.Errorf("LastError() = %v, want nil", c.LastError())
	}
}

func TestUpdateHardFailureOnRejectedReauth(t *testing.T) {
	h := newHarness(t, defaultCloud())
	c := setupCoordinator(t, h, "tile-aaa")

	h.cloud.expireNext.Store(true)
	h.cloud.rejectSessions.Store(true)
	result := c.Refresh(context.Background())

	if result.Outcome != coordinator.HardFailure {
		t.Errorf("Refresh() outcome = %v, want HardFailure", result.Outcome)
	}
	if !errors.Is(c.LastError(), tileapi.ErrInvalidCredentials) {
		t.Errorf("LastError() = %v, want ErrInvalidCredentials", c.LastError())
	}
}

func TestUpdateRecordsLaterFailure(t *testing.T) {
	h := newHarness(t, defaultCloud())
	c := setupCoordinator(t, h, "tile-aaa")

	h.cloud.failDetails.Store(true)
	result := c.Refresh(context.Background())

	if result.Outcome != coordinator.SoftRetry {
		t.Errorf("Refresh() outcome = %v, want SoftRetry", result.Outcome)
	}
	if c.LastUpdateSuccess() {
		t.Error("LastUpdateSuccess() = true after failed refresh")
	}
	if !errors.Is(c.LastError(), tileapi.ErrServiceUnavailable) {
		t.Errorf("LastError() = %v, want ErrServiceUnavailable", c.LastError())
	}

	// The loop keeps polling; the next cycle succeeds.
	h.cloud.failDetails.Store(false)
	if result := c.Refresh(context.Background()); result.Outcome != coordinator.Success {
		t.Errorf("Refresh() after recovery outcome = %v, want Success", result.Outcome)
	}
}

func TestUnloadEntry(t *testing.T) {
	h := newHarness(t, defaultCloud())
	ctx := context.Background()

	if err := h.manager.SetupEntry(ctx, "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}

	ok, err := h.manager.UnloadEntry(ctx, "entry-1")
	if err != nil {
		t.Fatalf("UnloadEntry() error = %v", err)
	}
	if !ok {
		t.Error("UnloadEntry() = false, want true")
	}
	if h.manager.EntryData("entry-1") != nil {
		t.Error("EntryData() still set after unload")
	}

	if _, err := h.manager.UnloadEntry(ctx, "entry-1"); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("second UnloadEntry() error = %v, want ErrNotLoaded", err)
	}
}

func TestUnloadEntryPlatformFailureKeepsState(t *testing.T) {
	h := newHarness(t, defaultCloud())
	ctx := context.Background()

	if err := h.manager.SetupEntry(ctx, "entry-1"); err != nil {
		t.Fatalf("SetupEntry() error = %v", err)
	}

	h.platform.unloadErr = errors.New("platform stuck")
	ok, err := h.manager.UnloadEntry(ctx, "entry-1")
	if ok || err == nil {
		t.Errorf("UnloadEntry() = %v, %v, want false with error", ok, err)
	}
	if h.manager.EntryData("entry-1") == nil {
		t.Error("EntryData() dropped despite failed unload")
	}

	// Once the platform recovers, unload succeeds and releases state.
	h.platform.unloadErr = nil
	if ok, err := h.manager.UnloadEntry(ctx, "entry-1"); !ok || err != nil {
		t.Errorf("retry UnloadEntry() = %v, %v, want true, nil", ok, err)
	}
}

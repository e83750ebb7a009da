package tile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mwadds/tile-core/internal/coordinator"
	"github.com/mwadds/tile-core/internal/entry"
	"github.com/mwadds/tile-core/internal/platform"
	"github.com/mwadds/tile-core/internal/registry"
	tileapi "github.com/mwadds/tile-core/internal/tile"
)

// legacyUniqueIDPrefix is the unscoped unique ID scheme used before
// unique IDs became account scoped. Rows carrying it are rewritten to
// "<username>_<tile_uuid>" during entry setup.
const legacyUniqueIDPrefix = "tile_"

// Defaults applied when options leave the corresponding field zero.
const (
	defaultPollInterval    = 2 * time.Minute
	defaultInitConcurrency = 2
	defaultRetryDelay      = 30 * time.Second
)

// Logger defines the logging interface the manager requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Manager.
type Options struct {
	// Logger receives lifecycle events. May be nil.
	Logger Logger

	// Entries holds the configured accounts. Required.
	Entries *entry.Store

	// Registry persists entity rows. Required.
	Registry registry.Repository

	// Loader dispatches to entity platforms. Required.
	Loader *platform.Loader

	// Platforms are the platform names to load per entry.
	// Defaults to ["device_tracker"].
	Platforms []string

	// PollInterval is the per-tile refresh period. Defaults to 2m.
	PollInterval time.Duration

	// InitConcurrency caps concurrent refreshes during the initial
	// population pass. Defaults to 2.
	InitConcurrency int

	// SetupRetryDelay is how long Run waits before retrying an entry
	// that failed with ErrNotReady. Defaults to 30s.
	SetupRetryDelay time.Duration

	// Session is the shared HTTP client for API calls. A default client
	// is created when nil.
	Session *http.Client

	// APIBaseURL overrides the production endpoint. Used by tests.
	APIBaseURL string
}

// EntryData is the live state of one set-up entry.
type EntryData struct {
	// Client is the authenticated API session.
	Client *tileapi.Client

	// Tiles holds the entry's tiles keyed by UUID.
	Tiles map[string]*tileapi.Tile

	// Coordinators holds one polling coordinator per tile, keyed by the
	// same UUIDs as Tiles.
	Coordinators map[string]*coordinator.Coordinator
}

// Manager owns the lifecycle of account entries.
//
// Setup authenticates an entry, discovers its tiles, populates them with
// bounded concurrency and hands them to the entity platforms. Unload
// reverses the process. Each entry's state lives in its own EntryData;
// nothing is shared between entries except the HTTP session.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	logger          Logger
	entries         *entry.Store
	registry        registry.Repository
	loader          *platform.Loader
	platforms       []string
	pollInterval    time.Duration
	initConcurrency int
	retryDelay      time.Duration
	session         *http.Client
	apiBaseURL      string

	mu   sync.RWMutex
	data map[string]*EntryData
}

// NewManager creates a manager from options.
func NewManager(opts Options) *Manager {
	m := &Manager{
		logger:          opts.Logger,
		entries:         opts.Entries,
		registry:        opts.Registry,
		loader:          opts.Loader,
		platforms:       opts.Platforms,
		pollInterval:    opts.PollInterval,
		initConcurrency: opts.InitConcurrency,
		retryDelay:      opts.SetupRetryDelay,
		session:         opts.Session,
		apiBaseURL:      opts.APIBaseURL,
		data:            make(map[string]*EntryData),
	}

	if len(m.platforms) == 0 {
		m.platforms = []string{"device_tracker"}
	}
	if m.pollInterval <= 0 {
		m.pollInterval = defaultPollInterval
	}
	if m.initConcurrency < 1 {
		m.initConcurrency = defaultInitConcurrency
	}
	if m.retryDelay <= 0 {
		m.retryDelay = defaultRetryDelay
	}
	if m.session == nil {
		m.session = &http.Client{Timeout: 30 * time.Second}
	}

	return m
}

// SetupEntry brings one entry fully online.
//
// The sequence is fixed: migrate legacy unique IDs, authenticate,
// discover tiles, create one coordinator per tile, populate all tiles
// with bounded concurrency, then load platforms and start the polling
// loops. Platforms are only loaded after every tile has been attempted
// once, so they never observe a half-populated entry.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - entryID: The entry to set up
//
// Returns:
//   - error: ErrSetupFailed for permanent failures (bad credentials,
//     unknown entry), ErrNotReady for transient ones, ErrAlreadySetUp
//     when the entry is live
func (m *Manager) SetupEntry(ctx context.Context, entryID string) error {
	m.mu.RLock()
	_, loaded := m.data[entryID]
	m.mu.RUnlock()
	if loaded {
		return ErrAlreadySetUp
	}

	e, err := m.entries.Get(entryID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	if err := m.migrateUniqueIDs(ctx, e); err != nil {
		return fmt.Errorf("%w: migrating unique ids: %w", ErrSetupFailed, err)
	}

	client, err := m.login(ctx, e)
	if err != nil {
		return err
	}

	tiles, err := client.GetTiles(ctx)
	if err != nil {
		m.logWarn("tile discovery failed", "entry_id", e.ID, "error", err)
		return fmt.Errorf("%w: discovering tiles: %w", ErrNotReady, err)
	}
	m.logInfo("tiles discovered", "entry_id", e.ID, "count", len(tiles))

	coordinators := make(map[string]*coordinator.Coordinator, len(tiles))
	for uuid, t := range tiles {
		coordinators[uuid] = coordinator.New(coordinator.Options{
			Logger:     m.logger,
			Name:       t.Name(),
			Interval:   m.pollInterval,
			UpdateFunc: m.updateFunc(client, t),
		})
	}

	ordered := make([]*coordinator.Coordinator, 0, len(coordinators))
	for _, c := range coordinators {
		ordered = append(ordered, c)
	}
	if err := coordinator.RefreshGroup(ctx, ordered, m.initConcurrency); err != nil {
		return fmt.Errorf("%w: initial refresh: %w", ErrNotReady, err)
	}

	tracked := make([]platform.TrackedTile, 0, len(tiles))
	for uuid, t := range tiles {
		tracked = append(tracked, platform.TrackedTile{
			Tile:        t,
			Coordinator: coordinators[uuid],
		})
	}

	if err := m.loader.Load(ctx, e, tracked, m.platforms); err != nil {
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	for _, c := range coordinators {
		c.Start(ctx)
	}

	m.mu.Lock()
	m.data[e.ID] = &EntryData{
		Client:       client,
		Tiles:        tiles,
		Coordinators: coordinators,
	}
	m.mu.Unlock()

	m.logInfo("entry set up", "entry_id", e.ID, "tiles", len(tiles))
	return nil
}

// UnloadEntry takes one entry offline.
//
// Platforms are unloaded first; only when every platform succeeds are
// the polling loops stopped and the entry's state dropped. A failed
// platform unload leaves the entry loaded so it can be retried.
//
// Returns:
//   - bool: True when the entry's state was fully released
//   - error: ErrNotLoaded or the failing platform's error
func (m *Manager) UnloadEntry(ctx context.Context, entryID string) (bool, error) {
	m.mu.RLock()
	data, loaded := m.data[entryID]
	m.mu.RUnlock()
	if !loaded {
		return false, ErrNotLoaded
	}

	if err := m.loader.Unload(ctx, entryID, m.platforms); err != nil {
		m.logWarn("platform unload failed", "entry_id", entryID, "error", err)
		return false, err
	}

	for _, c := range data.Coordinators {
		c.Stop()
	}

	m.mu.Lock()
	delete(m.data, entryID)
	m.mu.Unlock()

	m.logInfo("entry unloaded", "entry_id", entryID)
	return true, nil
}

// EntryData returns the live state for an entry, or nil when unloaded.
func (m *Manager) EntryData(entryID string) *EntryData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[entryID]
}

// LoadedEntries returns the IDs of entries currently set up.
func (m *Manager) LoadedEntries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.data))
	for id := range m.data {
		out = append(out, id)
	}
	return out
}

// Run sets up every configured entry and keeps retrying the ones that
// fail with ErrNotReady until they come online or ctx is cancelled.
// Permanent failures are logged once and abandoned.
//
// Run blocks until ctx is cancelled, then unloads all live entries.
func (m *Manager) Run(ctx context.Context) error {
	pending := make(map[string]bool)
	for _, e := range m.entries.All() {
		pending[e.ID] = true
	}

	m.setupPending(ctx, pending)

	ticker := time.NewTicker(m.retryDelay)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			m.unloadAll()
			return ctx.Err()
		case <-ticker.C:
			m.setupPending(ctx, pending)
		}
	}

	<-ctx.Done()
	m.unloadAll()
	return ctx.Err()
}

// setupPending attempts setup for each pending entry, removing entries
// that succeed or fail permanently.
func (m *Manager) setupPending(ctx context.Context, pending map[string]bool) {
	for id := range pending {
		err := m.SetupEntry(ctx, id)
		switch {
		case err == nil, errors.Is(err, ErrAlreadySetUp):
			delete(pending, id)
		case errors.Is(err, ErrNotReady):
			m.logWarn("entry not ready, will retry",
				"entry_id", id, "retry_delay", m.retryDelay, "error", err)
		default:
			m.logError("entry setup failed permanently", "entry_id", id, "error", err)
			delete(pending, id)
		}
	}
}

func (m *Manager) unloadAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, id := range m.LoadedEntries() {
		if _, err := m.UnloadEntry(ctx, id); err != nil {
			m.logWarn("unloading entry at shutdown", "entry_id", id, "error", err)
		}
	}
}

// login authenticates the entry, mapping credential rejection to a
// permanent failure and anything else to a retryable one.
func (m *Manager) login(ctx context.Context, e entry.Entry) (*tileapi.Client, error) {
	var opts []tileapi.Option
	if m.apiBaseURL != "" {
		opts = append(opts, tileapi.WithBaseURL(m.apiBaseURL))
	}

	client, err := tileapi.Login(ctx, e.Username, e.Password, m.session, opts...)
	if err != nil {
		if errors.Is(err, tileapi.ErrInvalidCredentials) {
			m.logError("credentials rejected", "entry_id", e.ID)
			return nil, fmt.Errorf("%w: %w", ErrSetupFailed, err)
		}
		m.logWarn("login failed", "entry_id", e.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return client, nil
}

// updateFunc builds the refresh closure for one tile. The tile is
// captured explicitly so every coordinator refreshes its own tile.
func (m *Manager) updateFunc(client *tileapi.Client, t *tileapi.Tile) coordinator.UpdateFunc {
	return func(ctx context.Context) coordinator.Result {
		err := t.Update(ctx)
		if err == nil {
			return coordinator.Result{Outcome: coordinator.Success}
		}

		if errors.Is(err, tileapi.ErrSessionExpired) {
			m.logInfo("session expired, reinitialising", "tile_uuid", t.UUID())
			if reinitErr := client.ReinitializeSession(ctx); reinitErr != nil {
				if errors.Is(reinitErr, tileapi.ErrInvalidCredentials) {
					return coordinator.Result{Outcome: coordinator.HardFailure, Err: reinitErr}
				}
				return coordinator.Result{Outcome: coordinator.SoftRetry, Err: reinitErr}
			}
			if retryErr := t.Update(ctx); retryErr != nil {
				return coordinator.Result{Outcome: coordinator.SoftRetry, Err: retryErr}
			}
			return coordinator.Result{Outcome: coordinator.Success}
		}

		return coordinator.Result{Outcome: coordinator.SoftRetry, Err: err}
	}
}

// migrateUniqueIDs rewrites registry rows from the unscoped scheme to
// the account-scoped one. Rows already carrying the username prefix are
// left untouched, so re-running setup is safe even for usernames that
// themselves begin with the legacy prefix. A collision on the target ID
// is logged and skipped rather than failing setup; the colliding row
// already carries the new scheme.
func (m *Manager) migrateUniqueIDs(ctx context.Context, e entry.Entry) error {
	entities, err := m.registry.ListByConfigEntry(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}

	for _, ent := range entities {
		if strings.HasPrefix(ent.UniqueID, e.Username+"_") {
			continue
		}
		if !strings.HasPrefix(ent.UniqueID, legacyUniqueIDPrefix) {
			continue
		}

		tileUUID := strings.TrimPrefix(ent.UniqueID, legacyUniqueIDPrefix)
		newID := e.Username + "_" + tileUUID

		err := m.registry.UpdateUniqueID(ctx, ent.UniqueID, newID)
		switch {
		case err == nil:
			m.logInfo("migrated unique id",
				"entry_id", e.ID, "old", ent.UniqueID, "new", newID)
		case errors.Is(err, registry.ErrUniqueIDTaken):
			m.logWarn("unique id migration collision, skipping",
				"entry_id", e.ID, "old", ent.UniqueID, "new", newID)
		default:
			return fmt.Errorf("migrating %s: %w", ent.UniqueID, err)
		}
	}

	return nil
}

func (m *Manager) logInfo(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Info(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}

func (m *Manager) logError(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Error(msg, args...)
	}
}

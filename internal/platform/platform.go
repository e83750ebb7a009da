// Package platform manages entity platforms for account entries.
//
// A platform turns an entry's tracked tiles into entities of one kind.
// The loader forwards entry lifecycle events to each registered
// platform; platforms set up and tear down their entities in response.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mwadds/tile-core/internal/coordinator"
	"github.com/mwadds/tile-core/internal/entry"
)

// Sentinel errors for platform loading.
var (
	// ErrPlatformNotFound indicates no platform is registered under the
	// requested name.
	ErrPlatformNotFound = errors.New("platform: not registered")

	// ErrAlreadyRegistered indicates a second platform tried to register
	// under an existing name.
	ErrAlreadyRegistered = errors.New("platform: already registered")
)

// Tile is the read surface platforms need from a tracked tile.
// Implemented by the API client's tile type.
type Tile interface {
	UUID() string
	Name() string
	Visible() bool
	Dead() bool
	Archetype() string
	Location() (latitude, longitude, accuracy float64, ok bool)
	Altitude() float64
	LastSeen() time.Time
}

// TrackedTile bundles one tile with its polling coordinator so a
// platform can render the tile and react to its refreshes.
type TrackedTile struct {
	Tile        Tile
	Coordinator *coordinator.Coordinator
}

// Platform is one entity kind, e.g. device trackers.
type Platform interface {
	// Name returns the platform identifier used in entity IDs.
	Name() string

	// SetupEntry creates the platform's entities for an entry.
	SetupEntry(ctx context.Context, e entry.Entry, tracked []TrackedTile) error

	// UnloadEntry tears down the platform's entities for an entry.
	UnloadEntry(ctx context.Context, entryID string) error
}

// Loader dispatches entry lifecycle events to registered platforms.
//
// Thread Safety: all methods are safe for concurrent use.
type Loader struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{platforms: make(map[string]Platform)}
}

// Register adds a platform under its name.
//
// Returns:
//   - error: ErrAlreadyRegistered if the name is taken
func (l *Loader) Register(p Platform) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.platforms[p.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, p.Name())
	}
	l.platforms[p.Name()] = p
	return nil
}

// Load sets up the named platforms for an entry.
//
// Setup stops at the first failing platform; platforms already set up
// for this entry are unloaded again so a failed load leaves nothing
// half-created.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - e: The entry being set up
//   - tracked: The entry's tiles with their coordinators
//   - names: Platform names to load
//
// Returns:
//   - error: ErrPlatformNotFound or the failing platform's error
func (l *Loader) Load(ctx context.Context, e entry.Entry, tracked []TrackedTile, names []string) error {
	var loaded []Platform

	for _, name := range names {
		p, err := l.get(name)
		if err != nil {
			l.rollback(ctx, e.ID, loaded)
			return err
		}
		if err := p.SetupEntry(ctx, e, tracked); err != nil {
			l.rollback(ctx, e.ID, loaded)
			return fmt.Errorf("setting up platform %s: %w", name, err)
		}
		loaded = append(loaded, p)
	}

	return nil
}

// Unload tears down the named platforms for an entry. All platforms are
// attempted; the first error is returned after the sweep completes.
func (l *Loader) Unload(ctx context.Context, entryID string, names []string) error {
	var firstErr error

	for _, name := range names {
		p, err := l.get(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := p.UnloadEntry(ctx, entryID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unloading platform %s: %w", name, err)
		}
	}

	return firstErr
}

func (l *Loader) get(name string) (Platform, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.platforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlatformNotFound, name)
	}
	return p, nil
}

func (l *Loader) rollback(ctx context.Context, entryID string, loaded []Platform) {
	for i := len(loaded) - 1; i >= 0; i-- {
		_ = loaded[i].UnloadEntry(ctx, entryID) //nolint:errcheck // Rollback is best effort
	}
}

package devicetracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mwadds/tile-core/internal/entry"
	"github.com/mwadds/tile-core/internal/infrastructure/mqtt"
	"github.com/mwadds/tile-core/internal/platform"
	"github.com/mwadds/tile-core/internal/registry"
)

// PlatformName is the identifier this platform registers under.
const PlatformName = "device_tracker"

// Logger defines the logging interface the platform requires.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Publisher abstracts the MQTT client for testing.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// HistoryWriter abstracts the time series client for testing.
type HistoryWriter interface {
	WriteLocationPoint(tileUUID, name string, latitude, longitude, accuracy float64, timestamp time.Time)
	WriteTileStatus(tileUUID string, available bool)
}

// Options configures the device tracker platform.
type Options struct {
	// Logger receives platform lifecycle events. May be nil.
	Logger Logger

	// Registry persists entity rows. Required.
	Registry registry.Repository

	// Publisher emits tracker state over MQTT. May be nil when MQTT is
	// disabled; trackers then keep state in memory only.
	Publisher Publisher

	// History records location points. May be nil when the time series
	// store is disabled.
	History HistoryWriter

	// ShowInactive includes hidden and dead-battery tiles as trackers.
	ShowInactive bool
}

// Platform renders tracked tiles as device tracker entities.
//
// Thread Safety: all methods are safe for concurrent use.
type Platform struct {
	logger       Logger
	registry     registry.Repository
	publisher    Publisher
	history      HistoryWriter
	showInactive bool
	topics       mqtt.Topics

	mu       sync.Mutex
	trackers map[string][]*Tracker // keyed by entry ID
}

// New creates the device tracker platform.
func New(opts Options) *Platform {
	return &Platform{
		logger:       opts.Logger,
		registry:     opts.Registry,
		publisher:    opts.Publisher,
		history:      opts.History,
		showInactive: opts.ShowInactive,
		trackers:     make(map[string][]*Tracker),
	}
}

// Name returns the platform identifier.
func (p *Platform) Name() string {
	return PlatformName
}

// SetupEntry creates one tracker per eligible tile.
//
// Hidden and dead-battery tiles are skipped unless ShowInactive is set.
// Each tracker registers a coordinator listener so state is republished
// after every refresh, and publishes its initial state immediately.
func (p *Platform) SetupEntry(ctx context.Context, e entry.Entry, tracked []platform.TrackedTile) error {
	var trackers []*Tracker

	for _, tt := range tracked {
		if !p.showInactive && (!tt.Tile.Visible() || tt.Tile.Dead()) {
			p.logDebug("skipping inactive tile",
				"entry_id", e.ID, "tile_uuid", tt.Tile.UUID())
			continue
		}

		tracker := newTracker(p, e, tt)

		if err := p.registry.Upsert(ctx, &registry.Entity{
			EntityID:      tracker.EntityID(),
			UniqueID:      tracker.UniqueID(),
			ConfigEntryID: e.ID,
			Platform:      PlatformName,
			Name:          tt.Tile.Name(),
		}); err != nil {
			return fmt.Errorf("registering tracker %s: %w", tracker.EntityID(), err)
		}

		tt.Coordinator.AddListener(tracker.publishState)
		tracker.publishState()
		trackers = append(trackers, tracker)

		p.logInfo("tracker created",
			"entry_id", e.ID,
			"entity_id", tracker.EntityID(),
			"unique_id", tracker.UniqueID())
	}

	p.mu.Lock()
	p.trackers[e.ID] = trackers
	p.mu.Unlock()

	return nil
}

// UnloadEntry marks the entry's trackers offline and forgets them.
// Registry rows are kept so entities retain identity across reloads.
func (p *Platform) UnloadEntry(ctx context.Context, entryID string) error {
	p.mu.Lock()
	trackers := p.trackers[entryID]
	delete(p.trackers, entryID)
	p.mu.Unlock()

	for _, tracker := range trackers {
		tracker.publishAvailability(false)
	}

	p.logInfo("trackers unloaded", "entry_id", entryID, "count", len(trackers))
	return nil
}

// Trackers returns the live trackers for an entry, for the status API.
func (p *Platform) Trackers(entryID string) []*Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Tracker, len(p.trackers[entryID]))
	copy(out, p.trackers[entryID])
	return out
}

func (p *Platform) logInfo(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Platform) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Platform) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

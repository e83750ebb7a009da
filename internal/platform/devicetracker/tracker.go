package devicetracker

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/mwadds/tile-core/internal/entry"
	"github.com/mwadds/tile-core/internal/platform"
)

// statePayload is the JSON document published on the tracker state topic.
type statePayload struct {
	UniqueID  string  `json:"unique_id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"gps_accuracy"`
	Altitude  float64 `json:"altitude"`
	LastSeen  string  `json:"last_seen,omitempty"`
	Dead      bool    `json:"is_dead"`
	Visible   bool    `json:"visible"`
	Available bool    `json:"available"`
}

// Tracker is one device tracker entity bound to a tile.
type Tracker struct {
	platform *Platform
	entry    entry.Entry
	tracked  platform.TrackedTile

	entityID string
	uniqueID string
}

func newTracker(p *Platform, e entry.Entry, tt platform.TrackedTile) *Tracker {
	return &Tracker{
		platform: p,
		entry:    e,
		tracked:  tt,
		entityID: PlatformName + "." + slugify(tt.Tile.Name(), tt.Tile.UUID()),
		uniqueID: e.Username + "_" + tt.Tile.UUID(),
	}
}

// EntityID returns the tracker's entity identifier.
func (t *Tracker) EntityID() string {
	return t.entityID
}

// UniqueID returns the stable account-scoped identifier.
func (t *Tracker) UniqueID() string {
	return t.uniqueID
}

// TileUUID returns the backing tile's UUID.
func (t *Tracker) TileUUID() string {
	return t.tracked.Tile.UUID()
}

// Available reports whether the tracker's data is current.
func (t *Tracker) Available() bool {
	return t.tracked.Coordinator.LastUpdateSuccess()
}

// publishState emits the tracker's current state. Called after every
// coordinator refresh and once at setup.
func (t *Tracker) publishState() {
	tile := t.tracked.Tile
	available := t.Available()

	lat, lon, accuracy, hasLocation := tile.Location()

	payload := statePayload{
		UniqueID:  t.uniqueID,
		Name:      tile.Name(),
		Dead:      tile.Dead(),
		Visible:   tile.Visible(),
		Available: available,
	}
	if hasLocation {
		payload.Latitude = lat
		payload.Longitude = lon
		payload.Accuracy = accuracy
		payload.Altitude = tile.Altitude()
		payload.LastSeen = tile.LastSeen().UTC().Format(time.RFC3339)
	}

	if t.platform.publisher != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.platform.logWarn("marshalling tracker state",
				"entity_id", t.entityID, "error", err)
			return
		}

		topic := t.platform.topics.TrackerState(t.entry.ID, tile.UUID())
		if err := t.platform.publisher.Publish(topic, data, 0, true); err != nil {
			t.platform.logWarn("publishing tracker state",
				"entity_id", t.entityID, "error", err)
		}
	}

	t.publishAvailability(available)

	if t.platform.history != nil {
		if available && hasLocation {
			t.platform.history.WriteLocationPoint(
				tile.UUID(), tile.Name(), lat, lon, accuracy, tile.LastSeen())
		}
		t.platform.history.WriteTileStatus(tile.UUID(), available)
	}
}

// publishAvailability emits "online" or "offline" on the availability
// topic so downstream consumers can grey out stale trackers.
func (t *Tracker) publishAvailability(available bool) {
	if t.platform.publisher == nil {
		return
	}

	payload := "offline"
	if available {
		payload = "online"
	}

	topic := t.platform.topics.TrackerAvailability(t.entry.ID, t.tracked.Tile.UUID())
	if err := t.platform.publisher.Publish(topic, []byte(payload), 0, true); err != nil {
		t.platform.logWarn("publishing tracker availability",
			"entity_id", t.entityID, "error", err)
	}
}

// slugify turns a tile name into an entity ID suffix. Falls back to the
// tile UUID when the name has no usable characters.
func slugify(name, fallback string) string {
	var b strings.Builder
	lastUnderscore := true

	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return fallback
	}
	return slug
}

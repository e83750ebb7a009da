package tile

import (
	"context"
	"sync"
	"time"
)

// tileState is one entry from the tile_states listing. Only the UUID is
// needed; the details endpoint carries everything else.
type tileState struct {
	TileID string `json:"tile_id"`
}

// tileDetails is the payload of GET /tiles/{uuid}.
type tileDetails struct {
	TileUUID  string `json:"tile_uuid"`
	Name      string `json:"name"`
	Visible   bool   `json:"visible"`
	Dead      bool   `json:"is_dead"`
	Archetype string `json:"archetype"`
	LastState *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Accuracy  float64 `json:"h_accuracy"`
		Altitude  float64 `json:"altitude"`
		Timestamp int64   `json:"timestamp"`
	} `json:"last_tile_state"`
}

// Tile is one trackable device on an account.
//
// Location and metadata are mutated in place by Update so that any code
// holding a reference observes the latest state. Accessors take a read
// lock; the same Tile may be read while a refresh is in flight.
type Tile struct {
	client *Client

	mu        sync.RWMutex
	uuid      string
	name      string
	visible   bool
	dead      bool
	archetype string

	hasLocation bool
	latitude    float64
	longitude   float64
	accuracy    float64
	altitude    float64
	lastSeen    time.Time
}

// newTile binds fetched details to the owning client.
func newTile(client *Client, details tileDetails) *Tile {
	t := &Tile{client: client}
	t.apply(details)
	return t
}

// apply copies details into the tile under the write lock.
func (t *Tile) apply(details tileDetails) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.uuid = details.TileUUID
	t.name = details.Name
	t.visible = details.Visible
	t.dead = details.Dead
	t.archetype = details.Archetype

	if details.LastState != nil {
		t.hasLocation = true
		t.latitude = details.LastState.Latitude
		t.longitude = details.LastState.Longitude
		t.accuracy = details.LastState.Accuracy
		t.altitude = details.LastState.Altitude
		t.lastSeen = time.UnixMilli(details.LastState.Timestamp)
	}
}

// Update refreshes this tile's state from the cloud, mutating it in place.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: ErrSessionExpired or ErrServiceUnavailable
func (t *Tile) Update(ctx context.Context) error {
	t.mu.RLock()
	uuid := t.uuid
	t.mu.RUnlock()

	var details tileDetails
	if err := t.client.getJSON(ctx, "/tiles/"+uuid, &details); err != nil {
		return err
	}

	t.apply(details)
	return nil
}

// UUID returns the tile's stable identifier.
func (t *Tile) UUID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.uuid
}

// Name returns the user-assigned tile name.
func (t *Tile) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// Visible reports whether the tile is shown in the owner's app.
func (t *Tile) Visible() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.visible
}

// Dead reports whether the tile's battery is flagged as dead.
func (t *Tile) Dead() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dead
}

// Archetype returns the hardware category, e.g. "WALLET" or "KEYS".
func (t *Tile) Archetype() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.archetype
}

// Location returns the last reported position.
//
// Returns:
//   - latitude, longitude, accuracy: Position and horizontal accuracy in metres
//   - ok: False when the tile has never reported a location
func (t *Tile) Location() (latitude, longitude, accuracy float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latitude, t.longitude, t.accuracy, t.hasLocation
}

// Altitude returns the last reported altitude in metres.
func (t *Tile) Altitude() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.altitude
}

// LastSeen returns the timestamp of the last location report.
func (t *Tile) LastSeen() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeen
}

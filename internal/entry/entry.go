// Package entry manages configured account entries.
//
// An entry is one Tile account the system should track. Entries are built
// from configuration at startup and looked up by ID everywhere else; the
// store is immutable after construction.
package entry

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mwadds/tile-core/internal/infrastructure/config"
)

// Sentinel errors for entry lookups.
var (
	// ErrNotFound indicates no entry exists with the requested ID.
	ErrNotFound = errors.New("entry: not found")

	// ErrDuplicateID indicates two configured accounts share an ID.
	ErrDuplicateID = errors.New("entry: duplicate entry ID")
)

// Entry is one configured account.
type Entry struct {
	// ID uniquely identifies the entry. Stable across restarts when set
	// in configuration; generated otherwise.
	ID string

	// Username is the account email address.
	Username string

	// Password is the account password.
	Password string
}

// Store holds all configured entries.
type Store struct {
	entries map[string]Entry
}

// NewStore builds a store from configured accounts.
//
// Accounts without an explicit ID are assigned a generated one; such
// entries will not keep stable IDs across restarts, so configuration
// should normally set one.
//
// Parameters:
//   - accounts: Account definitions from configuration
//
// Returns:
//   - *Store: Populated store
//   - error: ErrDuplicateID if two accounts share an ID
func NewStore(accounts []config.AccountConfig) (*Store, error) {
	entries := make(map[string]Entry, len(accounts))

	for _, account := range accounts {
		id := strings.TrimSpace(account.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, exists := entries[id]; exists {
			return nil, ErrDuplicateID
		}
		entries[id] = Entry{
			ID:       id,
			Username: account.Username,
			Password: account.Password,
		}
	}

	return &Store{entries: entries}, nil
}

// Get returns the entry with the given ID.
//
// Returns:
//   - Entry: The matching entry
//   - error: ErrNotFound if no entry has that ID
func (s *Store) Get(id string) (Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// All returns every entry, sorted by ID for deterministic iteration.
func (s *Store) All() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

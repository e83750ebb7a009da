package entry

import (
	"errors"
	"testing"

	"github.com/mwadds/tile-core/internal/infrastructure/config"
)

func TestNewStore(t *testing.T) {
	store, err := NewStore([]config.AccountConfig{
		{ID: "home", Username: "home@example.com", Password: "pw1"},
		{ID: "work", Username: "work@example.com", Password: "pw2"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}

	e, err := store.Get("home")
	if err != nil {
		t.Fatalf("Get(home) error = %v", err)
	}
	if e.Username != "home@example.com" {
		t.Errorf("Username = %q, want %q", e.Username, "home@example.com")
	}
}

func TestNewStoreGeneratesID(t *testing.T) {
	store, err := NewStore([]config.AccountConfig{
		{Username: "anon@example.com", Password: "pw"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("All() returned %d entries, want 1", len(all))
	}
	if all[0].ID == "" {
		t.Error("generated entry ID is empty")
	}
}

func TestNewStoreDuplicateID(t *testing.T) {
	_, err := NewStore([]config.AccountConfig{
		{ID: "home", Username: "a@example.com", Password: "pw"},
		{ID: "home", Username: "b@example.com", Password: "pw"},
	})
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("NewStore() error = %v, want ErrDuplicateID", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestAllSorted(t *testing.T) {
	store, err := NewStore([]config.AccountConfig{
		{ID: "zeta", Username: "z@example.com", Password: "pw"},
		{ID: "alpha", Username: "a@example.com", Password: "pw"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	all := store.All()
	if all[0].ID != "alpha" || all[1].ID != "zeta" {
		t.Errorf("All() order = [%s, %s], want [alpha, zeta]", all[0].ID, all[1].ID)
	}
}

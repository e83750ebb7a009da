package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Entity is one registered tracker entity.
type Entity struct {
	// EntityID identifies the entity, e.g. "device_tracker.keys".
	EntityID string

	// UniqueID is the stable external identifier, formed as
	// "<username>_<tile_uuid>".
	UniqueID string

	// ConfigEntryID is the owning account entry.
	ConfigEntryID string

	// Platform is the entity platform, e.g. "device_tracker".
	Platform string

	// Name is the display name.
	Name string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository defines the interface for entity registry persistence.
// The abstraction allows a mock implementation for unit tests.
type Repository interface {
	// GetByUniqueID retrieves an entity by its unique ID.
	// Returns ErrEntityNotFound if no such entity exists.
	GetByUniqueID(ctx context.Context, uniqueID string) (*Entity, error)

	// ListByConfigEntry retrieves all entities owned by a config entry.
	ListByConfigEntry(ctx context.Context, configEntryID string) ([]Entity, error)

	// Upsert inserts the entity, or updates its name and platform when an
	// entity with the same unique ID already exists.
	Upsert(ctx context.Context, entity *Entity) error

	// UpdateUniqueID rewrites an entity's unique ID in place.
	// Returns ErrEntityNotFound if no entity has the old ID and
	// ErrUniqueIDTaken if the new ID is already in use.
	UpdateUniqueID(ctx context.Context, oldUniqueID, newUniqueID string) error

	// DeleteByConfigEntry removes all entities owned by a config entry.
	DeleteByConfigEntry(ctx context.Context, configEntryID string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed registry.
// The db parameter should be an open connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByUniqueID retrieves an entity by its unique ID.
func (r *SQLiteRepository) GetByUniqueID(ctx context.Context, uniqueID string) (*Entity, error) {
	query := `
		SELECT entity_id, unique_id, config_entry_id, platform, name, created_at, updated_at
		FROM entities
		WHERE unique_id = ?`

	row := r.db.QueryRowContext(ctx, query, uniqueID)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying entity by unique id: %w", err)
	}
	return entity, nil
}

// ListByConfigEntry retrieves all entities owned by a config entry.
func (r *SQLiteRepository) ListByConfigEntry(ctx context.Context, configEntryID string) ([]Entity, error) {
	query := `
		SELECT entity_id, unique_id, config_entry_id, platform, name, created_at, updated_at
		FROM entities
		WHERE config_entry_id = ?
		ORDER BY entity_id`

	rows, err := r.db.QueryContext(ctx, query, configEntryID)
	if err != nil {
		return nil, fmt.Errorf("querying entities by config entry: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	var entities []Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		entities = append(entities, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return entities, nil
}

// Upsert inserts or refreshes an entity row.
func (r *SQLiteRepository) Upsert(ctx context.Context, entity *Entity) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO entities (entity_id, unique_id, config_entry_id, platform, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			name = excluded.name,
			platform = excluded.platform,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		entity.EntityID, entity.UniqueID, entity.ConfigEntryID,
		entity.Platform, entity.Name, now, now)
	if err != nil {
		return fmt.Errorf("upserting entity %s: %w", entity.EntityID, err)
	}
	return nil
}

// UpdateUniqueID rewrites an entity's unique ID in place.
func (r *SQLiteRepository) UpdateUniqueID(ctx context.Context, oldUniqueID, newUniqueID string) error {
	if oldUniqueID == newUniqueID {
		return nil
	}

	var taken int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE unique_id = ?`, newUniqueID).Scan(&taken)
	if err != nil {
		return fmt.Errorf("checking unique id availability: %w", err)
	}
	if taken > 0 {
		return ErrUniqueIDTaken
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE entities SET unique_id = ?, updated_at = ? WHERE unique_id = ?`,
		newUniqueID, time.Now().UTC(), oldUniqueID)
	if err != nil {
		return fmt.Errorf("updating unique id: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// DeleteByConfigEntry removes all entities owned by a config entry.
func (r *SQLiteRepository) DeleteByConfigEntry(ctx context.Context, configEntryID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM entities WHERE config_entry_id = ?`, configEntryID)
	if err != nil {
		return fmt.Errorf("deleting entities for entry %s: %w", configEntryID, err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanEntity.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (*Entity, error) {
	var e Entity
	if err := s.Scan(
		&e.EntityID, &e.UniqueID, &e.ConfigEntryID,
		&e.Platform, &e.Name, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

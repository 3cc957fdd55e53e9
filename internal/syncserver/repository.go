package syncserver

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// Repository stores the remote's authoritative entity snapshots and the
// ordered change log that backs cursor pulls.
type Repository struct {
	db *database.DB
}

// NewRepository creates a sync server repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// GetEntityTx returns the stored envelope for an entity, or nil when the
// remote has never seen it.
func (r *Repository) GetEntityTx(tx *sql.Tx, entityType, entityID string) (*models.EntityEnvelope, error) {
	row := tx.QueryRow(`
		SELECT entity_type, entity_id, version, device_id, updated_at, deleted, payload
		FROM remote_entities WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID)

	env, err := scanEnvelope(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote entity: %w", err)
	}

	return env, nil
}

// ApplyTx stores an accepted envelope and appends it to the change log.
// Callers must have verified the compare-and-swap precondition first.
func (r *Repository) ApplyTx(tx *sql.Tx, env models.EntityEnvelope) error {
	payload := ""
	if len(env.Payload) > 0 {
		payload = string(env.Payload)
	}

	_, err := tx.Exec(`
		INSERT INTO remote_entities (entity_type, entity_id, version, device_id, updated_at, deleted, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			version=excluded.version, device_id=excluded.device_id,
			updated_at=excluded.updated_at, deleted=excluded.deleted,
			payload=excluded.payload`,
		env.EntityType, env.EntityID, env.Version, env.DeviceID, env.UpdatedAt,
		boolToInt(env.Deleted), payload)
	if err != nil {
		return fmt.Errorf("failed to store remote entity: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO remote_change_log (entity_type, entity_id, version, device_id, updated_at, deleted, payload, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.EntityType, env.EntityID, env.Version, env.DeviceID, env.UpdatedAt,
		boolToInt(env.Deleted), payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append change log: %w", err)
	}

	return nil
}

// ChangesSince returns log entries after the cursor in sequence order,
// along with the new cursor position. Entries the requesting device
// wrote itself are still returned; the client suppresses its own echoes.
func (r *Repository) ChangesSince(cursor int64, limit int) ([]models.EntityEnvelope, int64, error) {
	rows, err := r.db.Query(`
		SELECT seq, entity_type, entity_id, version, device_id, updated_at, deleted, payload
		FROM remote_change_log WHERE seq > ? ORDER BY seq LIMIT ?`,
		cursor, limit)
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to read change log: %w", err)
	}
	defer rows.Close()

	changes := []models.EntityEnvelope{}
	newCursor := cursor
	for rows.Next() {
		var seq int64
		var env models.EntityEnvelope
		var deleted int
		var payload string
		if err := rows.Scan(&seq, &env.EntityType, &env.EntityID, &env.Version,
			&env.DeviceID, &env.UpdatedAt, &deleted, &payload); err != nil {
			return nil, cursor, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		env.Deleted = deleted != 0
		if payload != "" {
			env.Payload = json.RawMessage(payload)
		}
		changes = append(changes, env)
		newCursor = seq
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, fmt.Errorf("failed to iterate change log: %w", err)
	}

	return changes, newCursor, nil
}

func scanEnvelope(row *sql.Row) (*models.EntityEnvelope, error) {
	var env models.EntityEnvelope
	var deleted int
	var payload string
	if err := row.Scan(&env.EntityType, &env.EntityID, &env.Version,
		&env.DeviceID, &env.UpdatedAt, &deleted, &payload); err != nil {
		return nil, err
	}
	env.Deleted = deleted != 0
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	return &env, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ABOUTME: Room entity store methods: CRUD, merge-update and the public-live listing
// ABOUTME: Room updates are read-modify-write serialized per room name

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const roomColumns = `name, owner_password, privacy, is_live, vip_required, title, viewers,
	pay_enabled, pay_label, pay_url,
	relay_enabled, relay_host, relay_port, relay_tls_port, relay_username, relay_password,
	created_at`

// CreateRoom creates a new room with all non-supplied fields at their
// documented defaults (not live, zero viewers, VIP not required, payment and
// relay disabled). Privacy defaults to public unless explicitly private.
// Returns ErrInvalidArgument for an empty name and ErrRoomExists if the name
// is already taken.
func (s *SQLiteStore) CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("room name: %w", ErrInvalidArgument)
	}

	privacy := PrivacyPublic
	if params.Privacy == PrivacyPrivate {
		privacy = PrivacyPrivate
	}

	createdAt := time.Now().UTC().Truncate(time.Second)

	query := `
		INSERT INTO rooms (name, owner_password, privacy, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		params.Name,
		params.OwnerPassword,
		privacy,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrRoomExists
		}
		return nil, fmt.Errorf("inserting room: %w", err)
	}

	s.logger.Debug("created room", "name", params.Name, "privacy", privacy)
	return s.GetRoom(ctx, params.Name)
}

// GetRoom retrieves a room by name, materialized with its VIP codes and VIP
// user names. Returns ErrNotFound if the room doesn't exist.
func (s *SQLiteStore) GetRoom(ctx context.Context, name string) (*Room, error) {
	room, err := s.getRoomRow(ctx, name)
	if err != nil {
		return nil, err
	}

	room.Codes, err = s.roomCodeUsage(ctx, name)
	if err != nil {
		return nil, err
	}

	room.VIPUsers, err = s.ListVIPUsers(ctx, name)
	if err != nil {
		return nil, err
	}

	return room, nil
}

// getRoomRow loads the room row without its VIP sub-entities
func (s *SQLiteStore) getRoomRow(ctx context.Context, name string) (*Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE name = ?`

	var room Room
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&room.Name,
		&room.OwnerPassword,
		&room.Privacy,
		&room.IsLive,
		&room.VIPRequired,
		&room.Title,
		&room.Viewers,
		&room.Payment.Enabled,
		&room.Payment.Label,
		&room.Payment.URL,
		&room.Relay.Enabled,
		&room.Relay.Host,
		&room.Relay.Port,
		&room.Relay.TLSPort,
		&room.Relay.Username,
		&room.Relay.Password,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}

	room.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &room, nil
}

// roomCodeUsage loads the code -> usage mapping for a room
func (s *SQLiteStore) roomCodeUsage(ctx context.Context, name string) (map[string]CodeUsage, error) {
	query := `SELECT code, max_uses, uses_left FROM vip_codes WHERE room_name = ?`

	rows, err := s.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("querying room codes: %w", err)
	}
	defer rows.Close()

	codes := make(map[string]CodeUsage)
	for rows.Next() {
		var code string
		var usage CodeUsage
		if err := rows.Scan(&code, &usage.MaxUses, &usage.UsesLeft); err != nil {
			return nil, fmt.Errorf("scanning room code: %w", err)
		}
		codes[code] = usage
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room codes: %w", err)
	}

	return codes, nil
}

// UpdateRoom loads the current room record, applies the caller-supplied
// mutation and writes every field of the result back (fields the mutation
// leaves alone keep their prior value). Calls for the same room name are
// serialized, so concurrent updates cannot lose each other's changes.
// The room name and creation time are immutable; changes to them are
// ignored. VIP sub-entities are not touched.
// Returns ErrNotFound if the room doesn't exist.
func (s *SQLiteStore) UpdateRoom(ctx context.Context, name string, mutate func(*Room)) (*Room, error) {
	unlock := s.roomLocks.lock(name)
	defer unlock()

	room, err := s.getRoomRow(ctx, name)
	if err != nil {
		return nil, err
	}

	mutate(room)
	room.Name = name

	query := `
		UPDATE rooms
		SET owner_password = ?, privacy = ?, is_live = ?, vip_required = ?,
		    title = ?, viewers = ?,
		    pay_enabled = ?, pay_label = ?, pay_url = ?,
		    relay_enabled = ?, relay_host = ?, relay_port = ?, relay_tls_port = ?,
		    relay_username = ?, relay_password = ?
		WHERE name = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		room.OwnerPassword,
		room.Privacy,
		room.IsLive,
		room.VIPRequired,
		room.Title,
		room.Viewers,
		room.Payment.Enabled,
		room.Payment.Label,
		room.Payment.URL,
		room.Relay.Enabled,
		room.Relay.Host,
		room.Relay.Port,
		room.Relay.TLSPort,
		room.Relay.Username,
		room.Relay.Password,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("updating room: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Room deleted between read and write
		return nil, ErrNotFound
	}

	s.logger.Debug("updated room", "name", name)
	return room, nil
}

// DeleteRoom removes a room and cascades to all of its VIP codes and VIP
// users in a single transaction. Returns ErrNotFound if the room doesn't
// exist; codes and users of other rooms are unaffected.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	// Dependents first so the cascade holds even on connections where the
	// foreign_keys pragma is not set
	if _, err := tx.ExecContext(ctx, `DELETE FROM vip_codes WHERE room_name = ?`, name); err != nil {
		return fmt.Errorf("deleting room codes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vip_users WHERE room_name = ?`, name); err != nil {
		return fmt.Errorf("deleting room vip users: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted room", "name", name)
	return nil
}

// ListPublicLive returns the discovery rows for rooms that are both public
// and currently live. No ordering is guaranteed to callers.
func (s *SQLiteStore) ListPublicLive(ctx context.Context) ([]RoomSummary, error) {
	query := `
		SELECT name, viewers, title, is_live
		FROM rooms
		WHERE privacy = 'public' AND is_live = 1
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying public rooms: %w", err)
	}
	defer rows.Close()

	var summaries []RoomSummary
	for rows.Next() {
		var rs RoomSummary
		if err := rows.Scan(&rs.Name, &rs.Viewers, &rs.Title, &rs.IsLive); err != nil {
			return nil, fmt.Errorf("scanning public room: %w", err)
		}
		summaries = append(summaries, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating public rooms: %w", err)
	}

	return summaries, nil
}

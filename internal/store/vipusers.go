// ABOUTME: VIP user registry store methods for per-room allow-list membership
// ABOUTME: Grants and revocations are idempotent; membership is durable until revoked or cascaded

package store

import (
	"context"
	"fmt"
	"time"
)

// GrantVIPUser adds a user to a room's allow-list. This operation is
// idempotent - granting an existing member succeeds silently. Returns
// ErrNotFound if the room doesn't exist.
func (s *SQLiteStore) GrantVIPUser(ctx context.Context, roomName, userName string) error {
	if userName == "" {
		return fmt.Errorf("user name: %w", ErrInvalidArgument)
	}

	query := `
		INSERT OR IGNORE INTO vip_users (room_name, user_name, added_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		roomName,
		userName,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("granting vip user: %w", err)
	}

	s.logger.Debug("granted vip user", "room", roomName, "user", userName)
	return nil
}

// RevokeVIPUser removes a user from a room's allow-list. This operation is
// idempotent - revoking a non-member succeeds silently.
func (s *SQLiteStore) RevokeVIPUser(ctx context.Context, roomName, userName string) error {
	query := `DELETE FROM vip_users WHERE room_name = ? AND user_name = ?`

	_, err := s.db.ExecContext(ctx, query, roomName, userName)
	if err != nil {
		return fmt.Errorf("revoking vip user: %w", err)
	}

	s.logger.Debug("revoked vip user", "room", roomName, "user", userName)
	return nil
}

// ListVIPUsers returns the allow-listed user names for a room. Returns an
// empty slice for a room with no members.
func (s *SQLiteStore) ListVIPUsers(ctx context.Context, roomName string) ([]string, error) {
	query := `
		SELECT user_name FROM vip_users
		WHERE room_name = ?
		ORDER BY user_name
	`

	rows, err := s.db.QueryContext(ctx, query, roomName)
	if err != nil {
		return nil, fmt.Errorf("listing vip users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("scanning vip user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vip users: %w", err)
	}

	// Return empty slice (not nil) if no members
	if users == nil {
		users = []string{}
	}

	return users, nil
}

// ABOUTME: VIP code entity store methods: issuance, atomic redemption, deletion
// ABOUTME: Codes are globally unique across all rooms and quota-limited

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddVIPCode creates a quota-limited entry code for a room with its full
// quota remaining. Codes live in a single global namespace: ErrCodeExists is
// returned if the code is taken by any room. Returns ErrInvalidArgument for
// an empty code or non-positive quota and ErrNotFound if the room doesn't
// exist.
func (s *SQLiteStore) AddVIPCode(ctx context.Context, roomName, code string, maxUses int) error {
	if code == "" {
		return fmt.Errorf("vip code: %w", ErrInvalidArgument)
	}
	if maxUses <= 0 {
		return fmt.Errorf("max uses must be positive: %w", ErrInvalidArgument)
	}

	query := `
		INSERT INTO vip_codes (code, room_name, max_uses, uses_left, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		code,
		roomName,
		maxUses,
		maxUses,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCodeExists
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting vip code: %w", err)
	}

	s.logger.Debug("added vip code", "room", roomName, "code", code, "max_uses", maxUses)
	return nil
}

// RedeemVIPCode consumes one use of a code. The decrement is a single
// guarded UPDATE, so concurrent redeemers can never push a code past its
// quota. Returns true iff a use was consumed; false means the code doesn't
// exist or is exhausted, and callers must not be told which.
func (s *SQLiteStore) RedeemVIPCode(ctx context.Context, code string) (bool, error) {
	query := `
		UPDATE vip_codes
		SET uses_left = uses_left - 1
		WHERE code = ? AND uses_left > 0
	`

	result, err := s.db.ExecContext(ctx, query, code)
	if err != nil {
		return false, fmt.Errorf("redeeming vip code: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	s.logger.Debug("redeemed vip code", "code", code)
	return true, nil
}

// DeleteVIPCode removes a code scoped to its room. Deleting an absent code
// is a silent success.
func (s *SQLiteStore) DeleteVIPCode(ctx context.Context, roomName, code string) error {
	query := `DELETE FROM vip_codes WHERE room_name = ? AND code = ?`

	_, err := s.db.ExecContext(ctx, query, roomName, code)
	if err != nil {
		return fmt.Errorf("deleting vip code: %w", err)
	}

	s.logger.Debug("deleted vip code", "room", roomName, "code", code)
	return nil
}

// LookupVIPCode resolves a code to its owning room independent of any room
// context. Returns ErrNotFound if the code doesn't exist.
func (s *SQLiteStore) LookupVIPCode(ctx context.Context, code string) (*VIPCode, error) {
	query := `
		SELECT code, room_name, max_uses, uses_left, created_at
		FROM vip_codes
		WHERE code = ?
	`

	var vc VIPCode
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&vc.Code,
		&vc.RoomName,
		&vc.MaxUses,
		&vc.UsesLeft,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying vip code: %w", err)
	}

	vc.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &vc, nil
}

// ListVIPCodes returns the display projection of a room's codes. Used counts
// are clamped at zero so a corrupted row never reports negative usage.
// Returns an empty slice for a room with no codes.
func (s *SQLiteStore) ListVIPCodes(ctx context.Context, roomName string) ([]VIPCodeInfo, error) {
	query := `
		SELECT code, max_uses, uses_left
		FROM vip_codes
		WHERE room_name = ?
		ORDER BY code
	`

	rows, err := s.db.QueryContext(ctx, query, roomName)
	if err != nil {
		return nil, fmt.Errorf("querying vip codes: %w", err)
	}
	defer rows.Close()

	infos := []VIPCodeInfo{}
	for rows.Next() {
		var info VIPCodeInfo
		if err := rows.Scan(&info.Code, &info.MaxUses, &info.UsesLeft); err != nil {
			return nil, fmt.Errorf("scanning vip code: %w", err)
		}
		info.Used = info.MaxUses - info.UsesLeft
		if info.Used < 0 {
			info.Used = 0
		}
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vip codes: %w", err)
	}

	return infos, nil
}

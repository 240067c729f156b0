// ABOUTME: Store interface and data types for stagecast persistence
// ABOUTME: Defines Room, VIPCode, VIPUser structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrRoomExists is returned when trying to create a room whose name is taken
var ErrRoomExists = errors.New("room already exists")

// ErrCodeExists is returned when a VIP code collides with an existing code in
// any room (codes are globally unique, not per-room)
var ErrCodeExists = errors.New("vip code already exists")

// ErrInvalidArgument is returned when a required identifier is empty or a
// numeric argument is out of range
var ErrInvalidArgument = errors.New("invalid argument")

// Privacy controls whether a room appears in the public directory
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyPrivate Privacy = "private"
)

// PaymentConfig holds the optional tipping/payment settings for a room
type PaymentConfig struct {
	Enabled bool
	Label   string
	URL     string
}

// RelayConfig holds the optional media relay settings for a room
type RelayConfig struct {
	Enabled  bool
	Host     string
	Port     int
	TLSPort  int
	Username string
	Password string
}

// Room is the top-level claimable streaming session entity. A room with an
// empty OwnerPassword is unclaimed and has no access control.
type Room struct {
	Name          string
	OwnerPassword string
	Privacy       Privacy
	IsLive        bool
	VIPRequired   bool
	Title         string
	Viewers       int
	Payment       PaymentConfig
	Relay         RelayConfig
	CreatedAt     time.Time

	// Codes and VIPUsers are materialized by GetRoom only. UpdateRoom
	// neither reads nor writes them; VIP sub-entities are mutated through
	// their own operations.
	Codes    map[string]CodeUsage
	VIPUsers []string
}

// CodeUsage is the per-code quota view embedded in a materialized Room
type CodeUsage struct {
	MaxUses  int
	UsesLeft int
}

// CreateRoomParams are the caller-supplied fields for room creation.
// Everything else starts at its documented default.
type CreateRoomParams struct {
	Name          string
	OwnerPassword string
	Privacy       Privacy
}

// VIPCode is a shareable, quota-limited entry token for a room
type VIPCode struct {
	Code      string
	RoomName  string
	MaxUses   int
	UsesLeft  int
	CreatedAt time.Time
}

// VIPCodeInfo is the display projection of a code. Used is clamped to zero
// so corrupted rows never report negative consumption.
type VIPCodeInfo struct {
	Code     string
	MaxUses  int
	UsesLeft int
	Used     int
}

// RoomSummary is the redacted row returned by ListPublicLive. It carries no
// secrets and is safe to hand to unauthenticated clients.
type RoomSummary struct {
	Name    string
	Viewers int
	Title   string
	IsLive  bool
}

// Store defines the interface for room and VIP access-control persistence
type Store interface {
	// Rooms
	CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error)
	GetRoom(ctx context.Context, name string) (*Room, error)
	UpdateRoom(ctx context.Context, name string, mutate func(*Room)) (*Room, error)
	DeleteRoom(ctx context.Context, name string) error
	ListPublicLive(ctx context.Context) ([]RoomSummary, error)

	// VIP codes
	AddVIPCode(ctx context.Context, roomName, code string, maxUses int) error
	RedeemVIPCode(ctx context.Context, code string) (bool, error)
	DeleteVIPCode(ctx context.Context, roomName, code string) error
	LookupVIPCode(ctx context.Context, code string) (*VIPCode, error)
	ListVIPCodes(ctx context.Context, roomName string) ([]VIPCodeInfo, error)

	// VIP users
	GrantVIPUser(ctx context.Context, roomName, userName string) error
	RevokeVIPUser(ctx context.Context, roomName, userName string) error
	ListVIPUsers(ctx context.Context, roomName string) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}

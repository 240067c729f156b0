// Package store provides persistent storage for rooms and VIP access control
// using SQLite.
//
// # Data Models
//
//   - Room: claimable streaming session keyed by name, with privacy,
//     live state, viewer count, and payment/relay configuration
//   - VIPCode: quota-limited entry token, globally unique across all rooms
//   - VIP users: durable per-room allow-list keyed by (room, user)
//
// A room exclusively owns its codes and allow-list entries; deleting a room
// removes both in the same transaction.
//
// # Concurrency
//
// Single-statement writes (code redemption, grants, deletes) are race-safe
// because SQLite serializes writers. Code redemption in particular is one
// guarded conditional UPDATE and can never over-consume a quota. Room updates
// are read-modify-write and are therefore serialized per room name inside
// the store.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Callers branch on error kinds with errors.Is:
//
//   - ErrNotFound: requested room or code does not exist
//   - ErrRoomExists: duplicate room name on create
//   - ErrCodeExists: duplicate VIP code (global namespace)
//   - ErrInvalidArgument: empty identifier or non-positive quota
//
// Anything else is a wrapped storage engine failure. All methods accept
// context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a path under t.TempDir() for tests; schema and
// migrations run automatically on open.
package store

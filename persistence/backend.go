// Package persistence implements the SQL-backed durability layer (C7):
// one Backend per SQL dialect, sharing a dialect-parameterized query
// builder so that schema and query differences never leak into callers.
package persistence

import "context"

// Dialect identifies the SQL variant a Backend speaks.
type Dialect uint8

const (
	SQLite Dialect = iota
	MySQL
	PostgreSQL
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite3"
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "postgres"
	default:
		return "unknown"
	}
}

// PageSize is the fixed row count per page used by every Load* operation,
// per §4.5.
const PageSize = 100000

// TorrentRecord is the persisted aggregate state of one swarm. Per-peer
// state is never persisted (a Non-goal).
type TorrentRecord struct {
	InfoHash  string // lowercase hex
	Completed uint32
	Updated   int64 // unix seconds
}

// KeyRecord is a persisted time-limited authorization token.
type KeyRecord struct {
	Key       string // lowercase hex
	ExpiresAt int64  // unix seconds, 0 = never
}

// UserRecord is a persisted per-user accounting row.
type UserRecord struct {
	ID         string // lowercase hex
	ExternalID string
	SecretKey  string // lowercase hex
	Uploaded   int64
	Downloaded int64
	Completed  uint32
}

// Backend is the persistence contract shared by every SQL dialect. Loads
// are paged; a page callback returning an error aborts the load (the
// already-applied pages are not rolled back, since they reflect durable
// state, not an in-progress mutation).
type Backend interface {
	LoadTorrents(ctx context.Context, page func([]TorrentRecord) error) error
	LoadWhitelist(ctx context.Context, page func([]string) error) error
	LoadBlacklist(ctx context.Context, page func([]string) error) error
	LoadKeys(ctx context.Context, page func([]KeyRecord) error) error
	LoadUsers(ctx context.Context, page func([]UserRecord) error) error

	SaveTorrents(ctx context.Context, upserts []TorrentRecord, deletes []string) error
	SaveWhitelist(ctx context.Context, adds []string, removes []string) error
	SaveBlacklist(ctx context.Context, adds []string, removes []string) error
	SaveKeys(ctx context.Context, upserts []KeyRecord, removes []string) error
	SaveUsers(ctx context.Context, upserts []UserRecord, deletes []string) error

	// CreateSchema idempotently creates every table the backend needs.
	CreateSchema(ctx context.Context) error

	Close() error
}

package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/glebarez/go-sqlite"

	cachekey "github.com/always-cache/response-cache/pkg/cache-key"
	serializer "github.com/always-cache/response-cache/pkg/response-serializer"
)

// SQLiteStore keeps entries in a private in-memory SQLite database.
// Entries are stored in their HTTP/1.x wire format.
//
// Database errors never reach the caller: they are logged, reads report the
// entry as absent and writes are dropped.
type SQLiteStore struct {
	db       *sql.DB
	lifespan time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewSQLiteStore opens a new in-memory database whose entries stay fresh for lifespan.
// Every store gets its own database. Close releases it.
func NewSQLiteStore(lifespan time.Duration) (*SQLiteStore, error) {
	if lifespan <= 0 {
		return nil, ErrInvalidLifespan
	}
	filename := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// an in-memory database lives as long as its last connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key TEXT PRIMARY KEY,
		stored_at INTEGER,
		bytes BLOB
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite store table: %w", err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS stored_at_idx ON cache (stored_at)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite store index: %w", err)
	}
	return &SQLiteStore{
		db:       db,
		lifespan: lifespan,
		log:      log.With().Str("store", "sqlite").Logger(),
		now:      time.Now,
	}, nil
}

func (s *SQLiteStore) ExpiringGet(key cachekey.Key) (Entry, bool, bool) {
	var storedAt int64
	var bytes []byte
	err := s.db.QueryRow("SELECT stored_at, bytes FROM cache WHERE key = ?", key.String()).Scan(&storedAt, &bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, false
	}
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Could not read entry")
		return Entry{}, false, false
	}
	res, err := serializer.BytesToResponse(bytes, nil)
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Could not parse stored entry, purging")
		s.Remove(key)
		return Entry{}, false, false
	}
	entry, err := FromResponse(res)
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Could not read stored entry body, purging")
		s.Remove(key)
		return Entry{}, false, false
	}
	expired := s.now().Sub(time.Unix(0, storedAt)) >= s.lifespan
	return entry, true, expired
}

func (s *SQLiteStore) Set(key cachekey.Key, entry Entry) {
	bytes, err := serializer.ResponseToBytes(entry.Response(nil))
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Could not serialize entry")
		return
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO cache (key, stored_at, bytes) VALUES (?, ?, ?)",
		key.String(), s.now().UnixNano(), bytes)
	if err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Could not write entry")
	}
}

func (s *SQLiteStore) Remove(key cachekey.Key) {
	if _, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key.String()); err != nil {
		s.log.Error().Err(err).Str("key", key.String()).Msg("Could not remove entry")
	}
}

// Flush drops all entries.
func (s *SQLiteStore) Flush() {
	if _, err := s.db.Exec("DELETE FROM cache"); err != nil {
		s.log.Error().Err(err).Msg("Could not flush entries")
	}
}

// EvictExpired removes all stale entries.
func (s *SQLiteStore) EvictExpired() int {
	cutoff := s.now().Add(-s.lifespan).UnixNano()
	result, err := s.db.Exec("DELETE FROM cache WHERE stored_at <= ?", cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not evict expired entries")
		return 0
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

// Len returns the number of entries, stale ones included.
func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n); err != nil {
		s.log.Error().Err(err).Msg("Could not count entries")
		return 0
	}
	return n
}

// Close closes the database, dropping all entries.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

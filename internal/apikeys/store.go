package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tonearm/internal/queue"
)

// DefaultValidity is applied when the store is built with a non-positive validity.
const DefaultValidity = 180 * 24 * time.Hour

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound reports a key that does not exist or was already revoked.
var ErrNotFound = errors.New("api key not found")

// Key is one issued client credential.
type Key struct {
	Key       string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Valid reports whether the key may authenticate a request at now.
func (k Key) Valid(now time.Time) bool {
	return k.RevokedAt == nil && k.ExpiresAt.After(now)
}

// Store persists API keys in the job database.
type Store struct {
	db       *sql.DB
	validity time.Duration
	now      func() time.Time
}

// NewStore wraps db. The api_keys table is created by the queue schema.
func NewStore(db *sql.DB, validity time.Duration) *Store {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Store{db: db, validity: validity, now: time.Now}
}

// SetClock overrides the time source used for issuing and validating keys.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// Create issues a new key.
func (s *Store) Create(ctx context.Context, label string) (Key, error) {
	created := s.clock()
	key := Key{
		Key:       uuid.NewString(),
		Label:     strings.TrimSpace(label),
		CreatedAt: created,
		ExpiresAt: created.Add(s.validity),
	}
	if _, err := queue.ExecWithRetry(
		ctx,
		s.db,
		`INSERT INTO api_keys (key, label, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		key.Key,
		key.Label,
		key.CreatedAt.Format(timeLayout),
		key.ExpiresAt.Format(timeLayout),
	); err != nil {
		return Key{}, fmt.Errorf("insert api key: %w", err)
	}
	return key, nil
}

// List returns the keys that are currently valid, newest first.
func (s *Store) List(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT key, label, created_at, expires_at, revoked_at FROM api_keys
         WHERE revoked_at IS NULL AND expires_at > ?
         ORDER BY created_at DESC`,
		s.clock().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke marks a key unusable. ErrNotFound is returned when the key is
// unknown or already revoked.
func (s *Store) Revoke(ctx context.Context, key string) error {
	res, err := queue.ExecWithRetry(
		ctx,
		s.db,
		`UPDATE api_keys SET revoked_at = ? WHERE key = ? AND revoked_at IS NULL`,
		s.clock().Format(timeLayout),
		strings.TrimSpace(key),
	)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Valid reports whether key authenticates requests right now.
func (s *Store) Valid(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT key, label, created_at, expires_at, revoked_at FROM api_keys WHERE key = ?`,
		key,
	)
	record, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.Valid(s.clock()), nil
}

// Purge deletes keys that expired or were revoked before cutoff.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	stamp := cutoff.UTC().Format(timeLayout)
	res, err := queue.ExecWithRetry(
		ctx,
		s.db,
		`DELETE FROM api_keys WHERE expires_at <= ? OR (revoked_at IS NOT NULL AND revoked_at <= ?)`,
		stamp,
		stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("purge api keys: %w", err)
	}
	return res.RowsAffected()
}

func scanKey(scanner interface{ Scan(dest ...any) error }) (Key, error) {
	var (
		key              Key
		label, revokedAt sql.NullString
		created, expires string
	)
	if err := scanner.Scan(&key.Key, &label, &created, &expires, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Key{}, err
		}
		return Key{}, fmt.Errorf("scan api key: %w", err)
	}
	key.Label = label.String
	var err error
	if key.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Key{}, fmt.Errorf("parse created_at: %w", err)
	}
	if key.ExpiresAt, err = time.Parse(timeLayout, expires); err != nil {
		return Key{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if revokedAt.Valid && revokedAt.String != "" {
		ts, err := time.Parse(timeLayout, revokedAt.String)
		if err != nil {
			return Key{}, fmt.Errorf("parse revoked_at: %w", err)
		}
		key.RevokedAt = &ts
	}
	return key, nil
}

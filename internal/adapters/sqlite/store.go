// Package sqlite reads battle rosters from and writes video links to a
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/okian/replaylink/pkg/logger"
)

const (
	defaultLockWait  = 10 * time.Second
	defaultLockEvery = 100 * time.Millisecond
)

// Store wraps the battle database.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock

	lockWait  time.Duration
	lockEvery time.Duration
	now       func() time.Time
	log       logger.Logger
}

// Open connects to the database at path, creating it and its tables if needed.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{
		db:        db,
		path:      path,
		lock:      flock.New(path + ".lock"),
		lockWait:  defaultLockWait,
		lockEvery: defaultLockEvery,
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection and releases the writer
// lock if still held.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.lock.Locked() {
		_ = s.lock.Unlock()
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// AcquireWriter takes the exclusive lock file beside the database so that
// only one run writes links at a time. The returned func releases it.
func (s *Store) AcquireWriter(ctx context.Context) (func() error, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	ok, err := s.lock.TryLockContext(lockCtx, s.lockEvery)
	switch {
	case ok:
	case ctx.Err() != nil:
		return nil, fmt.Errorf("acquire writer lock: %w", ctx.Err())
	case err != nil && !errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	default:
		return nil, fmt.Errorf("%w: %s", ErrLocked, s.lock.Path())
	}
	s.log.Debug(ctx, "writer lock acquired", logger.String("lock", s.lock.Path()))
	return s.lock.Unlock, nil
}

package db

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migrations so that concurrent replicas
// never run AutoMigrate at the same time.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock, blocking until the
	// lock is acquired and releasing it when fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a locking strategy for the dialect: PostgreSQL
// advisory locks when available, otherwise a lock table with stale-holder
// cleanup. The lock table is migrated up front so first callers never race
// against its creation.
func NewMigrationLocker(gdb *gorm.DB) MigrationLocker {
	if gdb == nil {
		return noopLocker{}
	}
	if gdb.Dialector.Name() == "postgres" {
		return &advisoryLocker{
			db:  gdb,
			key: int64(crc32.ChecksumIEEE([]byte("modelkeep-migration"))),
		}
	}
	l := &tableLocker{db: gdb}
	_ = gdb.AutoMigrate(&migrationLockRow{})
	return l
}

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, fn func() error) error { return fn() }

// advisoryLocker holds a PostgreSQL advisory lock for the duration of fn.
type advisoryLocker struct {
	db  *gorm.DB
	key int64
}

func (l *advisoryLocker) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.key).Error; err != nil {
		return fmt.Errorf("failed to acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.key).Error
	}()
	return fn()
}

// migrationLockRow is the single-row lock record used on MySQL and SQLite.
type migrationLockRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRow) TableName() string { return "migration_lock" }

// tableLocker acquires the lock by inserting the singleton row; an existing
// row means another holder. Holders older than staleAfter are assumed
// crashed and evicted.
type tableLocker struct {
	db *gorm.DB
}

const (
	lockRowID         = "migration"
	lockAcquireTries  = 30
	lockRetryInterval = time.Second
	lockStaleAfter    = 5 * time.Minute
)

func (l *tableLocker) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}
	holder = fmt.Sprintf("%s/%d", holder, os.Getpid())

	var acquired bool
	for attempt := 0; attempt < lockAcquireTries; attempt++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockRowID, time.Now().UTC().Add(-lockStaleAfter)).
			Delete(&migrationLockRow{})

		res := l.db.WithContext(ctx).Create(&migrationLockRow{
			ID:       lockRowID,
			LockedAt: time.Now().UTC(),
			LockedBy: holder,
		})
		if res.Error == nil {
			acquired = true
			break
		}
		if attempt == lockAcquireTries-1 {
			return fmt.Errorf("failed to acquire migration lock after %d attempts: %w", lockAcquireTries, res.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("failed to acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", lockRowID).Delete(&migrationLockRow{})
	}()
	return fn()
}

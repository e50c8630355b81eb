package registry

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// schemaLocker serializes the schema-creation pass across processes building
// registries against the same database.
type schemaLocker interface {
	// WithLock runs fn while holding the lock, blocking until acquired.
	WithLock(ctx context.Context, fn func() error) error
}

// newSchemaLocker picks a locking strategy for the engine's dialect.
// PostgreSQL gets an advisory lock; everything else falls back to a lock
// table with stale-lock recovery.
func newSchemaLocker(engine *gorm.DB) schemaLocker {
	if engine.Dialector.Name() == "postgres" {
		return &advisorySchemaLock{
			engine: engine,
			lockID: int64(crc32.ChecksumIEEE([]byte("anyblok-schema"))),
		}
	}
	lock := &tableSchemaLock{engine: engine}
	// Create the lock table up front so concurrent first callers never race
	// its creation.
	_ = engine.AutoMigrate(&schemaLockRow{})
	return lock
}

type advisorySchemaLock struct {
	engine *gorm.DB
	lockID int64
}

func (l *advisorySchemaLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.engine.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquiring schema lock: %w", err)
	}
	defer func() {
		_ = l.engine.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

type schemaLockRow struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (schemaLockRow) TableName() string { return "anyblok_schema_lock" }

// tableSchemaLock holds the lock through an INSERT-or-fail row. Locks older
// than the stale age are reaped, so a crashed holder does not wedge every
// later build.
type tableSchemaLock struct {
	engine *gorm.DB
}

func (l *tableSchemaLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	const maxRetries = 30
	const retryInterval = time.Second
	const staleLockAge = 5 * time.Minute

	row := schemaLockRow{ID: "schema", LockedBy: hostname}

	acquired := false
	for i := 0; i < maxRetries; i++ {
		l.engine.WithContext(ctx).
			Where("id = ? AND locked_at < ?", "schema", time.Now().Add(-staleLockAge)).
			Delete(&schemaLockRow{})

		row.LockedAt = time.Now()
		result := l.engine.WithContext(ctx).Create(&row)
		if result.Error == nil {
			acquired = true
			break
		}
		if i == maxRetries-1 {
			return fmt.Errorf("acquiring schema lock after %d retries: %w", maxRetries, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("acquiring schema lock")
	}

	defer func() {
		l.engine.Where("id = ?", "schema").Delete(&schemaLockRow{})
	}()
	return fn()
}

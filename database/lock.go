package database

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// WithLock runs fn while holding an exclusive file lock at lockPath. Every
// replica starting against the same database file takes this lock before
// migrating, so only one of them changes the schema at a time.
func WithLock(ctx context.Context, lockPath string, timeout time.Duration, fn func(ctx context.Context) error) error {
	fileLock := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Try and acquire a file lock.
	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock %s: timeout after %v", lockPath, timeout)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logger.Error("Failed to release lock", zap.String("path", lockPath), zap.Error(err))
		}
	}()

	return fn(ctx)
}

package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umakantv/go-utils/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})
	os.Exit(m.Run())
}

func TestMigrateCreatesSchema(t *testing.T) {
	t.Parallel()

	conn, err := Open(filepath.Join(t.TempDir(), "idp.db"))
	require.NoError(t, err)
	defer conn.Close()

	version, err := Migrate(context.Background(), conn.DB)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	for _, table := range []string{"clients", "identity_resources", "api_resources", "persisted_grants"} {
		var n int
		err := conn.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "table %s", table)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	conn, err := Open(filepath.Join(t.TempDir(), "idp.db"))
	require.NoError(t, err)
	defer conn.Close()

	first, err := Migrate(context.Background(), conn.DB)
	require.NoError(t, err)
	second, err := Migrate(context.Background(), conn.DB)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMigrateFailureIsWrapped(t *testing.T) {
	t.Parallel()

	conn, err := Open(filepath.Join(t.TempDir(), "idp.db"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = Migrate(context.Background(), conn.DB)
	require.ErrorIs(t, err, ErrMigrationFailed)
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()

	conn, err := Open(filepath.Join(t.TempDir(), "idp.db"))
	require.NoError(t, err)
	defer conn.Close()
	_, err = Migrate(context.Background(), conn.DB)
	require.NoError(t, err)

	_, err = conn.Exec(`INSERT INTO persisted_grants (grant_key, type, subject_id, client_id, creation_time, expiration)
		VALUES ('k', 'authorization_code', 'alice', 'nobody', 1, 2)`)
	require.Error(t, err)
}

func TestWithLockSerializes(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "idp.db.lock")

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), lockPath, 5*time.Second, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestWithLockTimeout(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "idp.db.lock")
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- WithLock(context.Background(), lockPath, time.Second, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := WithLock(context.Background(), lockPath, 200*time.Millisecond, func(context.Context) error {
		t.Fatal("lock should not be acquired")
		return nil
	})
	require.Error(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestCreateMigration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, CreateMigration(dir, "add_grant_description"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "add_grant_description")

	require.Error(t, CreateMigration(dir, ""))
}

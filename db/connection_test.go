package db

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	t.Run("opens file-backed database with WAL and pragmas", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		conn, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, conn)
		defer conn.Close()

		var journalMode string
		err = conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
		require.NoError(t, err)
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		err = conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys)
		require.NoError(t, err)
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		err = conn.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout)
		require.NoError(t, err)
		assert.Equal(t, 5000, busyTimeout)
	})

	t.Run("returns error for unwritable path", func(t *testing.T) {
		conn, err := Open("/nonexistent/dir/db.sqlite", nil)
		if err == nil && conn != nil {
			err = conn.Ping()
			conn.Close()
		}
		assert.Error(t, err)
	})
}

func TestOpen_InMemory(t *testing.T) {
	t.Run("pins the pool to one connection", func(t *testing.T) {
		conn, err := Open(":memory:", nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, 1, conn.Stats().MaxOpenConnections)
	})

	t.Run("recognizes memory DSN variants", func(t *testing.T) {
		conn, err := Open("file:variant?mode=memory&cache=shared", nil)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, 1, conn.Stats().MaxOpenConnections)
	})

	t.Run("schema is visible across concurrent pool use", func(t *testing.T) {
		// With a naive ":memory:" DSN each pool connection would get its
		// own empty database and concurrent access would hit missing
		// tables. The pinned shared-cache setup must serve every
		// goroutine from the one migrated database.
		conn, err := Open(":memory:", nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, Migrate(conn, nil))

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers*2)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := conn.Exec(`
					INSERT INTO job_records (id, type, scheduled_for, created_at, updated_at)
					VALUES (?, 'scrape:fetch', datetime('now'), datetime('now'), datetime('now'))`,
					fmt.Sprintf("job-%d", n))
				if err != nil {
					errs <- err
					return
				}
				var count int
				if err := conn.QueryRow("SELECT COUNT(*) FROM job_records").Scan(&count); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent pool use failed: %v", err)
		}

		var total int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM job_records").Scan(&total))
		assert.Equal(t, workers, total)
	})
}

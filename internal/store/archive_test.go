package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres spins up a throwaway Postgres container for the archive.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("archive_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestArchiveRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping archive integration test in short mode")
	}

	arch, err := NewArchiveDSN(startPostgres(t), testLogger())
	require.NoError(t, err)
	defer arch.Close()

	first := []byte(`{"quests":[],"markers":[],"categories":[],"lastUpdated":"2026-01-01T00:00:00Z"}`)
	second := []byte(`{"quests":[{"id":"q1"}],"markers":[],"categories":[],"lastUpdated":"2026-01-02T00:00:00Z"}`)

	require.NoError(t, arch.ArchiveSnapshot(first, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, arch.ArchiveSnapshot(second, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))

	latest, err := arch.Latest()
	require.NoError(t, err)
	assert.JSONEq(t, string(second), string(latest))

	health := arch.Health()
	assert.Equal(t, "up", health["status"])
}

func TestArchiveReceivesStoreSaves(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping archive integration test in short mode")
	}

	arch, err := NewArchiveDSN(startPostgres(t), testLogger())
	require.NoError(t, err)
	defer arch.Close()

	s := New(t.TempDir()+"/snapshot.json", testLogger(), WithArchiver(arch))
	require.NoError(t, s.PutUser(testUser("u1")))
	require.NoError(t, s.Save())

	latest, err := arch.Latest()
	require.NoError(t, err)
	assert.Contains(t, string(latest), "u1@example.com")
}

func TestNewArchiveBadDSN(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping archive integration test in short mode")
	}

	_, err := NewArchiveDSN("host=127.0.0.1 port=1 user=x password=x dbname=x sslmode=disable", testLogger())
	assert.Error(t, err)
}

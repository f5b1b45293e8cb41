package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/call-signaling/internal/config"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o700))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, files)

	_, err = migrationFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRunMigrationsWithoutPool(t *testing.T) {
	n, err := RunMigrations(context.Background(), nil, "does-not-matter", zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnconfiguredClients(t *testing.T) {
	ctx := context.Background()

	pg, err := NewPostgres(ctx, config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pg.PoolHandle())
	assert.Error(t, pg.Ping(ctx))
	pg.Close()

	rdb := NewRedis(config.RedisConfig{}, zap.NewNop())
	assert.Error(t, rdb.Ping(ctx))
	_, err = rdb.Publish(ctx, "calls.events", []byte("{}"))
	assert.Error(t, err)
	rdb.Close()
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FACESTAB_FRAMES_DIR", "FACESTAB_PYTHON", "FACESTAB_WORKER_SCRIPT", "FACESTAB_MODEL",
		"FACESTAB_WORKER_TIMEOUT", "FACESTAB_LOG_LEVEL", "FACESTAB_LOG_FILE",
		"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultFramesDir, cfg.FramesDir)
	assert.Equal(t, DefaultPython, cfg.Python)
	assert.Equal(t, DefaultModelPath, cfg.ModelPath)
	assert.Equal(t, DefaultWorkerTimeout, cfg.WorkerTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACESTAB_FRAMES_DIR", "/tmp/frames")
	t.Setenv("FACESTAB_WORKER_TIMEOUT", "5s")
	t.Setenv("FACESTAB_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/frames", cfg.FramesDir)
	assert.Equal(t, 5*time.Second, cfg.WorkerTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, and
	// t.Setenv("", ...) counts as set. Unset them for this test.
	os.Unsetenv("FACESTAB_PYTHON")
	os.Unsetenv("FACESTAB_MODEL")
	t.Cleanup(func() {
		os.Unsetenv("FACESTAB_PYTHON")
		os.Unsetenv("FACESTAB_MODEL")
	})

	file := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(file, []byte("FACESTAB_PYTHON=/opt/py/bin/python\nFACESTAB_MODEL=model.dat\n"), 0644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "/opt/py/bin/python", cfg.Python)
	assert.Equal(t, "model.dat", cfg.ModelPath)
}

func TestLoadBadTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("FACESTAB_WORKER_TIMEOUT", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	clearEnv(t)
	assert.Empty(t, DatabaseURL())

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "facestab")
	assert.Equal(t, "postgres://u:p@db:5432/facestab", DatabaseURL())

	t.Setenv("POSTGRES_PORT", "6543")
	assert.Equal(t, "postgres://u:p@db:6543/facestab", DatabaseURL())
}

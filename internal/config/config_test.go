package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Production())
	assert.True(t, cfg.RequireConsent)
	assert.Equal(t, "analytics-consent", cfg.ConsentKey)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Warehouse.BatchMaxWait)
	assert.Empty(t, cfg.HTTP.APIKeys)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "Production")
	t.Setenv("ANALYTICS_REQUIRE_CONSENT", "false")
	t.Setenv("HTTP_API_KEYS", "k1,k2")
	t.Setenv("GA4_ENABLED", "true")
	t.Setenv("GA4_MEASUREMENT_ID", "G-1")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("STORAGE_POSTGRES_DSN", "postgres://localhost/analytics")
	t.Setenv("WAREHOUSE_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Production())
	assert.False(t, cfg.RequireConsent)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
	assert.True(t, cfg.GA4.Enabled)
	assert.Equal(t, "G-1", cfg.GA4.MeasurementID)
	assert.Equal(t, "postgres://localhost/analytics", cfg.WarehouseDSN())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PLAUSIBLE_DOMAIN=example.com\n"), 0o600))
	// godotenv sets variables directly; register cleanup for the key.
	t.Setenv("PLAUSIBLE_DOMAIN", "")
	require.NoError(t, os.Unsetenv("PLAUSIBLE_DOMAIN"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.Plausible.Domain)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadErrors(t *testing.T) {
	t.Run("bad int", func(t *testing.T) {
		t.Setenv("ANALYTICS_QUEUE_MAX_SIZE", "lots")
		_, err := Load("")
		assert.ErrorContains(t, err, "parse env:")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "redis")
		_, err := Load("")
		assert.ErrorContains(t, err, "unknown STORAGE_DRIVER")
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "postgres")
		_, err := Load("")
		assert.ErrorContains(t, err, "STORAGE_POSTGRES_DSN")
	})

	t.Run("warehouse without dsn", func(t *testing.T) {
		t.Setenv("WAREHOUSE_ENABLED", "true")
		_, err := Load("")
		assert.ErrorContains(t, err, "WAREHOUSE_POSTGRES_DSN")
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Beck89/mta-mls-worker/models"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FEED_BASE_URL", "https://api.example.com/v2")
	t.Setenv("FEED_TOKEN", "token")
	t.Setenv("ORIGINATING_SYSTEM", "NWMLS")
	t.Setenv("DATABASE_URL", "postgres://worker:pw@localhost:5432/mls")
	t.Setenv("S3_BUCKET", "mls-media")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("MEDIA_PUBLIC_DOMAIN", "media.example.com")
	// Keep the loader away from any real override file.
	t.Setenv("RESOURCES_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, 15, cfg.Media.Concurrency)
	assert.Equal(t, 4, cfg.Media.InlineConcurrency)
	assert.InDelta(t, 3.5, cfg.Media.BandwidthSoftGiB, 0.001)
	assert.InDelta(t, 4.0, cfg.Media.BandwidthHardGiB, 0.001)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, 60*time.Second, cfg.Cadences[models.ResourceListing])
	assert.Equal(t, 300*time.Second, cfg.Cadences[models.ResourceMember])
	assert.Equal(t, 86400*time.Second, cfg.Cadences[models.ResourceLookup])
}

func TestLoadFailsFastOnMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FEED_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed config")
}

func TestLoadRejectsSoftCapAboveHardCap(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MEDIA_BANDWIDTH_SOFT_CAP_GIB", "5")
	t.Setenv("MEDIA_BANDWIDTH_HARD_CAP_GIB", "4")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "media config")
}

func TestLoadCadenceOverrides(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"- resource: Property\n  cadence_seconds: 120\n- resource: Lookup\n  cadence_seconds: 43200\n",
	), 0644))
	t.Setenv("RESOURCES_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Cadences[models.ResourceListing])
	assert.Equal(t, 43200*time.Second, cfg.Cadences[models.ResourceLookup])
	// Untouched resources keep their defaults.
	assert.Equal(t, 300*time.Second, cfg.Cadences[models.ResourceOffice])
}

func TestLoadRejectsUnknownResourceOverride(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"- resource: Parcel\n  cadence_seconds: 60\n",
	), 0644))
	t.Setenv("RESOURCES_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

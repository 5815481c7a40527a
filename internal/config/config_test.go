package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_PORT", "REPORTING_TZ", "NATS_ENABLED", "MAX_UPLOAD_BYTES",
		"INGEST_RATE_PER_MINUTE", "REBUILD_WORKERS", "CLOUDSQL_INSTANCE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "America/New_York", cfg.Location.String())
	assert.True(t, cfg.NATSEnabled)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 30, cfg.IngestRatePerMinute)
	assert.Equal(t, 4, cfg.RebuildWorkers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REPORTING_TZ", "Europe/London")
	t.Setenv("NATS_ENABLED", "false")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("REBUILD_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", cfg.Location.String())
	assert.False(t, cfg.NATSEnabled)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.Equal(t, 8, cfg.RebuildWorkers)
}

func TestLoad_InvalidZone(t *testing.T) {
	t.Setenv("REPORTING_TZ", "Mars/Olympus_Mons")
	_, err := Load()
	assert.ErrorContains(t, err, "REPORTING_TZ")
}

func TestLoad_InvalidNumbers(t *testing.T) {
	t.Setenv("REPORTING_TZ", "")
	t.Setenv("REBUILD_WORKERS", "lots")
	_, err := Load()
	assert.ErrorContains(t, err, "REBUILD_WORKERS")

	t.Setenv("REBUILD_WORKERS", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestBuildCloudSQLURL(t *testing.T) {
	c := &Config{CloudSQLInstance: "proj:region:db", DBUser: "u", DBPassword: "p", DBName: "journal"}
	assert.Equal(t, "postgres://u:p@/journal?host=/cloudsql/proj:region:db", c.buildCloudSQLURL())
}

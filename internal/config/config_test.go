package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate clears variables that would point Load at files outside the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CONFIG_ENV_PATH", "")
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadApp_OverridesDefaults(t *testing.T) {
	t.Setenv("SIM_FAILURE_RATE", "0.2")
	path := writeFile(t, "app.yaml", `
image_model:
  failure_rate: ${SIM_FAILURE_RATE}
  latency: 250ms
anomaly:
  failure_rate_threshold: 0.1
`)

	app, err := LoadApp(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, app.ImageModel.FailureRate)
	assert.Equal(t, 250*time.Millisecond, app.ImageModel.Latency)
	assert.Equal(t, 0.1, app.Anomaly.FailureRateThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, 2.5, app.Anomaly.RequestSpikeMultiplier)
	assert.Len(t, app.Catalog.Sizes, 3)
	require.NoError(t, app.Validate())
}

func TestLoadApp_MissingFile(t *testing.T) {
	_, err := LoadApp(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	t.Chdir(t.TempDir())
	app, err := LoadApp("")
	require.NoError(t, err)
	assert.Equal(t, DefaultApp().ImageModel, app.ImageModel)
}

func TestLoadApp_BadYAML(t *testing.T) {
	path := writeFile(t, "app.yaml", "anomaly: [unclosed")
	_, err := LoadApp(path)
	require.Error(t, err)
}

func TestAppValidate(t *testing.T) {
	app := DefaultApp()
	app.ImageModel.FailureRate = 1.5
	require.Error(t, app.Validate())

	app = DefaultApp()
	app.Catalog.Sizes = nil
	require.Error(t, app.Validate())

	app = DefaultApp()
	app.Anomaly.BaselineWeeks = 0
	require.Error(t, app.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9090")
	t.Setenv("SIGNUP_CREDITS", "25")
	t.Setenv("STALE_AFTER", "10m")
	t.Setenv("RECONCILE_INTERVAL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("S3_BUCKET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.SignupCredits)
	assert.Equal(t, 10*time.Minute, cfg.StaleAfter)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("RIVER_MAX_WORKERS=3\n"), 0o600))
	t.Setenv("RIVER_MAX_WORKERS", "")
	os.Unsetenv("RIVER_MAX_WORKERS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RiverMaxWorkers)
}

func TestValidate_S3NeedsRegion(t *testing.T) {
	isolate(t)
	t.Setenv("S3_BUCKET", "reports")
	t.Setenv("S3_REGION", "")

	_, err := Load()
	require.Error(t, err)
}

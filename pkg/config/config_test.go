package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}

// clearTriadEnv unsets every env var LoadFromEnv reads, so each test starts
// from a clean slate regardless of what the host environment happens to set.
func clearTriadEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
		"AGENT_PROVIDER", "AGENT_API_KEY", "AGENT_MODEL", "AGENT_REQUEST_TIMEOUT", "AGENT_MAX_RETRIES",
		"AGENT_PERSONA_CONFIG_FILE",
		"AUTH_JWT_SECRET", "AUTH_TOKEN_TTL", "AUTH_BCRYPT_COST",
		"HTTP_ADDR", "ARTIFACT_ROOT_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvRequiresDBPassword(t *testing.T) {
	clearTriadEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD is required")
}

func TestLoadFromEnvRequiresJWTSecret(t *testing.T) {
	clearTriadEnv(t)
	t.Setenv("DB_PASSWORD", "hunter2")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET is required")
}

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	clearTriadEnv(t)
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "triad", cfg.Database.User)
	assert.Equal(t, "triad", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 10, cfg.Database.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, AgentProviderStub, cfg.Agent.Provider)
	assert.Equal(t, "default", cfg.Agent.Model)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, "./data/artifacts", cfg.Artifact.RootDir)
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	clearTriadEnv(t)
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("AGENT_PROVIDER", "anthropic")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, AgentProviderAnthropic, cfg.Agent.Provider)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoadFromEnvRejectsInvalidDBPort(t *testing.T) {
	clearTriadEnv(t)
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("DB_PORT", "not-a-number")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid DB_PORT")
}

func TestDatabaseConfigValidate(t *testing.T) {
	base := DatabaseConfig{Password: "hunter2", MaxOpenConns: 10, MaxIdleConns: 5}
	assert.NoError(t, base.Validate())

	noPassword := base
	noPassword.Password = ""
	assert.Error(t, noPassword.Validate())

	idleExceedsOpen := base
	idleExceedsOpen.MaxIdleConns = 20
	assert.Error(t, idleExceedsOpen.Validate())

	zeroOpen := base
	zeroOpen.MaxOpenConns = 0
	assert.Error(t, zeroOpen.Validate())

	negativeIdle := base
	negativeIdle.MaxIdleConns = -1
	assert.Error(t, negativeIdle.Validate())
}

func TestLoadPersonaOverridesReturnsNilForEmptyPath(t *testing.T) {
	overrides, err := LoadPersonaOverrides("")
	require.NoError(t, err)
	assert.Nil(t, overrides)
}

func TestLoadPersonaOverridesParsesFileAndResolvesAPIKeyEnv(t *testing.T) {
	t.Setenv("REVIEWER_API_KEY", "sekret")
	path := t.TempDir() + "/personas.yaml"
	require.NoError(t, writeFile(path, `
personas:
  reviewer:
    provider: anthropic
    model: claude-reviewer-model
    api_key_env: REVIEWER_API_KEY
  worker:
    provider: stub
`))

	overrides, err := LoadPersonaOverrides(path)
	require.NoError(t, err)
	require.Contains(t, overrides, "reviewer")
	assert.Equal(t, AgentProviderAnthropic, overrides["reviewer"].Provider)
	assert.Equal(t, "claude-reviewer-model", overrides["reviewer"].Model)
	assert.Equal(t, "sekret", overrides["reviewer"].APIKey)

	require.Contains(t, overrides, "worker")
	assert.Equal(t, AgentProviderStub, overrides["worker"].Provider)
}

func TestLoadPersonaOverridesRejectsMissingFile(t *testing.T) {
	_, err := LoadPersonaOverrides("/nonexistent/path/personas.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnvLoadsPersonaOverridesFile(t *testing.T) {
	clearTriadEnv(t)
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")

	path := t.TempDir() + "/personas.yaml"
	require.NoError(t, writeFile(path, `
personas:
  planner:
    provider: stub
`))
	t.Setenv("AGENT_PERSONA_CONFIG_FILE", path)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Contains(t, cfg.Agent.PersonaOverrides, "planner")
}

func TestDatabaseConfigDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "triad", Password: "hunter2",
		Database: "triad", SSLMode: "disable",
	}
	assert.Equal(t, "host=localhost port=5432 user=triad password=hunter2 dbname=triad sslmode=disable", cfg.DSN())
}

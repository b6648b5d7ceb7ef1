// Package config loads process configuration from the environment,
// mirroring the teacher's pkg/database.LoadConfigFromEnv/Validate pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds a pgx-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Validate mirrors the teacher's DatabaseConfig.Validate.
func (c DatabaseConfig) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS cannot be negative")
	}
	return nil
}

// AgentProvider selects which Agent Runner backend to construct.
type AgentProvider string

const (
	AgentProviderAnthropic AgentProvider = "anthropic"
	AgentProviderOpenAI    AgentProvider = "openai"
	AgentProviderStub      AgentProvider = "stub"
)

// AgentConfig configures the Agent Runner backend.
type AgentConfig struct {
	Provider       AgentProvider
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	MaxRetries     int

	// PersonaOverrides lets individual personas run against a different
	// provider/model than the default, keyed by agent.Persona value
	// ("planner", "worker", "reviewer"). Optional: loaded from
	// AGENT_PERSONA_CONFIG_FILE if set.
	PersonaOverrides map[string]PersonaOverride
}

// PersonaOverride configures one persona's Agent Runner backend
// independently of the process default, the way the teacher's
// `agents:` map in tarsy.yaml lets each named agent carry its own model.
type PersonaOverride struct {
	Provider  AgentProvider `yaml:"provider"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	APIKey    string        `yaml:"-"`
}

// personaOverridesFile is the on-disk shape of AGENT_PERSONA_CONFIG_FILE.
type personaOverridesFile struct {
	Personas map[string]PersonaOverride `yaml:"personas"`
}

// LoadPersonaOverrides reads a YAML file mapping persona name to an
// alternate provider/model, resolving each entry's APIKeyEnv against the
// process environment. Pass "" to skip loading entirely (returns nil, nil);
// a non-empty path that cannot be read or parsed returns an error.
func LoadPersonaOverrides(path string) (map[string]PersonaOverride, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona config file: %w", err)
	}
	var parsed personaOverridesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse persona config file: %w", err)
	}
	for name, override := range parsed.Personas {
		if override.APIKeyEnv != "" {
			override.APIKey = os.Getenv(override.APIKeyEnv)
		}
		parsed.Personas[name] = override
	}
	return parsed.Personas, nil
}

// AuthConfig configures pkg/authn.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	BcryptCost    int
}

// ArtifactConfig configures pkg/artifact.
type ArtifactConfig struct {
	RootDir string
}

// Config is the process-wide configuration, assembled from the environment.
type Config struct {
	HTTPAddr string
	Database DatabaseConfig
	Agent    AgentConfig
	Auth     AuthConfig
	Artifact ArtifactConfig
}

// LoadFromEnv loads a Config from the environment, first attempting to load
// a .env file via godotenv (ignored if absent), mirroring the teacher's
// cmd/tarsy/main.go startup sequence.
func LoadFromEnv() (Config, error) {
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "25"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "10"))
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	dbCfg := DatabaseConfig{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            dbPort,
		User:            getEnvOrDefault("DB_USER", "triad"),
		Password:        os.Getenv("DB_PASSWORD"),
		Database:        getEnvOrDefault("DB_NAME", "triad"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := dbCfg.Validate(); err != nil {
		return Config{}, err
	}

	agentTimeout, err := time.ParseDuration(getEnvOrDefault("AGENT_REQUEST_TIMEOUT", "60s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AGENT_REQUEST_TIMEOUT: %w", err)
	}
	maxRetries, _ := strconv.Atoi(getEnvOrDefault("AGENT_MAX_RETRIES", "1"))

	personaOverrides, err := LoadPersonaOverrides(os.Getenv("AGENT_PERSONA_CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	agentCfg := AgentConfig{
		Provider:         AgentProvider(getEnvOrDefault("AGENT_PROVIDER", string(AgentProviderStub))),
		APIKey:           os.Getenv("AGENT_API_KEY"),
		Model:            getEnvOrDefault("AGENT_MODEL", "default"),
		RequestTimeout:   agentTimeout,
		MaxRetries:       maxRetries,
		PersonaOverrides: personaOverrides,
	}

	tokenTTL, err := time.ParseDuration(getEnvOrDefault("AUTH_TOKEN_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AUTH_TOKEN_TTL: %w", err)
	}
	bcryptCost, _ := strconv.Atoi(getEnvOrDefault("AUTH_BCRYPT_COST", "10"))

	authCfg := AuthConfig{
		JWTSecret:  os.Getenv("AUTH_JWT_SECRET"),
		TokenTTL:   tokenTTL,
		BcryptCost: bcryptCost,
	}
	if authCfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	return Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8080"),
		Database: dbCfg,
		Agent:    agentCfg,
		Auth:     authCfg,
		Artifact: ArtifactConfig{
			RootDir: getEnvOrDefault("ARTIFACT_ROOT_DIR", "./data/artifacts"),
		},
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

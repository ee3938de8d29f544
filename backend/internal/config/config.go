package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Providers  map[string]ProviderConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Policies   PolicyConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Generation GenerationConfig
	Guardrails GuardrailsConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestSize int64
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProviderConfig holds configuration for a single generation provider
type ProviderConfig struct {
	Type    string // openai, anthropic, ollama
	BaseURL string
	APIKey  string
	Model   string
	Default bool
	Timeout time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// RedisConfig holds the Redis connection used by the rate window store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PolicyConfig holds policy loading settings
type PolicyConfig struct {
	Directory    string
	DefaultID    string
	WatchChanges bool
	CedarPath    string // empty uses the built-in consent policy
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json, text
	Output    string // stdout, file path
	AuditFile string // "" memory only, "stdout", or a file path
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// GenerationConfig controls calls to the external generation service
type GenerationConfig struct {
	Enabled     bool
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	BreakerFailures int
	BreakerTimeout  time.Duration
}

// Rate window stores
const (
	RateStoreMemory   = "memory"
	RateStoreRedis    = "redis"
	RateStoreDatabase = "database"
)

// GuardrailsConfig selects the backing stores and quota behavior
type GuardrailsConfig struct {
	RateStore        string
	PersistentQuotas bool
	AtomicQuota      bool
	StorageTimeout   time.Duration
	DefaultConsent   bool
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			MaxRequestSize: int64(getEnvInt("SERVER_MAX_REQUEST_SIZE", 1024*1024)),
		},
		Providers: make(map[string]ProviderConfig),
		Database: DatabaseConfig{
			Enabled:      getEnvBool("DB_ENABLED", false),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvInt("DB_PORT", 5432),
			Database:     getEnv("DB_NAME", "guardrail"),
			Username:     getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Policies: PolicyConfig{
			Directory:    getEnv("POLICY_DIR", "configs/policies"),
			DefaultID:    getEnv("POLICY_DEFAULT_ID", "default"),
			WatchChanges: getEnvBool("POLICY_WATCH_CHANGES", true),
			CedarPath:    getEnv("CEDAR_POLICY_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			Output:    getEnv("LOG_OUTPUT", "stdout"),
			AuditFile: getEnv("AUDIT_LOG_FILE", ""),
		},
		Metrics: MetricsConfig{
			Enabled:  getEnvBool("METRICS_ENABLED", true),
			Endpoint: getEnv("METRICS_ENDPOINT", "/metrics"),
		},
		Generation: GenerationConfig{
			Enabled:         getEnvBool("GENERATION_ENABLED", true),
			MaxTokens:       getEnvInt("GENERATION_MAX_TOKENS", 2000),
			Temperature:     getEnvFloat("GENERATION_TEMPERATURE", 0.7),
			Timeout:         getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
			BreakerFailures: getEnvInt("GENERATION_BREAKER_FAILURES", 5),
			BreakerTimeout:  getEnvDuration("GENERATION_BREAKER_TIMEOUT", 30*time.Second),
		},
		Guardrails: GuardrailsConfig{
			RateStore:        strings.ToLower(getEnv("GUARDRAIL_RATE_STORE", RateStoreMemory)),
			PersistentQuotas: getEnvBool("GUARDRAIL_PERSISTENT_QUOTAS", false),
			AtomicQuota:      getEnvBool("GUARDRAIL_ATOMIC_QUOTA", false),
			StorageTimeout:   getEnvDuration("GUARDRAIL_STORAGE_TIMEOUT", 2*time.Second),
			DefaultConsent:   getEnvBool("GUARDRAIL_DEFAULT_CONSENT", false),
		},
	}

	cfg.loadProviderConfigs()

	return cfg
}

// loadProviderConfigs registers a provider for every type with credentials
// or an explicit URL
func (c *Config) loadProviderConfigs() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Providers["openai"] = ProviderConfig{
			Type:    "openai",
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			APIKey:  key,
			Model:   getEnv("OPENAI_MODEL", "gpt-4.1-mini"),
			Timeout: c.Generation.Timeout,
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Providers["anthropic"] = ProviderConfig{
			Type:    "anthropic",
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			APIKey:  key,
			Model:   getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
			Timeout: c.Generation.Timeout,
		}
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Providers["ollama"] = ProviderConfig{
			Type:    "ollama",
			BaseURL: url,
			Model:   getEnv("OLLAMA_MODEL", "llama3.1"),
			Timeout: c.Generation.Timeout,
		}
	}

	// Generic PROVIDER_URL, type inferred from the host
	if url := os.Getenv("PROVIDER_URL"); url != "" {
		c.Providers["default"] = ProviderConfig{
			Type:    detectProviderType(url),
			BaseURL: url,
			APIKey:  os.Getenv("PROVIDER_KEY"),
			Model:   os.Getenv("PROVIDER_MODEL"),
			Default: true,
			Timeout: c.Generation.Timeout,
		}
	}

	if name := os.Getenv("DEFAULT_PROVIDER"); name != "" {
		if p, ok := c.Providers[name]; ok {
			p.Default = true
			c.Providers[name] = p
		}
	}
}

// GetDefaultProvider returns the default provider config
func (c *Config) GetDefaultProvider() *ProviderConfig {
	// First check for explicitly marked default
	for _, p := range c.Providers {
		if p.Default {
			return &p
		}
	}
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		if p, ok := c.Providers[name]; ok {
			return &p
		}
	}
	return nil
}

// Validate rejects combinations the server cannot run with
func (c *Config) Validate() error {
	switch c.Guardrails.RateStore {
	case RateStoreMemory, RateStoreRedis:
	case RateStoreDatabase:
		if !c.Database.Enabled {
			return fmt.Errorf("rate store %q requires DB_ENABLED=true", RateStoreDatabase)
		}
	default:
		return fmt.Errorf("unknown rate store %q", c.Guardrails.RateStore)
	}
	if c.Guardrails.PersistentQuotas && !c.Database.Enabled {
		return fmt.Errorf("persistent quotas require DB_ENABLED=true")
	}
	if c.Guardrails.AtomicQuota && !c.Guardrails.PersistentQuotas {
		return fmt.Errorf("atomic quota requires GUARDRAIL_PERSISTENT_QUOTAS=true")
	}
	return nil
}

// detectProviderType attempts to identify the provider from URL
func detectProviderType(url string) string {
	switch {
	case strings.Contains(url, "anthropic"):
		return "anthropic"
	case strings.Contains(url, "localhost"), strings.Contains(url, "127.0.0.1"), strings.Contains(url, "ollama"):
		return "ollama"
	default:
		return "openai" // Default to OpenAI-compatible
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

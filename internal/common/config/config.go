// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Session  SessionConfig  `mapstructure:"session"`
	Health   HealthConfig   `mapstructure:"health"`
	Provider ProviderConfig `mapstructure:"provider"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration for the orchestrator's own control surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RedisConfig holds connection settings for the shared key-value store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds event-bus connection settings used by the Stream Publisher.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// SessionConfig holds Session Supervisor tuning knobs.
type SessionConfig struct {
	MaxConcurrentPerWorkspace int           `mapstructure:"maxConcurrentPerWorkspace"`
	HeartbeatInterval         time.Duration `mapstructure:"heartbeatInterval"`
	TerminateGraceWindow      time.Duration `mapstructure:"terminateGraceWindow"`
	HistoryMaxLines           int           `mapstructure:"historyMaxLines"`
	RingBufferSize            int           `mapstructure:"ringBufferSize"`
	StoreTTL                  time.Duration `mapstructure:"storeTTL"`
}

// HealthConfig holds Health Monitor tuning knobs.
type HealthConfig struct {
	CheckInterval   time.Duration `mapstructure:"checkInterval"`
	StaleThreshold  time.Duration `mapstructure:"staleThreshold"`
	ScanPageSize    int           `mapstructure:"scanPageSize"`
	ScanMaxResults  int           `mapstructure:"scanMaxResults"`
}

// ProviderConfig holds BYOK provider base URLs and shared request policy.
type ProviderConfig struct {
	AnthropicBaseURL string        `mapstructure:"anthropicBaseURL"`
	OpenAIBaseURL    string        `mapstructure:"openAIBaseURL"`
	GoogleBaseURL    string        `mapstructure:"googleBaseURL"`
	DeepSeekBaseURL  string        `mapstructure:"deepSeekBaseURL"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"maxRetries"`
	RetryBaseDelay   time.Duration `mapstructure:"retryBaseDelay"`
}

// CatalogConfig holds Model Catalog Client settings.
type CatalogConfig struct {
	BaseURL       string        `mapstructure:"baseURL"`
	AuthToken     string        `mapstructure:"authToken"`
	CacheTTL      time.Duration `mapstructure:"cacheTTL"`
	CacheCapacity int           `mapstructure:"cacheCapacity"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Load reads configuration from environment variables (with the ORCH_ prefix),
// an optional config file, and built-in defaults, in that precedence order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindLegacyEnvAliases(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		millisecondStringToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// millisecondStringToDurationHookFunc interprets a bare numeric string (no
// time-unit suffix) as a millisecond count, for plain-integer environment
// variables (HEARTBEAT_INTERVAL=30000). Strings already carrying a Go
// duration suffix ("30s") fall through to the standard duration hook.
func millisecondStringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return data, nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return data, nil
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.clientId", "orchestrator")
	v.SetDefault("nats.maxReconnects", 60)

	v.SetDefault("session.maxConcurrentPerWorkspace", 10)
	v.SetDefault("session.heartbeatInterval", 30*time.Second)
	v.SetDefault("session.terminateGraceWindow", 5*time.Second)
	v.SetDefault("session.historyMaxLines", 1000)
	v.SetDefault("session.ringBufferSize", 1000)
	v.SetDefault("session.storeTTL", 86400*time.Second)

	v.SetDefault("health.checkInterval", 60*time.Second)
	v.SetDefault("health.staleThreshold", 300*time.Second)
	v.SetDefault("health.scanPageSize", 100)
	v.SetDefault("health.scanMaxResults", 10000)

	v.SetDefault("provider.timeout", 120*time.Second)
	v.SetDefault("provider.maxRetries", 3)
	v.SetDefault("provider.retryBaseDelay", 1*time.Second)

	v.SetDefault("catalog.baseURL", "http://localhost:8090")
	v.SetDefault("catalog.cacheTTL", 5*time.Minute)
	v.SetDefault("catalog.cacheCapacity", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stdout")
}

// bindLegacyEnvAliases wires the flat, unprefixed environment variable
// names operators already rely on onto the nested viper keys, so they can
// keep using MAX_CONCURRENT_SESSIONS etc. alongside the ORCH_-prefixed form.
func bindLegacyEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"redis.host":                        "REDIS_HOST",
		"redis.port":                        "REDIS_PORT",
		"redis.password":                    "REDIS_PASSWORD",
		"redis.db":                          "REDIS_DB",
		"session.maxConcurrentPerWorkspace": "MAX_CONCURRENT_SESSIONS",
		"session.heartbeatInterval":         "HEARTBEAT_INTERVAL",
		"health.staleThreshold":             "STALE_THRESHOLD",
		"health.checkInterval":              "HEALTH_CHECK_INTERVAL",
		"provider.timeout":                  "PROVIDER_TIMEOUT_MS",
		"provider.anthropicBaseURL":         "ANTHROPIC_BASE_URL",
		"provider.openAIBaseURL":            "OPENAI_BASE_URL",
		"provider.googleBaseURL":            "GOOGLE_AI_BASE_URL",
		"provider.deepSeekBaseURL":          "DEEPSEEK_BASE_URL",
		"catalog.baseURL":                   "MODEL_REGISTRY_API_URL",
		"logging.level":                     "LOG_LEVEL",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}

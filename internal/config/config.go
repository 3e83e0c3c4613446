package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

// Store drivers
const (
	StoreDriverRedis  = "redis"
	StoreDriverMemory = "memory"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Store      StoreConfig
	Generation GenerationConfig
	Worker     WorkerConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Notify     NotifyConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
	// Address the CLI uses to reach the server, e.g. http://localhost:8000
	BaseURL string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type StoreConfig struct {
	Driver string
}

type GenerationConfig struct {
	Endpoint       string
	Timeout        time.Duration
	BreakerEnabled bool
	// Consecutive failures before the breaker opens
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
	// Substring that marks the user's active page as a usable source
	SourceMatch string
}

type WorkerConfig struct {
	Concurrency int
	// Run the orchestrator inside the server process instead of cmd/worker
	Embedded bool
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type RateLimitConfig struct {
	StartPerHour int
}

type NotifyConfig struct {
	HistorySize int64
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.log_format", "LOG_FORMAT")
	_ = viper.BindEnv("server.base_url", "SERVER_BASE_URL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("redis.key_prefix", "REDIS_KEY_PREFIX")
	_ = viper.BindEnv("store.driver", "STORE_DRIVER")
	_ = viper.BindEnv("generation.endpoint", "GENERATION_ENDPOINT")
	_ = viper.BindEnv("generation.timeout", "GENERATION_TIMEOUT")
	_ = viper.BindEnv("generation.breaker_enabled", "GENERATION_BREAKER_ENABLED")
	_ = viper.BindEnv("generation.breaker_threshold", "GENERATION_BREAKER_THRESHOLD")
	_ = viper.BindEnv("generation.breaker_cooldown", "GENERATION_BREAKER_COOLDOWN")
	_ = viper.BindEnv("generation.source_match", "GENERATION_SOURCE_MATCH")
	_ = viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = viper.BindEnv("worker.embedded", "WORKER_EMBEDDED")
	_ = viper.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("ratelimit.start_per_hour", "RATELIMIT_START_PER_HOUR")
	_ = viper.BindEnv("notify.history_size", "NOTIFY_HISTORY_SIZE")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.log_format", "text")
	viper.SetDefault("server.base_url", "http://localhost:8000")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.key_prefix", "tubepost:")
	viper.SetDefault("store.driver", StoreDriverRedis)

	// The remote service downloads and transcribes the whole video, so calls are slow
	viper.SetDefault("generation.endpoint", "http://localhost:8080")
	viper.SetDefault("generation.timeout", 5*time.Minute)
	viper.SetDefault("generation.breaker_enabled", true)
	viper.SetDefault("generation.breaker_threshold", 3)
	viper.SetDefault("generation.breaker_cooldown", 30*time.Second)
	viper.SetDefault("generation.source_match", "youtube.com/watch")

	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.embedded", false)
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwt_secret", "change-me-in-production")
	viper.SetDefault("ratelimit.start_per_hour", 20)
	viper.SetDefault("notify.history_size", 20)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			LogFormat: viper.GetString("server.log_format"),
			BaseURL:   viper.GetString("server.base_url"),
		},
		Redis: RedisConfig{
			Addr:      viper.GetString("redis.addr"),
			Password:  viper.GetString("redis.password"),
			DB:        viper.GetInt("redis.db"),
			KeyPrefix: viper.GetString("redis.key_prefix"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(viper.GetString("store.driver")),
		},
		Generation: GenerationConfig{
			Endpoint:         strings.TrimRight(viper.GetString("generation.endpoint"), "/"),
			Timeout:          viper.GetDuration("generation.timeout"),
			BreakerEnabled:   viper.GetBool("generation.breaker_enabled"),
			BreakerThreshold: viper.GetUint32("generation.breaker_threshold"),
			BreakerCooldown:  viper.GetDuration("generation.breaker_cooldown"),
			SourceMatch:      viper.GetString("generation.source_match"),
		},
		Worker: WorkerConfig{
			Concurrency: viper.GetInt("worker.concurrency"),
			Embedded:    viper.GetBool("worker.embedded"),
		},
		Auth: AuthConfig{
			Enabled:   viper.GetBool("auth.enabled"),
			JWTSecret: viper.GetString("auth.jwt_secret"),
		},
		RateLimit: RateLimitConfig{
			StartPerHour: viper.GetInt("ratelimit.start_per_hour"),
		},
		Notify: NotifyConfig{
			HistorySize: viper.GetInt64("notify.history_size"),
		},
	}

	// A reset must be able to run while a job holds a worker slot
	if cfg.Worker.Concurrency < 2 {
		cfg.Worker.Concurrency = 2
	}

	// Without Redis there is no cross-process command channel
	if cfg.Store.Driver == StoreDriverMemory {
		cfg.Worker.Embedded = true
	}

	return cfg, nil
}

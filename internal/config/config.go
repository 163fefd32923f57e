package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string `env:"API_ADDR" envDefault:":8787"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`
	CORSOrigin    string `env:"CORS_ORIGIN" envDefault:"*"`

	Blob Blob `envPrefix:"BLOB_"`

	MeiliURL       string `env:"MEILI_URL"`
	MeiliMasterKey string `env:"MEILI_MASTER_KEY"`
	// RedisURL enables the shared rate limit window; empty keeps it in memory.
	RedisURL string `env:"REDIS_URL"`

	Log Log `envPrefix:"LOG_"`

	HTTP HTTP `envPrefix:"HTTP_"`
	LLM  LLM

	CoordinatorIdleTimeout time.Duration `env:"COORDINATOR_IDLE_TIMEOUT" envDefault:"10m"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Blob configures the S3-compatible snapshot bucket. An empty Endpoint keeps
// snapshots in memory.
type Blob struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"quill-chapters"`
	Region    string `env:"REGION"`
	Secure    bool   `env:"SECURE" envDefault:"false"`

	// CacheSize is the number of snapshots kept in memory; 0 disables caching.
	CacheSize int `env:"CACHE_SIZE" envDefault:"1024"`
}

// HTTP throttles /rpc calls per client address. A zero RateLimit disables it.
type HTTP struct {
	RateLimit       float64       `env:"RATE_LIMIT" envDefault:"0"`
	RateBurst       int           `env:"RATE_BURST" envDefault:"40"`
	TrustProxy      bool          `env:"TRUST_PROXY" envDefault:"false"`
	ClientCacheSize int           `env:"CLIENT_CACHE_SIZE" envDefault:"4096"`
	ClientTTL       time.Duration `env:"CLIENT_TTL" envDefault:"10m"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Pretty bool   `env:"PRETTY" envDefault:"false"`
}

// LLM configures the translation providers. A provider without an upstream
// key is disabled.
type LLM struct {
	DeepSeekKey          string `env:"DEEPSEEK_API_KEY"`
	DeepSeekEndpoint     string `env:"DEEPSEEK_ENDPOINT"`
	DeepSeekMaxPerMinute int    `env:"DEEPSEEK_MAX_PER_MINUTE"`

	OpenAIKey          string `env:"CHATGPT_API_KEY"`
	OpenAIEndpoint     string `env:"OPENAI_ENDPOINT"`
	OpenAIMaxPerMinute int    `env:"OPENAI_MAX_PER_MINUTE"`

	MaxPerMinute int           `env:"LLM_MAX_PER_MINUTE" envDefault:"60"`
	TestMode     string        `env:"LLM_TEST_MODE"`
	MaxRetries   int           `env:"LLM_MAX_RETRIES" envDefault:"2"`
	Timeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
}

// Echo reports whether translations short-circuit the upstream call.
func (l LLM) Echo() bool { return l.TestMode == "echo" }

func (l LLM) DeepSeekLimit() int { return firstPositive(l.DeepSeekMaxPerMinute, l.MaxPerMinute) }

func (l LLM) OpenAILimit() int { return firstPositive(l.OpenAIMaxPerMinute, l.MaxPerMinute) }

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads the configuration from environ instead of the process
// environment.
func LoadFrom(environ map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given files into the process
// environment without overriding variables already set. Missing files are
// skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Addr != ":8787" || cfg.CORSOrigin != "*" || cfg.Blob.Bucket != "quill-chapters" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Log.Level != "info" || cfg.Log.Pretty {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.CoordinatorIdleTimeout != 10*time.Minute || cfg.LLM.Timeout != 60*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.LLM.DeepSeekLimit() != 60 || cfg.LLM.OpenAILimit() != 60 || cfg.LLM.Echo() {
		t.Fatalf("unexpected llm defaults %+v", cfg.LLM)
	}
	if cfg.Blob.CacheSize != 1024 {
		t.Fatalf("unexpected blob cache size %d", cfg.Blob.CacheSize)
	}
	if cfg.HTTP.RateLimit != 0 || cfg.HTTP.RateBurst != 40 || cfg.HTTP.ClientTTL != 10*time.Minute {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"API_ADDR":                 ":9000",
		"DATABASE_URL":             "postgres://localhost/quill",
		"BLOB_ENDPOINT":            "localhost:9000",
		"BLOB_SECURE":              "true",
		"LOG_LEVEL":                "debug",
		"LOG_PRETTY":               "true",
		"OPENAI_MAX_PER_MINUTE":    "2",
		"LLM_MAX_PER_MINUTE":       "30",
		"LLM_TEST_MODE":            "echo",
		"CHATGPT_API_KEY":          "secret",
		"COORDINATOR_IDLE_TIMEOUT": "30s",
		"HTTP_RATE_LIMIT":          "2.5",
		"HTTP_TRUST_PROXY":         "true",
		"BLOB_CACHE_SIZE":          "0",
	})
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.DatabaseURL == "" || cfg.Blob.Endpoint != "localhost:9000" || !cfg.Blob.Secure {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.LLM.OpenAILimit() != 2 || cfg.LLM.DeepSeekLimit() != 30 || !cfg.LLM.Echo() || cfg.LLM.OpenAIKey != "secret" {
		t.Fatalf("unexpected llm config %+v", cfg.LLM)
	}
	if cfg.CoordinatorIdleTimeout != 30*time.Second {
		t.Fatalf("unexpected idle timeout %v", cfg.CoordinatorIdleTimeout)
	}
	if cfg.HTTP.RateLimit != 2.5 || !cfg.HTTP.TrustProxy || cfg.Blob.CacheSize != 0 {
		t.Fatalf("unexpected http/blob config %+v %+v", cfg.HTTP, cfg.Blob)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"LLM_MAX_PER_MINUTE": "lots"}); err == nil {
		t.Fatal("expected error for non-numeric limit")
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("QUILL_DOTENV_TEST=loaded\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("QUILL_DOTENV_TEST") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("QUILL_DOTENV_TEST"); got != "loaded" {
		t.Fatalf("expected variable from .env, got %q", got)
	}
}

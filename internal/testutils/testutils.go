package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"
	"github.com/nfrund/chathub/internal/config"
)

// TestSecret signs tokens in tests.
const TestSecret = "test-secret"

// ConfigForTests returns a valid in-memory configuration. Values from a
// .env.test file at the project root, when one exists, are applied first.
func ConfigForTests(t *testing.T) *config.Config {
	t.Helper()

	loadTestEnv(t)
	if os.Getenv("AUTH_JWT_SECRET") == "" {
		t.Setenv("AUTH_JWT_SECRET", TestSecret)
	}
	t.Setenv("APP_ADDR", "127.0.0.1:0")
	t.Setenv("BROKER_URL", "memory://")
	t.Setenv("STORE_DRIVER", config.StoreMemory)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}
	return cfg
}

// SurrealConfigForTests returns a configuration for the SurrealDB stores and
// skips the test in -short mode or when SURREAL_URL is not set.
func SurrealConfigForTests(t *testing.T) *config.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg := ConfigForTests(t)
	if cfg.Store.DBUrl == "" {
		t.Skip("SURREAL_URL not set, skipping SurrealDB integration test")
	}
	cfg.Store.Driver = config.StoreSurreal
	return cfg
}

// BrokerURLForTests returns the broker URL held in the env variable (KAFKA_URL
// or REDIS_URL) and skips the test in -short mode or when it is unset.
func BrokerURLForTests(t *testing.T, env string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	loadTestEnv(t)
	url := os.Getenv(env)
	if url == "" {
		t.Skipf("%s not set, skipping broker integration test", env)
	}
	return url
}

// loadTestEnv applies a .env.test file at the project root, when one exists.
func loadTestEnv(t *testing.T) {
	t.Helper()
	root, ok := projectRoot()
	if !ok {
		return
	}
	if env, err := godotenv.Read(filepath.Join(root, ".env.test")); err == nil {
		for key, value := range env {
			t.Setenv(key, value)
		}
	}
}

func projectRoot() (string, bool) {
	path, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			return path, true
		}
		if path == filepath.Dir(path) {
			return "", false
		}
		path = filepath.Dir(path)
	}
}

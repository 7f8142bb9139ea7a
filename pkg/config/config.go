// pkg/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"hullclient/pkg/configuration"
	"hullclient/pkg/problems"
)

// Config holds process-level settings read from the environment. Client
// credentials live in configuration.Settings; this is the ambient layer
// around them.
type Config struct {
	Env      string
	LogLevel string

	// Connector credentials for the CLI (library users pass Settings directly)
	HullID           string
	HullSecret       string
	HullOrganization string

	// Optional backing services
	RedisURL    string
	DatabaseURL string

	// Tracing is disabled with HULL_TRACING=false even when OTEL endpoints are set
	Tracing bool

	// Fake platform
	MinihullAddr string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:              env("HULL_ENV", "dev"),
		LogLevel:         env("LOG_LEVEL", "info"),
		HullID:           env("HULL_ID", ""),
		HullSecret:       env("HULL_SECRET", ""),
		HullOrganization: env("HULL_ORGANIZATION", ""),
		RedisURL:         env("REDIS_URL", ""),
		DatabaseURL:      env("DATABASE_URL", ""),
		Tracing:          envBool("HULL_TRACING", true),
		MinihullAddr:     env("MINIHULL_ADDR", ":8000"),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, failed batches will only be logged")
	}
	return cfg
}

// BatchTimeout is the per-attempt timeout for firehose flushes. It is read at
// call time so tests and operators can change it without rebuilding clients.
func BatchTimeout() time.Duration {
	return envDur("BATCH_TIMEOUT", 10000) * time.Millisecond
}

// BatchRetry is the delay between firehose flush attempts, read at call time.
func BatchRetry() time.Duration {
	return envDur("BATCH_RETRY", 5000) * time.Millisecond
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}

// LoadFile decodes client settings from a YAML file. Values of the form
// ${NAME} are expanded from the environment before decoding.
func LoadFile(path string) (configuration.Settings, error) {
	var s configuration.Settings
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &s); err != nil {
		return s, fmt.Errorf("%w: %s: %v", problems.ErrInvalidConfiguration, path, err)
	}
	return s, nil
}

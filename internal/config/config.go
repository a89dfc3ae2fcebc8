// Package config resolves startup configuration for the coordination
// server: CLI flags via pflag for the transport surface, environment
// variables for everything operators typically flip per-deployment without
// touching the invocation (log level, the optional cluster relay).
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
)

type Config struct {
	Bind      string
	Path      string
	StaticDir string

	LogLevel string
	Pretty   bool

	RedisURL   string
	ClusterOn  bool
	StaticGzip bool
}

// Load parses CLI flags and environment variables. args is normally
// os.Args[1:].
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("tss-relay", pflag.ContinueOnError)

	bind := fs.StringP("bind", "b", "127.0.0.1:3030", "address to listen on")
	path := fs.StringP("path", "p", "mpc", "WebSocket upgrade path")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	staticDir := "."
	if rest := fs.Args(); len(rest) > 0 {
		staticDir = rest[0]
	}
	staticDir = filepath.Clean(staticDir)

	redisURL := getEnv("REDIS_URL", "")

	cfg := &Config{
		Bind:       *bind,
		Path:       *path,
		StaticDir:  staticDir,
		LogLevel:   getEnv("RUST_LOG", "info"),
		Pretty:     getEnvBool("LOG_PRETTY", false),
		RedisURL:   redisURL,
		ClusterOn:  redisURL != "",
		StaticGzip: getEnvBool("STATIC_GZIP", true),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	switch value {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

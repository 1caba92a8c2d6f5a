// Package config provides configuration loading for the service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for mcpd.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("mcpd")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MCP_SERVER_BIND_ADDR etc.
	viper.SetEnvPrefix("MCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a config file with an
// explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcpd"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "mcpd"))
		}
	} else {
		paths = append(paths, "/etc/mcpd")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for mcpd.yaml or .yml.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcpd"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every key named in spec.md §6's env-var contract,
// plus the nested config keys they map to, for environment variable support.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.bind_addr", "BIND_ADDR")
	_ = viper.BindEnv("server.port", "PORT")
	_ = viper.BindEnv("env", "ENV")
	_ = viper.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")

	_ = viper.BindEnv("auth.signing_key", "AUTH_SIGNING_KEY")
	_ = viper.BindEnv("auth.token_ttl_hours", "AUTH_TOKEN_TTL_HOURS")

	_ = viper.BindEnv("rate_limit.per_minute", "RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("rate_limit.per_hour", "RATE_LIMIT_PER_HOUR")
	_ = viper.BindEnv("rate_limit.per_day", "RATE_LIMIT_PER_DAY")
	_ = viper.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")

	_ = viper.BindEnv("graph.uri", "GRAPH_URI")
	_ = viper.BindEnv("graph.user", "GRAPH_USER")
	_ = viper.BindEnv("graph.password", "GRAPH_PASSWORD")
	_ = viper.BindEnv("graph.database", "GRAPH_DATABASE")
	_ = viper.BindEnv("graph.pool_max", "POOL_MAX")
	_ = viper.BindEnv("graph.acquire_timeout", "POOL_ACQ_TIMEOUT_S")
	_ = viper.BindEnv("graph.conn_lifetime", "CONN_LIFETIME_S")

	_ = viper.BindEnv("exec.workers", "EXEC_WORKERS")
	_ = viper.BindEnv("exec.max_timeout_secs", "EXEC_TIMEOUT_S_MAX")
	_ = viper.BindEnv("exec.memory_limit_bytes", "EXEC_MEM_BYTES")
	_ = viper.BindEnv("exec.output_limit_bytes", "EXEC_OUTPUT_BYTES")

	_ = viper.BindEnv("cache.capacity", "CACHE_CAPACITY")
	_ = viper.BindEnv("cache.default_ttl", "CACHE_TTL_S")

	_ = viper.BindEnv("breaker.read_f", "BREAKER_READ_F")
	_ = viper.BindEnv("breaker.read_s", "BREAKER_READ_S")
	_ = viper.BindEnv("breaker.read_t", "BREAKER_READ_T")
	_ = viper.BindEnv("breaker.write_f", "BREAKER_WRITE_F")
	_ = viper.BindEnv("breaker.write_s", "BREAKER_WRITE_S")
	_ = viper.BindEnv("breaker.write_t", "BREAKER_WRITE_T")

	_ = viper.BindEnv("audit.dir", "AUDIT_DIR")
	_ = viper.BindEnv("audit.retention_days", "AUDIT_RETENTION_DAYS")
	_ = viper.BindEnv("audit.sqlite_path", "AUDIT_SQLITE_PATH")

	_ = viper.BindEnv("log.level", "LOG_LEVEL")
	_ = viper.BindEnv("log.format", "LOG_FORMAT")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// Env before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or an empty string if no config file was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

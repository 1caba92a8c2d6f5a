// Package config provides typed, validated configuration for the service.
// Configuration is loaded once at startup via Viper and is immutable
// thereafter (§5: "The permission table and configuration are immutable
// after startup").
package config

import "time"

// Config is the top-level, validated configuration tree.
type Config struct {
	Env       string          `mapstructure:"env" validate:"required,oneof=development staging production"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Exec      ExecutionConfig `mapstructure:"exec"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig controls the listener and CORS behavior.
type ServerConfig struct {
	BindAddr       string   `mapstructure:"bind_addr" validate:"required"`
	Port           int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	BodyMaxBytes   int64    `mapstructure:"body_max_bytes" validate:"required,min=1"`
}

// AuthConfig controls token issuance/verification (C3).
type AuthConfig struct {
	SigningKey    string        `mapstructure:"signing_key" validate:"required,signing_key_strength"`
	TokenTTLHours int           `mapstructure:"token_ttl_hours" validate:"required,min=1"`
	Issuer        string        `mapstructure:"issuer" validate:"required"`
	RevokeSweep   time.Duration `mapstructure:"revoke_sweep_interval"`
}

// RateLimitConfig controls C5's fixed-window counters.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute" validate:"required,min=1"`
	PerHour   int `mapstructure:"per_hour" validate:"required,min=1"`
	PerDay    int `mapstructure:"per_day" validate:"required,min=1"`
	Burst     int `mapstructure:"burst" validate:"required,min=1"`
}

// GraphConfig controls C8's pooled driver.
type GraphConfig struct {
	URI            string        `mapstructure:"uri"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	PoolMax        int           `mapstructure:"pool_max" validate:"required,min=1,max=100"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ConnLifetime   time.Duration `mapstructure:"conn_lifetime"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
}

// ExecutionConfig controls C11/C12's worker pool and resource limits.
type ExecutionConfig struct {
	Workers            int   `mapstructure:"workers" validate:"required,min=1"`
	DefaultTimeoutSecs int   `mapstructure:"default_timeout_secs" validate:"required,min=1"`
	MaxTimeoutSecs     int   `mapstructure:"max_timeout_secs" validate:"required,min=1"`
	MemoryLimitBytes   int64 `mapstructure:"memory_limit_bytes" validate:"required,min=1"`
	FileLimitBytes     int64 `mapstructure:"file_limit_bytes" validate:"required,min=1"`
	FDLimit            int   `mapstructure:"fd_limit" validate:"required,min=1"`
	OutputLimitBytes   int   `mapstructure:"output_limit_bytes" validate:"required,min=1"`
	CacheResults       bool  `mapstructure:"cache_results"`
	// EnabledLanguages lists languages the execution/test tools may run
	// beyond the primary supported language (python). Spec §4.8: "others
	// MUST be rejected with UnsupportedLanguage unless explicitly enabled."
	EnabledLanguages []string `mapstructure:"enabled_languages"`
}

// CacheConfig controls C6.
type CacheConfig struct {
	Capacity      int           `mapstructure:"capacity" validate:"required,min=1"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BreakerConfig controls C7's two named breakers (read/write).
type BreakerConfig struct {
	ReadFailureThreshold  int           `mapstructure:"read_f" validate:"required,min=1"`
	ReadSuccessThreshold  int           `mapstructure:"read_s" validate:"required,min=1"`
	ReadTimeout           time.Duration `mapstructure:"read_t"`
	WriteFailureThreshold int           `mapstructure:"write_f" validate:"required,min=1"`
	WriteSuccessThreshold int           `mapstructure:"write_s" validate:"required,min=1"`
	WriteTimeout          time.Duration `mapstructure:"write_t"`
	HalfOpenMax           int           `mapstructure:"half_open_max" validate:"required,min=1"`
}

// AuditConfig controls C9's local durable mirror of the audit log. Graph
// persistence (C8) is the primary store; this is the sqlite-backed
// fallback that keeps the audit trail and token blacklist available
// when the graph is unreachable. Dir/RetentionDays/MaxFileSizeMB/CacheSize
// configure the rolling-file store used when SQLitePath is empty.
type AuditConfig struct {
	Dir           string `mapstructure:"dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
	CacheSize     int    `mapstructure:"cache_size"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

// LogConfig controls C17's structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// IsDevelopment reports whether secret-strength checks should be relaxed.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// SetDefaults fills in zero-value fields with production-sane defaults.
// Mirrors the inherited OSSConfig.SetDefaults shape: only fields the
// caller left unset (per viper.IsSet, applied by the loader before this
// runs) are touched here; SetDefaults itself is idempotent on an
// already-populated Config.
func (c *Config) SetDefaults() {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 << 20 // B_MAX default 1 MiB
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "ultimate-mcp"
	}
	if c.Auth.RevokeSweep == 0 {
		c.Auth.RevokeSweep = 5 * time.Minute
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 60
	}
	if c.RateLimit.PerHour == 0 {
		c.RateLimit.PerHour = 1000
	}
	if c.RateLimit.PerDay == 0 {
		c.RateLimit.PerDay = 10000
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.Graph.Database == "" {
		c.Graph.Database = "neo4j"
	}
	if c.Graph.PoolMax == 0 {
		c.Graph.PoolMax = 100
	}
	if c.Graph.AcquireTimeout == 0 {
		c.Graph.AcquireTimeout = 5 * time.Second
	}
	if c.Graph.ConnLifetime == 0 {
		c.Graph.ConnLifetime = time.Hour
	}
	if c.Graph.QueryTimeout == 0 {
		c.Graph.QueryTimeout = 15 * time.Second
	}
	if c.Exec.Workers == 0 {
		c.Exec.Workers = 4
	}
	if c.Exec.DefaultTimeoutSecs == 0 {
		c.Exec.DefaultTimeoutSecs = 8
	}
	if c.Exec.MaxTimeoutSecs == 0 {
		c.Exec.MaxTimeoutSecs = 30
	}
	if c.Exec.MemoryLimitBytes == 0 {
		c.Exec.MemoryLimitBytes = 256 << 20
	}
	if c.Exec.FileLimitBytes == 0 {
		c.Exec.FileLimitBytes = 10 << 20
	}
	if c.Exec.FDLimit == 0 {
		c.Exec.FDLimit = 64
	}
	if c.Exec.OutputLimitBytes == 0 {
		c.Exec.OutputLimitBytes = 100 * 1024 // O_MAX default 100 KiB
	}
	if len(c.Exec.EnabledLanguages) == 0 {
		c.Exec.EnabledLanguages = []string{"python"}
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 10000
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = 60 * time.Second
	}
	if c.Breaker.ReadFailureThreshold == 0 {
		c.Breaker.ReadFailureThreshold = 5
	}
	if c.Breaker.ReadSuccessThreshold == 0 {
		c.Breaker.ReadSuccessThreshold = 2
	}
	if c.Breaker.ReadTimeout == 0 {
		c.Breaker.ReadTimeout = 30 * time.Second
	}
	if c.Breaker.WriteFailureThreshold == 0 {
		c.Breaker.WriteFailureThreshold = 3
	}
	if c.Breaker.WriteSuccessThreshold == 0 {
		c.Breaker.WriteSuccessThreshold = 2
	}
	if c.Breaker.WriteTimeout == 0 {
		c.Breaker.WriteTimeout = 60 * time.Second
	}
	if c.Breaker.HalfOpenMax == 0 {
		c.Breaker.HalfOpenMax = 1
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = "./audit-log"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.SQLitePath == "" {
		c.Audit.SQLitePath = "./audit-log/audit.db"
	}
	if c.Audit.CacheSize == 0 {
		c.Audit.CacheSize = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// SetDevDefaults relaxes a handful of values for local development,
// mirroring the inherited SetDevDefaults's role of being applied after
// SetDefaults but before Validate so that CLI flags can still override
// DevMode selection upstream.
func (c *Config) SetDevDefaults() {
	if c.Env != "development" {
		return
	}
	if c.Auth.SigningKey == "" {
		c.Auth.SigningKey = "dev-signing-key-not-for-production-use-00000000"
	}
}

// Package config provides configuration management for the vaultsync application
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// Global configuration instance
	globalConfig *Config
	configMutex  sync.RWMutex
)

// Get returns the global configuration instance
// If the configuration has not been initialized, it will return an error
func Get() (*Config, error) {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if globalConfig == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	return globalConfig, nil
}

// Set sets the global configuration instance
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()

	globalConfig = cfg
}

// Config represents the complete application configuration
type Config struct {
	Vault      VaultConfig
	Remote     RemoteConfig
	Sync       SyncConfig
	Upload     UploadConfig
	Queue      QueueConfig
	Connection ConnectionConfig
	Retry      RetryConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	configDir  string // Internal: Directory where config was loaded from
}

// VaultConfig describes the local vault being synchronized
type VaultConfig struct {
	ID       string // Vault identifier on the remote store
	Root     string // Local root directory of the vault
	ReadOnly bool   // Whether the current actor may write to the remote vault
}

// RemoteConfig holds configuration for the remote file store API
type RemoteConfig struct {
	URL                 string        // Remote store base URL
	Token               string        // Bearer token for authentication
	Timeout             time.Duration // Request timeout
	MaxRetries          int           // Maximum retries for retryable failures
	MaxIdleConns        int           // Maximum number of idle connections
	MaxIdleConnsPerHost int           // Maximum number of idle connections per host
	IdleConnTimeout     time.Duration // How long to keep idle connections alive
}

// SyncConfig holds file sync engine configuration
type SyncConfig struct {
	ChunkThreshold int64         // Payload size at which uploads switch to chunked transfer
	SkewTolerance  time.Duration // Clock-skew window for deletion-conflict timestamp comparison
}

// UploadConfig holds chunked upload configuration
type UploadConfig struct {
	ChunkSize        int64         // Size of each chunk in bytes
	Concurrency      int           // Concurrent chunk uploads per wave
	MinCompression   float64       // Minimum size reduction for a compressed chunk to be kept
	SessionMaxAge    time.Duration // Age after which unfinished sessions are garbage collected
	BandwidthLimit   int64         // Upload bandwidth cap in bytes per second (0 disables)
	ProgressWindow   time.Duration // Sliding window for transfer rate computation
}

// QueueConfig holds offline queue configuration
type QueueConfig struct {
	Capacity int // Maximum number of pending operations; oldest evicted beyond this
}

// ConnectionConfig holds realtime connection configuration
type ConnectionConfig struct {
	URL                  string        // WebSocket endpoint
	AutoReconnect        bool          // Whether to reconnect after close/error
	MaxReconnectAttempts int           // Reconnect attempts before giving up
	HeartbeatInterval    time.Duration // Ping cadence
	HeartbeatTimeout     time.Duration // Grace period for the pong beyond the interval
	OutboundQueueSize    int           // Messages buffered while disconnected
	SubscribeAckTimeout  time.Duration // How long to wait for a subscription ack
}

// RetryConfig holds backoff and circuit breaker configuration
type RetryConfig struct {
	Base             time.Duration // Initial backoff delay
	Cap              time.Duration // Maximum backoff delay before jitter
	JitterFactor     float64       // Jitter as a fraction of the computed delay
	BreakerThreshold int           // Failures before the breaker trips
	BreakerCooldown  time.Duration // Cooldown before a tripped breaker resets
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path            string        // Path to the SQLite database file
	JournalMode     string        // Journal mode (WAL recommended)
	SynchronousMode string        // Synchronous mode
	BusyTimeout     int           // Busy timeout in milliseconds
	CacheSize       int           // Cache size in KiB
	ForeignKeys     bool          // Whether to enforce foreign key constraints
	ConnMaxLife     time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Query timeout
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text or json
	Output     string // stdout, stderr, or file path
	AddSource  bool   // Include source code position in logs
	TimeFormat string // Time format for logs (empty uses RFC3339)
}

// New returns a new empty Config
func New() *Config {
	return &Config{}
}

// ConfigDir returns the directory the configuration was loaded from
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Vault.Root == "" {
		return fmt.Errorf("vault config: root directory is required")
	}
	if c.Remote.URL == "" {
		return fmt.Errorf("remote config: URL is required")
	}
	if c.Sync.ChunkThreshold <= 0 {
		return fmt.Errorf("sync config: chunk threshold must be positive")
	}
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("upload config: chunk size must be positive")
	}
	if c.Upload.Concurrency <= 0 {
		return fmt.Errorf("upload config: concurrency must be positive")
	}
	if c.Upload.MinCompression < 0 || c.Upload.MinCompression >= 1 {
		return fmt.Errorf("upload config: min compression must be in [0, 1)")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue config: capacity must be positive")
	}
	if c.Connection.HeartbeatInterval <= 0 {
		return fmt.Errorf("connection config: heartbeat interval must be positive")
	}
	if c.Retry.Base <= 0 || c.Retry.Cap < c.Retry.Base {
		return fmt.Errorf("retry config: base must be positive and cap >= base")
	}
	if c.Retry.JitterFactor < 0 {
		return fmt.Errorf("retry config: jitter factor must be non-negative")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database config: path is required")
	}
	return nil
}

// ParseLogLevel converts a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - envFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, envFilePath string) (*Config, error) {
	cfg := New()

	// If configDir is empty, use the default
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".vaultsync")

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	cfg.configDir = configDir

	// Use provided env file path or default, then current directory as fallback
	if envFilePath == "" {
		envFilePath = filepath.Join(configDir, ".env")
	}
	if err := godotenv.Load(envFilePath); err != nil {
		_ = godotenv.Load() // Ignore errors if file doesn't exist
	}

	cfg.Vault = VaultConfig{
		ID:       getEnvString("VAULTSYNC_VAULT_ID", ""),
		Root:     getEnvString("VAULTSYNC_VAULT_ROOT", ""),
		ReadOnly: getEnvBool("VAULTSYNC_VAULT_READ_ONLY", false),
	}

	cfg.Remote = RemoteConfig{
		URL:                 getEnvString("VAULTSYNC_REMOTE_URL", ""),
		Token:               getEnvString("VAULTSYNC_REMOTE_TOKEN", ""),
		Timeout:             getEnvDuration("VAULTSYNC_REMOTE_TIMEOUT", 30*time.Second),
		MaxRetries:          getEnvInt("VAULTSYNC_REMOTE_MAX_RETRIES", 3),
		MaxIdleConns:        getEnvInt("VAULTSYNC_REMOTE_MAX_IDLE_CONNS", 100),
		MaxIdleConnsPerHost: getEnvInt("VAULTSYNC_REMOTE_MAX_IDLE_CONNS_PER_HOST", 100),
		IdleConnTimeout:     getEnvDuration("VAULTSYNC_REMOTE_IDLE_CONN_TIMEOUT", 90*time.Second),
	}

	cfg.Sync = SyncConfig{
		ChunkThreshold: getEnvInt64("VAULTSYNC_SYNC_CHUNK_THRESHOLD", 5*1024*1024),
		SkewTolerance:  getEnvDuration("VAULTSYNC_SYNC_SKEW_TOLERANCE", 2*time.Second),
	}

	cfg.Upload = UploadConfig{
		ChunkSize:      getEnvInt64("VAULTSYNC_UPLOAD_CHUNK_SIZE", 1024*1024),
		Concurrency:    getEnvInt("VAULTSYNC_UPLOAD_CONCURRENCY", 3),
		MinCompression: getEnvFloat("VAULTSYNC_UPLOAD_MIN_COMPRESSION", 0.10),
		SessionMaxAge:  getEnvDuration("VAULTSYNC_UPLOAD_SESSION_MAX_AGE", 24*time.Hour),
		BandwidthLimit: getEnvInt64("VAULTSYNC_UPLOAD_BANDWIDTH_LIMIT", 0),
		ProgressWindow: getEnvDuration("VAULTSYNC_UPLOAD_PROGRESS_WINDOW", 10*time.Second),
	}

	cfg.Queue = QueueConfig{
		Capacity: getEnvInt("VAULTSYNC_QUEUE_CAPACITY", 1000),
	}

	cfg.Connection = ConnectionConfig{
		URL:                  getEnvString("VAULTSYNC_CONNECTION_URL", ""),
		AutoReconnect:        getEnvBool("VAULTSYNC_CONNECTION_AUTO_RECONNECT", true),
		MaxReconnectAttempts: getEnvInt("VAULTSYNC_CONNECTION_MAX_RECONNECT_ATTEMPTS", 10),
		HeartbeatInterval:    getEnvDuration("VAULTSYNC_CONNECTION_HEARTBEAT_INTERVAL", 15*time.Second),
		HeartbeatTimeout:     getEnvDuration("VAULTSYNC_CONNECTION_HEARTBEAT_TIMEOUT", 10*time.Second),
		OutboundQueueSize:    getEnvInt("VAULTSYNC_CONNECTION_OUTBOUND_QUEUE_SIZE", 100),
		SubscribeAckTimeout:  getEnvDuration("VAULTSYNC_CONNECTION_SUBSCRIBE_ACK_TIMEOUT", 10*time.Second),
	}

	cfg.Retry = RetryConfig{
		Base:             getEnvDuration("VAULTSYNC_RETRY_BASE", 500*time.Millisecond),
		Cap:              getEnvDuration("VAULTSYNC_RETRY_CAP", 30*time.Second),
		JitterFactor:     getEnvFloat("VAULTSYNC_RETRY_JITTER_FACTOR", 0.25),
		BreakerThreshold: getEnvInt("VAULTSYNC_RETRY_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  getEnvDuration("VAULTSYNC_RETRY_BREAKER_COOLDOWN", 60*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("VAULTSYNC_DB_PATH", filepath.Join(configDir, "vaultsync.db")),
		JournalMode:     getEnvString("VAULTSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("VAULTSYNC_DB_SYNCHRONOUS_MODE", "NORMAL"),
		BusyTimeout:     getEnvInt("VAULTSYNC_DB_BUSY_TIMEOUT", 5000),
		CacheSize:       getEnvInt("VAULTSYNC_DB_CACHE_SIZE", -2000),
		ForeignKeys:     getEnvBool("VAULTSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("VAULTSYNC_DB_CONN_MAX_LIFE", time.Hour),
		QueryTimeout:    getEnvDuration("VAULTSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("VAULTSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("VAULTSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("VAULTSYNC_LOG_OUTPUT", filepath.Join(configDir, "vaultsync.log")),
		AddSource:  getEnvBool("VAULTSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getEnvString("VAULTSYNC_LOG_TIME_FORMAT", time.RFC3339),
	}

	return cfg, nil
}

// getEnvString gets a string from environment variables with a default value
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer from environment variables with a default value
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt64 gets a 64-bit integer from environment variables with a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat gets a float from environment variables with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean from environment variables with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration from environment variables with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

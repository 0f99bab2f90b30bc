package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the shared configuration for every pipeline component. Each
// binary loads the same struct and reads its own slice of it.
type Config struct {
	// Workspace root holding pipeline.db, audit/ and cache/.
	WorkspaceRoot string

	// Signal source
	SourceKind       string
	SourceDSN        string
	PollInterval     time.Duration
	FailureThreshold int
	Cooldown         time.Duration

	// Dedup
	DedupTTL      time.Duration
	DedupCacheMax int
	RedisAddr     string // empty = in-memory dedup
	RedisPassword string
	RedisDB       int

	// Approval
	ApprovalPollInterval time.Duration
	ApprovalTimeout      time.Duration
	AutoApproveLow       bool

	// Executor
	ExecutorSweepInterval time.Duration

	// Supervisor
	SupervisorCheckInterval time.Duration
	MaxRestarts             int
	RestartWindow           time.Duration

	// Audit
	AuditRetention time.Duration

	// Event bus
	NatsURL string

	// Health endpoint port; each component passes its own default.
	HealthPort string
}

// Load reads configuration from the environment, probing the usual .env
// locations first.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := &Config{
		WorkspaceRoot: getEnvOrDefault("WORKSPACE_ROOT", "."),

		SourceKind: getEnvOrDefault("SOURCE_KIND", "postgres"),
		SourceDSN:  os.Getenv("SOURCE_DSN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		NatsURL: getEnvOrDefault("NATS_URL", "nats://localhost:4222"),

		AutoApproveLow: getEnvOrDefault("APPROVAL_AUTO_APPROVE_LOW", "false") == "true",

		HealthPort: getEnvOrDefault("HEALTH_PORT", "8080"),
	}

	var err error
	if config.PollInterval, err = durationEnv("POLL_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if config.Cooldown, err = durationEnv("SOURCE_COOLDOWN", "5m"); err != nil {
		return nil, err
	}
	if config.DedupTTL, err = durationEnv("DEDUP_TTL", "24h"); err != nil {
		return nil, err
	}
	if config.ApprovalPollInterval, err = durationEnv("APPROVAL_POLL_INTERVAL", "30s"); err != nil {
		return nil, err
	}
	if config.ApprovalTimeout, err = durationEnv("APPROVAL_TIMEOUT", "24h"); err != nil {
		return nil, err
	}
	if config.ExecutorSweepInterval, err = durationEnv("EXECUTOR_SWEEP_INTERVAL", "15s"); err != nil {
		return nil, err
	}
	if config.SupervisorCheckInterval, err = durationEnv("SUPERVISOR_CHECK_INTERVAL", "10s"); err != nil {
		return nil, err
	}
	if config.RestartWindow, err = durationEnv("RESTART_WINDOW", "5m"); err != nil {
		return nil, err
	}
	if config.AuditRetention, err = durationEnv("AUDIT_RETENTION", "2160h"); err != nil { // 90 days
		return nil, err
	}
	if config.FailureThreshold, err = intEnv("FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if config.DedupCacheMax, err = intEnv("DEDUP_CACHE_MAX", 4096); err != nil {
		return nil, err
	}
	if config.MaxRestarts, err = intEnv("MAX_RESTARTS", 3); err != nil {
		return nil, err
	}
	if config.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("WORKSPACE_ROOT is required")
	}
	if c.PollInterval < 1*time.Second {
		return fmt.Errorf("POLL_INTERVAL must be at least 1 second")
	}
	if c.ApprovalPollInterval < 1*time.Second {
		return fmt.Errorf("APPROVAL_POLL_INTERVAL must be at least 1 second")
	}
	if c.ExecutorSweepInterval < 1*time.Second {
		return fmt.Errorf("EXECUTOR_SWEEP_INTERVAL must be at least 1 second")
	}
	return nil
}

// Helper function for defaults
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationEnv(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnvOrDefault(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

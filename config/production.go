// Package config provides configuration management and environment variable handling for the application
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	WhatsApp   WhatsAppConfig   `json:"whatsapp"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableMetrics     bool          `json:"enable_metrics"`
	TrustedProxies    []string      `json:"trusted_proxies"`
	ProxyHeader       string        `json:"proxy_header"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	CORSMaxAge       int      `json:"cors_max_age"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// Content Security
	XFrameOptions  string `json:"x_frame_options"`
	ReferrerPolicy string `json:"referrer_policy"`
}

type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Output     string `json:"output"` // stdout, file, both
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	EnableAccessLog bool   `json:"enable_access_log"`
	AccessLogFormat string `json:"access_log_format"`

	SchedulerLogPath string `json:"scheduler_log_path"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	Provider    string        `json:"provider"` // redis, memory
	RedisURL    string        `json:"redis_url"`
	RedisDB     int           `json:"redis_db"`
	RedisPrefix string        `json:"redis_prefix"`
	TemplateTTL time.Duration `json:"template_ttl"`
}

// WhatsAppConfig configures the WhatsApp Cloud (Graph) API client
type WhatsAppConfig struct {
	Provider           string        `json:"provider"` // graph, mock
	APIBaseURL         string        `json:"api_base_url"`
	TemplateAPIVersion string        `json:"template_api_version"`
	MessagesAPIVersion string        `json:"messages_api_version"`
	AccessToken        string        `json:"access_token"`
	BusinessAccountID  string        `json:"business_account_id"`
	PhoneNumberID      string        `json:"phone_number_id"`
	Timeout            time.Duration `json:"timeout"`
	WebhookVerifyToken string        `json:"webhook_verify_token"`
	// AppSecret signs webhook payloads (X-Hub-Signature-256); empty disables the check
	AppSecret          string        `json:"-"`
}

// DispatchConfig tunes partitioning and the batch workers
type DispatchConfig struct {
	ProcessingLimit    int           `json:"processing_limit"`
	ParallelBatchCount int           `json:"parallel_batch_count"`
	Consumers          int           `json:"consumers"`
	LeaseTTL           time.Duration `json:"lease_ttl"`
	SendRatePerSecond  float64       `json:"send_rate_per_second"`
	SendBurst          int           `json:"send_burst"`
	MaxSendAttempts    int           `json:"max_send_attempts"`
	RetryBaseInterval  time.Duration `json:"retry_base_interval"`
	QueueKey           string        `json:"queue_key"`
	DequeueTimeout     time.Duration `json:"dequeue_timeout"`
	TaskTimeout        time.Duration `json:"task_timeout"`
}

// SchedulerConfig drives the periodic sweeps
type SchedulerConfig struct {
	Enabled               bool          `json:"enabled"`
	SweepCron             string        `json:"sweep_cron"`
	DueBroadcastLimit     int           `json:"due_broadcast_limit"`
	MessagesCron          string        `json:"messages_cron"`
	DueMessageLimit       int           `json:"due_message_limit"`
	MessageRetryBase      time.Duration `json:"message_retry_base"`
	DefaultMessageRetries int           `json:"default_message_retries"`
	MessageSendingTimeout time.Duration `json:"message_sending_timeout"`
	JobTimeout            time.Duration `json:"job_timeout"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "postgres"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 4*1024*1024), // 4MB
			EnableMetrics:     getEnvBool("SERVER_ENABLE_METRICS", true),
			TrustedProxies:    getEnvStringSlice("SERVER_TRUSTED_PROXIES", []string{"127.0.0.1"}),
			ProxyHeader:       getEnvString("SERVER_PROXY_HEADER", "X-Real-IP"),
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:   getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", false),
			CORSMaxAge:       getEnvInt("CORS_MAX_AGE", 86400),
			GlobalRateLimit:  getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			XFrameOptions:    getEnvString("X_FRAME_OPTIONS", "DENY"),
			ReferrerPolicy:   getEnvString("REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},
		Logging: LoggingConfig{
			Level:            getEnvString("LOG_LEVEL", "info"),
			Output:           getEnvString("LOG_OUTPUT", "both"),
			FilePath:         getEnvString("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:          getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:       getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:           getEnvInt("LOG_MAX_AGE", 30),
			Compress:         getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog:  getEnvBool("LOG_ENABLE_ACCESS", true),
			AccessLogFormat:  getEnvString("LOG_ACCESS_FORMAT", "${time} ${status} - ${method} ${path} ${latency}\n"),
			SchedulerLogPath: getEnvString("LOG_SCHEDULER_PATH", "logs/scheduler.log"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", true),
			Provider:    getEnvString("CACHE_PROVIDER", "redis"),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "wabroadcast:"),
			TemplateTTL: getEnvDuration("CACHE_TEMPLATE_TTL", 10*time.Minute),
		},
		WhatsApp: WhatsAppConfig{
			Provider:           getEnvString("WHATSAPP_PROVIDER", "graph"),
			APIBaseURL:         getEnvString("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
			TemplateAPIVersion: getEnvString("WHATSAPP_TEMPLATE_API_VERSION", "v17.0"),
			MessagesAPIVersion: getEnvString("WHATSAPP_MESSAGES_API_VERSION", "v20.0"),
			AccessToken:        getEnvString("WHATSAPP_ACCESS_TOKEN", ""),
			BusinessAccountID:  getEnvString("WHATSAPP_BUSINESS_ACCOUNT_ID", ""),
			PhoneNumberID:      getEnvString("WHATSAPP_API_PHONE_NUMBER_ID", ""),
			Timeout:            getEnvDuration("WHATSAPP_TIMEOUT", 30*time.Second),
			WebhookVerifyToken: getEnvString("WHATSAPP_WEBHOOK_VERIFY_TOKEN", ""),
			AppSecret:          getEnvString("WHATSAPP_APP_SECRET", ""),
		},
		Dispatch: DispatchConfig{
			ProcessingLimit:    getEnvInt("DISPATCH_PROCESSING_LIMIT", 1000),
			ParallelBatchCount: getEnvInt("DISPATCH_PARALLEL_BATCH_COUNT", 3),
			Consumers:          getEnvInt("DISPATCH_CONSUMERS", 3),
			LeaseTTL:           getEnvDuration("DISPATCH_LEASE_TTL", 15*time.Minute),
			SendRatePerSecond:  getEnvFloat("DISPATCH_SEND_RATE_PER_SECOND", 20),
			SendBurst:          getEnvInt("DISPATCH_SEND_BURST", 5),
			MaxSendAttempts:    getEnvInt("DISPATCH_MAX_SEND_ATTEMPTS", 3),
			RetryBaseInterval:  getEnvDuration("DISPATCH_RETRY_BASE_INTERVAL", 1*time.Second),
			QueueKey:           getEnvString("DISPATCH_QUEUE_KEY", "dispatch:tasks"),
			DequeueTimeout:     getEnvDuration("DISPATCH_DEQUEUE_TIMEOUT", 5*time.Second),
			TaskTimeout:        getEnvDuration("DISPATCH_TASK_TIMEOUT", 2*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled:               getEnvBool("SCHEDULER_ENABLED", true),
			SweepCron:             getEnvString("SCHEDULER_SWEEP_CRON", "@every 1m"),
			DueBroadcastLimit:     getEnvInt("SCHEDULER_DUE_BROADCAST_LIMIT", 10),
			MessagesCron:          getEnvString("SCHEDULER_MESSAGES_CRON", "@every 30s"),
			DueMessageLimit:       getEnvInt("SCHEDULER_DUE_MESSAGE_LIMIT", 50),
			MessageRetryBase:      getEnvDuration("SCHEDULER_MESSAGE_RETRY_BASE", 1*time.Minute),
			DefaultMessageRetries: getEnvInt("SCHEDULER_DEFAULT_MESSAGE_RETRIES", 3),
			MessageSendingTimeout: getEnvDuration("SCHEDULER_MESSAGE_SENDING_TIMEOUT", 15*time.Minute),
			JobTimeout:            getEnvDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}
	if cfg.Database.Password == "" {
		errors = append(errors, "DB_PASSWORD is required")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT must be positive")
	}
	if cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_WRITE_TIMEOUT must be positive")
	}
	if cfg.Server.IdleTimeout <= 0 {
		errors = append(errors, "SERVER_IDLE_TIMEOUT must be positive")
	}

	// Validate WhatsApp configuration unless mocked
	switch cfg.WhatsApp.Provider {
	case "mock":
	case "graph":
		if cfg.WhatsApp.AccessToken == "" {
			errors = append(errors, "WHATSAPP_ACCESS_TOKEN is required for graph provider")
		}
		if cfg.WhatsApp.BusinessAccountID == "" {
			errors = append(errors, "WHATSAPP_BUSINESS_ACCOUNT_ID is required for graph provider")
		}
		if cfg.WhatsApp.PhoneNumberID == "" {
			errors = append(errors, "WHATSAPP_API_PHONE_NUMBER_ID is required for graph provider")
		}
		if cfg.WhatsApp.Timeout <= 0 {
			errors = append(errors, "WHATSAPP_TIMEOUT must be positive")
		}
	default:
		errors = append(errors, "WHATSAPP_PROVIDER must be one of: [graph mock]")
	}

	// Validate dispatch configuration
	if cfg.Dispatch.ProcessingLimit <= 0 {
		errors = append(errors, "DISPATCH_PROCESSING_LIMIT must be positive")
	}
	if cfg.Dispatch.ParallelBatchCount <= 0 {
		errors = append(errors, "DISPATCH_PARALLEL_BATCH_COUNT must be positive")
	}
	if cfg.Dispatch.Consumers <= 0 {
		errors = append(errors, "DISPATCH_CONSUMERS must be positive")
	}
	if cfg.Dispatch.LeaseTTL <= 0 {
		errors = append(errors, "DISPATCH_LEASE_TTL must be positive")
	}
	if cfg.Dispatch.MaxSendAttempts <= 0 {
		errors = append(errors, "DISPATCH_MAX_SEND_ATTEMPTS must be positive")
	}
	if cfg.Dispatch.SendRatePerSecond < 0 {
		errors = append(errors, "DISPATCH_SEND_RATE_PER_SECOND must not be negative")
	}

	// Validate scheduler configuration if enabled
	if cfg.Scheduler.Enabled {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Scheduler.SweepCron); err != nil {
			errors = append(errors, fmt.Sprintf("SCHEDULER_SWEEP_CRON is invalid: %v", err))
		}
		if _, err := parser.Parse(cfg.Scheduler.MessagesCron); err != nil {
			errors = append(errors, fmt.Sprintf("SCHEDULER_MESSAGES_CRON is invalid: %v", err))
		}
		if cfg.Scheduler.DueBroadcastLimit <= 0 {
			errors = append(errors, "SCHEDULER_DUE_BROADCAST_LIMIT must be positive")
		}
		if cfg.Scheduler.DueMessageLimit <= 0 {
			errors = append(errors, "SCHEDULER_DUE_MESSAGE_LIMIT must be positive")
		}
		if cfg.Scheduler.MessageSendingTimeout <= cfg.Scheduler.JobTimeout {
			errors = append(errors, "SCHEDULER_MESSAGE_SENDING_TIMEOUT must be longer than SCHEDULER_JOB_TIMEOUT")
		}
	}

	// Validate logging configuration
	validLevels := []string{"debug", "info", "warn", "error"}
	if cfg.Logging.Level != "" && !slices.Contains(validLevels, cfg.Logging.Level) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %v", validLevels))
	}
	validOutputs := []string{"stdout", "file", "both"}
	if !slices.Contains(validOutputs, cfg.Logging.Output) {
		errors = append(errors, fmt.Sprintf("LOG_OUTPUT must be one of: %v", validOutputs))
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		errors = append(errors, "LOG_FILE_PATH is required when logging to a file")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled {
		if cfg.Cache.Provider == "redis" && cfg.Cache.RedisURL == "" {
			errors = append(errors, "CACHE_REDIS_URL is required when cache is enabled with redis provider")
		}
	}

	// Return validation errors if any
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

package config

import "time"

// Process modes selecting which halves of the service a process runs.
const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	Lease       LeaseConfig       `mapstructure:"lease" validate:"required"`
	LLM         LLMConfig         `mapstructure:"llm" validate:"required"`
	CoverLetter CoverLetterConfig `mapstructure:"cover_letter" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Upload      UploadConfig      `mapstructure:"upload" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Mode     string `mapstructure:"mode" validate:"required,oneof=api worker all"`
}

// DatabaseConfig selects the task record store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	// URL is a postgres connection URL or a sqlite DSN, depending on Driver.
	URL string `mapstructure:"url" validate:"required"`
}

// RedisConfig is shared by the queue broker and the distributed locker.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// QueueConfig controls delivery, retry and the recovery sweeps.
type QueueConfig struct {
	Backend                string        `mapstructure:"backend" validate:"required,oneof=redis memory"`
	Name                   string        `mapstructure:"name" validate:"required"`
	MaxAttempts            int           `mapstructure:"max_attempts" validate:"required,gte=1"`
	BaseDelay              time.Duration `mapstructure:"base_delay" validate:"required,gt=0"`
	Concurrency            int           `mapstructure:"concurrency" validate:"required,gte=1"`
	DeliveryTimeout        time.Duration `mapstructure:"delivery_timeout" validate:"required,gt=0"`
	MarkFailedOnExhaustion bool          `mapstructure:"mark_failed_on_exhaustion"`
	StuckTaskAge           time.Duration `mapstructure:"stuck_task_age" validate:"required,gt=0"`
	StuckTaskCheckInterval time.Duration `mapstructure:"stuck_task_check_interval" validate:"required,gt=0"`
	RecoveryAge            time.Duration `mapstructure:"recovery_age" validate:"required,gt=0"`
}

// LeaseConfig bounds how long a worker may hold a task before another
// delivery can take it over.
type LeaseConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey         string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName            string `mapstructure:"model_name" validate:"required"`
	CoverLetterModelName string `mapstructure:"cover_letter_model_name" validate:"required"`
	// BaseURL overrides the Gemini endpoint; empty means the SDK default.
	BaseURL string `mapstructure:"base_url"`
}

// CoverLetterConfig controls the on-demand cover letter generation.
type CoverLetterConfig struct {
	ResumePrefixChars         int           `mapstructure:"resume_prefix_chars" validate:"required,gt=0"`
	JobDescriptionPrefixChars int           `mapstructure:"job_description_prefix_chars" validate:"required,gt=0"`
	LockWait                  time.Duration `mapstructure:"lock_wait" validate:"required,gt=0"`
}

// AuthConfig enables bearer token authentication on the API when JWTSecret
// is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// UploadConfig limits multipart submissions.
type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" validate:"required,gt=0"`
}

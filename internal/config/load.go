package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. JOBFIT_SERVER_PORT.
const EnvPrefix = "JOBFIT"

var defaults = map[string]any{
	"server.port":      8080,
	"server.log_level": "info",
	"server.mode":      ModeAll,

	"database.driver": "postgres",
	"database.url":    "",

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"queue.backend":                   "redis",
	"queue.name":                      "application-processing",
	"queue.max_attempts":              3,
	"queue.base_delay":                "3s",
	"queue.concurrency":               1,
	"queue.delivery_timeout":          "2m",
	"queue.mark_failed_on_exhaustion": true,
	"queue.stuck_task_age":            "10m",
	"queue.stuck_task_check_interval": "1m",
	"queue.recovery_age":              "1m",

	"lease.ttl": "2m",

	"llm.gemini_api_key":          "",
	"llm.model_name":              "gemini-2.0-flash",
	"llm.cover_letter_model_name": "gemini-2.0-flash-lite",
	"llm.base_url":                "",

	"cover_letter.resume_prefix_chars":          3000,
	"cover_letter.job_description_prefix_chars": 2000,
	"cover_letter.lock_wait":                    "30s",

	"auth.jwt_secret": "",

	"upload.max_bytes": 10 << 20,
}

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over
// values from the config file. Returns a populated Config struct or an error
// if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the named config file instead of
// searching the working directory. An empty path falls back to the search.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Queue.Backend == "redis" && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("config validation failed: redis.addr is required when queue.backend is redis")
	}

	return nil
}

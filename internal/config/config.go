package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	LLM        LLMConfig
	Assessment AssessmentConfig
	Log        LogConfig
	Tracing    TracingConfig
	CORS       CORSConfig
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s Timezone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

// LLMConfig holds the connection settings for the language model used by
// the score interpreter. The interpreter is the only component that talks
// to the model.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AssessmentConfig carries the engine's clinical policy knobs. Thresholds
// and bounds are deliberately configuration, not constants.
type AssessmentConfig struct {
	// FlowPath overrides the embedded assessment flow definition when set.
	FlowPath string

	ConfidenceThresholdLow  float64
	ConfidenceThresholdHigh float64

	// MaxClarifications bounds the clarification sub-loop per question.
	// Exceeding it force-accepts the best available interpretation.
	MaxClarifications int

	// InterpretMaxRetries bounds retries of a failed model interpretation
	// before the failure escalates to the session error counters.
	InterpretMaxRetries int

	// MaxSessionErrors is the session-level error budget. Crossing it moves
	// the session to the terminal errored state.
	MaxSessionErrors int
}

type LogConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	SampleRate  float64
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "assessflow-api"),
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "0.0.0"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnv("DB_NAME", "assessflow"),
			User:            getEnv("DB_USER", "assessflow"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o"),
			Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0.1),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 2000),
			Timeout:     getEnvDuration("INTERPRET_TIMEOUT", 30*time.Second),
		},
		Assessment: AssessmentConfig{
			FlowPath:                getEnv("ASSESSMENT_FLOW_PATH", ""),
			ConfidenceThresholdLow:  getEnvFloat("CONFIDENCE_THRESHOLD_LOW", 0.5),
			ConfidenceThresholdHigh: getEnvFloat("CONFIDENCE_THRESHOLD_HIGH", 0.8),
			MaxClarifications:       getEnvInt("MAX_CLARIFICATIONS_PER_QUESTION", 2),
			InterpretMaxRetries:     getEnvInt("INTERPRET_MAX_RETRIES", 3),
			MaxSessionErrors:        getEnvInt("MAX_SESSION_ERRORS", 3),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			OutputPath: getEnv("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "assessflow-api"),
			Endpoint:    getEnv("OTLP_ENDPOINT", "localhost:4318"),
			SampleRate:  getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-Request-ID"}),
			MaxAge:         getEnvDuration("CORS_MAX_AGE", 12*time.Hour),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.LLM.APIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required")
	}

	if cfg.Database.Password == "" && cfg.App.Environment != "development" {
		errs = append(errs, "DB_PASSWORD is required in non-development environments")
	}

	if cfg.Database.SSLMode == "disable" && cfg.App.Environment == "production" {
		errs = append(errs, "DB_SSLMODE=disable is not allowed in production")
	}

	a := cfg.Assessment
	if a.ConfidenceThresholdLow < 0 || a.ConfidenceThresholdLow > 1 ||
		a.ConfidenceThresholdHigh < 0 || a.ConfidenceThresholdHigh > 1 {
		errs = append(errs, "confidence thresholds must be within [0, 1]")
	}
	if a.ConfidenceThresholdLow >= a.ConfidenceThresholdHigh {
		errs = append(errs, "CONFIDENCE_THRESHOLD_LOW must be below CONFIDENCE_THRESHOLD_HIGH")
	}
	if a.MaxClarifications < 0 {
		errs = append(errs, "MAX_CLARIFICATIONS_PER_QUESTION must not be negative")
	}
	if a.InterpretMaxRetries < 1 {
		errs = append(errs, "INTERPRET_MAX_RETRIES must be at least 1")
	}
	if a.MaxSessionErrors < 1 {
		errs = append(errs, "MAX_SESSION_ERRORS must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

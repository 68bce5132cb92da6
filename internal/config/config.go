package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	DBPath   string
	LogLevel string

	// Oracle (content + question-validation service)
	OracleBaseURL        string
	OracleTimeout        time.Duration
	GenerateRatePerSec   float64
	GenerateBurst        int

	// Session resilience
	RefreshFailSafe time.Duration
	RefreshCooldown time.Duration

	// Quiz
	QuizErrorBudget       int
	DefaultQuestionCount  int
	ReshareWordsPerQuestion int
	MinQuestions          int
	MaxQuestions          int

	// Reading tracker
	MinDwellBaseMs           int
	DwellPer100wMs           int
	MaxDwellMs               int
	CoverageThreshold        float64
	UnlockThreshold          float64
	GraceRatio               float64
	MaxScrollVelocityPxPerSec float64
	VisibleAheadBlocks       int

	// Background workers
	AuditWorkerCount   int
	AuditQueueSize     int
	TelemetryQueueSize int
}

// Load reads configuration from a .env file (if present) and environment variables,
// applying sensible defaults when values are missing or invalid.
func Load() Config {
	// Ignore error so the app still starts when .env is absent in production.
	_ = godotenv.Load()

	return Config{
		Addr:     envOr("ADDR", ":8080"),
		DBPath:   envOr("DB_PATH", "file:readgate.db"),
		LogLevel: envOr("LOG_LEVEL", "INFO"),

		OracleBaseURL:      envOr("ORACLE_BASE_URL", "http://localhost:9090"),
		OracleTimeout:      envDurationOr("ORACLE_TIMEOUT", 15*time.Second),
		GenerateRatePerSec: envFloatOr("GENERATE_RATE_PER_SEC", 1.0),
		GenerateBurst:      envIntOr("GENERATE_BURST", 3),

		RefreshFailSafe: envDurationOr("REFRESH_FAIL_SAFE", 6*time.Second),
		RefreshCooldown: envDurationOr("REFRESH_COOLDOWN", 30*time.Second),

		QuizErrorBudget:         envIntOr("QUIZ_ERROR_BUDGET", 2),
		DefaultQuestionCount:    envIntOr("DEFAULT_QUESTION_COUNT", 3),
		ReshareWordsPerQuestion: envIntOr("RESHARE_WORDS_PER_QUESTION", 120),
		MinQuestions:            envIntOr("MIN_QUESTIONS", 2),
		MaxQuestions:            envIntOr("MAX_QUESTIONS", 5),

		MinDwellBaseMs:            envIntOr("MIN_DWELL_BASE_MS", 1500),
		DwellPer100wMs:            envIntOr("DWELL_PER_100W_MS", 4000),
		MaxDwellMs:                envIntOr("MAX_DWELL_MS", 20000),
		CoverageThreshold:         envFloatOr("COVERAGE_THRESHOLD", 0.5),
		UnlockThreshold:           envFloatOr("UNLOCK_THRESHOLD", 0.8),
		GraceRatio:                envFloatOr("GRACE_RATIO", 0.1),
		MaxScrollVelocityPxPerSec: envFloatOr("MAX_SCROLL_VELOCITY_PX_PER_SEC", 3000),
		VisibleAheadBlocks:        envIntOr("VISIBLE_AHEAD_BLOCKS", 2),

		AuditWorkerCount:   envIntOr("AUDIT_WORKER_COUNT", 2),
		AuditQueueSize:     envIntOr("AUDIT_QUEUE_SIZE", 64),
		TelemetryQueueSize: envIntOr("TELEMETRY_QUEUE_SIZE", 256),
	}
}

// Validate checks the configuration for values the server cannot start with.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OracleBaseURL == "" {
		return fmt.Errorf("ORACLE_BASE_URL cannot be empty")
	}
	if c.QuizErrorBudget < 1 {
		return fmt.Errorf("QUIZ_ERROR_BUDGET must be at least 1")
	}
	if c.CoverageThreshold <= 0 || c.CoverageThreshold > 1 {
		return fmt.Errorf("COVERAGE_THRESHOLD must be in (0, 1]")
	}
	if c.UnlockThreshold <= 0 || c.UnlockThreshold > 1 {
		return fmt.Errorf("UNLOCK_THRESHOLD must be in (0, 1]")
	}
	if c.GraceRatio < 0 || c.GraceRatio >= c.UnlockThreshold {
		return fmt.Errorf("GRACE_RATIO must be in [0, UNLOCK_THRESHOLD)")
	}
	if c.RefreshFailSafe <= 0 {
		return fmt.Errorf("REFRESH_FAIL_SAFE must be positive")
	}
	if c.MinQuestions < 1 || c.MaxQuestions < c.MinQuestions {
		return fmt.Errorf("MIN_QUESTIONS/MAX_QUESTIONS out of order")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Printf("invalid value for %s=%q, using default %d", key, v, def)
	}
	return def
}

func envFloatOr(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("invalid value for %s=%q, using default %g", key, v, def)
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("invalid value for %s=%q, using default %s", key, v, def)
	}
	return def
}

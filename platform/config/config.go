// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// SchedulerConfig provides settings for the asynq background worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// VoiceConfig provides settings for the voice calling platform.
type VoiceConfig interface {
	GetVoiceAPIURL() string
	GetVoiceAPIKey() string
	GetVoiceAgentID() string
	GetVoiceWebhookURL() string
	GetVoiceWebhookKey() string
	GetCachePollInterval() time.Duration
	GetPushWaitWindow() time.Duration
	GetStatusPollInterval() time.Duration
	GetCallTimeout() time.Duration
}

// FlowEngineConfig provides settings for the external workflow engine.
type FlowEngineConfig interface {
	IsFlowEngineEnabled() bool
	GetFlowEngineURL() string
	GetFlowEngineAPIKey() string
	GetFlowEngineHealthTimeout() time.Duration
	GetFlowEnginePollInterval() time.Duration
	GetCallFlowName() string
	GetScoringFlowName() string
}

// DispatchConfig provides settings for batch call dispatching.
type DispatchConfig interface {
	GetBatchMaxConcurrency() int
	GetBatchDeadline() time.Duration
}

// LLMConfig provides settings for the text generation collaborator.
type LLMConfig interface {
	GetGeminiAPIKey() string
	GetLLMModel() string
	IsLLMEnabled() bool
}

// ScoringConfig provides the recommendation rubric weights.
type ScoringConfig interface {
	GetScoringWeights() ScoringWeights
}

// SMSConfig provides settings for the SMS gateway.
type SMSConfig interface {
	GetSMSAPIURL() string
	GetSMSAPIKey() string
	GetSMSFrom() string
	IsSMSEnabled() bool
}

// EmailConfig provides settings for SMTP email notifications.
type EmailConfig interface {
	IsEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// ScoringWeights is the rubric used by the recommendation engine.
// The weights must sum to 100.
type ScoringWeights struct {
	Availability    int
	Rate            int
	CriteriaMatch   int
	CallQuality     int
	Professionalism int
}

// Total returns the sum of all weights.
func (w ScoringWeights) Total() int {
	return w.Availability + w.Rate + w.CriteriaMatch + w.CallQuality + w.Professionalism
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env             string
	HTTPAddr        string
	DatabaseURL     string
	JWTAccessSecret string
	CORSAllowAll    bool
	CORSOrigins     []string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	VoiceAPIURL        string
	VoiceAPIKey        string
	VoiceAgentID       string
	VoiceWebhookURL    string
	VoiceWebhookKey    string
	CachePollInterval  time.Duration
	PushWaitWindow     time.Duration
	StatusPollInterval time.Duration
	CallTimeout        time.Duration

	FlowEngineEnabled       bool
	FlowEngineURL           string
	FlowEngineAPIKey        string
	FlowEngineHealthTimeout time.Duration
	FlowEnginePollInterval  time.Duration
	CallFlowName            string
	ScoringFlowName         string

	BatchMaxConcurrency int
	BatchDeadline       time.Duration

	GeminiAPIKey string
	LLMModel     string

	Weights ScoringWeights

	SMSAPIURL string
	SMSAPIKey string
	SMSFrom   string

	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	EmailFromName    string
	EmailFromAddress string
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present (development convenience).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", "development"),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		JWTAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),
		CORSAllowAll:    getBool("CORS_ALLOW_ALL", false),
		CORSOrigins:     getList("CORS_ORIGINS"),

		RedisURL:         os.Getenv("REDIS_URL"),
		RedisTLSInsecure: getBool("REDIS_TLS_INSECURE", false),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: getInt("ASYNQ_CONCURRENCY", 10),

		VoiceAPIURL:        os.Getenv("VOICE_API_URL"),
		VoiceAPIKey:        os.Getenv("VOICE_API_KEY"),
		VoiceAgentID:       os.Getenv("VOICE_AGENT_ID"),
		VoiceWebhookURL:    os.Getenv("VOICE_WEBHOOK_URL"),
		VoiceWebhookKey:    os.Getenv("VOICE_WEBHOOK_KEY"),
		CachePollInterval:  getDuration("CACHE_POLL_INTERVAL", time.Second),
		PushWaitWindow:     getDuration("PUSH_WAIT_WINDOW", 3*time.Minute),
		StatusPollInterval: getDuration("STATUS_POLL_INTERVAL", 5*time.Second),
		CallTimeout:        getDuration("CALL_TIMEOUT", 5*time.Minute),

		FlowEngineEnabled:       getBool("FLOW_ENGINE_ENABLED", false),
		FlowEngineURL:           os.Getenv("FLOW_ENGINE_URL"),
		FlowEngineAPIKey:        os.Getenv("FLOW_ENGINE_API_KEY"),
		FlowEngineHealthTimeout: getDuration("FLOW_ENGINE_HEALTH_TIMEOUT", 3*time.Second),
		FlowEnginePollInterval:  getDuration("FLOW_ENGINE_POLL_INTERVAL", 5*time.Second),
		CallFlowName:            getEnv("FLOW_CALL_WORKFLOW", "vet-provider-call"),
		ScoringFlowName:         getEnv("FLOW_SCORING_WORKFLOW", "score-providers"),

		BatchMaxConcurrency: getInt("BATCH_MAX_CONCURRENCY", 5),
		BatchDeadline:       getDuration("BATCH_DEADLINE", 10*time.Minute),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		LLMModel:     getEnv("LLM_MODEL", "gemini-2.0-flash"),

		Weights: ScoringWeights{
			Availability:    getInt("SCORE_WEIGHT_AVAILABILITY", 30),
			Rate:            getInt("SCORE_WEIGHT_RATE", 20),
			CriteriaMatch:   getInt("SCORE_WEIGHT_CRITERIA", 25),
			CallQuality:     getInt("SCORE_WEIGHT_CALL_QUALITY", 15),
			Professionalism: getInt("SCORE_WEIGHT_PROFESSIONALISM", 10),
		},

		SMSAPIURL: os.Getenv("SMS_API_URL"),
		SMSAPIKey: os.Getenv("SMS_API_KEY"),
		SMSFrom:   os.Getenv("SMS_FROM"),

		EmailEnabled:     getBool("EMAIL_ENABLED", false),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getInt("SMTP_PORT", 587),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Vetline"),
		EmailFromAddress: os.Getenv("EMAIL_FROM_ADDRESS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.VoiceWebhookKey == "" {
		return nil, fmt.Errorf("VOICE_WEBHOOK_KEY is required")
	}
	if total := cfg.Weights.Total(); total != 100 {
		return nil, fmt.Errorf("scoring weights must sum to 100, got %d", total)
	}

	return cfg, nil
}

// =============================================================================
// Interface implementations
// =============================================================================

func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }
func (c *Config) GetHTTPAddr() string        { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool      { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string   { return c.CORSOrigins }

func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

func (c *Config) GetVoiceAPIURL() string                 { return c.VoiceAPIURL }
func (c *Config) GetVoiceAPIKey() string                 { return c.VoiceAPIKey }
func (c *Config) GetVoiceAgentID() string                { return c.VoiceAgentID }
func (c *Config) GetVoiceWebhookURL() string             { return c.VoiceWebhookURL }
func (c *Config) GetVoiceWebhookKey() string             { return c.VoiceWebhookKey }
func (c *Config) GetCachePollInterval() time.Duration    { return c.CachePollInterval }
func (c *Config) GetPushWaitWindow() time.Duration       { return c.PushWaitWindow }
func (c *Config) GetStatusPollInterval() time.Duration   { return c.StatusPollInterval }
func (c *Config) GetCallTimeout() time.Duration          { return c.CallTimeout }

func (c *Config) IsFlowEngineEnabled() bool                 { return c.FlowEngineEnabled && c.FlowEngineURL != "" }
func (c *Config) GetFlowEngineURL() string                  { return c.FlowEngineURL }
func (c *Config) GetFlowEngineAPIKey() string               { return c.FlowEngineAPIKey }
func (c *Config) GetFlowEngineHealthTimeout() time.Duration { return c.FlowEngineHealthTimeout }
func (c *Config) GetFlowEnginePollInterval() time.Duration  { return c.FlowEnginePollInterval }
func (c *Config) GetCallFlowName() string                   { return c.CallFlowName }
func (c *Config) GetScoringFlowName() string                { return c.ScoringFlowName }

func (c *Config) GetBatchMaxConcurrency() int     { return c.BatchMaxConcurrency }
func (c *Config) GetBatchDeadline() time.Duration { return c.BatchDeadline }

func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetLLMModel() string     { return c.LLMModel }
func (c *Config) IsLLMEnabled() bool      { return c.GeminiAPIKey != "" }

func (c *Config) GetScoringWeights() ScoringWeights { return c.Weights }

func (c *Config) GetSMSAPIURL() string { return c.SMSAPIURL }
func (c *Config) GetSMSAPIKey() string { return c.SMSAPIKey }
func (c *Config) GetSMSFrom() string   { return c.SMSFrom }
func (c *Config) IsSMSEnabled() bool   { return c.SMSAPIURL != "" }

func (c *Config) IsEmailEnabled() bool        { return c.EmailEnabled && c.SMTPHost != "" }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// =============================================================================
// Env helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

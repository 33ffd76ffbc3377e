package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Tracing        TracingConfig
	Verification   VerificationConfig
	Templates      TemplatesConfig
	Portal         PortalConfig
	Suppression    SuppressionConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimit      RateLimitConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	Postgres PostgresConfig
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	InputTopic  string      `mapstructure:"input_topic"`
	OutputTopic string      `mapstructure:"output_topic"`
	DLQTopic    string      `mapstructure:"dlq_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
}

// VerificationConfig carries the address policy. There is deliberately no
// flag to disable verification itself.
type VerificationConfig struct {
	AllowedDomainSuffixes []string `mapstructure:"allowed_domain_suffixes"`
	DeniedDomains         []string `mapstructure:"denied_domains"`
	DedupTTLSeconds       int      `mapstructure:"dedup_ttl_seconds"`
}

type TemplatesConfig struct {
	Provider                ProviderConfig            `mapstructure:"provider"`
	Contracts               map[string]ContractConfig `mapstructure:"contracts"`
	ExtraFieldWarnThreshold int                       `mapstructure:"extra_field_warn_threshold"`
}

type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	TimeoutSeconds time.Duration `mapstructure:"timeout_seconds"`
}

// ContractConfig is one notification kind's template contract. TemplateID is
// the remote template identifier, environment-sourced at deploy time.
type ContractConfig struct {
	TemplateID string   `mapstructure:"template_id"`
	Required   []string `mapstructure:"required"`
	Optional   []string `mapstructure:"optional"`
}

// PortalConfig is optional: with either value missing, personalisation
// omits portal links instead of emitting unsigned ones.
type PortalConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

type SuppressionConfig struct {
	Rules []SuppressionRuleConfig `mapstructure:"rules"`
}

type SuppressionRuleConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

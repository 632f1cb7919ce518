package config

import "time"

// Config represents the complete orchestrator configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service" envPrefix:"SERVICE_"`
	State    StateConfig    `yaml:"state" envPrefix:"STATE_"`
	API      APIConfig      `yaml:"api" envPrefix:"API_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Kafka    KafkaConfig    `yaml:"kafka" envPrefix:"KAFKA_"`
	Services ServicesConfig `yaml:"services" envPrefix:"SERVICES_"`
	Webhook  WebhookConfig  `yaml:"webhook" envPrefix:"WEBHOOK_"`
	Breaker  BreakerConfig  `yaml:"breaker" envPrefix:"BREAKER_"`
	Seed     SeedConfig     `yaml:"seed" envPrefix:"SEED_"`

	// SourcePath and Fingerprint describe the file the config was read from.
	SourcePath  string `yaml:"-"`
	Fingerprint string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name              string        `yaml:"name" env:"NAME"`
	LogLevel          string        `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat         string        `yaml:"log_format" env:"LOG_FORMAT" validate:"oneof=json text"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval" env:"SCHEDULER_INTERVAL" validate:"gt=0"`
	SchedulerJitter   time.Duration `yaml:"scheduler_jitter" env:"SCHEDULER_JITTER" validate:"gte=0"`
	DedupeTTL         time.Duration `yaml:"dedupe_ttl" env:"DEDUPE_TTL" validate:"gt=0"`
	DedupeWindow      time.Duration `yaml:"dedupe_window" env:"DEDUPE_WINDOW" validate:"gt=0"`
	GateTimeout       time.Duration `yaml:"gate_timeout" env:"GATE_TIMEOUT" validate:"gt=0"`
	RuleSyncAttempts  int           `yaml:"rule_sync_attempts" env:"RULE_SYNC_ATTEMPTS" validate:"min=1"`
	RuleSyncBackoff   time.Duration `yaml:"rule_sync_backoff" env:"RULE_SYNC_BACKOFF" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path" env:"PATH" validate:"required"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Listen  string        `yaml:"listen" env:"LISTEN" validate:"required_if=Enabled true"`
	Auth    APIAuthConfig `yaml:"auth" envPrefix:"AUTH_"`
}

// APIAuthConfig defines API authentication settings. An empty APIKey with
// no Tokens leaves the admin API unauthenticated.
type APIAuthConfig struct {
	// APIKey is the single admin bearer token with every scope.
	APIKey string     `yaml:"api_key" env:"API_KEY"`
	Tokens []APIToken `yaml:"tokens,omitempty" validate:"dive"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token" validate:"required"`
	Scopes []string `yaml:"scopes" validate:"min=1"`
}

// RedisConfig locates the dedup key store. An empty Addr disables dedup.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// RabbitMQConfig configures the inbound event consumers and the AMQP action
// publisher. An empty URL disables both.
type RabbitMQConfig struct {
	URL      string      `yaml:"url" env:"URL" validate:"omitempty,url"`
	Prefetch int         `yaml:"prefetch" env:"PREFETCH" validate:"min=1"`
	Queues   QueueConfig `yaml:"queues" envPrefix:"QUEUE_"`
	// ManagementURL is the management HTTP API root (http://host:15672/api)
	// behind the admin queue monitor. Credentials default to those of URL.
	ManagementURL string `yaml:"management_url" env:"MANAGEMENT_URL" validate:"omitempty,url"`
}

// QueueConfig maps each consumed event type to its queue name.
type QueueConfig struct {
	MemberStatusChanged     string `yaml:"member_status_changed" env:"MEMBER_STATUS_CHANGED" validate:"required"`
	WalletUpdated           string `yaml:"wallet_updated" env:"WALLET_UPDATED" validate:"required"`
	ComplianceStatusChanged string `yaml:"compliance_status_changed" env:"COMPLIANCE_STATUS_CHANGED" validate:"required"`
}

// KafkaConfig enables KAFKA:<topic> actions when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
}

// ServicesConfig holds the base URLs of downstream services.
type ServicesConfig struct {
	ContextURL     string        `yaml:"context_url" env:"CONTEXT_URL" validate:"required,url"`
	RuleURL        string        `yaml:"rule_url" env:"RULE_URL" validate:"required,url"`
	ConsistencyURL string        `yaml:"consistency_url" env:"CONSISTENCY_URL" validate:"required,url"`
	MemberURL      string        `yaml:"member_url" env:"MEMBER_URL" validate:"required,url"`
	AuditURL       string        `yaml:"audit_url" env:"AUDIT_URL" validate:"omitempty,url"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gt=0"`
}

// WebhookConfig configures the signed inbound event endpoint.
type WebhookConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Listen      string `yaml:"listen" env:"LISTEN" validate:"required_if=Enabled true"`
	Secret      string `yaml:"secret" env:"SECRET" validate:"required_if=Enabled true"`
	MaxBodySize string `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
}

// BreakerConfig tunes the circuit breakers wrapped around downstream calls.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" env:"MAX_FAILURES" validate:"min=1"`
	OpenTimeout time.Duration `yaml:"open_timeout" env:"OPEN_TIMEOUT" validate:"gt=0"`
}

// SeedConfig controls the default data inserted on first start.
type SeedConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// Defaults returns a Config with development defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:              "orchestrator",
			LogLevel:          "info",
			LogFormat:         "json",
			SchedulerInterval: time.Minute,
			DedupeTTL:         5 * time.Minute,
			DedupeWindow:      time.Second,
			GateTimeout:       5 * time.Second,
			RuleSyncAttempts:  5,
			RuleSyncBackoff:   5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		State: StateConfig{
			Path: "./data/orchestrator.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Redis: RedisConfig{
			KeyPrefix: "trigger:",
		},
		RabbitMQ: RabbitMQConfig{
			Prefetch: 1,
			Queues: QueueConfig{
				MemberStatusChanged:     "MemberStatusChanged",
				WalletUpdated:           "WalletUpdated",
				ComplianceStatusChanged: "ComplianceStatusChanged",
			},
		},
		Services: ServicesConfig{
			ContextURL:     "http://localhost:8081",
			RuleURL:        "http://localhost:8082",
			ConsistencyURL: "http://localhost:8083",
			MemberURL:      "http://localhost:8084/api/members",
			Timeout:        10 * time.Second,
		},
		Webhook: WebhookConfig{
			Listen:      "127.0.0.1:8090",
			MaxBodySize: "1MB",
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
		Seed: SeedConfig{
			Enabled: true,
		},
	}
}

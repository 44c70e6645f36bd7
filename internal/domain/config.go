package domain

import "time"

// Config holds the complete CallShield configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Tier selects the storage, cache and bus backends.
	Tier Tier `json:"tier"`

	Session       SessionConfig       `json:"session"`
	Transcription TranscriptionConfig `json:"transcription"`
	Summary       SummaryConfig       `json:"summary"`

	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// SessionConfig tunes live session behaviour.
type SessionConfig struct {
	// AlertCooldown is the minimum gap between two critical alerts.
	AlertCooldown time.Duration `json:"alertCooldown"`

	// UpdateBuffer is the per-observer queue length for session updates.
	UpdateBuffer int `json:"updateBuffer"`

	// SimulatedLineDelay paces the scripted demo call.
	SimulatedLineDelay time.Duration `json:"simulatedLineDelay"`
}

// TranscriptionConfig points at the external streaming speech-to-text service.
type TranscriptionConfig struct {
	WebSocketURL string `json:"webSocketUrl"`
	APIKey       string `json:"-"`
	Model        string `json:"model"`
	Language     string `json:"language"`
	SampleRate   int    `json:"sampleRate"`

	// AudioPath, when set, is streamed to the websocket source as PCM.
	AudioPath string `json:"audioPath"`
}

// SummaryConfig selects how archived reports are summarized.
type SummaryConfig struct {
	// Provider is "gemini" or "template".
	Provider string        `json:"provider"`
	APIKey   string        `json:"-"`
	Model    string        `json:"model"`
	Timeout  time.Duration `json:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and Go channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns the community tier configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Session: SessionConfig{
			AlertCooldown:      6 * time.Second,
			UpdateBuffer:       64,
			SimulatedLineDelay: 2 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Language:   "en",
			SampleRate: 16000,
		},
		Summary: SummaryConfig{
			Provider: "template",
			Model:    "gemini-2.5-flash",
			Timeout:  30 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./callshield.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			SnapshotTTL:  time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "callshield",
		},
	}
}

// ProConfig returns the pro tier configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "callshield",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		SnapshotTTL:    24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Summary.Provider = "gemini"
	cfg.Tracing.Enabled = true
	return cfg
}

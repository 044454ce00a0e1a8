package config

import "time"

// Config is the root configuration for the livewatch binary.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Channel   ChannelConfig   `yaml:"channel"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Watches   []WatchConfig   `yaml:"watches"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the deployment address and HTTP settings.
type ServerConfig struct {
	Address    string        `yaml:"address"` // http:// or https:// deployment URL
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ChannelConfig holds subscribe channel settings.
type ChannelConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// BackoffConfig bounds retry delays for fetches and reconnects.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// WatchConfig is one live query. Exactly one of Query and GraphQL is set.
type WatchConfig struct {
	Name      string         `yaml:"name"`
	Query     string         `yaml:"query"`
	Args      map[string]any `yaml:"args"`
	GraphQL   string         `yaml:"graphql"`
	Variables map[string]any `yaml:"variables"`
}

// RecorderConfig holds settings for persisting updates to PostgreSQL.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// TelemetryConfig holds OpenTelemetry export settings. An empty endpoint
// disables tracing.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

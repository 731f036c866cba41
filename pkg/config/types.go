package config

import "time"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Bus backends.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
)

// Config is the complete server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// GraphQLPath is the path serving queries, mutations and the subscription socket.
	GraphQLPath string `yaml:"graphqlPath"`
	// AppSecret signs and verifies bearer credentials.
	AppSecret string `yaml:"appSecret"`
	// TokenTTL is the lifetime of issued credentials. Zero issues non-expiring tokens.
	TokenTTL time.Duration `yaml:"tokenTTL"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// Dev relaxes secret validation for local development.
	Dev bool `yaml:"dev"`

	Store StoreConfig `yaml:"store"`
	Bus   BusConfig   `yaml:"bus"`
	Log   LogConfig   `yaml:"log"`
	CORS  CORSConfig  `yaml:"cors"`
	WS    WSConfig    `yaml:"websocket"`

	// envErrors holds CHATD_* values ApplyEnv could not parse.
	envErrors []error
}

// StoreConfig selects the data store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// AutoMigrate runs schema migration when the server starts.
	AutoMigrate bool `yaml:"autoMigrate"`
}

// BusConfig selects the topic bus backend.
type BusConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	// Buffer is the per-subscriber queue length before the oldest event is dropped.
	Buffer int `yaml:"buffer"`
	// Prefix namespaces broker channels or subjects.
	Prefix string `yaml:"prefix"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CORSConfig configures cross-origin access to the HTTP endpoints.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// WSConfig configures the subscription socket.
type WSConfig struct {
	// KeepAlive is the legacy-protocol "ka" interval. Zero disables it.
	KeepAlive time.Duration `yaml:"keepAlive"`
	// SkipOriginVerify accepts upgrades from any Origin.
	SkipOriginVerify bool `yaml:"skipOriginVerify"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:          ":8080",
		GraphQLPath:     "/graphql",
		TokenTTL:        720 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
		Store: StoreConfig{
			Driver:      DriverSQLite,
			DSN:         "chatd.db",
			AutoMigrate: true,
		},
		Bus: BusConfig{
			Backend: BusMemory,
			Buffer:  64,
			Prefix:  "chatd.conversation.",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		WS: WSConfig{
			KeepAlive:        15 * time.Second,
			SkipOriginVerify: true,
		},
	}
}

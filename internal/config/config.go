package config

import "time"

// FeedConfig is the root configuration for a dtcfeed instance.
type FeedConfig struct {
	Instance      InstanceConfig       `yaml:"instance"`
	DTC           DTCConfig            `yaml:"dtc"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Feed          ManagerConfig        `yaml:"feed"`
	Router        RouterConfig         `yaml:"router"`
	Redis         RedisConfig          `yaml:"redis"`
	Database      DBConfig             `yaml:"database"`
	Writer        WriterConfig         `yaml:"writer"`
	Poller        PollerConfig         `yaml:"poller"`
	Server        ServerConfig         `yaml:"server"`
	Tracing       TracingConfig        `yaml:"tracing"`
	Log           LogConfig            `yaml:"log"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// DTCConfig holds the DTC server and session settings.
type DTCConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	Encoding          string        `yaml:"encoding"` // "binary" or "json"
	ClientName        string        `yaml:"client_name"`
	TradeMode         int           `yaml:"trade_mode"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"` // 0: 2.5x interval, <0: disabled
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	HandshakeGrace    time.Duration `yaml:"handshake_grace"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxFrameSize      int           `yaml:"max_frame_size"`
	EventBufferSize   int           `yaml:"event_buffer_size"`
}

// SubscriptionConfig is one instrument subscribed at startup.
type SubscriptionConfig struct {
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
}

// ManagerConfig holds feed manager (reconnect) settings.
type ManagerConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	OutputBufferSize   int           `yaml:"output_buffer_size"`
	SubscribeTimeout   time.Duration `yaml:"subscribe_timeout"`
}

// RouterConfig holds quote router buffer settings.
type RouterConfig struct {
	RecordBufferSize    int `yaml:"record_buffer_size"`
	BroadcastBufferSize int `yaml:"broadcast_buffer_size"`
	BroadcastLimit      int `yaml:"broadcast_limit"` // 0: default, -1: unbounded
}

// RedisConfig holds the latest-quote mirror. Empty Addr disables it.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Channel   string `yaml:"channel"`
}

// DBConfig holds the PostgreSQL connection. Empty Host disables recording.
type DBConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Name         string `yaml:"name"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxConns     int    `yaml:"max_conns"`
	MinConns     int    `yaml:"min_conns"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool { return db.Host != "" }

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// PollerConfig holds snapshot poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	ChunkSize   int           `yaml:"chunk_size"`
}

// ServerConfig holds the HTTP API settings. Port -1 disables the server.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

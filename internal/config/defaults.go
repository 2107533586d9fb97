package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID          = "dtcfeed"
	DefaultDTCHost             = "127.0.0.1"
	DefaultDTCPort             = 11099
	DefaultEncoding            = "binary"
	DefaultClientName          = "dtc-feed"
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultConnectTimeout      = 10 * time.Second
	DefaultHandshakeGrace      = 5 * time.Second
	DefaultDTCWriteTimeout     = 5 * time.Second
	DefaultMaxFrameSize        = 16 * 1024
	DefaultEventBufferSize     = 256
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultOutputBufferSize    = 1024
	DefaultSubscribeTimeout    = 5 * time.Second
	DefaultRecordBufferSize    = 5000
	DefaultBroadcastBufferSize = 1000
	DefaultBroadcastLimit      = 10000
	DefaultRedisKeyPrefix      = "dtc:"
	DefaultRedisChannel        = "dtc:quotes"
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 1000
	DefaultFlushInterval       = 1 * time.Second
	DefaultPollInterval        = 1 * time.Minute
	DefaultPollConcurrency     = 4
	DefaultPollChunkSize       = 500
	DefaultServerPort          = 8080
	DefaultServerMode          = "release"
	DefaultServiceName         = "dtc-feed"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *FeedConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// DTC defaults
	if c.DTC.Host == "" {
		c.DTC.Host = DefaultDTCHost
	}
	if c.DTC.Port == 0 {
		c.DTC.Port = DefaultDTCPort
	}
	if c.DTC.Encoding == "" {
		c.DTC.Encoding = DefaultEncoding
	}
	if c.DTC.ClientName == "" {
		c.DTC.ClientName = DefaultClientName
	}
	if c.DTC.HeartbeatInterval == 0 {
		c.DTC.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.DTC.ConnectTimeout == 0 {
		c.DTC.ConnectTimeout = DefaultConnectTimeout
	}
	if c.DTC.HandshakeGrace == 0 {
		c.DTC.HandshakeGrace = DefaultHandshakeGrace
	}
	if c.DTC.WriteTimeout == 0 {
		c.DTC.WriteTimeout = DefaultDTCWriteTimeout
	}
	if c.DTC.MaxFrameSize == 0 {
		c.DTC.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.DTC.EventBufferSize == 0 {
		c.DTC.EventBufferSize = DefaultEventBufferSize
	}

	// Feed defaults
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.OutputBufferSize == 0 {
		c.Feed.OutputBufferSize = DefaultOutputBufferSize
	}
	if c.Feed.SubscribeTimeout == 0 {
		c.Feed.SubscribeTimeout = DefaultSubscribeTimeout
	}

	// Router defaults
	if c.Router.RecordBufferSize == 0 {
		c.Router.RecordBufferSize = DefaultRecordBufferSize
	}
	if c.Router.BroadcastBufferSize == 0 {
		c.Router.BroadcastBufferSize = DefaultBroadcastBufferSize
	}
	if c.Router.BroadcastLimit == 0 {
		c.Router.BroadcastLimit = DefaultBroadcastLimit
	}

	// Redis defaults
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.ChunkSize == 0 {
		c.Poller.ChunkSize = DefaultPollChunkSize
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.Mode == "" {
		c.Server.Mode = DefaultServerMode
	}

	// Tracing and logging defaults
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

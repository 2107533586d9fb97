package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// maxFrameSizeLimit is the largest size a 2-byte length prefix can carry.
	maxFrameSizeLimit = 64 * 1024

	// minFrameSize fits a LogonResponse, the largest fixed server message.
	minFrameSize = 256
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.DTC.validate(); err != nil {
		return err
	}

	for i, s := range c.Subscriptions {
		if s.Symbol == "" {
			return fmt.Errorf("subscriptions[%d].symbol is required", i)
		}
	}

	if c.Feed.ReconnectBaseDelay <= 0 {
		return errors.New("feed.reconnect_base_delay must be > 0")
	}
	if c.Feed.ReconnectMaxDelay < c.Feed.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Feed.ReconnectMaxDelay, c.Feed.ReconnectBaseDelay)
	}
	if c.Feed.OutputBufferSize < 1 {
		return errors.New("feed.output_buffer_size must be >= 1")
	}

	if c.Router.RecordBufferSize < 1 {
		return errors.New("router.record_buffer_size must be >= 1")
	}
	if c.Router.BroadcastLimit < -1 {
		return errors.New("router.broadcast_limit must be >= -1 (-1: unbounded)")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.FlushInterval <= 0 {
		return errors.New("writer.flush_interval must be > 0")
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Server.Port < -1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between -1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (d *DTCConfig) validate() error {
	if d.Host == "" {
		return errors.New("dtc.host is required")
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("dtc.port must be between 1 and 65535, got %d", d.Port)
	}
	switch d.Encoding {
	case "binary", "json":
	default:
		return fmt.Errorf("dtc.encoding must be binary or json, got %q", d.Encoding)
	}
	if d.TradeMode < 0 || d.TradeMode > 255 {
		return fmt.Errorf("dtc.trade_mode must fit in a byte, got %d", d.TradeMode)
	}
	if d.HeartbeatInterval < time.Second {
		return fmt.Errorf("dtc.heartbeat_interval must be at least 1s, got %v", d.HeartbeatInterval)
	}
	if d.HeartbeatTimeout > 0 && d.HeartbeatTimeout < d.HeartbeatInterval {
		return fmt.Errorf("dtc.heartbeat_timeout must be >= dtc.heartbeat_interval (%v), got %v",
			d.HeartbeatInterval, d.HeartbeatTimeout)
	}
	if d.ConnectTimeout <= 0 {
		return errors.New("dtc.connect_timeout must be > 0")
	}
	if d.MaxFrameSize < minFrameSize || d.MaxFrameSize > maxFrameSizeLimit {
		return fmt.Errorf("dtc.max_frame_size must be between %d and %d, got %d",
			minFrameSize, maxFrameSizeLimit, d.MaxFrameSize)
	}
	if d.EventBufferSize < 1 {
		return errors.New("dtc.event_buffer_size must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

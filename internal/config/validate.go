package config

import (
	"errors"
	"fmt"
)

// Validate checks that all values are usable together.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen is required")
	}

	t := &c.Transport
	if t.PingInterval <= 0 {
		return errors.New("transport.ping_interval must be > 0")
	}
	if t.PingTimeout <= 0 {
		return errors.New("transport.ping_timeout must be > 0")
	}
	if t.UpgradeTimeout <= 0 {
		return errors.New("transport.upgrade_timeout must be > 0")
	}
	if t.PollWait <= 0 {
		return errors.New("transport.poll_wait must be > 0")
	}
	if t.PollWait >= t.PingTimeout {
		return fmt.Errorf("transport.poll_wait (%s) must be shorter than ping_timeout (%s)",
			t.PollWait, t.PingTimeout)
	}
	if t.SendQueueSize < 1 {
		return errors.New("transport.send_queue_size must be >= 1")
	}
	if t.MaxMessageBytes < 1 {
		return errors.New("transport.max_message_bytes must be >= 1")
	}
	return nil
}

package config

import "time"

// Default values mirror the deployment this relay replaces.
const (
	DefaultListen          = ":4000"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultPingInterval    = 10 * time.Second
	DefaultPingTimeout     = 30 * time.Second
	DefaultUpgradeTimeout  = 20 * time.Second
	DefaultPollWait        = 25 * time.Second
	DefaultSendQueueSize   = 32
	DefaultMaxMessageBytes = 64 * 1024
)

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PingTimeout == 0 {
		c.Transport.PingTimeout = DefaultPingTimeout
	}
	if c.Transport.UpgradeTimeout == 0 {
		c.Transport.UpgradeTimeout = DefaultUpgradeTimeout
	}
	if c.Transport.PollWait == 0 {
		c.Transport.PollWait = DefaultPollWait
	}
	if c.Transport.SendQueueSize == 0 {
		c.Transport.SendQueueSize = DefaultSendQueueSize
	}
	if c.Transport.MaxMessageBytes == 0 {
		c.Transport.MaxMessageBytes = DefaultMaxMessageBytes
	}
}

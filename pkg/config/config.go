package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8090
	defaultQueueCapacity   = 4096
	defaultPendingTTL      = 30 * time.Second
	defaultPendingMax      = 1024
	defaultSweepInterval   = 5 * time.Second
	defaultNotifyBuffer    = 32
	defaultStoragePath     = "./.chatsync"
	defaultCacheSize       = 8 * 1024 * 1024
	defaultCheckpointCron  = "*/5 * * * *"
	defaultMarkReadRPS     = 5
	defaultMarkReadBurst   = 10
	defaultServerRateRPS   = 200
	defaultServerRateBurst = 400
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateConfig applies defaults and validates values in the config. It
// mutates the receiver to fill in missing defaults.
func (c *Config) ValidateConfig() error {
	if strings.TrimSpace(c.Sync.LocalUserID) == "" {
		return fmt.Errorf("sync.local_user_id is required: set it in config or CHATSYNC_LOCAL_USER_ID")
	}
	if c.Sync.QueueCapacity <= 0 {
		c.Sync.QueueCapacity = defaultQueueCapacity
	}
	if c.Sync.PendingTTL.Duration() <= 0 {
		c.Sync.PendingTTL = Duration(defaultPendingTTL)
	}
	if c.Sync.PendingMax <= 0 {
		c.Sync.PendingMax = defaultPendingMax
	}
	if c.Sync.SweepInterval.Duration() <= 0 {
		c.Sync.SweepInterval = Duration(defaultSweepInterval)
	}
	if c.Sync.NotifyBuffer <= 0 {
		c.Sync.NotifyBuffer = defaultNotifyBuffer
	}

	if c.Server.RateLimit.RPS <= 0 {
		c.Server.RateLimit.RPS = defaultServerRateRPS
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = defaultServerRateBurst
	}

	if c.Transport.MarkReadRPS <= 0 {
		c.Transport.MarkReadRPS = defaultMarkReadRPS
	}
	if c.Transport.MarkReadBurst <= 0 {
		c.Transport.MarkReadBurst = defaultMarkReadBurst
	}

	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Storage.CacheSize <= 0 {
		c.Storage.CacheSize = SizeBytes(defaultCacheSize)
	}
	if c.Storage.CheckpointCron == "" {
		c.Storage.CheckpointCron = defaultCheckpointCron
	}
	if !gronx.New().IsValid(c.Storage.CheckpointCron) {
		return fmt.Errorf("invalid storage.checkpoint_cron expression: %s", c.Storage.CheckpointCron)
	}
	return nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

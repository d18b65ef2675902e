package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sync      SyncConfig      `yaml:"sync"`
	Storage   StorageConfig   `yaml:"storage"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP adapter settings.
type ServerConfig struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// LocalUserID is the identity whose messages are never counted unread and
	// whose reaction is reported as the caller reaction.
	LocalUserID   string   `yaml:"local_user_id"`
	QueueCapacity int      `yaml:"queue_capacity"`
	PendingTTL    Duration `yaml:"pending_ttl"`
	PendingMax    int      `yaml:"pending_max"`
	SweepInterval Duration `yaml:"sweep_interval"`
	NotifyBuffer  int      `yaml:"notify_buffer"`
}

// StorageConfig controls the local snapshot store.
type StorageConfig struct {
	Enabled        bool      `yaml:"enabled"`
	Path           string    `yaml:"path"`
	CacheSize      SizeBytes `yaml:"cache_size"`
	CheckpointCron string    `yaml:"checkpoint_cron"`
	SyncWrites     bool      `yaml:"sync_writes"`
}

// TransportConfig throttles outbound requests.
type TransportConfig struct {
	MarkReadRPS   float64 `yaml:"mark_read_rps"`
	MarkReadBurst int     `yaml:"mark_read_burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

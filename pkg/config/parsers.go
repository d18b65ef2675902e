package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Data   string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged configuration and where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	Source string // "defaults", "config", "env" or "flags", joined with "+"
}

// ParseConfigFlags parses command-line flags from args.
func ParseConfigFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("chatsync", flag.ContinueOnError)
	addrPtr := fs.String("addr", ":8090", "HTTP listen address")
	dataPtr := fs.String("data", "./.chatsync", "snapshot store path")
	cfgPtr := fs.String("config", "./config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, Data: *dataPtr, Config: *cfgPtr, Set: set}, nil
}

// ParseConfigFile loads the config file named by flags or env. A missing file
// is not an error unless it was requested explicitly.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if flags.Set["config"] {
				return nil, false, fmt.Errorf("config file not found: %s", path)
			}
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// envLookup abstracts os.LookupEnv for tests.
type envLookup func(string) (string, bool)

// ApplyEnv overrides cfg with any CHATSYNC_* variables that are set and
// reports whether at least one was used.
func ApplyEnv(cfg *Config) (bool, error) {
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup envLookup) (bool, error) {
	used := false
	get := func(name string) (string, bool) {
		v, ok := lookup("CHATSYNC_" + name)
		v = strings.TrimSpace(v)
		if ok && v != "" {
			used = true
			return v, true
		}
		return "", false
	}
	var errs []error
	parseInt := func(name, v string) int {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_%s: %w", name, err))
		}
		return n
	}
	parseFloat := func(name, v string) float64 {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_%s: %w", name, err))
		}
		return f
	}
	parseBool := func(v string) bool {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}

	if v, ok := get("ADDR"); ok {
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			cfg.Server.Port = parseInt("ADDR", p)
		} else {
			cfg.Server.Address = v
		}
	}
	if v, ok := get("SERVER_PORT"); ok {
		cfg.Server.Port = parseInt("SERVER_PORT", v)
	}
	if v, ok := get("RATE_RPS"); ok {
		cfg.Server.RateLimit.RPS = parseFloat("RATE_RPS", v)
	}
	if v, ok := get("RATE_BURST"); ok {
		cfg.Server.RateLimit.Burst = parseInt("RATE_BURST", v)
	}

	if v, ok := get("LOCAL_USER_ID"); ok {
		cfg.Sync.LocalUserID = v
	}
	if v, ok := get("QUEUE_CAPACITY"); ok {
		cfg.Sync.QueueCapacity = parseInt("QUEUE_CAPACITY", v)
	}
	if v, ok := get("PENDING_TTL"); ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_PENDING_TTL: %w", err))
		}
		cfg.Sync.PendingTTL = d
	}
	if v, ok := get("PENDING_MAX"); ok {
		cfg.Sync.PendingMax = parseInt("PENDING_MAX", v)
	}
	if v, ok := get("SWEEP_INTERVAL"); ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_SWEEP_INTERVAL: %w", err))
		}
		cfg.Sync.SweepInterval = d
	}
	if v, ok := get("NOTIFY_BUFFER"); ok {
		cfg.Sync.NotifyBuffer = parseInt("NOTIFY_BUFFER", v)
	}

	if v, ok := get("STORAGE_ENABLED"); ok {
		cfg.Storage.Enabled = parseBool(v)
	}
	if v, ok := get("STORAGE_PATH"); ok {
		cfg.Storage.Path = v
	}
	if v, ok := get("STORAGE_CACHE_SIZE"); ok {
		s, err := parseSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATSYNC_STORAGE_CACHE_SIZE: %w", err))
		}
		cfg.Storage.CacheSize = s
	}
	if v, ok := get("CHECKPOINT_CRON"); ok {
		cfg.Storage.CheckpointCron = v
	}
	if v, ok := get("STORAGE_SYNC_WRITES"); ok {
		cfg.Storage.SyncWrites = parseBool(v)
	}

	if v, ok := get("MARK_READ_RPS"); ok {
		cfg.Transport.MarkReadRPS = parseFloat("MARK_READ_RPS", v)
	}
	if v, ok := get("MARK_READ_BURST"); ok {
		cfg.Transport.MarkReadBurst = parseInt("MARK_READ_BURST", v)
	}

	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = v
	}
	return used, errors.Join(errs...)
}

// LoadEffectiveConfig layers the config file, then environment, then flags
// that were set explicitly.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	cfg := &Config{}
	sources := []string{"defaults"}
	if fileExists && fileCfg != nil {
		*cfg = *fileCfg
		sources = append(sources, "config")
	}
	envUsed, err := ApplyEnv(cfg)
	if err != nil {
		return res, err
	}
	if envUsed {
		sources = append(sources, "env")
	}
	if flags.Set["addr"] || flags.Set["data"] {
		sources = append(sources, "flags")
	}
	if flags.Set["addr"] {
		host, port, err := net.SplitHostPort(flags.Addr)
		if err != nil {
			return res, fmt.Errorf("invalid -addr %q: %w", flags.Addr, err)
		}
		cfg.Server.Address = host
		if port != "" {
			p, err := strconv.Atoi(port)
			if err != nil {
				return res, fmt.Errorf("invalid -addr port %q: %w", port, err)
			}
			cfg.Server.Port = p
		}
	}
	if flags.Set["data"] {
		cfg.Storage.Path = flags.Data
	}
	res.Config = cfg
	res.Addr = cfg.Addr()
	res.Source = strings.Join(sources, "+")
	return res, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

// set by -ldflags
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[1:])
	if err != nil {
		abort("invalid flags", err)
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		abort("failed to load config file", err)
	}

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists)
	if err != nil {
		abort("failed to build effective config", err)
	}

	if err := eff.Config.ValidateConfig(); err != nil {
		abort("invalid configuration", err)
	}

	logger.Init(eff.Config.Logging.Level)
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr)
	logSummary(eff)

	a, err := app.New(eff, versionString())
	if err != nil {
		abort("failed to initialize app", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErr := a.Run(ctx)
	if runErr != nil {
		logger.Error("app_run_failed", "error", runErr)
	}

	// bounded so teardown cannot hang forever
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("app_shutdown_failed", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func versionString() string {
	v := version
	if commit != "none" {
		v += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		v += " @ " + buildDate
	}
	return v
}

func logSummary(eff config.EffectiveConfigResult) {
	c := eff.Config
	items := []string{
		fmt.Sprintf("local_user_id: %s", c.Sync.LocalUserID),
		fmt.Sprintf("queue_capacity: %s", humanize.Comma(int64(c.Sync.QueueCapacity))),
		fmt.Sprintf("pending: max %s, ttl %s", humanize.Comma(int64(c.Sync.PendingMax)), c.Sync.PendingTTL.Duration()),
		fmt.Sprintf("mark_read_rate: %.1f/s burst %d", c.Transport.MarkReadRPS, c.Transport.MarkReadBurst),
	}
	if c.Storage.Enabled {
		items = append(items,
			fmt.Sprintf("storage: %s (cache %s, sync_writes %t)", c.Storage.Path, humanize.IBytes(uint64(c.Storage.CacheSize.Int64())), c.Storage.SyncWrites),
			fmt.Sprintf("checkpoint_cron: %s", c.Storage.CheckpointCron),
		)
	} else {
		items = append(items, "storage: disabled")
	}
	logger.LogConfigSummary("config_summary", items)
}

func abort(msg string, err error) {
	fmt.Fprintf(os.Stderr, "chatsync: %s: %v\n", msg, err)
	os.Exit(1)
}

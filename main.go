package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thushan/perch/internal/app"
	"github.com/thushan/perch/internal/config"
	"github.com/thushan/perch/internal/logger"
	"github.com/thushan/perch/internal/version"
	"github.com/thushan/perch/pkg/format"
	"github.com/thushan/perch/pkg/nerdstats"
)

// 0 clean stop, 1 the process never came up, 2 it came up and then broke
const (
	exitOK      = 0
	exitStartup = 1
	exitRuntime = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()

	// .env is optional; real env always wins
	_ = godotenv.Load()

	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		return exitOK
	}
	version.PrintVersionInfo(false, vlog)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitStartup
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		Theme:      cfg.Logging.Theme,
		LogDir:     cfg.Logging.LogDir,
		FileOutput: cfg.Logging.FileOutput,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		return exitStartup
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	config.OnChange(func(updated *config.Config) {
		logger.SetLevel(updated.Logging.Level)
		styledLogger.Info("Configuration reloaded", "log_level", updated.Logging.Level)
	})

	engine := app.New(cfg, styledLogger, startTime)
	engine.OnShutdownRequest(cancel)

	if err := engine.Initialize(ctx); err != nil {
		styledLogger.Error("Failed to initialise engine", "error", err)
		return exitStartup
	}
	if err := engine.Start(ctx); err != nil {
		styledLogger.Error("Failed to start engine", "error", err)
		_ = engine.Stop(context.Background())
		return exitStartup
	}

	<-ctx.Done()

	code := exitOK
	if err := engine.Stop(context.Background()); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
		code = exitRuntime
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("Perch has shutdown")
	return code
}

func reportProcessStats(styledLogger *logger.StyledLogger, startTime time.Time) {
	runtime.GC()
	stats := nerdstats.Snapshot(startTime)

	styledLogger.Info("Process Stats",
		"uptime", format.Duration(stats.Uptime),
		"heap_alloc", format.Count(int64(stats.HeapAlloc)),
		"total_alloc", format.Count(int64(stats.TotalAlloc)),
		"net_objects", stats.NetObjects,
		"num_gc_cycles", stats.NumGC,
		"gc_cpu", format.Percentage(stats.GCCPUFraction*100),
		"num_goroutines", stats.NumGoroutines,
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/ccgateway/internal/api"
	"github.com/mattjoyce/ccgateway/internal/broker"
	"github.com/mattjoyce/ccgateway/internal/config"
	"github.com/mattjoyce/ccgateway/internal/dispatch"
	"github.com/mattjoyce/ccgateway/internal/lock"
	"github.com/mattjoyce/ccgateway/internal/log"
	"github.com/mattjoyce/ccgateway/internal/metrics"
	"github.com/mattjoyce/ccgateway/internal/plugin"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// run starts the gateway and blocks until ctx is cancelled or a component
// fails. It returns the process exit status.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("ccgateway", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Log every request stage")
	configDir := fs.String("config", ".", "Configuration directory or file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stderr, "ccgateway version %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("ccgateway starting", "version", version, "config", cfg.SourceFiles, "verbose", *verbose)
	if *verbose {
		logger.Info("verbose logging enabled")
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	if cfg.PIDFile != "" {
		pidLock, err := lock.Acquire(cfg.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock", "path", cfg.PIDFile, "error", err)
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", pidLock.Path())
	}

	pluginLogger := log.WithComponent("plugin")
	registry, diagnostics, err := plugin.Load(cfg.PluginsDir, plugin.LoadOptions{
		GatewayVersion: version,
		Logger: func(level, msg string, args ...any) {
			switch level {
			case "debug":
				pluginLogger.Debug(msg, args...)
			case "info":
				pluginLogger.Info(msg, args...)
			case "warn":
				pluginLogger.Warn(msg, args...)
			case "error":
				pluginLogger.Error(msg, args...)
			}
		},
	})
	for _, d := range diagnostics {
		fmt.Fprintln(stderr, d)
	}
	if err != nil {
		logger.Error("plugin discovery failed", "plugins_dir", cfg.PluginsDir, "error", err)
		if errors.Is(err, plugin.ErrPluginDirNotFound) {
			fmt.Fprintf(stderr, "Plugin directory %s not found.\n", cfg.PluginsDir)
		} else {
			fmt.Fprintf(stderr, "Plugin discovery failed: %v\n", err)
		}
		return 1
	}
	if registry.Len() == 0 {
		logger.Warn("no actions loaded; every request will be answered with miss", "plugins_dir", cfg.PluginsDir)
	}
	logger.Info("plugin discovery complete", "actions", registry.Len())

	m := metrics.New()
	worker := dispatch.New(registry, cfg, dispatch.Options{
		Verbose:  *verbose,
		Logger:   log.WithComponent("dispatch"),
		Recorder: m,
	})
	gw := broker.New(broker.Options{
		BindIP:  cfg.BindIP,
		Port:    cfg.Port,
		Verbose: *verbose,
		Logger:  log.WithComponent("broker"),
		Drops:   m,
	}, worker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gw.Run(gctx); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		return nil
	})

	if cfg.Admin.Enabled {
		adminServer := api.New(api.Config{Listen: cfg.Admin.Listen}, registry, gw, m.Handler(), log.WithComponent("api"))
		g.Go(func() error {
			if err := adminServer.Start(gctx); err != nil {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
		logger.Info("admin server enabled", "listen", cfg.Admin.Listen)
	}

	logger.Info("ccgateway running (press Ctrl+C to stop)", "bind_ip", cfg.BindIP, "port", cfg.Port)

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	logger.Info("ccgateway stopped")
	return 0
}

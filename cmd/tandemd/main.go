// Package main is the entry point for the tandem collaboration server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/tandem/internal/config"
	"github.com/dshills/tandem/internal/logging"
	"github.com/dshills/tandem/internal/policy"
	"github.com/dshills/tandem/internal/transport"
	"github.com/dshills/tandem/internal/transport/redisbus"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	addr       string
	logLevel   string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel(),
		Output: os.Stderr,
		Prefix: cfg.Logging.Prefix,
	})
	logging.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverOpts := []transport.ServerOption{transport.WithLogger(logger)}
	if cfg.Redis.Enabled {
		bus, err := redisbus.Open(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("%v", err)
			return 1
		}
		defer bus.Close()
		serverOpts = append(serverOpts, transport.WithRelay(bus), transport.WithReplicaAllocator(bus))
		logger.Info("sharing documents through redis at %s", cfg.Redis.Addr)
	}
	if cfg.Server.PolicyScript != "" {
		p, err := policy.Load(cfg.Server.PolicyScript, policy.WithLogger(logger))
		if err != nil {
			logger.Error("%v", err)
			return 1
		}
		defer p.Close()
		serverOpts = append(serverOpts, transport.WithAdmitter(p))
		logger.Info("vetting edits with %s", cfg.Server.PolicyScript)
	}
	server := transport.NewServer(cfg, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })

	if opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, cfg, config.WithWatchLogger(logger))
		if err != nil {
			logger.Warn("not watching %s: %v", opts.configPath, err)
		} else {
			watcher.OnChange(func(next *config.Config) {
				logger.SetLevel(next.LogLevel())
				logger.Info("reloaded %s; log level %s", opts.configPath, next.LogLevel())
			})
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	logger.Info("tandemd %s starting", version)
	if err := g.Wait(); err != nil {
		logger.Error("%v", err)
		return 1
	}
	logger.Info("stopped")
	return 0
}

func parseFlags() options {
	var opts options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.configPath, "config", "", "Path to a TOML or YAML configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to a TOML or YAML configuration file (shorthand)")
	flag.StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tandemd - collaborative text document server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tandemd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables prefixed with %s override the file.\n", config.EnvPrefix)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tandemd                         Serve on :7420 with defaults\n")
		fmt.Fprintf(os.Stderr, "  tandemd -c tandem.toml          Load and watch a config file\n")
		fmt.Fprintf(os.Stderr, "  TANDEM_REDIS_ENABLED=true tandemd  Share documents across instances\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("tandemd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}

// Command basileusd is the basileus music streaming daemon: it indexes
// the configured music directories into a SQLite catalog and serves a
// browse/stream HTTP API next to the static web client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tworaz/basileus/internal/config"
	"github.com/tworaz/basileus/internal/daemon"
	"github.com/tworaz/basileus/internal/log"
	"github.com/tworaz/basileus/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("c", "", "path to configuration file")
		showVersion = flag.Bool("v", false, "print version and exit")
		noColor     = flag.Bool("n", false, "disable colored log output")
		trace       = flag.Bool("t", false, "enable trace logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("basileusd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	// Configure must run before Load: loading the config file already
	// logs, and the first configuration wins.
	log.Configure(log.Config{
		Service: "basileus",
		NoColor: *noColor,
		Trace:   *trace,
	})
	logger := log.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "basileusd: %v\n", err)
		return 1
	}
	if !*trace {
		log.SetLevel(cfg.LogLevel)
	}

	logger.Info().
		Str("event", "daemon.boot").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("basileusd starting")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	app, err := daemon.NewApp(cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "daemon.init_failed").Msg("startup failed")
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		return 1
	}

	logger.Info().Str("event", "daemon.exit").Msg("basileusd stopped")
	return 0
}

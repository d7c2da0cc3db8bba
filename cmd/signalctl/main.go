package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/traffic.control/internal/config"
	"github.com/banshee-data/traffic.control/internal/db"
	"github.com/banshee-data/traffic.control/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the control configuration JSON")
	dbPath      = flag.String("db", "", "SQLite database path (overrides db_path)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides listen)")
	devMode     = flag.Bool("dev", false, "Drive the loop from the built-in congested fixture")
	replayPath  = flag.String("replay", "", "Replay frames from a JSON fixture")
	simAddr     = flag.String("sim-addr", "", "Simulator TCP address (overrides simulator.addr)")
	ticks       = flag.Uint64("ticks", 0, "Stop after this many ticks (0 uses tick_limit)")
	interval    = flag.Duration("interval", 0, "Tick interval (0 uses tick_interval)")
	plotRunID   = flag.String("plot-run", "", "Render PNG plots for a stored run and exit")
	plotDir     = flag.String("plot-dir", "", "Output directory for -plot-run (default plots/<run>)")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	// The migrate subcommand takes its own arguments and skips the loop.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		path := os.Getenv("SIGNALCTL_DB")
		if path == "" {
			path = "signalctl.db"
		}
		if err := db.RunMigrateCommand(os.Args[2:], path, os.Stdout); err != nil {
			if errors.Is(err, db.ErrMigrateUsage) {
				os.Exit(2)
			}
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	o := options{
		ConfigPath: *configPath,
		DBPath:     *dbPath,
		Listen:     *listen,
		Dev:        *devMode,
		ReplayPath: *replayPath,
		SimAddr:    *simAddr,
		Ticks:      *ticks,
		Interval:   *interval,
	}

	if *plotRunID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := plotStoredRun(ctx, o, *plotRunID, *plotDir); err != nil {
			log.Fatalf("plot: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("signalctl: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

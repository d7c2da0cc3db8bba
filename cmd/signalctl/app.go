package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/traffic.control/internal/api"
	"github.com/banshee-data/traffic.control/internal/broadcast"
	"github.com/banshee-data/traffic.control/internal/config"
	"github.com/banshee-data/traffic.control/internal/coordination"
	"github.com/banshee-data/traffic.control/internal/db"
	"github.com/banshee-data/traffic.control/internal/metrics"
	"github.com/banshee-data/traffic.control/internal/report"
	"github.com/banshee-data/traffic.control/internal/security"
	"github.com/banshee-data/traffic.control/internal/simulator"
	"github.com/banshee-data/traffic.control/internal/timeutil"
)

// options are the resolved command-line settings. Empty or zero fields
// fall back to the configuration file.
type options struct {
	ConfigPath string
	DBPath     string
	Listen     string
	Dev        bool
	ReplayPath string
	SimAddr    string
	Ticks      uint64
	Interval   time.Duration

	// ready, when set, receives the bound HTTP address once serving.
	ready chan<- string
}

func (o options) dbPath(cfg *config.ControlConfig) string {
	if o.DBPath != "" {
		return o.DBPath
	}
	return cfg.GetDBPath()
}

func (o options) listen(cfg *config.ControlConfig) string {
	if o.Listen != "" {
		return o.Listen
	}
	return cfg.GetListen()
}

func (o options) tickLimit(cfg *config.ControlConfig) uint64 {
	if o.Ticks > 0 {
		return o.Ticks
	}
	return cfg.GetTickLimit()
}

func (o options) interval(cfg *config.ControlConfig) time.Duration {
	if o.Interval > 0 {
		return o.Interval
	}
	return cfg.GetTickInterval()
}

// openSource picks the telemetry source: the dev fixture, a replay file
// or a remote simulator, in that order of precedence.
func openSource(o options, cfg *config.ControlConfig) (simulator.Source, string, error) {
	switch {
	case o.Dev:
		return simulator.NewDevStatic(), "dev", nil
	case o.ReplayPath != "":
		if err := security.ValidateReadPath(o.ReplayPath); err != nil {
			return nil, "", err
		}
		r, err := simulator.LoadReplayUnit(o.ReplayPath, cfg.GetSpeedUnit())
		if err != nil {
			return nil, "", err
		}
		return r, "replay:" + o.ReplayPath, nil
	}

	addr := o.SimAddr
	if addr == "" && cfg.Simulator != nil {
		addr = cfg.Simulator.Addr
	}
	if addr == "" {
		return nil, "", errors.New("no telemetry source: use -dev, -replay or -sim-addr")
	}
	c := simulator.NewTCPClient(addr,
		simulator.WithFetchTimeout(cfg.GetFetchTimeout(simulator.DefaultFetchTimeout)),
		simulator.WithSpeedUnit(cfg.GetSpeedUnit()),
	)
	return c, "tcp:" + addr, nil
}

// publishers builds the external broadcast targets named in cfg.
func publishers(cfg *config.ControlConfig) ([]broadcast.Publisher, error) {
	if cfg.Broadcast == nil {
		return nil, nil
	}
	var out []broadcast.Publisher
	if k := cfg.Broadcast.Kafka; k != nil {
		p, err := broadcast.NewKafkaPublisher(k.Brokers, k.Topic)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		out = append(out, p)
	}
	if m := cfg.Broadcast.MQTT; m != nil {
		p, err := broadcast.NewMQTTPublisher(m.Broker, m.GetClientID(), m.GetTopicPrefix(), byte(m.GetQoS()))
		if err != nil {
			for _, prev := range out {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// buildManager wires the configured network, agents and monitors.
func buildManager(cfg *config.ControlConfig, limit uint64, sink coordination.Sink) (*coordination.Manager, error) {
	network, err := cfg.BuildNetwork()
	if err != nil {
		return nil, err
	}
	agents, err := cfg.BuildAgents()
	if err != nil {
		return nil, err
	}
	monitors, err := cfg.BuildMonitors()
	if err != nil {
		return nil, err
	}

	mgr := coordination.NewManager(network,
		coordination.WithSink(sink),
		coordination.WithTickLimit(limit),
	)
	for _, a := range agents {
		if err := mgr.RegisterAgent(a); err != nil {
			return nil, err
		}
	}
	for _, m := range monitors {
		if err := mgr.RegisterMonitor(m); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// run starts the HTTP API and drives the coordination loop until ctx is
// cancelled, the source runs dry or the tick limit is reached.
func run(ctx context.Context, o options) error {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	src, sourceName, err := openSource(o, cfg)
	if err != nil {
		return err
	}
	if c, ok := src.(interface{ Close() error }); ok {
		defer c.Close()
	}

	database, err := db.NewDB(o.dbPath(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	clock := timeutil.RealClock{}
	runRec, err := database.StartRun(ctx, filepath.Base(o.ConfigPath), sourceName, string(cfgJSON), clock.Now())
	if err != nil {
		return err
	}
	log.Printf("Started run %s (source %s)", runRec.ID, sourceName)

	pubs, err := publishers(cfg)
	if err != nil {
		return err
	}
	busOpts := []broadcast.BusOption{broadcast.WithClock(clock)}
	for _, p := range pubs {
		busOpts = append(busOpts, broadcast.WithPublisher(p))
	}
	bus := broadcast.NewBus(busOpts...)
	defer bus.Close()

	m := metrics.New()
	sink := coordination.MultiSink{
		&report.LogSink{},
		db.NewRecorder(database, runRec.ID, clock),
		m,
		bus,
	}
	mgr, err := buildManager(cfg, o.tickLimit(cfg), sink)
	if err != nil {
		return err
	}
	if err := m.WatchSegments(mgr.Segments); err != nil {
		return err
	}

	debugMux := http.NewServeMux()
	if err := database.AttachAdminRoutes(debugMux); err != nil {
		return err
	}
	bus.AttachAdminRoutes(debugMux)

	srv := api.NewServer(mgr,
		api.WithStore(database),
		api.WithRunID(runRec.ID),
		api.WithMetrics(m.Handler()),
		api.WithDebug(debugMux),
	)

	ln, err := net.Listen("tcp", o.listen(cfg))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	server := &http.Server{Handler: srv.Handler()}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
			}
		}()
		log.Printf("HTTP API listening on %s", ln.Addr())
		if o.ready != nil {
			o.ready <- ln.Addr().String()
		}

		<-loopCtx.Done()
		log.Println("shutting down HTTP server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	loopErr := mgr.Run(loopCtx, clock, o.interval(cfg), src)
	cancel()
	wg.Wait()

	if err := database.FinishRun(context.Background(), runRec.ID, clock.Now()); err != nil {
		log.Printf("failed to finish run %s: %v", runRec.ID, err)
	}
	log.Printf("Run %s finished after %d ticks", runRec.ID, mgr.Tick())

	if errors.Is(loopErr, context.Canceled) {
		return nil
	}
	return loopErr
}

// plotStoredRun renders the charts of a recorded run into dir.
func plotStoredRun(ctx context.Context, o options, runID, dir string) error {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	database, err := db.NewDB(o.dbPath(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if _, err := database.GetRun(ctx, runID); err != nil {
		return err
	}
	rows, err := database.RunOutcomes(ctx, runID)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = filepath.Join("plots", security.SanitizeFilename(runID))
	}
	plots, err := report.PlotRun(rows, dir)
	if err != nil {
		return err
	}
	for _, p := range plots {
		fmt.Fprintf(os.Stdout, "%s: %s %s\n", p.IntersectionID, p.Green, p.Reward)
	}
	return nil
}

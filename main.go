// Command pressuremat runs the pressure-mat acquisition pipeline: it binds
// 1-3 sensor arrays over serial, time-aligns and re-indexes their frames, and
// serves them to consumers at the configured delivery tier. A debug HTTP
// surface exposes live statistics and the session database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gaitworks/pressuremat/internal/config"
	"github.com/gaitworks/pressuremat/internal/decode"
	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/pipeline"
	"github.com/gaitworks/pressuremat/internal/sensorlink"
	"github.com/gaitworks/pressuremat/internal/sessiondb"
	"github.com/gaitworks/pressuremat/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration file")
	devMode    = flag.Bool("dev", false, "Run with synthetic sensors instead of real serial ports")
	ports      = flag.String("ports", "", "Comma-separated serial port paths (overrides config)")
	tier       = flag.String("tier", "", "Delivery tier: standard, fast, or ultra (overrides config)")
	listen     = flag.String("listen", "", "Debug HTTP listen address (overrides config)")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("pressuremat %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	applyFlagOverrides(cfg)

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func applyFlagOverrides(cfg *config.Config) {
	if *ports != "" {
		cfg.Links.Ports = nil
		for _, p := range strings.Split(*ports, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Links.Ports = append(cfg.Links.Ports, p)
			}
		}
		cfg.Links.Mode = ""
	}
	if *tier != "" {
		cfg.Tier = *tier
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, paths, err := resolveLinks(cfg)
	if err != nil {
		return err
	}

	mode := cfg.ParsedMode()
	if mode == "" {
		switch len(paths) {
		case 1:
			mode = sensorlink.ModeSingle
		case 2:
			mode = sensorlink.ModeDual
		default:
			mode = sensorlink.ModeTriple
		}
	}
	log.Printf("binding %d link(s) in %s mode: %v", len(paths), mode, paths)

	mgr, err := sensorlink.Bind(sensorlink.ManagerConfig{
		Paths:            paths,
		Mode:             mode,
		Factory:          factory,
		Options:          cfg.Links.Serial,
		ReadTimeout:      time.Duration(cfg.Links.ReadTimeoutMs) * time.Millisecond,
		AccumulateFrames: cfg.Links.AccumulateFrames,
	})
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Config{
		Manager: mgr,
		Tier:    cfg.ParsedTier(),
		Shape:   cfg.ParsedShape(),
	})
	p.Start(ctx)
	defer p.Close()

	var db *sessiondb.DB
	if cfg.Session.DBPath != "" {
		db, err = sessiondb.Open(cfg.Session.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.MigrateUp(cfg.Session.MigrationsDir); err != nil {
			return err
		}
		go recordSamples(ctx, db, p, mgr, time.Duration(cfg.Session.SampleIntervalSec)*time.Second)
	}

	if cfg.Listen != "" {
		mux := http.NewServeMux()
		p.AttachAdminRoutes(mux)
		if db != nil {
			db.AttachAdminRoutes(mux)
		}
		srv := &http.Server{Addr: cfg.Listen, Handler: mux}
		go func() {
			log.Printf("debug HTTP server listening on %s", cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	go logStats(ctx, p)

	<-ctx.Done()
	log.Print("shutting down")
	return nil
}

// resolveLinks returns the port factory and the bound port paths, running
// discovery when no explicit ports are configured.
func resolveLinks(cfg *config.Config) (sensorlink.PortFactory, []string, error) {
	if *devMode {
		return devFactoryAndPaths(cfg)
	}

	factory := sensorlink.SerialFactory{}
	if len(cfg.Links.Ports) > 0 {
		return factory, cfg.Links.Ports, nil
	}

	window := time.Duration(cfg.Links.HandshakeWindowMs) * time.Millisecond
	paths, err := sensorlink.Discover(factory, cfg.Links.Serial, window)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no responding sensor ports found")
	}
	if len(paths) > matframe.MaxLinks {
		paths = paths[:matframe.MaxLinks]
	}
	return factory, paths, nil
}

// devFactoryAndPaths wires synthetic 32x32 sensors that emit frames at
// 100fps with an incrementing first-byte marker per device, mirroring the
// bench rig used for end-to-end checks.
func devFactoryAndPaths(cfg *config.Config) (sensorlink.PortFactory, []string, error) {
	count := len(cfg.Links.Ports)
	if count == 0 {
		count = 1
	}
	if count > matframe.MaxLinks {
		count = matframe.MaxLinks
	}

	portMap := map[string]sensorlink.Porter{}
	var paths []string
	for i := 0; i < count; i++ {
		path := fmt.Sprintf("mock%d", i)
		port := sensorlink.NewTestablePort()
		port.BlockReads = true
		marker := byte(i + 1)
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				body := make([]byte, matframe.MaxPayload)
				body[0] = marker
				port.AddReadData(decode.EncodeFrame(body))
			}
		}()
		portMap[path] = port
		paths = append(paths, path)
	}
	return sensorlink.NewMockFactory(portMap), paths, nil
}

// recordSamples periodically persists the statistics snapshot.
func recordSamples(ctx context.Context, db *sessiondb.DB, p *pipeline.Pipeline, mgr *sensorlink.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.Stats()
			var framingErrors, resyncs uint64
			for _, l := range snap.Links {
				framingErrors += l.FramingErrors
				resyncs += l.Resyncs
			}
			err := db.RecordSample(sessiondb.Sample{
				RecordedAt:    time.Now(),
				Tier:          snap.Tier,
				Sequence:      snap.Sequence,
				Combined:      snap.Combined,
				Delivered:     snap.Delivered,
				Dropped:       snap.Dropped,
				Skipped:       snap.Skipped,
				FramingErrors: framingErrors,
				Resyncs:       resyncs,
				ActiveLinks:   snap.ActiveLinks,
			})
			if err != nil {
				log.Printf("failed to record stats sample: %v", err)
			}
		}
	}
}

// logStats logs a one-line pipeline summary once a minute.
func logStats(ctx context.Context, p *pipeline.Pipeline) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	var lastCombined uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.Stats()
			log.Printf("pipeline stats: seq=%d combined=%d (+%d/min) delivered=%d dropped=%d skipped=%d depth=%d links=%d",
				snap.Sequence, snap.Combined, snap.Combined-lastCombined,
				snap.Delivered, snap.Dropped, snap.Skipped, snap.QueueDepth, snap.ActiveLinks)
			lastCombined = snap.Combined
		}
	}
}

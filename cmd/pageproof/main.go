// Package main runs the pageproof HTTP service: citation validation,
// deployment verification and page capture on one shared Chromium.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/pageproof/pkg/browser"
	"github.com/entrhq/pageproof/pkg/capture"
	"github.com/entrhq/pageproof/pkg/citation"
	"github.com/entrhq/pageproof/pkg/config"
	"github.com/entrhq/pageproof/pkg/deploy"
	"github.com/entrhq/pageproof/pkg/evidence"
	"github.com/entrhq/pageproof/pkg/frontend"
	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/probe"
	"github.com/entrhq/pageproof/pkg/server"
	"github.com/entrhq/pageproof/pkg/telemetry"
)

const version = "1.0.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	Addr        string
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("pageproof v%s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil {
		stop()
		log.Printf("pageproof failed: %v", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.Addr, "addr", "", "Listen address (overrides config and PORT)")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pageproof - browser-backed citation and deployment verification\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pageproof [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s                  listen port\n", config.EnvPort)
		fmt.Fprintf(os.Stderr, "  %s  base URL for evidence links\n\n", config.EnvPublicURL)
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  pageproof -config pageproof.yaml\n")
		fmt.Fprintf(os.Stderr, "  PORT=9000 pageproof\n\n")
	}

	flag.Parse()
	return cli
}

func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cli.Addr != "" {
		cfg.Server.Addr = cli.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

//nolint:gocyclo
func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Verbosity)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Logging.Dir, level); err != nil {
		return err
	}
	logger, err := logging.NewLogger("pageproof")
	if err != nil {
		logger.Warnf("continuing with stderr logging: %v", err)
	}
	defer logger.Close()

	prober, err := probe.New(cfg.Detection)
	if err != nil {
		return fmt.Errorf("invalid detection settings: %w", err)
	}

	// Resources are released in reverse order of acquisition on every return
	cleanup := &shutdownStack{}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		cleanup.run(shutdownCtx, logger)
	}()

	tracing, err := telemetry.Setup(telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	cleanup.push("tracer shutdown", tracing.Shutdown)

	store, err := evidence.OpenBoltStore(cfg.Evidence.Path, cfg.BaseURL())
	if err != nil {
		return fmt.Errorf("failed to open evidence store: %w", err)
	}
	cleanup.push("evidence store close", func(context.Context) error { return store.Close() })

	engine := browser.NewEngine(browser.EngineOptions{
		Headless:  cfg.Browser.Headless,
		Args:      cfg.Browser.Args,
		Install:   cfg.Browser.Install,
		UserAgent: cfg.Browser.UserAgent,
	}, logger.With("browser"))
	cleanup.push("browser shutdown", func(context.Context) error { return engine.Shutdown() })
	if err := engine.Start(); err != nil {
		// Keep serving; requests are refused with 503 and /health reports degraded
		logger.Errorf("browser failed to start: %v", err)
	}

	srv, err := server.New(server.Deps{
		Citations: citation.NewValidator(engine, prober, store, logger, citation.Options{
			MaxConcurrency:    cfg.Batch.MaxConcurrency,
			NavigationTimeout: browser.DefaultNavigationTimeout,
		}),
		Deployments: deploy.NewVerifier(engine, prober, store, logger, deploy.Options{
			NavigationTimeout: browser.DefaultNavigationTimeout,
		}),
		Capture: capture.NewCapturer(engine, store, logger, capture.Options{
			NavigationTimeout: browser.DefaultNavigationTimeout,
		}),
		Frontend: frontend.NewRunner(engine, store, logger, frontend.Options{
			NavigationTimeout: browser.DefaultNavigationTimeout,
		}),
		Browser:  engine,
		Evidence: store,
	}, logger, server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Version:      version,
	})
	if err != nil {
		return err
	}

	cleanup.push("http shutdown", srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Infof("pageproof v%s serving on %s (evidence at %s)", version, cfg.Server.Addr, cfg.BaseURL())

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		logger.Infof("shutting down")
		return nil
	}
}

// shutdownStack runs registered cleanups last-in first-out. A failing cleanup
// is logged and the rest still run.
type shutdownStack struct {
	steps []shutdownStep
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

func (s *shutdownStack) push(name string, fn func(context.Context) error) {
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

func (s *shutdownStack) run(ctx context.Context, logger *logging.Logger) {
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.fn(ctx); err != nil {
			logger.Warnf("%s: %v", step.name, err)
		}
	}
	s.steps = nil
}

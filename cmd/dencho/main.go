// Package main provides dencho, a local service that fetches the latest
// Supabase invoice through a real browser session on request.
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

	"github.com/google/uuid"

	"github.com/entrhq/dencho/pkg/automation"
	"github.com/entrhq/dencho/pkg/browser"
	"github.com/entrhq/dencho/pkg/config"
	"github.com/entrhq/dencho/pkg/logging"
	"github.com/entrhq/dencho/pkg/orchestrator"
	"github.com/entrhq/dencho/pkg/server"
	"github.com/entrhq/dencho/pkg/session"
)

const (
	version = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

// errRunFailed signals a failed fetch whose cause was already reported.
var errRunFailed = errors.New("invoice retrieval failed")

// installBrowser provisions the Playwright driver and Chromium; tests replace it.
var installBrowser = browser.Install

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile string
	Port       int
	Headless   bool

	// set records which flags were given explicitly
	set map[string]bool
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	command, args := os.Args[1], os.Args[2:]
	if command == "version" || command == "-version" || command == "--version" {
		fmt.Printf("dencho v%s\n", version)
		return
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	var err error
	switch command {
	case "serve":
		err = serve(ctx, parseFlags("serve", args, true))
	case "fetch":
		err = fetch(ctx, parseFlags("fetch", args, false))
	case "install":
		err = install(parseFlags("install", args, false))
	case "help", "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage()
		cancel()
		os.Exit(2)
	}

	cancel()
	if err != nil {
		if !errors.Is(err, errRunFailed) {
			log.Printf("dencho %s failed: %v", command, err)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "dencho - fetch the Supabase invoice through a local browser session\n\n")
	fmt.Fprintf(os.Stderr, "Usage: dencho <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     run the control server on 127.0.0.1\n")
	fmt.Fprintf(os.Stderr, "  fetch     download the invoice once in the foreground\n")
	fmt.Fprintf(os.Stderr, "  install   install the Playwright driver and Chromium\n")
	fmt.Fprintf(os.Stderr, "  version   print the version\n\n")
	fmt.Fprintf(os.Stderr, "Run 'dencho <command> -h' for command options.\n")
}

// parseFlags parses the options of one sub-command
func parseFlags(command string, args []string, withPort bool) *CLIConfig {
	cfg := &CLIConfig{set: map[string]bool{}}
	fs := flag.NewFlagSet(command, flag.ExitOnError)

	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to configuration file (YAML, default <root>/dencho.yaml)")
	fs.BoolVar(&cfg.Headless, "headless", false, "Run the browser headless even without a saved session")
	if withPort {
		fs.IntVar(&cfg.Port, "port", config.DefaultPort, "Port to listen on")
	}

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: dencho %s [options]\n\n", command)
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s, %s  identity provider credentials\n", config.EnvUsername, config.EnvPassword)
		fmt.Fprintf(os.Stderr, "  %s, %s, %s\n", config.EnvHeadless, config.EnvPort, config.EnvAllowedOrigins)
	}

	_ = fs.Parse(args)
	fs.Visit(func(f *flag.Flag) {
		cfg.set[f.Name] = true
	})
	return cfg
}

// loadConfig resolves the configuration: flags > environment > file > defaults
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	root, err := config.DetectRoot()
	if err != nil {
		return nil, err
	}

	path := cli.ConfigFile
	if path == "" {
		path = config.FindFile(root)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	var overrides config.Overrides
	if cli.set["port"] {
		overrides.Port = &cli.Port
	}
	if cli.set["headless"] {
		overrides.Headless = &cli.Headless
	}
	cfg.ApplyOverrides(overrides)
	cfg.Resolve(root)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger opens logs/service.log, falling back to stderr
func setupLogger(cfg *config.Config) *logging.Logger {
	if err := logging.Init(cfg.Paths.Logs); err != nil {
		log.Printf("Warning: %v", err)
	}
	logger, err := logging.NewLogger("dencho")
	if err != nil {
		log.Printf("Warning: %v", err)
	}
	return logger
}

// newOrchestrator wires the browser, session store and driver behind a gate
func newOrchestrator(cfg *config.Config, logger *logging.Logger) (*orchestrator.Orchestrator, *browser.Launcher, error) {
	launcher := browser.NewLauncher(cfg.BrowserOptions())

	store, err := session.NewFileStore(cfg.Paths.Session)
	if err != nil {
		return nil, nil, err
	}

	driver, err := automation.NewDriver(launcher, store, cfg.DriverConfig(),
		automation.WithLogger(logger.Component("automation")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create driver: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.NewGate(), driver, logger.Component("orchestrator"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return orch, launcher, nil
}

// ensureBrowser runs the readiness step before anything can accept work.
// playwright.Install returns quickly when the driver and browser are present.
func ensureBrowser(cfg *config.Config, logger *logging.Logger) error {
	opts := cfg.BrowserOptions()
	opts.Output = logger.Writer()
	logger.Infof("checking browser installation")
	if err := installBrowser(opts); err != nil {
		logger.Errorf("browser is not ready: %v", err)
		return fmt.Errorf("browser is not ready (run 'dencho install'): %w", err)
	}
	logger.Infof("browser ready")
	return nil
}

// shutdowner is the part of *server.Server used at shutdown.
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdownServer stops srv within timeout. A run still in flight when the
// deadline passes is aborted; that is logged and not reported as a failure.
func shutdownServer(srv shutdowner, active func() bool, logger *logging.Logger, timeout time.Duration) error {
	if active() {
		logger.Warnf("shutdown requested while a download is in progress; waiting up to %s", timeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	switch {
	case err == nil:
		logger.Infof("service stopped")
		return nil
	case errors.Is(err, context.DeadlineExceeded) && active():
		logger.Warnf("in-flight download aborted by shutdown")
		return nil
	default:
		return err
	}
}

func serve(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg)
	defer logger.Close()
	logger.Infof("service starting (v%s)", version)

	if err := ensureBrowser(cfg, logger); err != nil {
		return err
	}

	orch, launcher, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := launcher.Shutdown(); err != nil {
			logger.Warnf("browser shutdown: %v", err)
		}
	}()

	srv, err := server.New(server.Options{
		Addr:           cfg.Server.Addr(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, orch, logger.Component("server"))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Printf("Listening on http://%s (Ctrl+C to stop)\n", cfg.Server.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return shutdownServer(srv, orch.Active, logger, shutdownTimeout)
}

func fetch(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg)
	defer logger.Close()

	if err := ensureBrowser(cfg, logger); err != nil {
		return err
	}

	orch, launcher, err := newOrchestrator(cfg, logger)
	if err != nil {
		return err
	}
	defer launcher.Shutdown()

	out := orch.RequestDownload(ctx, orchestrator.Request{ID: uuid.NewString()})
	if !out.Succeeded() {
		if out.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", out.Err.Kind, out.Err.Detail)
		}
		if path := logger.LogPath(); path != "" {
			fmt.Fprintf(os.Stderr, "see %s for details\n", path)
		}
		return errRunFailed
	}

	fmt.Printf("Saved %s\n", out.Path)
	return nil
}

func install(cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	opts := cfg.BrowserOptions()
	opts.Output = os.Stdout
	fmt.Println("Installing Playwright driver and Chromium...")
	if err := installBrowser(opts); err != nil {
		return err
	}
	fmt.Println("Browser ready")
	return nil
}

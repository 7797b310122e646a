package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/tkallen/liveserve/pkg/config"
	"github.com/tkallen/liveserve/pkg/logging"
	"github.com/tkallen/liveserve/pkg/server"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to a YAML config file")
		host        = flag.String("host", "", "Address to bind")
		httpPort    = flag.Int("port", 0, "HTTP port for the file server")
		wsPort      = flag.Int("ws-port", 0, "Port for the reload WebSocket endpoint")
		noWatch     = flag.Bool("no-watch", false, "Serve files without watching for changes")
		cors        = flag.Bool("cors", false, "Send permissive CORS headers")
		listings    = flag.Bool("listings", false, "Render directory listings")
		metrics     = flag.Bool("metrics", false, "Expose Prometheus metrics at /metrics")
		quiet       = flag.Duration("quiet", 0, "Debounce window for file changes")
		logLevel    = flag.String("log-level", "", "Minimum log level (debug, info, warn, error)")
		logFile     = flag.String("log-file", "", "Write JSON logs to a file instead of stderr")
		tlsCert     = flag.String("tls-cert", "", "PEM certificate for HTTPS serving")
		tlsKey      = flag.String("tls-key", "", "PEM key for HTTPS serving")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags beat the file and the environment, but only when given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.HTTPPort = *httpPort
		case "ws-port":
			cfg.WSPort = *wsPort
		case "no-watch":
			cfg.Watch = !*noWatch
		case "cors":
			cfg.CORS = *cors
		case "listings":
			cfg.Listings = *listings
		case "metrics":
			cfg.Metrics = *metrics
		case "quiet":
			cfg.QuietWindow = config.Duration(*quiet)
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-file":
			cfg.LogFile = *logFile
		case "tls-cert":
			cfg.TLS.Enabled = true
			cfg.TLS.CertFile = *tlsCert
		case "tls-key":
			cfg.TLS.Enabled = true
			cfg.TLS.KeyFile = *tlsKey
		}
	})
	if flag.NArg() > 0 {
		cfg.Roots = flag.Args()
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	srv, err := server.New(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	fmt.Printf("Serving %s at %s://%s\n", strings.Join(cfg.Roots, ", "), scheme, srv.HTTPAddr())
	if cfg.Watch {
		fmt.Printf("Live reload on ws://%s\n", srv.WSAddr())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Wait() }()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down\n", sig)
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			srv.Stop()
			os.Exit(1)
		}
	}

	if err := srv.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	var log *logging.Logger
	if cfg.LogFile != "" {
		fileLog, err := logging.NewFileLogger(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		log = fileLog
	} else {
		log = logging.NewLogger(os.Stderr)
	}
	if cfg.LogLevel != "" {
		log.SetMinLevel(logging.Level(cfg.LogLevel))
	}
	return log, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `liveserve - static file server with live reload

Usage:
  liveserve [flags] [root ...]

Roots are served in order; the first root containing a requested path
wins. With no roots the current directory is served.

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  LIVESERVE_ROOTS, LIVESERVE_HOST, LIVESERVE_HTTP_PORT, LIVESERVE_WS_PORT,
  LIVESERVE_CORS, LIVESERVE_LISTINGS, LIVESERVE_WATCH, LIVESERVE_METRICS,
  LIVESERVE_LOG_LEVEL, LIVESERVE_LOG_FILE, LIVESERVE_TLS,
  LIVESERVE_TLS_CERT, LIVESERVE_TLS_KEY
`)
}

func printVersion() {
	fmt.Printf("liveserve %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}

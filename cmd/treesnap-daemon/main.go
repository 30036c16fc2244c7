// Command treesnap-daemon mirrors the runtime's component tree and serves exports.
//
// Usage:
//
//	treesnap-daemon [flags]
//
// Flags:
//
//	--config    Path to the YAML settings file
//	--listen    TCP/UDS address the mirror listens on
//	--http      HTTP address for the API and Prometheus metrics
//	--db        Path to SQLite database file
//	--bridge    WebSocket URL of the runtime agent
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Mr-Dark-debug/treesnap/internal/api"
	"github.com/Mr-Dark-debug/treesnap/internal/config"
	"github.com/Mr-Dark-debug/treesnap/internal/database"
	"github.com/Mr-Dark-debug/treesnap/internal/export"
	"github.com/Mr-Dark-debug/treesnap/internal/ingestion"
	"github.com/Mr-Dark-debug/treesnap/internal/logging"
)

var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:          "treesnap-daemon",
	Short:        "Mirror a running UI's component tree and serve exports over HTTP",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.String("config", "treesnap.yaml", "Path to the YAML settings file")
	f.String("listen", "", "TCP/UDS listen address (default: daemon.listen_addr)")
	f.String("http", "", "HTTP API and metrics address (default: daemon.http_addr)")
	f.String("db", "", "Path to SQLite database file (default: store.db_path)")
	f.String("bridge", "", "WebSocket URL of the runtime agent (default: bridge.url)")
	f.String("log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	overlay := func(flag string, dst *string) {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	overlay("listen", &cfg.Daemon.ListenAddr)
	overlay("http", &cfg.Daemon.HTTPAddr)
	overlay("db", &cfg.Store.DBPath)
	overlay("bridge", &cfg.Bridge.URL)
	overlay("log-level", &cfg.LogLevel)

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level)

	// Ensure the database directory exists
	if dir := filepath.Dir(cfg.Store.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	store, err := database.NewDBService(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	daemon := ingestion.NewDaemon(ingestion.Config{
		ListenAddr:    cfg.Daemon.ListenAddr,
		BatchSize:     cfg.Daemon.BatchSize,
		FlushInterval: cfg.Daemon.FlushInterval,
	}, store,
		ingestion.WithLogger(logger),
		ingestion.WithMetrics(ingestion.NewMetrics(reg)),
	)

	rt := newRuntimeBridge(cfg.Bridge.URL, logger)
	defer rt.Close()

	exporter := export.New(rt, store,
		export.WithConfig(cfg.ExportLimits()),
		export.WithLogger(logger),
		export.WithMetrics(export.NewMetrics(reg)),
		export.WithRecorder(store),
	)

	server := api.New(store, exporter,
		api.WithArchive(store),
		api.WithGatherer(reg),
		api.WithIngestionStats(daemon.Stats),
		api.WithVersion(Version),
		api.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	printBanner(cfg)

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe(ctx, cfg.Daemon.HTTPAddr) }()

	select {
	case <-ctx.Done():
		fmt.Println("\n  Shutting down gracefully...")
		err = <-errc
	case err = <-errc:
		logger.Error("http api stopped", "error", err)
	}

	if stopErr := daemon.Stop(); stopErr != nil {
		logger.Error("stopping daemon", "error", stopErr)
	}
	fmt.Println("  Done.")
	return err
}

// printBanner prints the startup summary.
func printBanner(cfg config.Config) {
	p := termenv.ColorProfile()
	title := termenv.String("  TREESNAP DAEMON").Bold().Foreground(p.Color("#58a6ff"))
	label := func(s string) termenv.Style {
		return termenv.String(s).Foreground(p.Color("#8b949e"))
	}

	fmt.Println()
	fmt.Println(title)
	fmt.Println()
	fmt.Printf("  %s %s\n", label("Mirror: "), cfg.Daemon.ListenAddr)
	fmt.Printf("  %s %s\n", label("DB:     "), cfg.Store.DBPath)
	fmt.Printf("  %s %s\n", label("Bridge: "), cfg.Bridge.URL)
	fmt.Printf("  %s http://%s/api\n", label("API:    "), cfg.Daemon.HTTPAddr)
	fmt.Printf("  %s http://%s/metrics\n", label("Metrics:"), cfg.Daemon.HTTPAddr)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()
}

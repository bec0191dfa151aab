// Package main provides the entry point for zstack-ethdev.
//
// zstack-ethdev is the port daemon that:
// - Builds the process environment, the in-memory bus and the port registry
// - Attaches every configured port (PCI address or virtual device)
// - Configures queues, MTU, filters and MAC addresses, then starts the ports
// - Logs link state changes and exports per-port statistics to Prometheus
//
// Usage:
//
//	zstack-ethdev [flags]
//
// Flags:
//
//	--config string              Path to configuration file
//	--log-level string           Log level: debug, info, warn, error
//	--log-format string          Log format: json, text
//	--metrics-bind-address       Address for metrics endpoint (default: from config, :9464)
//	--version                    Print version information and exit
//
// Environment Variables:
//
//	ZSTACK_ETHDEV_CONFIG         Path to configuration file
//	ZSTACK_ETHDEV_PORTS          Ports to attach, separated by ';'
//	ZSTACK_ETHDEV_LOG_LEVEL      Log level
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/zstack-ethdev/pkg/bus"
	"github.com/jiayi-1994/zstack-ethdev/pkg/config"
	"github.com/jiayi-1994/zstack-ethdev/pkg/drivers/netdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/drivers/ring"
	"github.com/jiayi-1994/zstack-ethdev/pkg/eal"
	"github.com/jiayi-1994/zstack-ethdev/pkg/ethdev"
	"github.com/jiayi-1994/zstack-ethdev/pkg/events"
	"github.com/jiayi-1994/zstack-ethdev/pkg/logging"
	"github.com/jiayi-1994/zstack-ethdev/pkg/mbuf"
	"github.com/jiayi-1994/zstack-ethdev/pkg/metrics"
)

var (
	// Version information (set at build time)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Options contains command-line options for the daemon
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// LogLevel overrides logging.level when set
	LogLevel string

	// LogFormat overrides logging.format when set
	LogFormat string

	// MetricsBindAddress overrides metrics.bindAddress when set
	MetricsBindAddress string

	// PrintVersion prints version information and exits
	PrintVersion bool
}

func main() {
	// Parse command-line flags
	opts := parseFlags()

	// Print version and exit if requested
	if opts.PrintVersion {
		printVersion()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := loadConfiguration(opts)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logging
	if err := initLogging(cfg.Logging); err != nil {
		klog.Fatalf("Failed to initialize logging: %v", err)
	}
	log := logging.L().WithName("daemon")
	defer func() { _ = logging.L().Sync() }()

	log.Info("Starting zstack-ethdev", "version", version, "commit", gitCommit, "built", buildDate)
	log.Info("Configuration loaded", "ports", len(cfg.Ports), "processType", cfg.EAL.ProcessType,
		"mempool", cfg.Mempool.Name, "mempoolSize", cfg.Mempool.Size)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	setupSignalHandler(cancel)

	if err := run(logging.IntoContext(ctx, log), cfg); err != nil {
		log.Error(err, "Daemon failed")
		_ = logging.L().Sync()
		os.Exit(1)
	}

	log.Info("Daemon stopped")
}

// parseFlags parses command-line flags and returns Options
func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.ConfigFile, "config", "",
		"Path to configuration file (can also use "+config.EnvConfigFile+" env var)")
	flag.StringVar(&opts.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: from config)")
	flag.StringVar(&opts.LogFormat, "log-format", "",
		"Log format: json, text (default: from config)")
	flag.StringVar(&opts.MetricsBindAddress, "metrics-bind-address", "",
		"Address for metrics endpoint (default: from config)")
	flag.BoolVar(&opts.PrintVersion, "version", false,
		"Print version information and exit")

	// Initialize klog flags
	klog.InitFlags(nil)

	flag.Parse()

	return opts
}

// loadConfiguration loads the configuration from file and environment, then
// applies command-line overrides
func loadConfiguration(opts *Options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	if opts.MetricsBindAddress != "" {
		cfg.Metrics.BindAddress = opts.MetricsBindAddress
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogging initializes the global logger and routes klog through it
func initLogging(lc config.LoggingConfig) error {
	opts := logging.DefaultOptions()
	opts.Level = lc.Level
	opts.Format = lc.Format
	opts.OutputPath = lc.File
	opts.Development = lc.Level == logging.LevelDebug

	if err := logging.InitGlobalLogger(opts); err != nil {
		return err
	}
	logging.RouteKlog(logging.L())

	// Set klog verbosity based on log level
	switch lc.Level {
	case logging.LevelDebug:
		_ = flag.Set("v", "4")
	case logging.LevelInfo:
		_ = flag.Set("v", "2")
	default:
		_ = flag.Set("v", "0")
	}
	return nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		klog.Infof("Received signal %s, initiating shutdown...", sig)
		cancel()

		// Wait for second signal for force exit
		sig = <-sigCh
		klog.Infof("Received second signal %s, forcing exit", sig)
		os.Exit(1)
	}()
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("zstack-ethdev\n")
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Git Commit: %s\n", gitCommit)
	fmt.Printf("  Build Date: %s\n", buildDate)
}

// run brings every configured port up and serves metrics until ctx is done
func run(ctx context.Context, cfg *config.Config) (err error) {
	log := logging.FromContext(ctx)

	if !cfg.IsPrimary() {
		return fmt.Errorf("the daemon runs as the primary process; secondary processes attach through eal.NewSecondary")
	}

	// Size the heap from free hugepages
	heapBytes, err := hugepageBytes(cfg.EAL.RequireHugepages, log)
	if err != nil {
		return err
	}

	env := eal.New(cfg.EALConfig(heapBytes))
	reg := ethdev.NewRegistry(env, bus.NewMemoryBus())

	// Register drivers
	if err := ring.Register(reg); err != nil {
		return fmt.Errorf("failed to register ring driver: %w", err)
	}
	if err := netdev.Register(reg); err != nil {
		return fmt.Errorf("failed to register kernel driver: %w", err)
	}

	pool, err := mbuf.NewPool(cfg.Mempool.Name, cfg.Mempool.Size, cfg.Mempool.DataRoomSize)
	if err != nil {
		return fmt.Errorf("failed to create mempool: %w", err)
	}

	// Start metrics server
	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = newMetricsServer(cfg.Metrics.BindAddress, reg)
		go func() {
			log.Info("Serving metrics", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		}()
	}

	// Bring up ports
	mgr := newPortManager(reg, events.NewRecorder("zstack-ethdev", events.DefaultHistory), pool)
	defer func() {
		log.Info("Releasing ports")
		err = multierr.Append(err, mgr.shutdown())
	}()
	for _, pc := range cfg.Ports {
		port, err := mgr.attach(ctx, pc.Devargs, cfg.AttachRetries)
		if err != nil {
			return err
		}
		if err := mgr.setup(port, pc); err != nil {
			return err
		}
	}

	mgr.waitForLinks(ctx, cfg.LinkWaitTimeout)

	log.Info("Ports running", "count", len(mgr.ports))
	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}

// hugepageBytes returns the free hugepage memory in bytes, or 0 when the
// host has none and they are not required
func hugepageBytes(required bool, log *logging.Logger) (int64, error) {
	info, err := eal.DetectHugepages()
	switch {
	case err != nil && required:
		return 0, fmt.Errorf("failed to detect hugepages: %w", err)
	case err != nil:
		log.Warn("Hugepage detection failed, heap is unbounded", "error", err.Error())
		return 0, nil
	case !info.Available && required:
		return 0, fmt.Errorf("no hugepages configured")
	case !info.Available:
		log.Info("No hugepages configured, heap is unbounded")
		return 0, nil
	}
	log.Info("Hugepages detected", "size", info.HugepageSize, "totalKB", info.TotalKB, "freeKB", info.FreeKB)
	return info.FreeKB << 10, nil
}

// newMetricsServer builds the /metrics endpoint over a private registry
func newMetricsServer(addr string, reg *ethdev.Registry) *http.Server {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewStatsCollector(reg),
	)
	metrics.Register(promReg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

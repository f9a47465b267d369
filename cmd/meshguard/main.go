// Command meshguard runs the mesh root coordinator with flood protection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aegis-protocol/meshguard/pkg/api"
	"github.com/aegis-protocol/meshguard/pkg/clock"
	"github.com/aegis-protocol/meshguard/pkg/config"
	"github.com/aegis-protocol/meshguard/pkg/coordinator"
	"github.com/aegis-protocol/meshguard/pkg/feed"
	"github.com/aegis-protocol/meshguard/pkg/transport"
)

var (
	configPath string
	listenAddr string
	httpAddr   string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "meshguard",
	Short: "Mesh root coordinator with flood protection",
	Long: `meshguard receives datagrams from mesh nodes, scores each sender by rate and
traffic shape, blacklists flooding senders and echoes legitimate traffic.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "UDP listen address (overrides config)")
	rootCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP API address, \"off\" to disable (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("http") {
		cfg.HTTPAddr = httpAddr
		if httpAddr == "off" {
			cfg.HTTPAddr = ""
		}
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	return cfg, cfg.Validate()
}

func setupLogging(cfg *config.Config) (*log.Logger, error) {
	logger := log.New()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	if level < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	return logger, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	udp, err := transport.Listen(cfg.ListenAddr, logger)
	if err != nil {
		return err
	}
	defer udp.Close()

	hub := feed.NewHub(feed.DefaultBuffer, logger)
	coord, err := coordinator.New(cfg, coordinator.Options{
		Sender:     udp,
		Clock:      clock.NewMonotonic(),
		Logger:     logger,
		Registerer: reg,
		Publisher:  hub,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return udp.Serve(ctx, coord.Deliver)
	})
	if cfg.HTTPAddr != "" {
		srv := api.NewServer(cfg.HTTPAddr, coord, hub, reg, logger)
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}

	logger.WithFields(log.Fields{
		"udp":  udp.LocalAddr().String(),
		"http": cfg.HTTPAddr,
	}).Info("meshguard started")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("meshguard stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

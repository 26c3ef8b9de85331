package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"plugwise-hub/internal/hub"
	"plugwise-hub/internal/metrics"
	"plugwise-hub/internal/smile"
	"plugwise-hub/internal/stick"
	"plugwise-hub/internal/store"
	"plugwise-hub/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	USB struct {
		Driver string `yaml:"driver"` // "sim"
		Path   string `yaml:"path"`
		Baud   int    `yaml:"baud"`
	} `yaml:"usb"`
	Hub struct {
		AcceptJoins  bool   `yaml:"accept_joins"`
		StageTimeout string `yaml:"stage_timeout"`
		RetryDelay   string `yaml:"retry_delay"`
	} `yaml:"hub"`
	Smile struct {
		Snapshot     string `yaml:"snapshot"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"smile"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Influx metrics.Config `yaml:"influx"`
	Log    struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`

	stageTimeout time.Duration
	retryDelay   time.Duration
	pollInterval time.Duration
}

func (c *Config) validate() error {
	switch c.USB.Driver {
	case "sim", "":
	default:
		return fmt.Errorf("usb.driver: unknown driver %q (supported: sim)", c.USB.Driver)
	}

	var err error
	if c.stageTimeout, err = time.ParseDuration(c.Hub.StageTimeout); err != nil {
		return fmt.Errorf("hub.stage_timeout: %w", err)
	}
	if c.retryDelay, err = time.ParseDuration(c.Hub.RetryDelay); err != nil {
		return fmt.Errorf("hub.retry_delay: %w", err)
	}
	if c.pollInterval, err = time.ParseDuration(c.Smile.PollInterval); err != nil {
		return fmt.Errorf("smile.poll_interval: %w", err)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("plugwise-hub starting", "version", version)

	// Open store and migrate persisted entity ids before anything reads them.
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := hub.MigrateStoredUniqueIDs(db, logger); err != nil {
		logger.Error("migrate stored unique ids", "err", err)
		os.Exit(1)
	}

	driver, err := createStick(cfg, logger)
	if err != nil {
		logger.Error("create stick driver", "err", err)
		os.Exit(1)
	}

	events := hub.NewEventBus(logger)
	h := hub.New(driver, db, events, hub.Config{
		StageTimeout: cfg.stageTimeout,
		AcceptJoins:  cfg.Hub.AcceptJoins,
	}, logger.With("component", "hub"))

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// Setup failures are retryable; keep trying until the stick network comes
	// up or we are shut down.
	go setupLoop(runCtx, h, cfg.retryDelay, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))

	// Gateway polling only runs when a snapshot source is configured.
	if cfg.Smile.Snapshot != "" {
		poller := smile.NewPoller(smile.NewFileClient(cfg.Smile.Snapshot), events, cfg.pollInterval, logger)
		go poller.Run(runCtx)
		webOpts = append(webOpts, web.WithPoller(poller))
	}

	// InfluxDB energy sink, enabled by configuring a server URL.
	if cfg.Influx.URL != "" {
		sink := metrics.NewSink(cfg.Influx, events, logger)
		defer sink.Close()
	}

	// Automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(h, cfg, logger)
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(h, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(h, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	h.Shutdown()

	logger.Info("goodbye")
}

// setupLoop drives the stick lifecycle until it reaches running. Every
// failure during setup collapses to a retryable error, so the loop only
// exits on success or shutdown.
func setupLoop(ctx context.Context, h *hub.Hub, retry time.Duration, logger *slog.Logger) {
	for {
		err := h.Setup(ctx)
		if err == nil {
			logger.Info("plugwise network up", "state", h.State().String())
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, hub.ErrNotReady) {
			logger.Error("stick setup failed", "err", err)
			return
		}
		logger.Warn("stick setup not ready, will retry", "err", err, "retry_in", retry)
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func createStick(cfg *Config, logger *slog.Logger) (stick.Stick, error) {
	switch cfg.USB.Driver {
	case "sim", "":
		logger.Info("using simulated stick driver")
		return stick.NewSimStick(logger), nil
	default:
		return nil, fmt.Errorf("unknown stick driver: %q", cfg.USB.Driver)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "plugwise-hub.db"
	}
	if cfg.USB.Baud == 0 {
		cfg.USB.Baud = 115200
	}
	if cfg.Hub.StageTimeout == "" {
		cfg.Hub.StageTimeout = "90s"
	}
	if cfg.Hub.RetryDelay == "" {
		cfg.Hub.RetryDelay = "30s"
	}
	if cfg.Smile.PollInterval == "" {
		cfg.Smile.PollInterval = "60s"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "plugwise"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

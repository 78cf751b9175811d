package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"vidaa-home/internal/bridge"
	"vidaa-home/internal/token"
	"vidaa-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// TVEntry is one television in the tvs: map of the config file.
type TVEntry struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	MAC        string `yaml:"mac"`
	Brand      string `yaml:"brand"`
	Generation string `yaml:"generation"` // legacy, middle or modern; empty detects
	DisableTLS bool   `yaml:"disable_tls"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

type Config struct {
	TVs  map[string]TVEntry `yaml:"tvs"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Options struct {
		StorePath    string `yaml:"store_path"`
		ScriptsDir   string `yaml:"scripts_dir"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"options"`
}

// envOverrides are the file settings a container deployment can set
// through the environment instead, read with the VIDAA_HOME prefix
// (mqtt.broker becomes VIDAA_HOME_MQTT_BROKER and so on).
type envOverrides struct {
	MQTTBroker      string `envconfig:"MQTT_BROKER"`
	MQTTUsername    string `envconfig:"MQTT_USERNAME"`
	MQTTPassword    string `envconfig:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `envconfig:"MQTT_TOPIC_PREFIX"`
	WebListen       string `envconfig:"WEB_LISTEN"`
	WebAPIKey       string `envconfig:"WEB_API_KEY"`
	StorePath       string `envconfig:"STORE_PATH"`
	ScriptsDir      string `envconfig:"SCRIPTS_DIR"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	LogFormat       string `envconfig:"LOG_FORMAT"`
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.TVs) == 0 {
		return fmt.Errorf("at least one tv must be configured under tvs:")
	}
	for name, tv := range c.TVs {
		if tv.Host == "" {
			return fmt.Errorf("tvs.%s.host is required", name)
		}
		switch tv.Generation {
		case "", "legacy", "middle", "modern":
		default:
			return fmt.Errorf("tvs.%s.generation must be legacy, middle or modern, got %q", name, tv.Generation)
		}
	}
	if c.Options.PollInterval != "" {
		if _, err := time.ParseDuration(c.Options.PollInterval); err != nil {
			return fmt.Errorf("options.poll_interval: %w", err)
		}
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

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("vidaa-home starting", "version", version, "tvs", len(cfg.TVs))

	// Open token store
	store, err := token.NewBoltStore(cfg.Options.StorePath)
	if err != nil {
		logger.Error("open token store", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	pollInterval, _ := time.ParseDuration(cfg.Options.PollInterval)

	br, err := bridge.NewBridge(bridge.Config{
		Broker:       cfg.MQTT.Broker,
		Username:     cfg.MQTT.Username,
		Password:     cfg.MQTT.Password,
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		PollInterval: pollInterval,
	}, tvConfigs(cfg), store, logger)
	if err != nil {
		logger.Error("create bridge", "err", err)
		os.Exit(1)
	}
	br.Start()

	// Start automation engine (no-op when built with no_automation tag).
	auto := initAutomation(br, cfg, logger)

	// Start web server
	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))

	webServer := web.NewServer(br, logger, webOpts...)

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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		if sig == syscall.SIGHUP {
			logger.Info("reloading automation scripts", "signal", sig)
			auto.Reload()
			continue
		}
		signal.Stop(sigCh)
		logger.Info("shutting down", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	br.Stop()

	logger.Info("goodbye")
}

// tvConfigs flattens the tvs: map into bridge configs in name order, so
// topic registration and discovery publishing are deterministic.
func tvConfigs(cfg *Config) []bridge.TVConfig {
	names := make([]string, 0, len(cfg.TVs))
	for name := range cfg.TVs {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]bridge.TVConfig, 0, len(names))
	for _, name := range names {
		tv := cfg.TVs[name]
		out = append(out, bridge.TVConfig{
			Name:       name,
			Host:       tv.Host,
			Port:       tv.Port,
			MAC:        tv.MAC,
			Brand:      tv.Brand,
			Generation: tv.Generation,
			DisableTLS: tv.DisableTLS,
			CertFile:   tv.CertFile,
			KeyFile:    tv.KeyFile,
		})
	}
	return out
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

	var env envOverrides
	if err := envconfig.Process("VIDAA_HOME", &env); err != nil {
		return nil, fmt.Errorf("read env overrides: %w", err)
	}
	applyOverrides(&cfg, env)

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Options.StorePath == "" {
		cfg.Options.StorePath = "vidaa-home.db"
	}
	if cfg.Options.ScriptsDir == "" {
		cfg.Options.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func applyOverrides(cfg *Config, env envOverrides) {
	if env.MQTTBroker != "" {
		cfg.MQTT.Broker = env.MQTTBroker
	}
	if env.MQTTUsername != "" {
		cfg.MQTT.Username = env.MQTTUsername
	}
	if env.MQTTPassword != "" {
		cfg.MQTT.Password = env.MQTTPassword
	}
	if env.MQTTTopicPrefix != "" {
		cfg.MQTT.TopicPrefix = env.MQTTTopicPrefix
	}
	if env.WebListen != "" {
		cfg.Web.Listen = env.WebListen
	}
	if env.WebAPIKey != "" {
		cfg.Web.APIKey = env.WebAPIKey
	}
	if env.StorePath != "" {
		cfg.Options.StorePath = env.StorePath
	}
	if env.ScriptsDir != "" {
		cfg.Options.ScriptsDir = env.ScriptsDir
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		cfg.Log.Format = env.LogFormat
	}
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

package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nightwatch/config"
	"nightwatch/internal/correlate"
	"nightwatch/internal/detect"
	"nightwatch/internal/ingest"
	inputredis "nightwatch/internal/input/redis"
	"nightwatch/internal/lineage"
	"nightwatch/internal/logger"
	"nightwatch/internal/metrics"
	"nightwatch/internal/output/alerthttp"
	"nightwatch/internal/output/alertjson"
	"nightwatch/internal/pipeline"
	"nightwatch/internal/rules"
	"nightwatch/internal/storage"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("nightwatch.yml"); err == nil {
		return "nightwatch.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "nightwatch.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "nightwatch.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Nightwatch.Input.Redis.Addr == "" {
		cfg.Nightwatch.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Nightwatch.Input.Redis.Key == "" {
		cfg.Nightwatch.Input.Redis.Key = "agent_events"
	}
	if cfg.Nightwatch.Input.Redis.BlockTimeout == 0 {
		cfg.Nightwatch.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.Nightwatch.Storage.Path == "" {
		cfg.Nightwatch.Storage.Path = "data/nightwatch.db"
	}

	if cfg.Nightwatch.Correlation.Window <= 0 {
		cfg.Nightwatch.Correlation.Window = correlate.DefaultWindow
	}

	if cfg.Nightwatch.Lineage.MaxProcesses <= 0 {
		cfg.Nightwatch.Lineage.MaxProcesses = lineage.DefaultMaxProcesses
	}

	if cfg.Nightwatch.Ingest.EventsPerMinute <= 0 {
		cfg.Nightwatch.Ingest.EventsPerMinute = ingest.DefaultEventsPerMinute
	}
	if cfg.Nightwatch.Ingest.ReplayCacheSize <= 0 {
		cfg.Nightwatch.Ingest.ReplayCacheSize = ingest.DefaultReplayCacheSize
	}

	if cfg.Nightwatch.Pipeline.Workers <= 0 {
		cfg.Nightwatch.Pipeline.Workers = 4
	}

	if cfg.Nightwatch.Metrics.Addr == "" {
		cfg.Nightwatch.Metrics.Addr = "127.0.0.1:9477"
	}

	if cfg.Nightwatch.Logging.Level == "" {
		cfg.Nightwatch.Logging.Level = "info"
	}
}

func main() {
	configArg := flag.String("config", "", "Path to config file")
	flag.Parse()

	configPath := findConfigFile(*configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Nightwatch.Logging.Enabled, cfg.Nightwatch.Logging.Level, cfg.Nightwatch.Logging.File, cfg.Nightwatch.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Nightwatch starting")
	logger.Infof("Config loaded from: %s", configPath)

	store, err := storage.Open(cfg.Nightwatch.Storage.Path)
	if err != nil {
		logger.Errorf("Failed to open store: %v", err)
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	logger.Infof("Store opened: %s", cfg.Nightwatch.Storage.Path)

	ruleSet := loadRules(cfg)
	engine := rules.NewEngine(ruleSet)
	if engine.Len() == 0 {
		logger.Warnf("No rules loaded; events will be stored but never alerted on")
	}

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.Nightwatch.Input.Redis.Addr,
		Password:     cfg.Nightwatch.Input.Redis.Password,
		DB:           cfg.Nightwatch.Input.Redis.DB,
		Key:          cfg.Nightwatch.Input.Redis.Key,
		BlockTimeout: cfg.Nightwatch.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}
	defer consumer.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := consumer.Ping(pingCtx); err != nil {
		logger.Warnf("Redis not reachable at %s: %v", cfg.Nightwatch.Input.Redis.Addr, err)
	}
	pingCancel()

	replay, err := ingest.NewReplayGuard(cfg.Nightwatch.Ingest.ReplayCacheSize)
	if err != nil {
		log.Fatalf("Failed to create replay guard: %v", err)
	}
	endpoints := make([]ingest.Endpoint, 0, len(cfg.Nightwatch.Ingest.Endpoints))
	for _, ep := range cfg.Nightwatch.Ingest.Endpoints {
		endpoints = append(endpoints, ingest.Endpoint{ID: ep.ID, Hostname: ep.Hostname, Secret: ep.Secret})
	}
	guard := ingest.NewGuard(
		ingest.NewRegistry(endpoints),
		replay,
		ingest.NewRateLimiter(cfg.Nightwatch.Ingest.EventsPerMinute),
	)
	logger.Infof("Ingest guard ready: endpoints=%d rate=%d/min", len(endpoints), cfg.Nightwatch.Ingest.EventsPerMinute)

	var tap pipeline.AlertTap
	switch cfg.Nightwatch.Alerts.Mode {
	case "", "file":
		if path := strings.TrimSpace(cfg.Nightwatch.Alerts.TapPath); path != "" {
			w, err := alertjson.NewWriter(path)
			if err != nil {
				logger.Errorf("Failed to open alert tap: %v", err)
				log.Fatalf("Failed to open alert tap: %v", err)
			}
			defer w.Close()
			tap = w
			logger.Infof("Alert tap mode: file (%s)", path)
		}
	case "http":
		w, err := alerthttp.NewWriter(alerthttp.Config{
			URL:     cfg.Nightwatch.Alerts.HTTP.URL,
			Timeout: cfg.Nightwatch.Alerts.HTTP.Timeout,
			Headers: cfg.Nightwatch.Alerts.HTTP.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create alert HTTP tap: %v", err)
			log.Fatalf("Failed to create alert HTTP tap: %v", err)
		}
		tap = w
		logger.Infof("Alert tap mode: http (%s)", cfg.Nightwatch.Alerts.HTTP.URL)
	default:
		log.Fatalf("Unknown alert tap mode: %s", cfg.Nightwatch.Alerts.Mode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	if cfg.Nightwatch.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			logger.Infof("Metrics listening on %s", cfg.Nightwatch.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Nightwatch.Metrics.Addr, mux); err != nil {
				logger.Errorf("Metrics listener failed: %v", err)
			}
		}()
	}

	pipe := pipeline.New(
		consumer,
		guard,
		lineage.NewTracker(cfg.Nightwatch.Lineage.MaxProcesses),
		store,
		engine,
		detect.NewCoordinator(),
		correlate.NewEngine(cfg.Nightwatch.Correlation.Window),
		m,
		tap,
		cfg.Nightwatch.Pipeline.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	time.Sleep(1 * time.Second)

	logger.Infof("Nightwatch stopped")
}

func loadRules(cfg *config.Config) []rules.Rule {
	var ruleSet []rules.Rule

	if cfg.Nightwatch.Rules.Builtin {
		builtin := rules.Builtin()
		ruleSet = append(ruleSet, builtin...)
		logger.Infof("Builtin rules loaded: %d", len(builtin))
	}

	if dir := strings.TrimSpace(cfg.Nightwatch.Rules.Dir); dir != "" {
		loaded, stats, err := rules.LoadDir(dir)
		if err != nil {
			logger.Errorf("Failed to load rules from %s: %v", dir, err)
			log.Fatalf("Failed to load rules: %v", err)
		}
		ruleSet = append(ruleSet, loaded...)
		logger.Infof("Rules loaded from %s: loaded=%d skipped_invalid=%d files=%d",
			dir, stats.Loaded, stats.SkippedInvalid, stats.TotalFiles)
	}

	if dir := strings.TrimSpace(cfg.Nightwatch.Rules.SigmaDir); dir != "" {
		loaded, stats, err := rules.LoadSigmaDir(dir)
		if err != nil {
			logger.Errorf("Failed to load Sigma rules from %s: %v", dir, err)
			log.Fatalf("Failed to load Sigma rules: %v", err)
		}
		ruleSet = append(ruleSet, loaded...)
		logger.Infof("Sigma rules loaded from %s: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
			dir, stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
		if stats.Loaded == 0 && stats.TotalFiles > 0 {
			logger.Warnf("No compatible Sigma rules in %s", dir)
		}
	}

	return ruleSet
}

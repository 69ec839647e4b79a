// KALE Analytics - farming statistics and opportunity scoring service
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tos-network/kale-analytics/internal/analytics"
	"github.com/tos-network/kale-analytics/internal/api"
	"github.com/tos-network/kale-analytics/internal/auth"
	"github.com/tos-network/kale-analytics/internal/config"
	"github.com/tos-network/kale-analytics/internal/events"
	"github.com/tos-network/kale-analytics/internal/ledger"
	"github.com/tos-network/kale-analytics/internal/newrelic"
	"github.com/tos-network/kale-analytics/internal/notify"
	"github.com/tos-network/kale-analytics/internal/policy"
	"github.com/tos-network/kale-analytics/internal/profiling"
	"github.com/tos-network/kale-analytics/internal/storage"
	"github.com/tos-network/kale-analytics/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	issueToken := flag.String("issue-token", "", "Print a bearer token for the given address and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("KALE Analytics v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	tokens, err := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create token service: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := tokens.Issue(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// Initialize logger
	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	util.Infof("KALE Analytics v%s starting with %s storage", version, cfg.Storage.Driver)

	// Open storage
	store, err := storage.Open(storage.Options{
		Driver:        cfg.Storage.Driver,
		RedisURL:      cfg.Redis.URL,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		BoltPath:      cfg.Bolt.Path,
		CacheSize:     cfg.Storage.CacheSize,
	})
	if err != nil {
		util.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// New Relic APM
	agent := newrelic.NewAgent(&cfg.NewRelic)
	if err := agent.Start(); err != nil {
		util.Warnf("Failed to start New Relic agent: %v", err)
	}
	defer agent.Stop()

	// Event publishers
	var (
		publishers events.Fanout
		hub        *events.Hub
		notifier   *notify.Notifier
	)
	publishers = append(publishers, agent)

	if cfg.Events.RedisEnabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		publishers = append(publishers, events.NewRedisPublisher(client, cfg.Events.ChannelPrefix))
	}

	if cfg.Events.WebSocketEnabled {
		hub = events.NewHub()
		defer hub.Stop()
		publishers = append(publishers, hub)
	}

	if cfg.Notify.Enabled {
		notifier = notify.NewNotifier(&notify.WebhookConfig{
			Enabled:      true,
			DiscordURL:   cfg.Notify.DiscordURL,
			TelegramBot:  cfg.Notify.TelegramBot,
			TelegramChat: cfg.Notify.TelegramChat,
			ServiceName:  cfg.Notify.ServiceName,
			ServiceURL:   cfg.Notify.ServiceURL,
			Workers:      cfg.Notify.Workers,
			QueueSize:    cfg.Notify.QueueSize,
			NotifyFailed: cfg.Notify.NotifyFailed,
		})
		defer notifier.Stop()
		publishers = append(publishers, notifier)
	}

	engine := analytics.NewEngine(
		store,
		ledger.NewSystemClock(store),
		auth.ContextAuthorizer{},
		publishers,
		analytics.Options{
			AdminAddress: cfg.Analytics.AdminAddress,
			EmissionRate: cfg.Analytics.EmissionRate,
		},
	)

	// Abuse policy
	policyServer := policy.NewPolicyServer(&policy.Config{
		Enabled:         cfg.Security.Enabled,
		MaxScore:        cfg.Security.MaxScore,
		ScoreResetTime:  cfg.Security.ScoreResetTime,
		TempBanTime:     cfg.Security.TempBanTime,
		CostRequest:     cfg.Security.CostRequest,
		CostWrite:       cfg.Security.CostWrite,
		CostMalformed:   cfg.Security.CostMalformed,
		CostAuthFailure: cfg.Security.CostAuthFailure,
		Whitelist:       cfg.Security.Whitelist,
	})
	policyServer.Start()
	defer policyServer.Stop()

	// Periodic metrics
	if cfg.Metrics.Enabled {
		reporter, err := newrelic.NewReporter(engine, agent, cfg.Metrics.Schedule)
		if err != nil {
			util.Fatalf("Failed to schedule metrics reporter: %v", err)
		}
		reporter.Start()
		defer reporter.Stop()
	}

	// API server
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(&cfg.API, api.Deps{
			Engine: engine,
			Tokens: tokens,
			Policy: policyServer,
			Hub:    hub,
			Agent:  agent,
			Info: api.Info{
				Name:    "kale-analytics",
				Version: version,
				Driver:  store.Driver(),
				Features: map[string]bool{
					"notifications": notifier != nil,
					"redis_events":  cfg.Events.RedisEnabled,
					"apm":           agent.IsEnabled(),
				},
			},
		})
		if err := apiServer.Start(); err != nil {
			util.Fatalf("Failed to start API server: %v", err)
		}
	}

	// Profiling
	profiler := profiling.NewServer(&cfg.Profiling)
	if err := profiler.Start(); err != nil {
		util.Fatalf("Failed to start profiling server: %v", err)
	}
	defer profiler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := engine.GetNetworkStats(ctx); err != nil {
		util.Warnf("Network state not available yet: %v", err)
	}
	cancel()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("KALE Analytics started successfully. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	// Graceful shutdown; deferred stops run in reverse start order
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			util.Warnf("API server shutdown: %v", err)
		}
	}

	util.Info("KALE Analytics stopped")
}

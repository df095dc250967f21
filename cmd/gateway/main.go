// Command gateway runs the token-lifecycle gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/cache"
	"github.com/veloprint/gateway/internal/infrastructure/crypto"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/internal/infrastructure/ratelimit"
	"github.com/veloprint/gateway/internal/infrastructure/resilience"
	"github.com/veloprint/gateway/internal/infrastructure/session"
	"github.com/veloprint/gateway/internal/infrastructure/upstream"
	"github.com/veloprint/gateway/internal/interfaces/http/handlers"
	router "github.com/veloprint/gateway/internal/interfaces/http/router"
	"github.com/veloprint/gateway/pkg/logger"
)

// version is injected at build time.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "OAuth token-lifecycle gateway for a rate-limited provider API",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	bootLog, err := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})
	if err != nil {
		return fmt.Errorf("bootstrap logger: %w", err)
	}

	cfg, err := config.LoadConfig(bootLog)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	ctx := context.Background()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	vault, err := crypto.NewVault(cfg.Crypto.Key)
	if err != nil {
		return fmt.Errorf("building vault: %w", err)
	}

	sessions := session.NewStore(&cfg.Session, log)
	defer sessions.Close()

	localLimiter := ratelimit.NewSlidingWindowLimiter(log, time.Minute)
	defer localLimiter.Close()

	var limiter service.RateLimitService = localLimiter
	var redisClient *redis.Client
	if cfg.RateLimit.UseRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = ratelimit.NewRedisWindowLimiter(redisClient, localLimiter, log)
	}

	quota := ratelimit.NewUpstreamQuotaGuard(log)

	responseCache := cache.NewResponseCache(
		cfg.Cache.TTLFor,
		time.Duration(cfg.Cache.SweepInterval)*time.Second,
		metrics,
		log,
	)

	executor := resilience.NewExecutor(log)
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		MonitoringPeriod: time.Duration(cfg.Resilience.MonitoringPeriod) * time.Second,
		ResetTimeout:     time.Duration(cfg.Resilience.ResetTimeout) * time.Second,
	}, log)
	breaker.OnTransition(func(operation string, from, to resilience.CircuitState) {
		metrics.RecordCircuitTransition(operation, string(to))
	})

	oauthClient := upstream.NewOAuthClient(&cfg.Upstream, log)
	resources := upstream.NewResourceClient(&cfg.Upstream, log)
	stateKey := cfg.Crypto.StateSigningKey
	if stateKey == "" {
		stateKey = cfg.Crypto.Key
	}
	stateManager := upstream.NewStateManager(stateKey)

	tokens := appservice.NewTokenStore(
		vault, sessions, oauthClient, executor, metrics,
		cfg.Resilience.MaxRetries,
		time.Duration(cfg.Resilience.BaseDelayMs)*time.Millisecond,
		log,
	)
	guard := appservice.NewSessionGuard(sessions, log)
	bridge := appservice.NewCrossDomainTokenRegistry(&cfg.Bridge, log)
	defer bridge.Close()

	authHandler := handlers.NewAuthHandler(
		oauthClient, stateManager, tokens, guard, bridge, sessions,
		&cfg.Session, metrics, log,
	)
	bridgeHandler := handlers.NewBridgeHandler(tokens, bridge, log)
	proxyHandler := handlers.NewProxyHandler(
		resources, responseCache, quota, breaker, executor,
		cfg.Resilience.MaxRetries,
		time.Duration(cfg.Resilience.BaseDelayMs)*time.Millisecond,
		metrics, log,
	)
	healthHandler := handlers.NewHealthHandler(version, redisClient)
	opsHandler := handlers.NewOpsHandler(responseCache, quota, bridge, breaker, executor)

	r := router.NewRouter(
		cfg, log,
		authHandler, bridgeHandler, proxyHandler, healthHandler, opsHandler,
		guard, tokens, bridge, limiter, metrics,
	)
	r.SetupRoutes()

	config.WatchConfig(log, func(updated *config.Config) {
		log.Info(ctx, "configuration reloaded",
			logger.String("log_level", updated.Log.Level))
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.ActiveSessions.Set(float64(sessions.Len()))
			metrics.BridgeTokensActive.Set(float64(bridge.Stats(ctx).Active))
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info(ctx, "shutting down", logger.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "shutdown did not complete cleanly", err)
		return err
	}

	log.Info(ctx, "gateway stopped")
	return nil
}

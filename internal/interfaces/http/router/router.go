// Package http wires the gin engine: middleware chain, route groups, and the
// server lifecycle.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appservice "github.com/veloprint/gateway/internal/application/service"
	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/internal/domain/service"
	"github.com/veloprint/gateway/internal/infrastructure/monitoring"
	"github.com/veloprint/gateway/internal/interfaces/http/handlers"
	"github.com/veloprint/gateway/internal/interfaces/http/middleware"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/logger"
)

// Router owns the gin engine and the HTTP server lifecycle.
type Router struct {
	engine *gin.Engine
	config *config.Config
	log    logger.Logger
	server *http.Server

	authHandler   *handlers.AuthHandler
	bridgeHandler *handlers.BridgeHandler
	proxyHandler  *handlers.ProxyHandler
	healthHandler *handlers.HealthHandler
	opsHandler    *handlers.OpsHandler

	guard   *appservice.SessionGuard
	tokens  *appservice.TokenStore
	bridge  service.BridgeRegistry
	limiter service.RateLimitService
	metrics *monitoring.Metrics
}

// NewRouter assembles the router from its handlers and services.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	authHandler *handlers.AuthHandler,
	bridgeHandler *handlers.BridgeHandler,
	proxyHandler *handlers.ProxyHandler,
	healthHandler *handlers.HealthHandler,
	opsHandler *handlers.OpsHandler,
	guard *appservice.SessionGuard,
	tokens *appservice.TokenStore,
	bridge service.BridgeRegistry,
	limiter service.RateLimitService,
	metrics *monitoring.Metrics,
) *Router {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Router{
		engine:        gin.New(),
		config:        cfg,
		log:           log.WithComponent("router"),
		authHandler:   authHandler,
		bridgeHandler: bridgeHandler,
		proxyHandler:  proxyHandler,
		healthHandler: healthHandler,
		opsHandler:    opsHandler,
		guard:         guard,
		tokens:        tokens,
		bridge:        bridge,
		limiter:       limiter,
		metrics:       metrics,
	}
}

// SetupRoutes installs the middleware chain and the route groups.
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Recovery(r.log))
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.RequestLogger(r.log))

	corsConfig := cors.Config{
		AllowOrigins: r.config.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type",
			constants.HeaderCSRFToken, constants.HeaderBridgeToken, constants.HeaderRequestID,
		},
		ExposeHeaders: []string{
			constants.HeaderRequestID,
			constants.HeaderRateLimitLimit, constants.HeaderRateLimitRemaining, constants.HeaderRateLimitReset,
			constants.HeaderRetryAfter,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	r.engine.Use(cors.New(corsConfig))

	r.engine.GET("/healthz", r.healthHandler.Live)
	r.engine.GET("/readyz", r.healthHandler.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Server.EnablePprof {
		pprof.Register(r.engine)
	}

	sessionMW := middleware.Session(r.guard, &r.config.Session)
	csrfMW := middleware.CSRF(r.guard)
	authMW := middleware.RequireAuth(r.tokens, r.bridge)
	clientLimit := middleware.RateLimit(r.limiter, &r.config.RateLimit, constants.ScopeClient, r.metrics, r.log)
	oauthLimit := middleware.RateLimit(r.limiter, &r.config.RateLimit, constants.ScopeOAuth, r.metrics, r.log)

	auth := r.engine.Group("/auth", sessionMW)
	{
		auth.GET("/login", oauthLimit, r.authHandler.Login)
		auth.GET("/callback", oauthLimit, r.authHandler.Callback)
		auth.POST("/logout", csrfMW, r.authHandler.Logout)
		auth.GET("/status", r.authHandler.Status)
		auth.POST("/bridge", csrfMW, r.bridgeHandler.Mint)
	}

	// cookie-less consumers hit introspection directly, no session attaches
	r.engine.GET("/auth/bridge/:token", r.bridgeHandler.Introspect)

	api := r.engine.Group("/api", sessionMW, clientLimit, authMW)
	{
		api.GET("/*path", r.proxyHandler.Fetch)
	}

	ops := r.engine.Group("/ops")
	{
		ops.GET("/cache", r.opsHandler.CacheStats)
		ops.GET("/resilience", r.opsHandler.ResilienceStats)
		ops.DELETE("/cache", sessionMW, csrfMW, authMW, r.opsHandler.InvalidateUser)
	}
}

// Engine exposes the underlying engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start serves until the listener fails or Shutdown is called.
func (r *Router) Start() error {
	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.server = &http.Server{
		Addr:         addr,
		Handler:      r.engine,
		ReadTimeout:  time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(r.config.Server.WriteTimeout) * time.Second,
	}

	r.log.Info(context.Background(), "http server starting", logger.String("addr", addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.log.Info(ctx, "http server shutting down")
	return r.server.Shutdown(ctx)
}

package config

import (
	"fmt"
	"time"
)

// Config holds the application's configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Crypto     CryptoConfig     `mapstructure:"crypto"`
	Session    SessionConfig    `mapstructure:"session"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"read_timeout"`  // seconds
	WriteTimeout   int      `mapstructure:"write_timeout"` // seconds
	Environment    string   `mapstructure:"environment"`   // "production" hides debug detail
	TrustedProxies []string `mapstructure:"trusted_proxies"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	EnablePprof    bool     `mapstructure:"enable_pprof"`
}

// UpstreamConfig describes the single OAuth provider this gateway fronts.
type UpstreamConfig struct {
	ClientID       string   `mapstructure:"client_id"`
	ClientSecret   string   `mapstructure:"client_secret"`
	AuthURL        string   `mapstructure:"auth_url"`
	TokenURL       string   `mapstructure:"token_url"`
	RevokeURL      string   `mapstructure:"revoke_url"`
	RedirectURL    string   `mapstructure:"redirect_url"`
	APIBaseURL     string   `mapstructure:"api_base_url"`
	Scopes         []string `mapstructure:"scopes"`
	RequestTimeout int      `mapstructure:"request_timeout"` // seconds
	RevokeTimeout  int      `mapstructure:"revoke_timeout"`  // seconds
}

type CryptoConfig struct {
	// Key is the AES-256 key material for token blobs, hex or raw. Derived to
	// 32 bytes with SHA-256 at startup.
	Key string `mapstructure:"key"`
	// StateSigningKey signs the OAuth state parameter. Falls back to Key.
	StateSigningKey string `mapstructure:"state_signing_key"`
}

type SessionConfig struct {
	CookieName   string `mapstructure:"cookie_name"`
	CookieDomain string `mapstructure:"cookie_domain"`
	Secure       bool   `mapstructure:"secure"`
	SameSite     string `mapstructure:"same_site"` // "lax", "strict", "none"
	MaxAge       int    `mapstructure:"max_age"`   // seconds, hard session cutoff
	IdleTTL      int    `mapstructure:"idle_ttl"`  // seconds before an untouched session is swept
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	ClientWindowMs    int  `mapstructure:"client_window_ms"`
	ClientMaxRequests int  `mapstructure:"client_max_requests"`
	OAuthWindowMs     int  `mapstructure:"oauth_window_ms"`
	OAuthMaxRequests  int  `mapstructure:"oauth_max_requests"`
	// UseRedis switches the sliding window to the shared Redis backend so
	// multiple gateway instances count against one budget.
	UseRedis bool `mapstructure:"use_redis"`
}

// CacheConfig carries per-namespace TTLs in seconds.
type CacheConfig struct {
	ActivityDetailTTL int `mapstructure:"activity_detail_ttl"`
	ActivityStreamTTL int `mapstructure:"activity_stream_ttl"`
	ActivityListTTL   int `mapstructure:"activity_list_ttl"`
	AthleteProfileTTL int `mapstructure:"athlete_profile_ttl"`
	AthleteStatsTTL   int `mapstructure:"athlete_stats_ttl"`
	SweepInterval     int `mapstructure:"sweep_interval"` // seconds
}

type ResilienceConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BaseDelayMs      int `mapstructure:"base_delay_ms"`
	FailureThreshold int `mapstructure:"failure_threshold"`
	MonitoringPeriod int `mapstructure:"monitoring_period"` // seconds
	ResetTimeout     int `mapstructure:"reset_timeout"`     // seconds
}

type BridgeConfig struct {
	TokenTTL      int `mapstructure:"token_ttl"`      // seconds
	SweepInterval int `mapstructure:"sweep_interval"` // seconds
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Crypto.Key == "" {
		return fmt.Errorf("crypto.key is required")
	}
	if len(c.Crypto.Key) < 16 {
		return fmt.Errorf("crypto.key must carry at least 16 bytes of material")
	}
	if c.Upstream.ClientID == "" || c.Upstream.ClientSecret == "" {
		return fmt.Errorf("upstream.client_id and upstream.client_secret are required")
	}
	if c.Upstream.TokenURL == "" || c.Upstream.AuthURL == "" {
		return fmt.Errorf("upstream.auth_url and upstream.token_url are required")
	}
	if c.RateLimit.UseRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when rate_limit.use_redis is set")
	}
	return nil
}

// ClientWindow returns the admission window as a duration.
func (c *RateLimitConfig) ClientWindow() time.Duration {
	return time.Duration(c.ClientWindowMs) * time.Millisecond
}

// OAuthWindow returns the auth-endpoint window as a duration.
func (c *RateLimitConfig) OAuthWindow() time.Duration {
	return time.Duration(c.OAuthWindowMs) * time.Millisecond
}

// TTLFor maps a cache namespace name to its configured TTL.
func (c *CacheConfig) TTLFor(namespace string) time.Duration {
	secs := 0
	switch namespace {
	case "activity_detail":
		secs = c.ActivityDetailTTL
	case "activity_stream":
		secs = c.ActivityStreamTTL
	case "activity_list":
		secs = c.ActivityListTTL
	case "athlete_profile":
		secs = c.AthleteProfileTTL
	case "athlete_stats":
		secs = c.AthleteStatsTTL
	}
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

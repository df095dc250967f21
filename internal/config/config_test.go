package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Crypto.Key = "0123456789abcdef0123456789abcdef"
	cfg.Upstream.ClientID = "client-id"
	cfg.Upstream.ClientSecret = "client-secret"
	cfg.Upstream.AuthURL = "https://provider.example/oauth/authorize"
	cfg.Upstream.TokenURL = "https://provider.example/oauth/token"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing key", func(c *Config) { c.Crypto.Key = "" }, "crypto.key"},
		{"short key", func(c *Config) { c.Crypto.Key = "tooshort" }, "16 bytes"},
		{"missing client secret", func(c *Config) { c.Upstream.ClientSecret = "" }, "client_secret"},
		{"missing token url", func(c *Config) { c.Upstream.TokenURL = "" }, "token_url"},
		{"redis limiter without addr", func(c *Config) { c.RateLimit.UseRedis = true }, "redis.addr"},
		{"redis limiter with addr", func(c *Config) {
			c.RateLimit.UseRedis = true
			c.Redis.Addr = "localhost:6379"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestRateLimitWindows(t *testing.T) {
	rl := RateLimitConfig{ClientWindowMs: 900000, OAuthWindowMs: 60000}
	assert.Equal(t, 15*time.Minute, rl.ClientWindow())
	assert.Equal(t, time.Minute, rl.OAuthWindow())
}

func TestTTLFor(t *testing.T) {
	c := CacheConfig{
		ActivityDetailTTL:  86400,
		ActivityStreamTTL:  86400,
		ActivityListTTL:    300,
		AthleteProfileTTL:  3600,
		AthleteStatsTTL:    300,
	}

	assert.Equal(t, 24*time.Hour, c.TTLFor("activity_detail"))
	assert.Equal(t, 24*time.Hour, c.TTLFor("activity_stream"))
	assert.Equal(t, 5*time.Minute, c.TTLFor("activity_list"))
	assert.Equal(t, time.Hour, c.TTLFor("athlete_profile"))
	assert.Equal(t, 5*time.Minute, c.TTLFor("athlete_stats"))

	// unknown namespaces and zero values fall back to the safe short TTL
	assert.Equal(t, 5*time.Minute, c.TTLFor("segments"))
	var zero CacheConfig
	assert.Equal(t, 5*time.Minute, zero.TTLFor("activity_detail"))
}

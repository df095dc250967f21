package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/veloprint/gateway/pkg/logger"
)

// LoadConfig loads the configuration from file, environment variables, and
// defaults. Environment variables use the GATEWAY_ prefix with dots replaced
// by underscores (e.g. GATEWAY_UPSTREAM_CLIENT_ID).
func LoadConfig(log logger.Logger) (*Config, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WatchConfig re-reads the config file on change and hands the re-validated
// result to onReload. Only tunables should be consumed from reloads; listener
// addresses and key material are fixed for the process lifetime.
func WatchConfig(log logger.Logger, onReload func(*Config)) {
	v := newViper()
	if err := v.ReadInConfig(); err != nil {
		return // nothing to watch
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.Warn(context.Background(), "config reload failed to parse",
				logger.String("file", e.Name), logger.Error(err))
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn(context.Background(), "config reload rejected",
				logger.String("file", e.Name), logger.Error(err))
			return
		}
		log.Info(context.Background(), "config reloaded", logger.String("file", e.Name))
		onReload(&cfg)
	})
	v.WatchConfig()
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.environment", "production")
	v.SetDefault("session.cookie_name", "gw_session")
	v.SetDefault("session.secure", true)
	v.SetDefault("session.same_site", "lax")
	v.SetDefault("session.max_age", 7*24*3600)
	v.SetDefault("session.idle_ttl", 24*3600)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.client_window_ms", 15*60*1000)
	v.SetDefault("rate_limit.client_max_requests", 50)
	v.SetDefault("rate_limit.oauth_window_ms", 15*60*1000)
	v.SetDefault("rate_limit.oauth_max_requests", 10)
	v.SetDefault("cache.activity_detail_ttl", 24*3600)
	v.SetDefault("cache.activity_stream_ttl", 24*3600)
	v.SetDefault("cache.activity_list_ttl", 300)
	v.SetDefault("cache.athlete_profile_ttl", 3600)
	v.SetDefault("cache.athlete_stats_ttl", 300)
	v.SetDefault("cache.sweep_interval", 600)
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.base_delay_ms", 500)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.monitoring_period", 60)
	v.SetDefault("resilience.reset_timeout", 30)
	v.SetDefault("bridge.token_ttl", 600)
	v.SetDefault("bridge.sweep_interval", 60)
	v.SetDefault("upstream.request_timeout", 30)
	v.SetDefault("upstream.revoke_timeout", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/veloprint-gateway/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

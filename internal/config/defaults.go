package config

import (
	"time"

	"github.com/spf13/viper"
)

// applyDefaults sets values for optional settings only. host, port,
// base_url, token.*, store.url and storage.dir stay unset so that their
// absence fails validation.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("version", "dev")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("login.rate_limit", 10)
	v.SetDefault("login.rate_window", time.Minute)
	v.SetDefault("login.lockout_max_attempts", 5)
	v.SetDefault("login.lockout_duration", 15*time.Minute)
	v.SetDefault("login.lockout_window", 10*time.Minute)
	v.SetDefault("login.trust_proxy_headers", false)

	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.timeout", 30*time.Second)

	v.SetDefault("max_upload_bytes", int64(1<<30))
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("shutdown_timeout", 5*time.Second)
}

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then the rules that span fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.Storage.Driver == "minio" {
		s3 := cfg.Storage.S3
		if s3.Endpoint == "" || s3.AccessKey == "" || s3.SecretKey == "" || s3.Bucket == "" {
			return errMissingS3
		}
	}

	return nil
}

// formatValidationError reports the first failing field by its environment
// variable so operators know exactly what to set.
func formatValidationError(err error) error {
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrs) == 0 {
		return err
	}

	e := validationErrs[0]
	key := fieldKey(e.Namespace())
	if e.Tag() == "required" {
		return fmt.Errorf("%s is required", EnvName(key))
	}
	return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", EnvName(key), e.Tag(), e.Value())
}

// fieldKey maps a validator namespace such as "Config.Token.TTLMinutes" to
// the viper key "token.ttl_minutes".
func fieldKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		if k, ok := fieldKeys[p]; ok {
			parts[i] = k
			continue
		}
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, ".")
}

var fieldKeys = map[string]string{
	"BaseURL":         "base_url",
	"TTLMinutes":      "ttl_minutes",
	"URL":             "url",
	"Dir":             "dir",
	"Logging":         "log",
	"RateLimit":       "rate_limit",
	"RateWindow":      "rate_window",
	"MaxAttempts":     "lockout_max_attempts",
	"LockoutDuration": "lockout_duration",
	"LockoutWindow":   "lockout_window",
	"MaxUploadBytes":  "max_upload_bytes",
	"BcryptCost":      "bcrypt_cost",
	"ShutdownTimeout": "shutdown_timeout",
	"AccessKey":       "access_key",
	"SecretKey":       "secret_key",
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Environment variable names
const (
	EnvConfig          = "CHATD_CONFIG"
	EnvListen          = "CHATD_LISTEN"
	EnvGraphQLPath     = "CHATD_GRAPHQL_PATH"
	EnvAppSecret       = "CHATD_APP_SECRET"
	EnvTokenTTL        = "CHATD_TOKEN_TTL"
	EnvShutdownTimeout = "CHATD_SHUTDOWN_TIMEOUT"
	EnvDev             = "CHATD_DEV"
	EnvStoreDriver     = "CHATD_STORE_DRIVER"
	EnvStoreDSN        = "CHATD_STORE_DSN"
	EnvBusBackend      = "CHATD_BUS_BACKEND"
	EnvBusURL          = "CHATD_BUS_URL"
	EnvBusBuffer       = "CHATD_BUS_BUFFER"
	EnvLogLevel        = "CHATD_LOG_LEVEL"
	EnvLogFormat       = "CHATD_LOG_FORMAT"
	EnvCORSOrigins     = "CHATD_CORS_ORIGINS"
)

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvVars expands environment variables in the input string.
// Supports ${VAR_NAME} and ${VAR_NAME:-default} syntax.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val := os.Getenv(submatch[1]); val != "" {
			return val
		}
		if len(submatch) >= 3 {
			return submatch[2]
		}
		return ""
	})
}

// ApplyEnv overrides cfg with any CHATD_* variables present in the environment.
// Malformed values leave the field unchanged and are reported by Validate.
func ApplyEnv(cfg *Config) {
	cfg.envErrors = nil

	setString(&cfg.Listen, EnvListen)
	setString(&cfg.GraphQLPath, EnvGraphQLPath)
	setString(&cfg.AppSecret, EnvAppSecret)
	setString(&cfg.Store.Driver, EnvStoreDriver)
	setString(&cfg.Store.DSN, EnvStoreDSN)
	setString(&cfg.Bus.Backend, EnvBusBackend)
	setString(&cfg.Bus.URL, EnvBusURL)
	setString(&cfg.Log.Level, EnvLogLevel)
	setString(&cfg.Log.Format, EnvLogFormat)

	cfg.setParsed(EnvTokenTTL, func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			cfg.TokenTTL = d
		}
		return err
	})
	cfg.setParsed(EnvShutdownTimeout, func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			cfg.ShutdownTimeout = d
		}
		return err
	})
	cfg.setParsed(EnvDev, func(v string) error {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.Dev = b
		}
		return err
	})
	cfg.setParsed(EnvBusBuffer, func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			cfg.Bus.Buffer = n
		}
		return err
	})

	if v := os.Getenv(EnvCORSOrigins); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setParsed runs parse on a non-empty key and records a failure.
func (c *Config) setParsed(key string, parse func(string) error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if err := parse(v); err != nil {
		c.envErrors = append(c.envErrors, &ValidationError{
			Field:   key,
			Message: fmt.Sprintf("invalid value %q", v),
		})
	}
}

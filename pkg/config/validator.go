package config

import (
	"errors"
	"fmt"
	"strings"
)

// MinSecretLength is the minimum app secret length outside dev mode.
const MinSecretLength = 16

// ValidationError describes an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	errs := append([]error(nil), c.envErrors...)

	if c.Listen == "" {
		errs = append(errs, &ValidationError{Field: "listen", Message: "is required"})
	}
	if !strings.HasPrefix(c.GraphQLPath, "/") {
		errs = append(errs, &ValidationError{Field: "graphqlPath", Message: "must start with /"})
	}

	switch {
	case c.AppSecret == "":
		errs = append(errs, &ValidationError{Field: "appSecret", Message: "is required (set " + EnvAppSecret + ")"})
	case !c.Dev && len(c.AppSecret) < MinSecretLength:
		errs = append(errs, &ValidationError{
			Field:   "appSecret",
			Message: fmt.Sprintf("must be at least %d bytes", MinSecretLength),
		})
	}

	if c.TokenTTL < 0 {
		errs = append(errs, &ValidationError{Field: "tokenTTL", Message: "must not be negative"})
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, &ValidationError{Field: "store.dsn", Message: "is required for driver " + c.Store.Driver})
		}
	default:
		errs = append(errs, &ValidationError{Field: "store.driver", Message: fmt.Sprintf("unknown driver %q", c.Store.Driver)})
	}

	switch c.Bus.Backend {
	case BusMemory:
	case BusRedis, BusNATS:
		if c.Bus.URL == "" {
			errs = append(errs, &ValidationError{Field: "bus.url", Message: "is required for backend " + c.Bus.Backend})
		}
	default:
		errs = append(errs, &ValidationError{Field: "bus.backend", Message: fmt.Sprintf("unknown backend %q", c.Bus.Backend)})
	}

	if c.Bus.Buffer < 1 {
		errs = append(errs, &ValidationError{Field: "bus.buffer", Message: "must be at least 1"})
	}

	return errors.Join(errs...)
}

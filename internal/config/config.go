package config

import (
	"errors"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

type Config struct {
	Port string

	DatabaseURL string

	// LicenseSecret keys the HMAC integrity tag embedded in every
	// license key. Rotating it invalidates all outstanding keys.
	LicenseSecret string

	SentryDSN string

	AllowedOrigins []string
}

// New reads configuration from the environment. Every missing required
// variable is reported, not just the first one.
func New() (*Config, error) {
	var missing *multierror.Error

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		missing = multierror.Append(missing, errors.New("DATABASE_URL environment variable is required"))
	}

	licenseSecret := os.Getenv("LICENSE_SECRET")
	if licenseSecret == "" {
		missing = multierror.Append(missing, errors.New("LICENSE_SECRET environment variable is required"))
	}

	if err := missing.ErrorOrNil(); err != nil {
		return nil, err
	}

	origins := []string{"*"}
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		origins = origins[:0]
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return &Config{
		Port:           port,
		DatabaseURL:    dbURL,
		LicenseSecret:  licenseSecret,
		SentryDSN:      os.Getenv("SENTRY_DSN"),
		AllowedOrigins: origins,
	}, nil
}

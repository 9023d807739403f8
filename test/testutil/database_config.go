package testutil

import (
	"net/url"
	"os"
)

// DatabaseConfig selects the server integration tests run against.
type DatabaseConfig struct {
	// URL is the admin DSN of an existing server. Empty means a container
	// is started instead.
	URL string
}

// GetDatabaseConfig reads database configuration from environment variables.
// DATABASE_URL wins over the DATABASE_HOST family; with neither set the
// returned config is empty.
func GetDatabaseConfig() DatabaseConfig {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return DatabaseConfig{URL: dsn}
	}

	host := os.Getenv("DATABASE_HOST")
	if host == "" {
		return DatabaseConfig{}
	}

	return DatabaseConfig{URL: buildDatabaseURL(
		getEnv("DATABASE_USER", "postgres"),
		os.Getenv("DATABASE_PASSWORD"),
		host,
		getEnv("DATABASE_PORT", "5432"),
		getEnv("DATABASE_NAME", "postgres"),
		getEnv("DATABASE_SSLMODE", "prefer"),
	)}
}

func buildDatabaseURL(user, password, host, port, dbname, sslmode string) string {
	u := &url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// getEnv gets an environment variable with a fallback default value.
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

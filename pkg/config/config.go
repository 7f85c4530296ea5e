package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds process configuration.
type Config struct {
	DatabaseDriver string // sqlite | postgres
	DatabaseURL    string
	LogLevel       string
	LogFormat      string

	// RedisAddr selects the Redis sequence counter when set; otherwise the
	// counter lives in the SQL database.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProfilePath string

	ElasticsearchAddresses   []string
	ElasticsearchUnitIndex   string
	ElasticsearchAgencyIndex string

	OTelEnabled  bool
	OTelEndpoint string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	driver := getenv("DATABASE_DRIVER", "sqlite")
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		if driver == "postgres" {
			dbURL = "postgres://funcadmin@localhost:5432/funcadmin?sslmode=disable"
		} else {
			dbURL = "file:funcadmin.db?_pragma=busy_timeout(5000)"
		}
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		redisDB = n
	}

	var esAddresses []string
	for _, a := range strings.Split(os.Getenv("ELASTICSEARCH_ADDRESSES"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			esAddresses = append(esAddresses, a)
		}
	}

	return &Config{
		DatabaseDriver:           driver,
		DatabaseURL:              dbURL,
		LogLevel:                 strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:                getenv("LOG_FORMAT", "text"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		ProfilePath:              os.Getenv("PROFILE_PATH"),
		ElasticsearchAddresses:   esAddresses,
		ElasticsearchUnitIndex:   getenv("ELASTICSEARCH_UNIT_INDEX", "unit"),
		ElasticsearchAgencyIndex: getenv("ELASTICSEARCH_AGENCY_INDEX", "agency"),
		OTelEnabled:              os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:             getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

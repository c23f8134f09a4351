package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"hermannm.dev/pivot/pivot"
	"hermannm.dev/wrap"
)

type Base struct {
	IsProduction bool       `env:"PRODUCTION" envDefault:"false"`
	LogLevel     slog.Level `env:"LOG_LEVEL"  envDefault:"INFO"`
}

// Client configures the pivot query client.
type Client struct {
	Base
	// Empty to resolve paths against Origin.
	APIURL string `env:"PIVOT_API_URL" envDefault:""`
	Origin string `env:"PIVOT_ORIGIN"  envDefault:""`
	// Region to force on all queries, if any.
	Region   string `env:"PIVOT_REGION" envDefault:""`
	Timeouts Timeouts
	Debounce Debounce
}

type Timeouts struct {
	Base      time.Duration `env:"PIVOT_TIMEOUT_BASE"       envDefault:"60s"`
	PerPeriod time.Duration `env:"PIVOT_TIMEOUT_PER_PERIOD" envDefault:"30s"`
	Ceiling   time.Duration `env:"PIVOT_TIMEOUT_CEILING"    envDefault:"300s"`
}

func (timeouts Timeouts) Policy() pivot.TimeoutPolicy {
	return pivot.TimeoutPolicy{
		Base:      timeouts.Base,
		PerPeriod: timeouts.PerPeriod,
		Ceiling:   timeouts.Ceiling,
	}
}

// Debounce delays per kind of user input.
type Debounce struct {
	// Dimension value searches as the user types.
	Search time.Duration `env:"PIVOT_DEBOUNCE_SEARCH" envDefault:"300ms"`
	// Query re-runs as the user edits filters.
	Query time.Duration `env:"PIVOT_DEBOUNCE_QUERY" envDefault:"400ms"`
}

// Server configures the pivot backend.
type Server struct {
	ServerBase
	ClickHouse    ClickHouse
	Elasticsearch Elasticsearch
}

type ServerBase struct {
	Base
	DB  SupportedDB `env:"DATABASE" envDefault:"clickhouse"`
	API API
}

type API struct {
	Port       string `env:"API_PORT"`
	SchemaFile string `env:"PIVOT_SCHEMA_FILE" envDefault:"pivot_schema.yaml"`

	RateLimitPerSecond   float64       `env:"RATE_LIMIT_PER_SECOND"  envDefault:"5"`
	RateLimitBurst       int           `env:"RATE_LIMIT_BURST"       envDefault:"20"`
	RateLimitRetryAfter  time.Duration `env:"RATE_LIMIT_RETRY_AFTER" envDefault:"60s"`
	MaxConcurrentQueries int64         `env:"MAX_CONCURRENT_QUERIES" envDefault:"4"`
	QueryTimeout         time.Duration `env:"SERVER_QUERY_TIMEOUT"   envDefault:"240s"`
}

type ClickHouse struct {
	Address      string `env:"CLICKHOUSE_ADDRESS"`
	DatabaseName string `env:"CLICKHOUSE_DB_NAME"`
	Username     string `env:"CLICKHOUSE_USERNAME"`
	Password     string `env:"CLICKHOUSE_PASSWORD"`
	Debug        bool   `env:"CLICKHOUSE_DEBUG_ENABLED" envDefault:"false"`
}

// Elasticsearch is optional: dimension value searches use it when Address is set.
type Elasticsearch struct {
	Address string `env:"ELASTICSEARCH_ADDRESS"       envDefault:""`
	Index   string `env:"ELASTICSEARCH_INDEX"         envDefault:"pivot-dimension-values"`
	Debug   bool   `env:"ELASTICSEARCH_DEBUG_ENABLED" envDefault:"false"`
}

func (elasticsearch Elasticsearch) Enabled() bool {
	return elasticsearch.Address != ""
}

type SupportedDB string

const (
	DBClickHouse SupportedDB = "clickhouse"
)

func ReadClientFromEnv() (Client, error) {
	if err := loadDotEnv(); err != nil {
		return Client{}, err
	}
	return ParseClient(nil)
}

func ReadServerFromEnv() (Server, error) {
	if err := loadDotEnv(); err != nil {
		return Server{}, err
	}
	return ParseServer(nil)
}

// ParseClient reads client config from the given environment, or from the process environment if
// nil.
func ParseClient(environment map[string]string) (Client, error) {
	var config Client
	if err := env.ParseWithOptions(&config, parseOptions(environment)); err != nil {
		return Client{}, wrap.Error(err, "invalid client config")
	}

	timeouts := config.Timeouts
	if timeouts.Base <= 0 || timeouts.PerPeriod < 0 || timeouts.Ceiling < timeouts.Base {
		return Client{}, fmt.Errorf(
			"invalid query timeouts (base %v, per period %v, ceiling %v): base must be positive, and ceiling at least base",
			timeouts.Base,
			timeouts.PerPeriod,
			timeouts.Ceiling,
		)
	}

	return config, nil
}

// ParseServer reads server config from the given environment, or from the process environment if
// nil.
func ParseServer(environment map[string]string) (Server, error) {
	options := parseOptions(environment)

	var config Server
	if err := env.ParseWithOptions(&config.ServerBase, options); err != nil {
		return Server{}, wrap.Error(err, "invalid server config")
	}

	var errs []error
	if config.API.RateLimitPerSecond <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_SECOND must be positive"))
	}
	if config.API.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be at least 1"))
	}
	if config.API.MaxConcurrentQueries < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_QUERIES must be at least 1"))
	}
	if len(errs) != 0 {
		return Server{}, wrap.Errors("invalid API config", errs...)
	}

	switch config.DB {
	case DBClickHouse:
		if err := env.ParseWithOptions(&config.ClickHouse, options); err != nil {
			return Server{}, wrap.Error(err, "invalid ClickHouse config")
		}
	default:
		err := fmt.Errorf("must be one of: '%s'", DBClickHouse)
		return Server{}, wrap.Errorf(err, "unsupported value '%s' for DATABASE in env", config.DB)
	}

	if err := env.ParseWithOptions(&config.Elasticsearch, options); err != nil {
		return Server{}, wrap.Error(err, "invalid Elasticsearch config")
	}

	return config, nil
}

// A missing .env file is fine, since variables may be set on the process instead.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap.Error(err, "failed to load .env file")
	}
	return nil
}

func parseOptions(environment map[string]string) env.Options {
	return env.Options{RequiredIfNoDef: true, Environment: environment}
}

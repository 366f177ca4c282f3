// Package config builds the service configuration once at startup from an
// optional YAML file (BILLING_CONFIG) overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	billing "community-billing/internal/billing/domain"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the explicit service configuration.
type Config struct {
	HTTPAddr    string            `yaml:"http_addr"`
	DatabaseURL string            `yaml:"database_url"`
	StoreDriver string            `yaml:"store_driver"`
	Migrate     bool              `yaml:"migrate"`
	JWTSecret   string            `yaml:"jwt_secret"`
	Log         LogConfig         `yaml:"log"`
	Electricity ElectricityConfig `yaml:"electricity"`
	Budget      BudgetConfig      `yaml:"budget"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// LogConfig selects the zap logger preset.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ElectricityConfig holds tariff coefficients as decimal strings.
type ElectricityConfig struct {
	Multiplier string `yaml:"multiplier"`
	Rate       string `yaml:"rate"`
	Losses     string `yaml:"losses"`
	Strategy   string `yaml:"strategy"`
}

// BudgetConfig holds default yearly budgets used when a request omits one.
type BudgetConfig struct {
	MainYearBudget         string `yaml:"main_year_budget"`
	ConservationYearBudget string `yaml:"conservation_year_budget"`
}

// TracingConfig selects the OTLP exporter. Tracing is off unless enabled.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ServiceName   string  `yaml:"service_name"`
	Endpoint      string  `yaml:"endpoint"`
	Protocol      string  `yaml:"protocol"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// Load reads defaults, then the YAML file named by BILLING_CONFIG, then
// environment overrides, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    ":8080",
		StoreDriver: DriverPostgres,
		Log:         LogConfig{Level: "info"},
		Electricity: ElectricityConfig{
			Multiplier: "1",
			Rate:       "0",
			Losses:     "0",
			Strategy:   billing.StrategyProportional,
		},
		Tracing: TracingConfig{
			ServiceName:   "community-billing",
			Protocol:      "http",
			SamplingRatio: 1,
		},
	}

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.StoreDriver = strings.ToLower(getenvDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.Migrate = getenvBoolDefault("DB_MIGRATE", cfg.Migrate)
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = getenvBoolDefault("LOG_DEVELOPMENT", cfg.Log.Development)
	cfg.Electricity.Multiplier = getenvDefault("ELECTRICITY_MULTIPLIER", cfg.Electricity.Multiplier)
	cfg.Electricity.Rate = getenvDefault("ELECTRICITY_RATE", cfg.Electricity.Rate)
	cfg.Electricity.Losses = getenvDefault("ELECTRICITY_LOSSES", cfg.Electricity.Losses)
	cfg.Electricity.Strategy = getenvDefault("SHARED_COST_STRATEGY", cfg.Electricity.Strategy)
	cfg.Budget.MainYearBudget = getenvDefault("MAIN_YEAR_BUDGET", cfg.Budget.MainYearBudget)
	cfg.Budget.ConservationYearBudget = getenvDefault("CONSERVATION_YEAR_BUDGET", cfg.Budget.ConservationYearBudget)
	cfg.Tracing.Enabled = getenvBoolDefault("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Protocol = getenvDefault("OTEL_EXPORTER_OTLP_PROTOCOL", cfg.Tracing.Protocol)
	cfg.Tracing.SamplingRatio = getenvFloatDefault("TRACING_SAMPLING_RATIO", cfg.Tracing.SamplingRatio)

	return cfg, cfg.Validate()
}

// Validate checks required fields and parses every decimal.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if _, err := c.Tariff(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if _, err := parseOptional("budget.main_year_budget", c.Budget.MainYearBudget); err != nil {
		return err
	}
	if _, err := parseOptional("budget.conservation_year_budget", c.Budget.ConservationYearBudget); err != nil {
		return err
	}
	return nil
}

// Tariff returns the electricity tariff.
func (c Config) Tariff() (billing.Tariff, error) {
	multiplier, err := parseDecimal("electricity.multiplier", c.Electricity.Multiplier)
	if err != nil {
		return billing.Tariff{}, err
	}
	rate, err := parseDecimal("electricity.rate", c.Electricity.Rate)
	if err != nil {
		return billing.Tariff{}, err
	}
	losses, err := parseDecimal("electricity.losses", c.Electricity.Losses)
	if err != nil {
		return billing.Tariff{}, err
	}
	tariff := billing.Tariff{Multiplier: multiplier, Rate: rate, Losses: losses}
	if err := tariff.Validate(); err != nil {
		return billing.Tariff{}, fmt.Errorf("config: %w", err)
	}
	return tariff, nil
}

// Strategy returns the shared electricity strategy.
func (c Config) Strategy() (billing.Strategy, error) {
	return billing.ParseStrategy(c.Electricity.Strategy)
}

// MainYearBudget returns the default MAIN budget; zero when unset.
func (c Config) MainYearBudget() decimal.Decimal {
	d, _ := parseOptional("", c.Budget.MainYearBudget)
	return d
}

// ConservationYearBudget returns the default CONSERVATION budget; zero when
// unset.
func (c Config) ConservationYearBudget() decimal.Decimal {
	d, _ := parseOptional("", c.Budget.ConservationYearBudget)
	return d
}

func parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: invalid decimal %q", field, value)
	}
	return d, nil
}

func parseOptional(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(field, value)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

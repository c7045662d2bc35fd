// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	FlowSource FlowSourceConfig `mapstructure:"flow_source"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Paper mode simulates fills; live mode routes orders to an executor.
	Paper bool `mapstructure:"paper"`
}

// FlowSourceConfig holds the on-chain flow feed configuration.
type FlowSourceConfig struct {
	WebSocketURL     string        `mapstructure:"websocket_url"`
	MinAmountBTC     float64       `mapstructure:"min_amount_btc"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

// TradingConfig holds sizing, fees, and exit parameters.
type TradingConfig struct {
	InitialCapital    float64       `mapstructure:"initial_capital"`
	MaxPositions      int           `mapstructure:"max_positions"`
	PositionSizePct   float64       `mapstructure:"position_size_pct"`
	DefaultLeverage   int           `mapstructure:"default_leverage"`
	StopLossPct       float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct     float64       `mapstructure:"take_profit_pct"`
	FeePct            float64       `mapstructure:"fee_pct"`
	MinFlowBTC        float64       `mapstructure:"min_flow_btc"`
	MinImpactMultiple float64       `mapstructure:"min_impact_multiple"`
	TakeProfitRatio   float64       `mapstructure:"take_profit_ratio"`
	MinProfitMovePct  float64       `mapstructure:"min_profit_move_pct"`
	EnforceStops      bool          `mapstructure:"enforce_stops"`
	ExitCheckInterval time.Duration `mapstructure:"exit_check_interval"`
	BookDepth         int           `mapstructure:"book_depth"`
	Venues            []string      `mapstructure:"venues"` // empty allows every catalog venue
}

// SafetyConfig holds the pre-trade veto thresholds.
type SafetyConfig struct {
	FundingBlackout time.Duration `mapstructure:"funding_blackout"`
	ExpiryBuffer    time.Duration `mapstructure:"expiry_buffer"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ClickHouseConfig holds ClickHouse connection configuration.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPort int    `mapstructure:"metrics_port"`
	Namespace   string `mapstructure:"namespace"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("BFT")
	v.AutomaticEnv()

	// Bind env vars to config keys
	bindEnvVars(v)

	// Set defaults
	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "BFT_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "BFT_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.paper", "BFT_PAPER")

	// Flow source
	v.BindEnv("flow_source.websocket_url", "BFT_FLOW_WS_URL", "FLOW_WS_URL")
	v.BindEnv("flow_source.min_amount_btc", "BFT_MIN_AMOUNT_BTC")

	// Trading
	v.BindEnv("trading.initial_capital", "BFT_INITIAL_CAPITAL")
	v.BindEnv("trading.max_positions", "BFT_MAX_POSITIONS")
	v.BindEnv("trading.default_leverage", "BFT_DEFAULT_LEVERAGE")
	v.BindEnv("trading.venues", "BFT_VENUES")

	// Databases
	v.BindEnv("postgres.dsn", "BFT_POSTGRES_DSN", "POSTGRES_DSN")
	v.BindEnv("clickhouse.dsn", "BFT_CLICKHOUSE_DSN", "CLICKHOUSE_DSN")

	// Telemetry
	v.BindEnv("telemetry.enabled", "BFT_METRICS_ENABLED")
	v.BindEnv("telemetry.metrics_port", "BFT_METRICS_PORT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "bitcoin-flow-trader")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.paper", true)

	// Flow source defaults
	v.SetDefault("flow_source.min_amount_btc", 5.0)
	v.SetDefault("flow_source.reconnect_backoff", "1s")
	v.SetDefault("flow_source.max_backoff", "30s")
	v.SetDefault("flow_source.ping_interval", "30s")

	// Trading defaults
	v.SetDefault("trading.initial_capital", 100.0)
	v.SetDefault("trading.max_positions", 4)
	v.SetDefault("trading.position_size_pct", 0.25)
	v.SetDefault("trading.default_leverage", 20)
	v.SetDefault("trading.stop_loss_pct", 0.01)
	v.SetDefault("trading.take_profit_pct", 0.02)
	v.SetDefault("trading.fee_pct", 0.05)
	v.SetDefault("trading.min_flow_btc", 5.0)
	v.SetDefault("trading.min_impact_multiple", 2.0)
	v.SetDefault("trading.take_profit_ratio", 0.8)
	v.SetDefault("trading.min_profit_move_pct", 0.5)
	v.SetDefault("trading.enforce_stops", false)
	v.SetDefault("trading.exit_check_interval", "2s")
	v.SetDefault("trading.book_depth", 50)

	// Safety defaults
	v.SetDefault("safety.funding_blackout", "10m")
	v.SetDefault("safety.expiry_buffer", "24h")

	// Database defaults
	v.SetDefault("postgres.max_conns", 10)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.namespace", "btc_flow_trader")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be positive")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("trading.max_positions must be positive")
	}
	if c.Trading.PositionSizePct <= 0 || c.Trading.PositionSizePct > 1 {
		return fmt.Errorf("trading.position_size_pct must be in (0, 1]")
	}
	if c.Trading.DefaultLeverage < 1 {
		return fmt.Errorf("trading.default_leverage must be at least 1")
	}
	if c.Trading.FeePct < 0 {
		return fmt.Errorf("trading.fee_pct cannot be negative")
	}
	if c.Trading.MinImpactMultiple <= 0 {
		return fmt.Errorf("trading.min_impact_multiple must be positive")
	}
	if c.Trading.TakeProfitRatio <= 0 || c.Trading.TakeProfitRatio > 1 {
		return fmt.Errorf("trading.take_profit_ratio must be in (0, 1]")
	}
	if c.Trading.ExitCheckInterval <= 0 {
		return fmt.Errorf("trading.exit_check_interval must be positive")
	}
	return nil
}

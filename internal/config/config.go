package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chartcore/internal/market"
)

// Config represents the application configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Market  MarketConfig  `yaml:"market"`
	Chart   ChartConfig   `yaml:"chart"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig holds API provider configurations
type APIConfig struct {
	Finnhub ProviderConfig `yaml:"finnhub"`
	Alpaca  AlpacaConfig   `yaml:"alpaca"`
	Yahoo   YahooConfig    `yaml:"yahoo"`
}

// ProviderConfig holds individual provider settings
type ProviderConfig struct {
	Key       string `yaml:"key"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute
}

// AlpacaConfig holds Alpaca market-data and trading API settings
type AlpacaConfig struct {
	Key       string `yaml:"key"`
	Secret    string `yaml:"secret"`
	DataURL   string `yaml:"data_url"`
	BaseURL   string `yaml:"base_url"` // trading API, used for the calendar
	Feed      string `yaml:"feed"`
	RateLimit int    `yaml:"rate_limit"`
}

// YahooConfig toggles the keyless Yahoo provider
type YahooConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MarketConfig describes the exchange day. Times are HH:MM in Timezone.
type MarketConfig struct {
	Timezone     string `yaml:"timezone"`
	PreOpen      string `yaml:"pre_open"`
	RegularOpen  string `yaml:"regular_open"`
	RegularClose string `yaml:"regular_close"`
	AfterClose   string `yaml:"after_close"`
	UseCalendar  bool   `yaml:"use_calendar"` // ask Alpaca for holidays instead of the static table
}

// ChartConfig holds loader and renderer settings
type ChartConfig struct {
	LoadTimeout          time.Duration `yaml:"load_timeout"`
	IntradayLookbackDays int           `yaml:"intraday_lookback_days"`
	MiniLookbackDays     int           `yaml:"mini_lookback_days"`
	TenMinuteMaxDays     int           `yaml:"ten_minute_max_days"` // 0 = no cap
	VolumeBackfillDays   int           `yaml:"volume_backfill_days"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	SparseThreshold      int           `yaml:"sparse_threshold"`
	CacheTTL             time.Duration `yaml:"cache_ttl"`
	Width                float64       `yaml:"width"`
	Height               float64       `yaml:"height"`
}

// StorageConfig holds local persistence paths. Empty disables the store.
type StorageConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// ServerConfig holds the debug API listener
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Finnhub: ProviderConfig{RateLimit: 60},
			Alpaca:  AlpacaConfig{Feed: "iex", RateLimit: 200},
			Yahoo:   YahooConfig{Enabled: true},
		},
		Market: MarketConfig{
			Timezone:     "America/New_York",
			PreOpen:      "04:00",
			RegularOpen:  "09:30",
			RegularClose: "16:00",
			AfterClose:   "20:00",
		},
		Chart: ChartConfig{
			LoadTimeout:          15 * time.Second,
			IntradayLookbackDays: 180,
			MiniLookbackDays:     90,
			TenMinuteMaxDays:     59,
			VolumeBackfillDays:   90,
			PollInterval:         60 * time.Second,
			SparseThreshold:      50,
			CacheTTL:             30 * time.Second,
			Width:                800,
			Height:               300,
		},
		Storage: StorageConfig{
			SQLitePath:  "data/chartcore.db",
			SnapshotDir: "data/snapshots",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration: defaults, then the YAML file, then environment.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		case os.IsNotExist(err):
			// Use defaults if file doesn't exist
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secrets and a few deployment knobs from the environment
func (c *Config) applyEnv() {
	c.API.Finnhub.Key = getEnvOrDefault("FINNHUB_API_KEY", c.API.Finnhub.Key)
	c.API.Alpaca.Key = getEnvOrDefault("APCA_API_KEY_ID", c.API.Alpaca.Key)
	c.API.Alpaca.Secret = getEnvOrDefault("APCA_API_SECRET_KEY", c.API.Alpaca.Secret)
	c.API.Alpaca.DataURL = getEnvOrDefault("APCA_API_DATA_URL", c.API.Alpaca.DataURL)
	c.API.Alpaca.BaseURL = getEnvOrDefault("APCA_API_BASE_URL", c.API.Alpaca.BaseURL)
	c.API.Yahoo.Enabled = getEnvBoolOrDefault("CHARTCORE_YAHOO_ENABLED", c.API.Yahoo.Enabled)
	c.Storage.SQLitePath = getEnvOrDefault("CHARTCORE_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.SnapshotDir = getEnvOrDefault("CHARTCORE_SNAPSHOT_DIR", c.Storage.SnapshotDir)
	c.Server.Addr = getEnvOrDefault("CHARTCORE_ADDR", c.Server.Addr)
	c.Logging.Level = getEnvOrDefault("CHARTCORE_LOG_LEVEL", c.Logging.Level)
	c.Chart.SparseThreshold = getEnvIntOrDefault("CHARTCORE_SPARSE_THRESHOLD", c.Chart.SparseThreshold)
}

// Schedule builds the market schedule from the market section
func (c *Config) Schedule() (market.Schedule, error) {
	return market.ParseSchedule(c.Market.Timezone, c.Market.PreOpen, c.Market.RegularOpen, c.Market.RegularClose, c.Market.AfterClose)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.API.Yahoo.Enabled && c.API.Finnhub.Key == "" && c.API.Alpaca.Key == "" {
		return fmt.Errorf("no price provider: enable yahoo or set FINNHUB_API_KEY or APCA_API_KEY_ID")
	}
	if c.API.Alpaca.Key != "" && c.API.Alpaca.Secret == "" {
		return fmt.Errorf("alpaca key set without APCA_API_SECRET_KEY")
	}
	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("market: %w", err)
	}
	if c.Chart.LoadTimeout <= 0 {
		return fmt.Errorf("chart.load_timeout must be positive")
	}
	if c.Chart.PollInterval <= 0 {
		return fmt.Errorf("chart.poll_interval must be positive")
	}
	if c.Chart.IntradayLookbackDays < 1 || c.Chart.MiniLookbackDays < 1 {
		return fmt.Errorf("chart lookback days must be at least 1")
	}
	if c.Chart.TenMinuteMaxDays < 0 {
		return fmt.Errorf("chart.ten_minute_max_days must not be negative")
	}
	if c.Chart.VolumeBackfillDays < 0 {
		return fmt.Errorf("chart.volume_backfill_days must not be negative")
	}
	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		return fmt.Errorf("chart width and height must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	State     StateConfig     `yaml:"state"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Scanner   ScannerConfig   `yaml:"scanner"`
}

const (
	LogEncodingJSON    = "json"
	LogEncodingConsole = "console"
)

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type RESTConfig struct {
	SpotBaseURL    string        `yaml:"spot_base_url"`
	FuturesBaseURL string        `yaml:"futures_base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RecvWindow     int64         `yaml:"recv_window"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	RequestBurst   int           `yaml:"request_burst"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Mode selects which leg buys and which sells.
type Mode string

const (
	ModeBuySpotShortFutures Mode = "buy_spot_short_futures"
	ModeSellSpotLongFutures Mode = "sell_spot_long_futures"
)

type StrategyConfig struct {
	CapitalUSD      float64       `yaml:"capital_usd"`
	SpotSymbol      string        `yaml:"spot_symbol"`
	FuturesSymbol   string        `yaml:"futures_symbol"`
	BatchQuote      float64       `yaml:"batch_quote"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
	Mode            Mode          `yaml:"mode"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	SubmitAttempts  int           `yaml:"submit_attempts"`
	SubmitBackoff   time.Duration `yaml:"submit_backoff"`
	// HaltOnDegraded stops the batch loop after the first DEGRADED or
	// FAILED round instead of continuing to deploy capital.
	HaltOnDegraded   *bool `yaml:"halt_on_degraded"`
	MaxRoundFailures int   `yaml:"max_round_failures"`
	SkipPreflight    bool  `yaml:"skip_preflight"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size"`
}

type ScannerConfig struct {
	MinFundingAPR float64 `yaml:"min_funding_apr"`
	Top           int     `yaml:"top"`
	WSURL         string  `yaml:"ws_url"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = LogEncodingJSON
	}
	if cfg.REST.SpotBaseURL == "" {
		cfg.REST.SpotBaseURL = "https://sapi.asterdex.com"
	}
	if cfg.REST.FuturesBaseURL == "" {
		cfg.REST.FuturesBaseURL = "https://fapi.asterdex.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindow == 0 {
		cfg.REST.RecvWindow = 5000
	}
	if cfg.REST.RequestsPerSec == 0 {
		cfg.REST.RequestsPerSec = 8
	}
	if cfg.REST.RequestBurst == 0 {
		cfg.REST.RequestBurst = 16
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/aster-funding-bot.db"
	}
	if cfg.Strategy.Mode == "" {
		cfg.Strategy.Mode = ModeBuySpotShortFutures
	}
	if cfg.Strategy.FuturesSymbol == "" {
		cfg.Strategy.FuturesSymbol = cfg.Strategy.SpotSymbol
	}
	if cfg.Strategy.BatchDelay == 0 {
		cfg.Strategy.BatchDelay = time.Second
	}
	if cfg.Strategy.PollInterval == 0 {
		cfg.Strategy.PollInterval = time.Second
	}
	if cfg.Strategy.MaxPollAttempts == 0 {
		cfg.Strategy.MaxPollAttempts = 5
	}
	if cfg.Strategy.SubmitAttempts == 0 {
		cfg.Strategy.SubmitAttempts = 5
	}
	if cfg.Strategy.SubmitBackoff == 0 {
		cfg.Strategy.SubmitBackoff = 200 * time.Millisecond
	}
	if cfg.Strategy.HaltOnDegraded == nil {
		halt := true
		cfg.Strategy.HaltOnDegraded = &halt
	}
	if cfg.Strategy.MaxRoundFailures == 0 {
		cfg.Strategy.MaxRoundFailures = 3
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9184"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Scanner.Top == 0 {
		cfg.Scanner.Top = 10
	}
	if cfg.Scanner.WSURL == "" {
		cfg.Scanner.WSURL = "wss://fstream.asterdex.com/ws"
	}
}

func validate(cfg *Config) error {
	if cfg.Log.Encoding != "" && cfg.Log.Encoding != LogEncodingJSON && cfg.Log.Encoding != LogEncodingConsole {
		return fmt.Errorf("unsupported log.encoding: %s", cfg.Log.Encoding)
	}
	if cfg.Strategy.SpotSymbol == "" {
		return errors.New("strategy.spot_symbol is required")
	}
	if cfg.Strategy.CapitalUSD <= 0 {
		return errors.New("strategy.capital_usd must be > 0")
	}
	if cfg.Strategy.BatchQuote <= 0 {
		return errors.New("strategy.batch_quote must be > 0")
	}
	if cfg.Strategy.BatchDelay < 0 {
		return errors.New("strategy.batch_delay must be >= 0")
	}
	if cfg.Strategy.Mode != ModeBuySpotShortFutures && cfg.Strategy.Mode != ModeSellSpotLongFutures {
		return fmt.Errorf("unsupported strategy.mode: %s", cfg.Strategy.Mode)
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

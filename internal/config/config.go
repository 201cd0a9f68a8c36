package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeStream Mode = "stream"
	ModePaper  Mode = "paper"
)

type Config struct {
	Mode                    Mode
	Symbol                  string
	Feed                    string
	Quantity                int64
	Epsilon                 decimal.Decimal
	LookbackDays            int
	MomentumRefreshInterval time.Duration
	MomentumRetryInterval   time.Duration
	MarketClockTTL          time.Duration
	BrokerTimeout           time.Duration
	QueueSize               int
	TimeInForce             string
	KillSwitch              bool
	DecisionsPath           string
	PositionPollInterval    time.Duration
	ListenAddr              string
	BaseURL                 string
	LogLevel                string
	LogFormat               string
	APIKey                  string
	APISecret               string
}

// envConfig maps environment variables onto flag names. Credentials are
// only read from the environment.
type envConfig struct {
	APIKey    string `envconfig:"APCA_API_KEY_ID"`
	APISecret string `envconfig:"APCA_API_SECRET_KEY"`
	BaseURL   string `envconfig:"APCA_API_BASE_URL"`
	Mode      string `envconfig:"DELPHI_MODE"`
	Symbol    string `envconfig:"DELPHI_SYMBOL"`
	Quantity  string `envconfig:"DELPHI_QUANTITY"`
	Feed      string `envconfig:"DELPHI_FEED"`
	LogLevel  string `envconfig:"DELPHI_LOG_LEVEL"`
}

// Load reads configuration from, in increasing precedence: defaults, the
// YAML file named by --config, the environment (after .env), and flags set
// on the command line.
func Load() (Config, error) {
	return load(flag.CommandLine, os.Args[1:])
}

func load(fset *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	var mode string
	var configPath string
	var refreshSeconds int
	epsilon := decimalValue{value: decimal.RequireFromString("0.05")}

	loadDotEnvIfPresent(".env")

	fset.StringVar(&configPath, "config", "", "path to a YAML config file")
	fset.StringVar(&mode, "mode", string(ModeStream), "run mode: stream (dry-run orders) or paper")
	fset.StringVar(&cfg.Symbol, "symbol", "AAPL", "trading symbol")
	fset.StringVar(&cfg.Feed, "feed", "iex", "market data feed: iex or sip")
	fset.Int64Var(&cfg.Quantity, "quantity", 1, "shares per order")
	fset.Var(&epsilon, "momentum-threshold-epsilon", "instant momentum threshold in price units")
	fset.IntVar(&cfg.LookbackDays, "lookback-days", 5, "trading days averaged for long momentum")
	fset.IntVar(&refreshSeconds, "momentum-refresh-interval-seconds", 300, "max age of the long momentum sample")
	fset.DurationVar(&cfg.MomentumRetryInterval, "momentum-retry-interval", 30*time.Second, "wait before refreshing again after momentum was unavailable")
	fset.DurationVar(&cfg.MarketClockTTL, "market-clock-ttl", 30*time.Second, "how long a market clock reading is reused")
	fset.DurationVar(&cfg.BrokerTimeout, "broker-timeout", 10*time.Second, "timeout for each broker call")
	fset.IntVar(&cfg.QueueSize, "queue-size", 1024, "ticks buffered between the feed and the worker")
	fset.StringVar(&cfg.TimeInForce, "time-in-force", "day", "time in force: day or gtc")
	fset.BoolVar(&cfg.KillSwitch, "kill-switch", false, "if true, never place orders")
	fset.StringVar(&cfg.DecisionsPath, "decisions-path", "decisions.ndjson", "path to decisions log, empty to disable")
	fset.DurationVar(&cfg.PositionPollInterval, "position-poll-interval", 30*time.Second, "broker position report interval, 0 to disable")
	fset.StringVar(&cfg.ListenAddr, "listen-addr", ":8080", "snapshot/events/metrics HTTP address, empty to disable")
	fset.StringVar(&cfg.BaseURL, "paper-base-url", "https://paper-api.alpaca.markets", "paper trading base URL")
	fset.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fset.StringVar(&cfg.LogFormat, "log-format", "text", "log format: text or json")
	if err := fset.Parse(args); err != nil {
		return cfg, err
	}

	explicit := map[string]bool{}
	fset.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	if configPath != "" {
		values, err := readFile(configPath)
		if err != nil {
			return cfg, err
		}
		if err := apply(fset, values, explicit, "config file"); err != nil {
			return cfg, err
		}
	}

	var env envConfig
	if err := envconfig.Process("", &env); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	if err := apply(fset, env.flags(), explicit, "environment"); err != nil {
		return cfg, err
	}

	cfg.Mode = Mode(mode)
	cfg.Epsilon = epsilon.value
	cfg.MomentumRefreshInterval = time.Duration(refreshSeconds) * time.Second
	cfg.APIKey = env.APIKey
	cfg.APISecret = env.APISecret

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (e envConfig) flags() map[string]string {
	values := map[string]string{}
	set := func(name, value string) {
		if value != "" {
			values[name] = value
		}
	}
	set("paper-base-url", e.BaseURL)
	set("mode", e.Mode)
	set("symbol", e.Symbol)
	set("quantity", e.Quantity)
	set("feed", e.Feed)
	set("log-level", e.LogLevel)
	return values
}

// readFile decodes a YAML mapping whose keys are flag names.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config %s: %s must be a scalar", path, key)
		case nil:
			continue
		default:
			values[key] = fmt.Sprint(v)
		}
	}
	return values, nil
}

// apply sets each value through its flag unless the flag was given on the
// command line.
func apply(fset *flag.FlagSet, values map[string]string, explicit map[string]bool, source string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "config" {
			return fmt.Errorf("%s: config cannot be nested", source)
		}
		if fset.Lookup(name) == nil {
			return fmt.Errorf("%s: unknown option %q", source, name)
		}
		if explicit[name] {
			continue
		}
		if err := fset.Set(name, values[name]); err != nil {
			return fmt.Errorf("%s: %s: %w", source, name, err)
		}
	}
	return nil
}

func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

func loadDotEnvIfPresent(path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err := loadDotEnv(path); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
	}
}

func validate(cfg Config) error {
	if cfg.Mode != ModeStream && cfg.Mode != ModePaper {
		return fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	if cfg.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if cfg.Feed != "iex" && cfg.Feed != "sip" {
		return fmt.Errorf("invalid feed: %s", cfg.Feed)
	}
	if cfg.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if cfg.Epsilon.IsNegative() {
		return fmt.Errorf("momentum-threshold-epsilon must be >= 0")
	}
	if cfg.LookbackDays <= 0 {
		return fmt.Errorf("lookback-days must be > 0")
	}
	if cfg.MomentumRefreshInterval <= 0 {
		return fmt.Errorf("momentum-refresh-interval-seconds must be > 0")
	}
	if cfg.MomentumRetryInterval < 0 {
		return fmt.Errorf("momentum-retry-interval must be >= 0")
	}
	if cfg.MarketClockTTL < 0 {
		return fmt.Errorf("market-clock-ttl must be >= 0")
	}
	if cfg.BrokerTimeout <= 0 {
		return fmt.Errorf("broker-timeout must be > 0")
	}
	if cfg.QueueSize <= 0 {
		return fmt.Errorf("queue-size must be > 0")
	}
	if cfg.TimeInForce != "day" && cfg.TimeInForce != "gtc" {
		return fmt.Errorf("unsupported time in force: %s", cfg.TimeInForce)
	}
	if cfg.PositionPollInterval < 0 {
		return fmt.Errorf("position-poll-interval must be >= 0")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log-format: %s", cfg.LogFormat)
	}
	return nil
}

type decimalValue struct {
	value decimal.Decimal
}

func (d *decimalValue) String() string {
	return d.value.String()
}

func (d *decimalValue) Set(s string) error {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	d.value = v
	return nil
}

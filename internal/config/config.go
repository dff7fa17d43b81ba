// Package config
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/rule-backtester/internal/backtest"
	"github.com/amirphl/rule-backtester/internal/indicator"
	"github.com/amirphl/rule-backtester/internal/strategy"
	"github.com/amirphl/rule-backtester/internal/tfutils"
	"github.com/amirphl/rule-backtester/internal/utils"
)

/*
YAML config example:
mode: "run"
ticker: "BTCUSDT"
timeframe: "1h"
source: "csv"
csv_files:
  BTCUSDT: "data/BTCUSDT.csv"
indicators:
  - { type: "sma", params: { length: 20 } }
  - { type: "rsi", params: { length: 14 } }
backtest:
  account_size: 10000
  risk_amt: 1
  tp: 4
  sl: 2
  buy_conditions:
    - { left_operand: { column: "close" }, comparator: ">", right_operand: { column: "SMA_20" } }
  sell_conditions:
    - { left_operand: { column: "RSI_14" }, comparator: ">", right_operand: { column: "close", shift: 1 } }
  policy: { tie_break: "stop_loss_first" }
preset:
  name: "rsi_obos"
  params: { length: 14, oversold: 25 }
grid_tps: [2, 4, 6]
grid_sls: [1, 2]
risk_map:
  ETHUSDT:
    4h: { risk_amt: 0.5, tp: 6, sl: 3 }
db:
  kind: "sqlite"
  sqlite_path: "backtester.db"
log:
  level: "info"
  format: "console"
...
*/

// Modes.
const (
	ModeRun     = "run"
	ModeBatch   = "batch"
	ModeServe   = "serve"
	ModeMigrate = "migrate"
)

// Bar sources.
const (
	SourceCSV     = "csv"
	SourceWallex  = "wallex"
	SourceBinance = "binance"
)

// Storage kinds.
const (
	DBPostgres = "postgres"
	DBSQLite   = "sqlite"
	DBMemory   = "memory"
)

type Config struct {
	Mode      string            `yaml:"mode"`
	Ticker    string            `yaml:"ticker"`
	Timeframe string            `yaml:"timeframe"`
	Source    string            `yaml:"source"`
	CSVFiles  map[string]string `yaml:"csv_files"`

	Indicators []indicator.Spec `yaml:"indicators"`
	Backtest   backtest.Request `yaml:"backtest"`
	// Preset adds a ready-made strategy's indicators, and its conditions
	// when backtest sets none.
	Preset PresetConfig `yaml:"preset"`
	// RiskMap overrides money management per ticker and timeframe.
	RiskMap map[string]map[string]RiskParams `yaml:"risk_map"`

	GridTPs []float64 `yaml:"grid_tps"`
	GridSLs []float64 `yaml:"grid_sls"`
	Workers int       `yaml:"workers"`
	OutDir  string    `yaml:"out_dir"`
	LastN   int       `yaml:"last_n"`

	DB       DBConfig        `yaml:"db"`
	Server   ServerConfig    `yaml:"server"`
	Telegram TelegramConfig  `yaml:"telegram"`
	Exchange ExchangeConfig  `yaml:"exchange"`
	ProxyURL string          `yaml:"proxy_url"`
	Log      utils.LogConfig `yaml:"log"`
}

type PresetConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

type DBConfig struct {
	Kind       string `yaml:"kind"`
	ConnStr    string `yaml:"conn_str"`
	MaxOpen    int    `yaml:"max_open"`
	MaxIdle    int    `yaml:"max_idle"`
	SQLitePath string `yaml:"sqlite_path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RunsLimit caps the number of stored runs GET /api/runs returns.
	RunsLimit int `yaml:"runs_limit"`
}

type TelegramConfig struct {
	Token               string        `yaml:"token"`
	ChatID              string        `yaml:"chat_id"`
	NotificationRetries int           `yaml:"notification_retries"`
	NotificationDelay   time.Duration `yaml:"notification_delay"`
}

type ExchangeConfig struct {
	WallexAPIKey      string        `yaml:"wallex_api_key"`
	BinanceBaseURL    string        `yaml:"binance_base_url"`
	Lookback          int           `yaml:"lookback"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
}

type RiskParams struct {
	AccountSize float64 `yaml:"account_size"`
	RiskAmt     float64 `yaml:"risk_amt"`
	TP          float64 `yaml:"tp"`
	SL          float64 `yaml:"sl"`
}

// Request returns the configured backtest request for ticker and timeframe,
// with any risk_map entry for that pair applied on top.
func (c Config) Request(ticker, timeframe string) backtest.Request {
	req := c.Backtest
	req.Ticker = ticker
	req.Freq = timeframe
	for tf, rp := range c.RiskMap[ticker] {
		if tfutils.Canonical(tf) == tfutils.Canonical(timeframe) {
			if rp.AccountSize > 0 {
				req.AccountSize = rp.AccountSize
			}
			if rp.RiskAmt > 0 {
				req.RiskAmt = rp.RiskAmt
			}
			if rp.TP > 0 {
				req.TP = rp.TP
			}
			if rp.SL > 0 {
				req.SL = rp.SL
			}
		}
	}
	return req
}

// Validate checks the fields the selected mode needs.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRun, ModeBatch, ModeServe, ModeMigrate:
	default:
		return fmt.Errorf("unsupported mode %q", c.Mode)
	}
	switch c.Source {
	case SourceCSV, SourceWallex, SourceBinance:
	default:
		return fmt.Errorf("unsupported source %q", c.Source)
	}
	switch c.DB.Kind {
	case DBPostgres, DBSQLite, DBMemory:
	default:
		return fmt.Errorf("unsupported db kind %q", c.DB.Kind)
	}
	if c.DB.Kind == DBPostgres && c.DB.ConnStr == "" {
		return errors.New("postgres storage needs DB_CONN_STR or -db-conn")
	}
	if c.Mode == ModeRun || c.Mode == ModeBatch {
		if c.Ticker == "" {
			return errors.New("ticker is required")
		}
		if !tfutils.IsValidTimeframe(c.Timeframe) {
			return fmt.Errorf("unsupported timeframe %q (supported: %s)", c.Timeframe, strings.Join(tfutils.GetSupportedTimeframes(), ", "))
		}
		if c.Source == SourceCSV && c.CSVFiles[c.Ticker] == "" {
			return fmt.Errorf("no csv file configured for %s", c.Ticker)
		}
		if err := c.Request(c.Ticker, c.Timeframe).Validate(); err != nil {
			return err
		}
		for _, spec := range c.Indicators {
			if _, err := indicator.New(spec); err != nil {
				return err
			}
		}
	}
	if c.Workers < 0 {
		return errors.New("workers cannot be negative")
	}
	return nil
}

// applyPreset appends the preset's indicators and, unless the backtest
// section already defines conditions, takes over its strategy.
func (c *Config) applyPreset() error {
	if c.Preset.Name == "" {
		return nil
	}
	p, err := strategy.NewPreset(c.Preset.Name, c.Preset.Params)
	if err != nil {
		return err
	}
	c.Indicators = append(c.Indicators, p.Indicators...)
	if len(c.Backtest.Buy) == 0 && len(c.Backtest.Sell) == 0 {
		c.Backtest.Strategy = p.Strategy
	}
	return nil
}

// MustLoadConfig loads the configuration from the command line or exits.
func MustLoadConfig() Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// Load builds the configuration from defaults, the YAML file named by
// -config, the environment (and .env) and finally the flags set in args.
// Later sources win.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("backtester", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to YAML config file")
	envFile := fs.String("env", ".env", "Path to .env file (ignored when missing)")
	mode := fs.String("mode", ModeRun, "Mode: run or batch or serve or migrate")
	ticker := fs.String("ticker", "", "Ticker to backtest")
	timeframe := fs.String("timeframe", "1h", "Bar timeframe")
	source := fs.String("source", SourceCSV, "Bar source: csv or wallex or binance")
	presetName := fs.String("preset", "", "Ready-made strategy: "+strings.Join(strategy.PresetNames(), ", "))
	csvFlag := fs.String("csv", "", "Comma-separated ticker=path pairs (e.g., BTCUSDT=data/btc.csv)")
	accountSize := fs.Float64("account-size", 0, "Initial account size in quote currency")
	riskAmt := fs.Float64("risk", 0, "Risk percent per trade (e.g., 1.0 for 1%)")
	tp := fs.Float64("tp", 0, "Take profit percent")
	sl := fs.Float64("sl", 0, "Stop loss percent")
	tieBreak := fs.String("tie-break", "", "stop_loss_first or take_profit_first")
	gridTPs := fs.String("grid-tps", "", "Comma-separated take profit percents for batch mode")
	gridSLs := fs.String("grid-sls", "", "Comma-separated stop loss percents for batch mode")
	riskMapFlag := fs.String("risk-map", "", "Comma-separated symbol:timeframe:risk:tp:sl tuples (e.g., BTCUSDT:1h:1.0:4:2)")
	workers := fs.Int("workers", 0, "Parallel backtests in batch mode (0 = NumCPU)")
	outDir := fs.String("out", "", "Directory for CSV/JSON results")
	lastN := fs.Int("last", 0, "Number of trailing trades to print")
	dbKind := fs.String("db", "", "Storage: postgres or sqlite or memory")
	dbConn := fs.String("db-conn", "", "Postgres connection string")
	sqlitePath := fs.String("sqlite-path", "", "SQLite database file")
	addr := fs.String("addr", "", "HTTP listen address for serve mode")
	telegramToken := fs.String("telegram-token", "", "Telegram bot token for notifications")
	telegramChatID := fs.String("telegram-chat", "", "Telegram chat ID for notifications")
	notificationRetries := fs.Int("notification-retries", 0, "Number of notification send attempts")
	notificationDelay := fs.Duration("notification-delay", 0, "Delay between notification retries (e.g., 5s)")
	proxyURL := fs.String("proxy", "", "HTTP proxy for exchange and Telegram requests")
	lookback := fs.Int("lookback", 0, "Bars to load from an exchange")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "", "Log format: console or json")
	logFile := fs.String("log-file", "", "Also append logs to this file")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{}
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	applyEnvOverrides(&cfg)

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "ticker":
			cfg.Ticker = *ticker
		case "timeframe":
			cfg.Timeframe = *timeframe
		case "source":
			cfg.Source = *source
		case "csv":
			files, err := parsePairs(*csvFlag)
			if err != nil {
				flagErr = errors.Join(flagErr, err)
				return
			}
			cfg.CSVFiles = files
		case "preset":
			cfg.Preset = PresetConfig{Name: *presetName}
		case "account-size":
			cfg.Backtest.AccountSize = *accountSize
		case "risk":
			cfg.Backtest.RiskAmt = *riskAmt
		case "tp":
			cfg.Backtest.TP = *tp
		case "sl":
			cfg.Backtest.SL = *sl
		case "tie-break":
			cfg.Backtest.Policy.TieBreak = backtest.TieBreak(*tieBreak)
		case "grid-tps":
			var err error
			if cfg.GridTPs, err = parseFloats(*gridTPs); err != nil {
				flagErr = errors.Join(flagErr, err)
			}
		case "grid-sls":
			var err error
			if cfg.GridSLs, err = parseFloats(*gridSLs); err != nil {
				flagErr = errors.Join(flagErr, err)
			}
		case "risk-map":
			var err error
			if cfg.RiskMap, err = parseRiskMap(*riskMapFlag); err != nil {
				flagErr = errors.Join(flagErr, err)
			}
		case "workers":
			cfg.Workers = *workers
		case "out":
			cfg.OutDir = *outDir
		case "last":
			cfg.LastN = *lastN
		case "db":
			cfg.DB.Kind = *dbKind
		case "db-conn":
			cfg.DB.ConnStr = *dbConn
		case "sqlite-path":
			cfg.DB.SQLitePath = *sqlitePath
		case "addr":
			cfg.Server.Addr = *addr
		case "telegram-token":
			cfg.Telegram.Token = *telegramToken
		case "telegram-chat":
			cfg.Telegram.ChatID = *telegramChatID
		case "notification-retries":
			cfg.Telegram.NotificationRetries = *notificationRetries
		case "notification-delay":
			cfg.Telegram.NotificationDelay = *notificationDelay
		case "proxy":
			cfg.ProxyURL = *proxyURL
		case "lookback":
			cfg.Exchange.Lookback = *lookback
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	if flagErr != nil {
		return Config{}, flagErr
	}

	setDefaults(&cfg)
	if err := cfg.applyPreset(); err != nil {
		return Config{}, err
	}
	cfg.Ticker = strings.ToUpper(strings.TrimSpace(cfg.Ticker))
	if tfutils.IsValidTimeframe(cfg.Timeframe) {
		cfg.Timeframe = tfutils.Canonical(cfg.Timeframe)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.DB.ConnStr = v
		if cfg.DB.Kind == "" {
			cfg.DB.Kind = DBPostgres
		}
	}
	if v := os.Getenv("WALLEX_API_KEY"); v != "" {
		cfg.Exchange.WallexAPIKey = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeRun
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	if cfg.Source == "" {
		cfg.Source = SourceCSV
	}
	if cfg.LastN <= 0 {
		cfg.LastN = 20
	}
	if cfg.DB.Kind == "" {
		cfg.DB.Kind = DBMemory
	}
	if cfg.DB.MaxOpen <= 0 {
		cfg.DB.MaxOpen = 10
	}
	if cfg.DB.MaxIdle <= 0 {
		cfg.DB.MaxIdle = 5
	}
	if cfg.DB.SQLitePath == "" {
		cfg.DB.SQLitePath = "backtester.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RunsLimit <= 0 {
		cfg.Server.RunsLimit = 50
	}
	if cfg.Telegram.NotificationRetries <= 0 {
		cfg.Telegram.NotificationRetries = 3
	}
	if cfg.Telegram.NotificationDelay <= 0 {
		cfg.Telegram.NotificationDelay = 5 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parsePairs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for pair := range strings.SplitSeq(s, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("invalid ticker=path pair %q", pair)
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseRiskMap(s string) (map[string]map[string]RiskParams, error) {
	riskMap := make(map[string]map[string]RiskParams)
	for tuple := range strings.SplitSeq(s, ",") {
		if strings.TrimSpace(tuple) == "" {
			continue
		}
		parts := strings.Split(tuple, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid risk-map entry %q", tuple)
		}
		sym, timeframe := strings.ToUpper(parts[0]), tfutils.Canonical(parts[1])
		vals, err := parseFloats(strings.Join(parts[2:], ","))
		if err != nil || len(vals) != 3 {
			return nil, fmt.Errorf("invalid risk-map entry %q", tuple)
		}
		if _, ok := riskMap[sym]; !ok {
			riskMap[sym] = make(map[string]RiskParams)
		}
		riskMap[sym][timeframe] = RiskParams{RiskAmt: vals[0], TP: vals[1], SL: vals[2]}
	}
	return riskMap, nil
}

// Package config loads the engine configuration from built-in defaults,
// an optional YAML overlay and the environment (in that order of precedence).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when any of the exchange credentials is unset.
var ErrMissingCredentials = errors.New("API_KEY, API_SECRET and PASSWORD are required")

// Credentials of the exchange account.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// BreakerConfig configures the market-wide circuit breaker.
type BreakerConfig struct {
	Symbol      string           `yaml:"symbol"`
	Timeframe   domain.Timeframe `yaml:"timeframe"`
	WindowMin   int              `yaml:"window_min"`
	DropPct     float64          `yaml:"drop_pct"`
	CooldownMin int              `yaml:"cooldown_min"`
}

// Enabled reports whether the breaker may ever trip.
func (b BreakerConfig) Enabled() bool {
	return b.DropPct > 0 && b.CooldownMin > 0
}

// ManualConfig configures reconciliation of manual account changes.
type ManualConfig struct {
	AddTolerance     float64 `yaml:"add_tolerance"`
	UseVWAP          bool    `yaml:"use_vwap"`
	VWAPLookbackDays int     `yaml:"vwap_lookback_days"`
	EmptyThreshold   float64 `yaml:"empty_threshold"`
}

// Config of the engine.
type Config struct {
	PairsSpec   string              `yaml:"pairs"`
	Pairs       []domain.PairConfig `yaml:"-"`
	Credentials Credentials         `yaml:"-"`

	DryRun     bool   `yaml:"dry_run"`
	Testnet    bool   `yaml:"testnet"`
	QuoteAsset string `yaml:"quote_asset"`
	LogDev     bool   `yaml:"log_dev"`

	FeeTakerPct           float64  `yaml:"fee_taker_pct"`
	SellSlipPct           *float64 `yaml:"sell_slip_pct"`
	DefaultMaxSlippagePct float64  `yaml:"default_max_slippage_pct"`
	DefaultRiskFraction   float64  `yaml:"default_risk_fraction"`
	MinBuyQuote           float64  `yaml:"min_buy_quote"`

	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	ATRLookback     int     `yaml:"atr_lookback"`
	ATRMultSL       float64 `yaml:"atr_mult_sl"`
	VolLookback     int     `yaml:"vol_lookback"`
	MinAvgDollarVol float64 `yaml:"min_avg_dollar_vol"`
	MaxBuysPer24h   int     `yaml:"max_buys_per_24h"`

	Breaker BreakerConfig `yaml:"circuit_breaker"`
	Manual  ManualConfig  `yaml:"manual"`
	Tables  Tables        `yaml:"tables"`

	StateFile       string `yaml:"state_file"`
	BackupDir       string `yaml:"backup_dir"`
	BackupRetention int    `yaml:"backup_retention"`
	JournalDir      string `yaml:"journal_dir"`

	HeartbeatFile     string        `yaml:"heartbeat_file"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// MaxStale is the watchdog limit, zero derives it from the smallest timeframe.
	MaxStale time.Duration `yaml:"max_stale"`

	WebhookURL  string `yaml:"webhook_url"`
	MetricsAddr string `yaml:"metrics_addr"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	PairPause      time.Duration `yaml:"pair_pause"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DryRun:                true,
		QuoteAsset:            "USDT",
		FeeTakerPct:           0.001,
		DefaultMaxSlippagePct: 2.0,
		DefaultRiskFraction:   0.99,
		MinBuyQuote:           1.0,
		ATRLookback:           14,
		ATRMultSL:             1.5,
		VolLookback:           20,
		Breaker: BreakerConfig{
			Symbol:      "BTC/USDT",
			Timeframe:   "5m",
			WindowMin:   15,
			DropPct:     3,
			CooldownMin: 30,
		},
		Manual: ManualConfig{
			AddTolerance:     0.03,
			VWAPLookbackDays: 7,
			EmptyThreshold:   1e-9,
		},
		Tables:            DefaultTables(),
		StateFile:         "state.json",
		BackupDir:         "state_backups",
		BackupRetention:   50,
		JournalDir:        "./wal/journal",
		HeartbeatFile:     "/tmp/bot_heartbeat.txt",
		HeartbeatInterval: 30 * time.Second,
		MetricsAddr:       ":9090",
		RetryAttempts:     3,
		RetryBaseDelay:    time.Second,
		PairPause:         250 * time.Millisecond,
	}
}

// Load builds the configuration for the given command line flags.
// The .env file is loaded into the process environment first when present.
func Load(flags Flags) (Config, error) {
	if flags.EnvPath != "" {
		if err := godotenv.Load(flags.EnvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, errors.Wrapf(err, "failed to load %s", flags.EnvPath)
		}
	}

	cfg := Defaults()
	if flags.ConfigPath != "" {
		if err := cfg.applyYAML(flags.ConfigPath); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.finish(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// FromLookup builds the configuration from defaults and the given environment only.
func FromLookup(lookup LookupFunc) (Config, error) {
	cfg := Defaults()
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyYAML(path string) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(f, c); err != nil {
		return errors.Wrapf(err, "incorrect yaml config %s", path)
	}
	return nil
}

func (c *Config) finish() error {
	pairs, err := ParsePairs(c.PairsSpec)
	if err != nil {
		return err
	}
	c.Pairs = pairs

	return c.Validate()
}

// Validate reports configuration errors that must stop the process.
func (c Config) Validate() error {
	if len(c.Pairs) == 0 {
		return errors.New("PAIRS_CFG is empty")
	}
	if c.Credentials.APIKey == "" || c.Credentials.APISecret == "" || c.Credentials.Passphrase == "" {
		return ErrMissingCredentials
	}
	if c.DefaultRiskFraction <= 0 || c.DefaultRiskFraction > 1 {
		return errors.Errorf("DEFAULT_RISK_FRACTION must be in (0, 1], got %v", c.DefaultRiskFraction)
	}
	if c.FeeTakerPct < 0 {
		return errors.Errorf("FEE_TAKER_PCT must be >= 0, got %v", c.FeeTakerPct)
	}
	if c.RetryAttempts < 0 {
		return errors.Errorf("RETRY_ATTEMPTS must be >= 0, got %d", c.RetryAttempts)
	}
	if _, err := domain.ParseTimeframe(c.Breaker.Timeframe.String()); err != nil {
		return errors.Wrap(err, "CB_TF")
	}
	if _, err := domain.ParsePair(c.Breaker.Symbol); err != nil {
		return errors.Wrap(err, "CB_SYMBOL")
	}
	for _, pc := range c.Pairs {
		if pc.Pair.To != c.QuoteAsset {
			return errors.Errorf("pair %s is not quoted in %s", pc.Pair, c.QuoteAsset)
		}
	}
	return nil
}

// MinTimeframe returns the smallest configured timeframe.
func (c Config) MinTimeframe() domain.Timeframe {
	var smallest domain.Timeframe
	for _, pc := range c.Pairs {
		if smallest == "" || pc.Timeframe.Minutes() < smallest.Minutes() {
			smallest = pc.Timeframe
		}
	}
	return smallest
}

// StaleLimit is the time without progress after which the watchdog fires.
func (c Config) StaleLimit() time.Duration {
	if c.MaxStale > 0 {
		return c.MaxStale
	}
	return 3*c.MinTimeframe().Duration() + time.Minute
}

// SellSlippage returns the sell-side slippage limit in percent, zero when unchecked.
func (c Config) SellSlippage() float64 {
	if c.SellSlipPct != nil {
		return *c.SellSlipPct
	}
	return 0
}

// SlippageFor returns the buy-side slippage limit of a pair in percent.
func (c Config) SlippageFor(pc domain.PairConfig) float64 {
	if pc.Slippage != nil {
		return *pc.Slippage
	}
	return c.DefaultMaxSlippagePct
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("PAIRS_CFG", &c.PairsSpec)
	e.str("API_KEY", &c.Credentials.APIKey)
	e.str("API_SECRET", &c.Credentials.APISecret)
	e.str("PASSWORD", &c.Credentials.Passphrase)
	e.boolean("DRY_RUN", &c.DryRun)
	e.boolean("BINANCE_TESTNET", &c.Testnet)
	e.str("QUOTE_ASSET", &c.QuoteAsset)
	e.boolean("LOG_DEV", &c.LogDev)

	e.float("FEE_TAKER_PCT", &c.FeeTakerPct)
	if v, ok := e.get("SELL_SLIP_PCT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail("SELL_SLIP_PCT", v)
		} else {
			c.SellSlipPct = &f
		}
	}
	e.float("DEFAULT_MAX_SLIPPAGE_PCT", &c.DefaultMaxSlippagePct)
	e.float("DEFAULT_RISK_FRACTION", &c.DefaultRiskFraction)
	e.float("MIN_BUY_QUOTE", &c.MinBuyQuote)

	e.float("RISK_PER_TRADE_PCT", &c.RiskPerTradePct)
	e.integer("ATR_LOOKBACK", &c.ATRLookback)
	e.float("ATR_MULT_SL", &c.ATRMultSL)
	e.integer("VOL_LOOKBACK", &c.VolLookback)
	e.float("MIN_AVG_DOLLAR_VOL", &c.MinAvgDollarVol)
	e.integer("MAX_BUYS_PER_24H", &c.MaxBuysPer24h)

	e.str("CB_SYMBOL", &c.Breaker.Symbol)
	if v, ok := e.get("CB_TF"); ok {
		c.Breaker.Timeframe = domain.Timeframe(strings.ToLower(v))
	}
	e.integer("CB_WINDOW_MIN", &c.Breaker.WindowMin)
	e.float("CB_DROP_PCT", &c.Breaker.DropPct)
	e.integer("CB_COOLDOWN_MIN", &c.Breaker.CooldownMin)

	e.float("MANUAL_ADD_TOL", &c.Manual.AddTolerance)
	e.boolean("USE_VWAP_ON_MANUAL_ADD", &c.Manual.UseVWAP)
	e.integer("VWAP_LOOKBACK_MIN", &c.Manual.VWAPLookbackDays)
	e.integer("VWAP_LOOKBACK_DAYS", &c.Manual.VWAPLookbackDays)
	e.float("MANUAL_SELL_EMPTY_THRESH", &c.Manual.EmptyThreshold)

	e.float("STOP_LOSS_PCT", &c.Tables.StopLoss.Default)
	e.float("TP_TRIGGER", &c.Tables.TakeProfitTrigger.Default)
	e.float("TP_TRAIL", &c.Tables.TakeProfitTrail.Default)
	for _, tf := range knownTimeframes {
		var v float64
		if e.float("COOLDOWN_"+strings.ToUpper(tf.String()), &v) {
			if c.Tables.CooldownSec.Values == nil {
				c.Tables.CooldownSec.Values = make(map[domain.Timeframe]float64)
			}
			c.Tables.CooldownSec.Values[tf] = v
		}
	}

	e.str("STATE_FILE", &c.StateFile)
	e.str("STATE_BACKUP_DIR", &c.BackupDir)
	e.integer("STATE_BACKUP_RETENTION", &c.BackupRetention)
	e.str("JOURNAL_DIR", &c.JournalDir)

	e.str("HEARTBEAT_FILE", &c.HeartbeatFile)
	e.seconds("HEARTBEAT_INTERVAL_SEC", &c.HeartbeatInterval)
	e.seconds("MAX_STALE_SEC", &c.MaxStale)

	e.str("WEBHOOK_URL", &c.WebhookURL)
	if v, ok := lookup("METRICS_ADDR"); ok {
		c.MetricsAddr = cleanEnv(v)
	}

	e.integer("RETRY_ATTEMPTS", &c.RetryAttempts)
	e.duration("RETRY_BASE_DELAY", &c.RetryBaseDelay)
	e.duration("PAIR_PAUSE", &c.PairPause)

	return e.err
}

// envReader reads typed values and keeps the first parse error.
type envReader struct {
	lookup LookupFunc
	err    error
}

// get returns a cleaned non-empty value.
func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = cleanEnv(v)
	return v, v != ""
}

func (e *envReader) fail(key, value string) {
	if e.err == nil {
		e.err = errors.Errorf("invalid %s value %q", key, value)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		*dst = true
	case "0", "false", "no", "n", "off":
		*dst = false
	default:
		e.fail(key, v)
	}
}

func (e *envReader) float(key string, dst *float64) bool {
	v, ok := e.get(key)
	if !ok {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return false
	}
	*dst = f
	return true
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return
	}
	*dst = n
}

func (e *envReader) seconds(key string, dst *time.Duration) {
	var f float64
	if e.float(key, &f) {
		*dst = time.Duration(f * float64(time.Second))
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return
	}
	*dst = d
}

// cleanEnv strips surrounding whitespace, quotes and stray line breaks.
func cleanEnv(v string) string {
	v = strings.NewReplacer("\r", "", "\n", "").Replace(v)
	v = strings.TrimSpace(v)
	return strings.Trim(v, `"'`)
}

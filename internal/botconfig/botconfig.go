// Package botconfig defines the persisted configuration consumed by the
// Supervisor: validation, named variants, and the four built-in strategy
// presets.
package botconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiteflow/trader/internal/domain"
	"github.com/kiteflow/trader/internal/strategy"
)

// InstrumentRef names an instrument by its (exchange, trading_symbol) key,
// the identity tuple a config persists rather than the full catalog entry.
type InstrumentRef struct {
	Exchange      string `json:"exchange"`
	TradingSymbol string `json:"trading_symbol"`
}

// TradingHours bounds the window ticks act on; outside it ticks are
// analysis-only.
type TradingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Config is the full recognized key set of a BotConfig document.
type Config struct {
	Broker               string                 `json:"broker"`
	Instruments          []InstrumentRef        `json:"instruments"`
	Strategy             string                 `json:"strategy"`
	Timeframe            string                 `json:"timeframe"`
	RiskPerTradePercent  float64                `json:"risk_per_trade_percent"`
	RewardRatio          float64                `json:"reward_ratio"`
	ATRMultiplier        float64                `json:"atr_multiplier"`
	MaxPositions         int                    `json:"max_positions"`
	MaxDailyLossPercent  float64                `json:"max_daily_loss_percent"`
	PollIntervalSeconds  int                    `json:"poll_interval_seconds"`
	TradingHours         TradingHours           `json:"trading_hours"`
	PaperTrading         bool                   `json:"paper_trading"`
	IndicatorParams      map[string]float64     `json:"indicator_params,omitempty"`
}

// Validate checks the invariants from the data model: risk_per_trade in
// (0,5], max_positions >= 1, max_daily_loss_percent > 0, at least one
// instrument, a known timeframe, a known strategy name.
func (c Config) Validate() error {
	if c.RiskPerTradePercent <= 0 || c.RiskPerTradePercent > 5 {
		return fieldErr("risk_per_trade_percent", "must be in (0, 5]")
	}
	if c.MaxPositions < 1 {
		return fieldErr("max_positions", "must be >= 1")
	}
	if c.MaxDailyLossPercent <= 0 {
		return fieldErr("max_daily_loss_percent", "must be > 0")
	}
	if len(c.Instruments) == 0 {
		return fieldErr("instruments", "at least one instrument is required")
	}
	if !domain.ValidTimeframe(c.Timeframe) {
		return fieldErr("timeframe", "unknown timeframe")
	}
	if !strategy.Valid(c.Strategy) {
		return fieldErr("strategy", "unknown strategy")
	}
	if c.PollIntervalSeconds < 5 {
		return fieldErr("poll_interval_seconds", "must be >= 5")
	}
	if c.RewardRatio <= 0 {
		return fieldErr("reward_ratio", "must be > 0")
	}
	if c.Broker == "" {
		return fieldErr("broker", "required")
	}
	if err := validateClock(c.TradingHours.Start); err != nil {
		return fieldErr("trading_hours.start", err.Error())
	}
	if err := validateClock(c.TradingHours.End); err != nil {
		return fieldErr("trading_hours.end", err.Error())
	}
	return nil
}

func validateClock(hhmm string) error {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return fmt.Errorf("expected HH:MM")
	}
	return nil
}

// FieldError reports which configuration key failed validation, matching
// the control plane's {code, message, field} error shape.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldErr(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// Store persists BotConfig documents under dataDir/config.
type Store struct {
	dataDir string
}

// NewStore constructs a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) currentPath() string {
	return filepath.Join(s.dataDir, "config", "current.json")
}

func (s *Store) namedPath(name string) string {
	return filepath.Join(s.dataDir, "config", "named", name+".json")
}

// SaveCurrent writes cfg as the active configuration.
func (s *Store) SaveCurrent(cfg Config) error {
	return atomicWriteJSON(s.currentPath(), cfg)
}

// LoadCurrent reads the active configuration.
func (s *Store) LoadCurrent() (Config, error) {
	return readJSON(s.currentPath())
}

// SaveNamed persists cfg as a reusable named variant.
func (s *Store) SaveNamed(name string, cfg Config) error {
	return atomicWriteJSON(s.namedPath(name), cfg)
}

// LoadNamed reads a saved named variant.
func (s *Store) LoadNamed(name string) (Config, error) {
	return readJSON(s.namedPath(name))
}

// DeleteNamed removes a saved named variant. Missing files are not an
// error.
func (s *Store) DeleteNamed(name string) error {
	err := os.Remove(s.namedPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("botconfig: delete named %q: %w", name, err)
	}
	return nil
}

// ListNamed returns the names of all saved variants, sorted.
func (s *Store) ListNamed() ([]string, error) {
	dir := filepath.Join(s.dataDir, "config", "named")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("botconfig: list named: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

func atomicWriteJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("botconfig: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("botconfig: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("botconfig: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("botconfig: rename: %w", err)
	}
	return nil
}

func readJSON(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("botconfig: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}

// Presets returns the built-in configuration starting points, one per
// required strategy, seeded with conservative defaults. Operators clone and
// tune these rather than starting from a blank document.
func Presets() map[string]Config {
	base := Config{
		Broker:              "paper",
		Timeframe:           string(domain.Timeframe5m),
		RiskPerTradePercent: 1,
		RewardRatio:         2,
		ATRMultiplier:       1.5,
		MaxPositions:        3,
		MaxDailyLossPercent: 3,
		PollIntervalSeconds: 30,
		TradingHours:        TradingHours{Start: "09:15", End: "15:30"},
		PaperTrading:        true,
	}

	trend := base
	trend.Strategy = "trend_follow"

	meanRevert := base
	meanRevert.Strategy = "mean_revert"
	meanRevert.RewardRatio = 1.5

	momentum := base
	momentum.Strategy = "momentum"
	momentum.PollIntervalSeconds = 15

	scalping := base
	scalping.Strategy = "scalping"
	scalping.PollIntervalSeconds = 5
	scalping.RiskPerTradePercent = 0.5
	scalping.RewardRatio = 1.2

	return map[string]Config{
		"trend_follow": trend,
		"mean_revert":  meanRevert,
		"momentum":     momentum,
		"scalping":     scalping,
	}
}

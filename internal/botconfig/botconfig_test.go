package botconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Broker:              "paper",
		Instruments:         []InstrumentRef{{Exchange: "NSE", TradingSymbol: "RELIANCE"}},
		Strategy:            "trend_follow",
		Timeframe:           "5m",
		RiskPerTradePercent: 1,
		RewardRatio:         2,
		ATRMultiplier:       1.5,
		MaxPositions:        3,
		MaxDailyLossPercent: 3,
		PollIntervalSeconds: 30,
		TradingHours:        TradingHours{Start: "09:15", End: "15:30"},
		PaperTrading:        true,
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsRiskOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.RiskPerTradePercent = 6
	err := cfg.Validate()
	require.Error(t, err)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "risk_per_trade_percent", fe.Field)
}

func TestValidateRejectsZeroMaxPositions(t *testing.T) {
	cfg := validConfig()
	cfg.MaxPositions = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyInstruments(t *testing.T) {
	cfg := validConfig()
	cfg.Instruments = nil
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTimeframe(t *testing.T) {
	cfg := validConfig()
	cfg.Timeframe = "7m"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy = "not_a_strategy"
	assert.Error(t, cfg.Validate())
}

func TestSaveLoadSaveCurrentIsIdempotentAfterSecondSave(t *testing.T) {
	store := NewStore(t.TempDir())
	cfg := validConfig()

	require.NoError(t, store.SaveCurrent(cfg))
	loaded, err := store.LoadCurrent()
	require.NoError(t, err)
	require.NoError(t, store.SaveCurrent(loaded))

	reloaded, err := store.LoadCurrent()
	require.NoError(t, err)
	assert.Equal(t, loaded, reloaded)
}

func TestNamedVariantsRoundTripAndList(t *testing.T) {
	store := NewStore(t.TempDir())
	cfg := validConfig()

	require.NoError(t, store.SaveNamed("aggressive", cfg))
	require.NoError(t, store.SaveNamed("conservative", cfg))

	names, err := store.ListNamed()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"aggressive", "conservative"}, names)

	loaded, err := store.LoadNamed("aggressive")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDeleteNamedRemovesVariant(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveNamed("temp", validConfig()))
	require.NoError(t, store.DeleteNamed("temp"))

	names, err := store.ListNamed()
	require.NoError(t, err)
	assert.NotContains(t, names, "temp")
}

func TestDeleteNamedMissingIsNotAnError(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.NoError(t, store.DeleteNamed("never-existed"))
}

func TestLoadCurrentMissingReturnsError(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested"))
	_, err := store.LoadCurrent()
	assert.Error(t, err)
}

func TestPresetsCoverAllFourStrategiesAndValidate(t *testing.T) {
	presets := Presets()
	for _, name := range []string{"trend_follow", "mean_revert", "momentum", "scalping"} {
		cfg, ok := presets[name]
		require.True(t, ok, "missing preset %s", name)
		cfg.Instruments = []InstrumentRef{{Exchange: "NSE", TradingSymbol: "RELIANCE"}}
		assert.NoError(t, cfg.Validate(), "preset %s should validate once an instrument is set", name)
	}
}

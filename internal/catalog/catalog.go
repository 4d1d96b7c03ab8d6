// Package catalog maintains a searchable, periodically refreshed snapshot of
// tradable instruments. Readers observe a consistent snapshot without
// locking: refresh swaps an immutable pointer atomically.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"
)

// Filter narrows a Search call.
type Filter struct {
	Search   string
	Exchange string
	Segment  domain.Segment
	Limit    int
	Offset   int
}

type snapshot struct {
	instruments []domain.Instrument
	byToken     map[int64]domain.Instrument
	byKey       map[string]domain.Instrument
}

// Catalog is safe for concurrent use. Writers call Refresh; readers call
// Search / ByToken / ByKey, all lock-free.
type Catalog struct {
	broker  string
	dataDir string
	log     zerolog.Logger
	current atomic.Pointer[snapshot]
}

// New constructs an empty Catalog for broker, rooted at dataDir/catalog.
func New(broker, dataDir string, log zerolog.Logger) *Catalog {
	c := &Catalog{
		broker:  broker,
		dataDir: dataDir,
		log:     log.With().Str("component", "catalog").Str("broker", broker).Logger(),
	}
	c.current.Store(emptySnapshot())
	return c
}

func emptySnapshot() *snapshot {
	return &snapshot{byToken: map[int64]domain.Instrument{}, byKey: map[string]domain.Instrument{}}
}

func (c *Catalog) path() string {
	return filepath.Join(c.dataDir, "catalog", c.broker+".json")
}

// Refresh atomically replaces the catalog snapshot and persists it to disk.
func (c *Catalog) Refresh(instruments []domain.Instrument) error {
	snap := &snapshot{
		instruments: instruments,
		byToken:     make(map[int64]domain.Instrument, len(instruments)),
		byKey:       make(map[string]domain.Instrument, len(instruments)),
	}
	for _, inst := range instruments {
		snap.byToken[inst.InstrumentToken] = inst
		snap.byKey[inst.Key()] = inst
	}
	c.current.Store(snap)

	if err := os.MkdirAll(filepath.Dir(c.path()), 0o755); err != nil {
		return fmt.Errorf("catalog: mkdir: %w", err)
	}
	encoded, err := json.Marshal(instruments)
	if err != nil {
		return fmt.Errorf("catalog: marshal: %w", err)
	}
	if err := atomicWrite(c.path(), encoded); err != nil {
		return err
	}
	c.log.Info().Int("count", len(instruments)).Msg("catalog refreshed")
	return nil
}

// LoadPersisted restores the last refresh snapshot from disk, if present;
// used on startup so a restart doesn't go instrument-less until the first
// scheduled refresh.
func (c *Catalog) LoadPersisted() error {
	raw, err := os.ReadFile(c.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("catalog: read persisted: %w", err)
	}
	var instruments []domain.Instrument
	if err := json.Unmarshal(raw, &instruments); err != nil {
		return fmt.Errorf("catalog: unmarshal persisted: %w", err)
	}
	snap := &snapshot{
		instruments: instruments,
		byToken:     make(map[int64]domain.Instrument, len(instruments)),
		byKey:       make(map[string]domain.Instrument, len(instruments)),
	}
	for _, inst := range instruments {
		snap.byToken[inst.InstrumentToken] = inst
		snap.byKey[inst.Key()] = inst
	}
	c.current.Store(snap)
	return nil
}

// ByToken looks up an instrument by its broker-assigned numeric token.
func (c *Catalog) ByToken(token int64) (domain.Instrument, error) {
	inst, ok := c.current.Load().byToken[token]
	if !ok {
		return domain.Instrument{}, brokererr.ErrNotFound
	}
	return inst, nil
}

// ByKey looks up an instrument by (exchange, trading_symbol).
func (c *Catalog) ByKey(exchange, tradingSymbol string) (domain.Instrument, error) {
	inst, ok := c.current.Load().byKey[exchange+":"+tradingSymbol]
	if !ok {
		return domain.Instrument{}, brokererr.ErrNotFound
	}
	return inst, nil
}

// Search returns a paginated, filtered slice of the current snapshot.
// Matching on Search is prefix-and-substring on trading_symbol and exact on
// a numeric instrument_token.
func (c *Catalog) Search(f Filter) []domain.Instrument {
	snap := c.current.Load()

	var asToken int64
	tokenMatch := false
	if f.Search != "" {
		if n, err := strconv.ParseInt(f.Search, 10, 64); err == nil {
			asToken, tokenMatch = n, true
		}
	}

	needle := strings.ToUpper(strings.TrimSpace(f.Search))
	var results []domain.Instrument
	for _, inst := range snap.instruments {
		if f.Exchange != "" && inst.Exchange != f.Exchange {
			continue
		}
		if f.Segment != "" && inst.Segment != f.Segment {
			continue
		}
		if needle != "" {
			symbolMatch := strings.Contains(strings.ToUpper(inst.TradingSymbol), needle)
			if !symbolMatch && !(tokenMatch && inst.InstrumentToken == asToken) {
				continue
			}
		}
		results = append(results, inst)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].TradingSymbol < results[j].TradingSymbol
	})

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []domain.Instrument{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

// Len reports the number of instruments in the current snapshot.
func (c *Catalog) Len() int {
	return len(c.current.Load().instruments)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("catalog: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("catalog: rename: %w", err)
	}
	return nil
}

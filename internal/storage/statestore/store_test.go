package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

func newTestStore(t *testing.T, retention int) (*Store, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "state.json"), filepath.Join(dir, "backups"), retention, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func sampleLedger() *domain.Ledger {
	l := domain.NewLedger()
	l.BreakerUntil = 1709294400.5

	long := l.Record(domain.LedgerKey{Symbol: "BTC/USDT", Timeframe: "1h"})
	long.OpenLong(60000, time.Unix(1709290000, 0))
	long.Open.PeakPrice = 61000.25
	long.Open.TakeProfitArmed = true
	long.ObserveQty(0.0123)

	flat := l.Record(domain.LedgerKey{Symbol: "ETH/USDT", Timeframe: "4h"})
	flat.OpenLong(3000, time.Unix(1709200000, 0))
	flat.CloseLong(time.Unix(1709250000, 0))

	return l
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := newTestStore(t, 0)

	l, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, l.Keys())
	assert.Zero(t, l.BreakerUntil)
}

func TestStore_LoadEmptyFile(t *testing.T) {
	s, _ := newTestStore(t, 0)
	require.NoError(t, os.WriteFile(s.Path(), nil, 0o644))

	l, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, l.Keys())
}

func TestStore_LoadCorrupt(t *testing.T) {
	s, _ := newTestStore(t, 0)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	require.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 0)
	original := sampleLedger()

	require.NoError(t, s.Save(original))

	loaded, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, original.BreakerUntil, loaded.BreakerUntil)
	assert.Equal(t, original.Keys(), loaded.Keys())
	for _, key := range original.Keys() {
		want, _ := original.Lookup(key)
		got, ok := loaded.Lookup(key)
		require.True(t, ok, key.String())
		assert.Equal(t, want, got, key.String())
	}

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_UntouchedRecordRoundTrips(t *testing.T) {
	s, _ := newTestStore(t, 0)
	key := domain.LedgerKey{Symbol: "SOL/USDT", Timeframe: "15m"}

	l := sampleLedger()
	l.Record(key)
	require.NoError(t, s.Save(l))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, l.Keys(), loaded.Keys())

	rec, ok := loaded.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, &domain.PositionRecord{}, rec)

	payload, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "", raw["last_side"].(map[string]any)[key.String()])
	assert.NotContains(t, raw["entry_price"].(map[string]any), key.String())
}

func TestStore_DocumentLayout(t *testing.T) {
	s, _ := newTestStore(t, 0)
	require.NoError(t, s.Save(sampleLedger()))

	payload, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))

	for _, field := range []string{
		"last_side", "entry_price", "peak_price", "tp_armed",
		"base_qty_at_entry", "last_trade_ts", "buy_timestamps",
		"cb_block_until_ts", "saved_at",
	} {
		assert.Contains(t, raw, field)
	}

	sides := raw["last_side"].(map[string]any)
	assert.Equal(t, "buy", sides["BTC/USDT|1h"])
	assert.Equal(t, "sell", sides["ETH/USDT|4h"])

	entries := raw["entry_price"].(map[string]any)
	assert.NotContains(t, entries, "ETH/USDT|4h")
	assert.Equal(t, "2024-03-01T12:00:00.000000", raw["saved_at"])
}

func TestStore_EntryIgnoredForFlatKey(t *testing.T) {
	doc := newDocument()
	doc.LastSide["BTC/USDT|1h"] = domain.SideFlat
	doc.EntryPrice["BTC/USDT|1h"] = 100

	l, err := doc.Ledger()
	require.NoError(t, err)

	rec, ok := l.Lookup(domain.LedgerKey{Symbol: "BTC/USDT", Timeframe: "1h"})
	require.True(t, ok)
	assert.Nil(t, rec.Open)
}

func TestStore_InvalidKey(t *testing.T) {
	doc := newDocument()
	doc.LastSide["BTCUSDT"] = domain.SideLong

	_, err := doc.Ledger()
	require.Error(t, err)
}

func TestStore_BackupRetention(t *testing.T) {
	s, now := newTestStore(t, 2)

	for i := 0; i < 4; i++ {
		*now = now.Add(time.Second)
		require.NoError(t, s.Save(sampleLedger()))
	}

	files, err := s.backups()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "state_2024-03-01T12-00-03Z.json", filepath.Base(files[0]))
	assert.Equal(t, "state_2024-03-01T12-00-04Z.json", filepath.Base(files[1]))
}

func TestStore_Restore(t *testing.T) {
	s, now := newTestStore(t, 0)

	_, err := s.Restore()
	require.ErrorIs(t, err, ErrNoBackup)

	require.NoError(t, s.Save(sampleLedger()))
	*now = now.Add(time.Minute)

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"last_side":{}}`), 0o644))

	restored, err := s.Restore()
	require.NoError(t, err)
	assert.Equal(t, "state_2024-03-01T12-00-00Z.json", filepath.Base(restored))

	l, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, l.Keys(), 2)
}

func TestStore_InjectPosition(t *testing.T) {
	s, _ := newTestStore(t, 0)
	require.NoError(t, s.Save(sampleLedger()))

	key := domain.LedgerKey{Symbol: "SOL/USDT", Timeframe: "15m"}
	require.NoError(t, s.InjectPosition(key, 150, 2))

	l, err := s.Load()
	require.NoError(t, err)

	rec, ok := l.Lookup(key)
	require.True(t, ok)
	assert.True(t, rec.IsLong())
	assert.Equal(t, &domain.OpenPosition{EntryPrice: 150, PeakPrice: 150}, rec.Open)
	qty, ok := rec.ObservedQty()
	assert.True(t, ok)
	assert.Equal(t, 2.0, qty)
	assert.Equal(t, 1709294400.5, l.BreakerUntil)
}

func TestDryRunPath(t *testing.T) {
	assert.Equal(t, "data/state.dryrun.json", DryRunPath("data/state.json"))
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerKey_RoundTrip(t *testing.T) {
	key := LedgerKey{Symbol: "BTC/USDT", Timeframe: "5m"}
	assert.Equal(t, "BTC/USDT|5m", key.String())

	parsed, err := ParseLedgerKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseLedgerKey("BTC/USDT")
	assert.Error(t, err)
}

func TestPositionRecord_OpenAndClose(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := &PositionRecord{}

	rec.OpenLong(100, now)
	require.True(t, rec.IsLong())
	require.NotNil(t, rec.Open)
	assert.Equal(t, 100.0, rec.Open.EntryPrice)
	assert.Equal(t, 100.0, rec.Open.PeakPrice)
	assert.False(t, rec.Open.TakeProfitArmed)
	assert.Equal(t, []float64{EpochSeconds(now)}, rec.BuyTimestamps)
	assert.Equal(t, EpochSeconds(now), rec.LastTradeTS)

	rec.ObserveQty(2.5)
	rec.CloseLong(now.Add(time.Minute))
	assert.Equal(t, SideFlat, rec.Side)
	assert.Nil(t, rec.Open)
	assert.Nil(t, rec.BaseQty)
	assert.Equal(t, EpochSeconds(now.Add(time.Minute)), rec.LastTradeTS)
}

func TestPositionRecord_TakeProfitLatch(t *testing.T) {
	rec := &PositionRecord{}
	rec.OpenLong(100, time.Now())

	assert.True(t, rec.ArmTakeProfit())
	assert.False(t, rec.ArmTakeProfit(), "second arm is not a transition")
	assert.True(t, rec.TakeProfitArmed())

	rec.TrackPeak(90)
	assert.True(t, rec.TakeProfitArmed())
	assert.Equal(t, 100.0, rec.Open.PeakPrice)

	rec.CloseLong(time.Now())
	assert.False(t, rec.TakeProfitArmed())
}

func TestPositionRecord_TrackPeak(t *testing.T) {
	t.Run("flat record is untouched", func(t *testing.T) {
		rec := &PositionRecord{Side: SideFlat}
		assert.Nil(t, rec.TrackPeak(10))
		assert.Nil(t, rec.Open)
	})

	t.Run("long record without entry is initialised", func(t *testing.T) {
		rec := &PositionRecord{Side: SideLong}
		open := rec.TrackPeak(42)
		require.NotNil(t, open)
		assert.Equal(t, 42.0, open.EntryPrice)
		assert.Equal(t, 42.0, open.PeakPrice)
	})

	t.Run("peak only rises", func(t *testing.T) {
		rec := &PositionRecord{}
		rec.OpenLong(10, time.Now())
		rec.TrackPeak(12)
		rec.TrackPeak(11)
		assert.Equal(t, 12.0, rec.Open.PeakPrice)
	})
}

func TestPositionRecord_Rebase(t *testing.T) {
	rec := &PositionRecord{}
	rec.OpenLong(100, time.Now())
	rec.ArmTakeProfit()

	rec.Rebase(95, 97, 3)
	assert.Equal(t, 95.0, rec.Open.EntryPrice)
	assert.Equal(t, 97.0, rec.Open.PeakPrice)
	assert.False(t, rec.Open.TakeProfitArmed)
	qty, ok := rec.ObservedQty()
	assert.True(t, ok)
	assert.Equal(t, 3.0, qty)
}

func TestPositionRecord_RecentBuys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := &PositionRecord{BuyTimestamps: []float64{
		EpochSeconds(now.Add(-25 * time.Hour)),
		EpochSeconds(now.Add(-23 * time.Hour)),
		EpochSeconds(now.Add(-time.Hour)),
	}}

	assert.Equal(t, 2, rec.RecentBuys(now, 24*time.Hour))
	assert.Len(t, rec.BuyTimestamps, 2)

	assert.Equal(t, 0, rec.RecentBuys(now.Add(48*time.Hour), 24*time.Hour))
	assert.Nil(t, rec.BuyTimestamps)
}

func TestLedger_Breaker(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLedger()
	assert.False(t, l.BreakerActive(now))

	l.BlockBuysUntil(now.Add(30 * time.Minute))
	assert.True(t, l.BreakerActive(now))
	assert.Equal(t, 30*time.Minute, l.BreakerRemaining(now))
	assert.False(t, l.BreakerActive(now.Add(30*time.Minute)))
}

func TestLedger_RecordIsLazy(t *testing.T) {
	l := NewLedger()
	key := LedgerKey{Symbol: "ETH/USDT", Timeframe: "1h"}

	_, ok := l.Lookup(key)
	assert.False(t, ok)

	rec := l.Record(key)
	assert.Same(t, rec, l.Record(key))
	assert.Equal(t, []LedgerKey{key}, l.Keys())
}

func TestTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		minutes int
		wantErr bool
	}{
		{in: "1m", minutes: 1},
		{in: "15M", minutes: 15},
		{in: "4h", minutes: 240},
		{in: "1d", minutes: 1440},
		{in: "1w", minutes: 10080},
		{in: "5s", wantErr: true},
		{in: "m", wantErr: true},
		{in: "0m", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tf, err := ParseTimeframe(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.minutes, tf.Minutes())
		})
	}
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, Pair{From: "BTC", To: "USDT"}, p)
	assert.Equal(t, "BTCUSDT", p.Symbol())
	assert.Equal(t, "BTC/USDT", p.String())

	_, err = ParsePair("BTCUSDT")
	assert.Error(t, err)
}

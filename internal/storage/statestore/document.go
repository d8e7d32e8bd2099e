package statestore

import (
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

// Document is the persisted layout: one mapping per field keyed by SYMBOL|TIMEFRAME.
type Document struct {
	LastSide       map[string]domain.Side `json:"last_side"`
	EntryPrice     map[string]float64     `json:"entry_price"`
	PeakPrice      map[string]float64     `json:"peak_price"`
	TPArmed        map[string]bool        `json:"tp_armed"`
	BaseQtyAtEntry map[string]float64     `json:"base_qty_at_entry"`
	LastTradeTS    map[string]float64     `json:"last_trade_ts"`
	BuyTimestamps  map[string][]float64   `json:"buy_timestamps"`
	CBBlockUntilTS float64                `json:"cb_block_until_ts"`
	SavedAt        string                 `json:"saved_at,omitempty"`
}

func newDocument() Document {
	return Document{
		LastSide:       map[string]domain.Side{},
		EntryPrice:     map[string]float64{},
		PeakPrice:      map[string]float64{},
		TPArmed:        map[string]bool{},
		BaseQtyAtEntry: map[string]float64{},
		LastTradeTS:    map[string]float64{},
		BuyTimestamps:  map[string][]float64{},
	}
}

// FromLedger flattens a ledger. Apart from the side, only present fields are written.
func FromLedger(l *domain.Ledger, savedAt time.Time) Document {
	doc := newDocument()
	doc.CBBlockUntilTS = l.BreakerUntil
	if !savedAt.IsZero() {
		doc.SavedAt = savedAt.UTC().Format("2006-01-02T15:04:05.000000")
	}

	for _, key := range l.Keys() {
		rec, _ := l.Lookup(key)
		k := key.String()

		// every key keeps a side entry, empty while unknown, so it survives a reload
		doc.LastSide[k] = rec.Side
		if rec.Open != nil {
			doc.EntryPrice[k] = rec.Open.EntryPrice
			doc.PeakPrice[k] = rec.Open.PeakPrice
			doc.TPArmed[k] = rec.Open.TakeProfitArmed
		}
		if qty, ok := rec.ObservedQty(); ok {
			doc.BaseQtyAtEntry[k] = qty
		}
		if rec.LastTradeTS != 0 {
			doc.LastTradeTS[k] = rec.LastTradeTS
		}
		if len(rec.BuyTimestamps) > 0 {
			doc.BuyTimestamps[k] = append([]float64(nil), rec.BuyTimestamps...)
		}
	}

	return doc
}

// Ledger rebuilds the ledger. Entry, peak and take-profit state are kept only
// for long keys.
func (d Document) Ledger() (*domain.Ledger, error) {
	l := domain.NewLedger()
	l.BreakerUntil = d.CBBlockUntilTS

	record := func(raw string) (*domain.PositionRecord, error) {
		key, err := domain.ParseLedgerKey(raw)
		if err != nil {
			return nil, errors.Wrap(err, "decode state")
		}
		return l.Record(key), nil
	}

	for k, side := range d.LastSide {
		rec, err := record(k)
		if err != nil {
			return nil, err
		}
		rec.Side = side
	}
	for k, entry := range d.EntryPrice {
		rec, err := record(k)
		if err != nil {
			return nil, err
		}
		if !rec.IsLong() {
			continue
		}
		peak, ok := d.PeakPrice[k]
		if !ok {
			peak = entry
		}
		rec.Open = &domain.OpenPosition{
			EntryPrice:      entry,
			PeakPrice:       peak,
			TakeProfitArmed: d.TPArmed[k],
		}
	}
	for k, qty := range d.BaseQtyAtEntry {
		rec, err := record(k)
		if err != nil {
			return nil, err
		}
		rec.ObserveQty(qty)
	}
	for k, ts := range d.LastTradeTS {
		rec, err := record(k)
		if err != nil {
			return nil, err
		}
		rec.LastTradeTS = ts
	}
	for k, stamps := range d.BuyTimestamps {
		rec, err := record(k)
		if err != nil {
			return nil, err
		}
		if len(stamps) > 0 {
			rec.BuyTimestamps = append([]float64(nil), stamps...)
		}
	}

	return l, nil
}

// Package journal keeps an append-only log of executed trades.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/spotengine/internal/domain"
)

const (
	DefaultDir   = "./wal/trades"
	segmentLimit = 100
	maxSegments  = 10

	tradeKeyPrefix = "trade_"
)

// Record is a journaled trade with its WAL index.
type Record struct {
	Index uint64
	Event domain.TradeEvent
}

// WALStore persists trade events in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed trade journal.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "trade_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init trade WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes the trade event to WAL.
func (s *WALStore) Append(event domain.TradeEvent) error {
	if s == nil || s.wal == nil {
		return errors.New("trade journal is not initialized")
	}
	if event.Key == "" {
		return errors.New("trade event key is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal trade event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, tradeKeyPrefix+event.Key, payload)
}

// EventsAfter returns all trades written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("trade journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			// rotated out
			continue
		}
		if !strings.HasPrefix(key, tradeKeyPrefix) {
			continue
		}

		var event domain.TradeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrap(err, "decode trade event")
		}
		records = append(records, Record{Index: idx, Event: event})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("trade journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

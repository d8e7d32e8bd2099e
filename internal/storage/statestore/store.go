// Package statestore persists the position ledger as a JSON document with
// atomic writes and timestamped backups.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"go.uber.org/zap"
)

const backupLayout = "2006-01-02T15-04-05Z"

// ErrNoBackup is returned by restore when no backup exists.
var ErrNoBackup = errors.New("no state backup found")

// Store reads and writes the state document.
type Store struct {
	path      string
	backupDir string
	retention int
	now       func() time.Time
	l         *zap.Logger
}

// New creates a store for path. Backups go to backupDir, keeping the newest
// retention files; zero retention keeps everything.
func New(path, backupDir string, retention int, l *zap.Logger) *Store {
	if l == nil {
		l = zap.NewNop()
	}
	return &Store{
		path:      path,
		backupDir: backupDir,
		retention: retention,
		now:       time.Now,
		l:         l,
	}
}

// DryRunPath derives the state file used in dry-run mode, e.g. state.json -> state.dryrun.json.
func DryRunPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".dryrun" + ext
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger. A missing or empty file yields an empty ledger.
func (s *Store) Load() (*domain.Ledger, error) {
	doc, err := s.LoadDocument()
	if err != nil {
		return nil, err
	}
	return doc.Ledger()
}

// LoadDocument reads the raw document.
func (s *Store) LoadDocument() (Document, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newDocument(), nil
		}
		return Document{}, errors.Wrap(err, "read state")
	}

	doc := newDocument()
	if len(payload) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, errors.Wrap(err, "decode state")
	}

	return doc, nil
}

// Save writes the ledger and backs the new file up.
func (s *Store) Save(l *domain.Ledger) error {
	return s.SaveDocument(FromLedger(l, s.now()))
}

// SaveDocument writes doc atomically via a temp file, then backs it up.
// A failed backup is logged and does not fail the save.
func (s *Store) SaveDocument(doc Document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode state")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create state dir")
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist state")
	}

	if _, err := s.Backup(); err != nil {
		s.l.Warn("State backup failed", zap.Error(err))
	}

	return nil
}

// Backup copies the state file to a timestamped file and applies retention.
func (s *Store) Backup() (string, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return "", errors.Wrap(err, "read state for backup")
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create backup dir")
	}

	target := filepath.Join(s.backupDir, s.base()+"_"+s.now().UTC().Format(backupLayout)+".json")
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return "", errors.Wrap(err, "write backup")
	}

	if s.retention > 0 {
		files, err := s.backups()
		if err != nil {
			return target, err
		}
		if len(files) > s.retention {
			for _, old := range files[:len(files)-s.retention] {
				if err := os.Remove(old); err != nil {
					s.l.Warn("Failed to remove old backup", zap.String("file", old), zap.Error(err))
				}
			}
		}
	}

	return target, nil
}

// LatestBackup returns the newest backup file.
func (s *Store) LatestBackup() (string, error) {
	files, err := s.backups()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoBackup
	}
	return files[len(files)-1], nil
}

// Restore copies the newest backup over the state file and returns its path.
func (s *Store) Restore() (string, error) {
	latest, err := s.LatestBackup()
	if err != nil {
		return "", err
	}

	payload, err := os.ReadFile(latest)
	if err != nil {
		return "", errors.Wrap(err, "read backup")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", errors.Wrap(err, "write state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return "", errors.Wrap(err, "restore state")
	}

	return latest, nil
}

// InjectPosition records a manually opened long position for key.
func (s *Store) InjectPosition(key domain.LedgerKey, entry, qty float64) error {
	l, err := s.Load()
	if err != nil {
		return err
	}

	rec := l.Record(key)
	rec.Side = domain.SideLong
	rec.Open = &domain.OpenPosition{EntryPrice: entry, PeakPrice: entry}
	rec.ObserveQty(qty)
	rec.LastTradeTS = 0
	rec.BuyTimestamps = nil

	return s.Save(l)
}

func (s *Store) base() string {
	name := filepath.Base(s.path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// backups lists backups oldest first.
func (s *Store) backups() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.backupDir, s.base()+"_*.json"))
	if err != nil {
		return nil, errors.Wrap(err, "list backups")
	}
	sort.Strings(files)
	return files, nil
}

// Command statetool inspects and repairs the persisted engine state.
//
// Usage:
//
//	statetool init -symbol BTC/USDT -tf 1h -entry 62000 -qty 0.01
//	statetool restore
//	statetool journal [-after N]
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/spotengine/config"
	"github.com/vadiminshakov/spotengine/internal/domain"
	"github.com/vadiminshakov/spotengine/internal/storage/journal"
	"github.com/vadiminshakov/spotengine/internal/storage/statestore"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type paths struct {
	state     *string
	backupDir *string
	retention *int
	dryRun    *bool
}

func addPaths(fs *flag.FlagSet) paths {
	def := config.Defaults()
	return paths{
		state:     fs.String("state", def.StateFile, "state file"),
		backupDir: fs.String("backups", def.BackupDir, "backup directory"),
		retention: fs.Int("retention", def.BackupRetention, "number of backups to keep"),
		dryRun:    fs.Bool("dry", false, "operate on the dry-run state file"),
	}
}

func (p paths) store() *statestore.Store {
	path := *p.state
	if *p.dryRun {
		path = statestore.DryRunPath(path)
	}
	return statestore.New(path, *p.backupDir, *p.retention, zap.NewNop())
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: statetool init|restore|journal [flags]")
	}

	switch args[0] {
	case "init":
		return runInit(args[1:], out)
	case "restore":
		return runRestore(args[1:], out)
	case "journal":
		return runJournal(args[1:], out)
	default:
		return errors.Errorf("unknown command %q", args[0])
	}
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	p := addPaths(fs)
	symbol := fs.String("symbol", "", "market symbol, e.g. BTC/USDT")
	tf := fs.String("tf", "", "timeframe, e.g. 1h")
	entry := fs.Float64("entry", 0, "entry price")
	qty := fs.Float64("qty", 0, "base quantity held")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pair, err := domain.ParsePair(*symbol)
	if err != nil {
		return err
	}
	timeframe, err := domain.ParseTimeframe(*tf)
	if err != nil {
		return err
	}
	if *entry <= 0 {
		return errors.New("entry must be positive")
	}

	store := p.store()
	key := domain.LedgerKey{Symbol: pair.String(), Timeframe: timeframe}
	if err := store.InjectPosition(key, *entry, *qty); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s marked long at %g in %s\n", key, *entry, store.Path())
	return nil
}

func runRestore(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	p := addPaths(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store := p.store()
	from, err := store.Restore()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "restored %s from %s\n", store.Path(), from)
	return nil
}

func runJournal(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	dir := fs.String("dir", config.Defaults().JournalDir, "journal directory")
	after := fs.Uint64("after", 0, "print records after this index")
	if err := fs.Parse(args); err != nil {
		return err
	}

	wal, err := journal.NewWALStore(*dir)
	if err != nil {
		return err
	}
	defer wal.Close()

	records, err := wal.EventsAfter(*after)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(out, "%d\t%s\n", r.Index, r.Event)
	}
	return nil
}

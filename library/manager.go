package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/HershNagpal/lbms/config"
)

// DefaultSnapshotName is used when shutdown is not given a name.
const DefaultSnapshotName = "default"

// LibraryManager is a thin façade wiring configuration, storage and the
// library together, keeping CLI code simple.
type LibraryManager struct {
	cfg       config.Config
	log       *slog.Logger
	db        *Database
	rdb       *redis.Client
	snapshots SnapshotStore

	lib      *Library
	dispatch *Dispatcher
}

// NewLibraryManager opens (or creates) the SQLite database and, when
// configured, connects to Redis for snapshots. Start must be called before
// commands are executed.
func NewLibraryManager(cfg config.Config, logger *slog.Logger) (*LibraryManager, error) {
	if logger == nil {
		logger = discardLogger()
	}
	db, err := NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	lm := &LibraryManager{cfg: cfg, log: logger, db: db, snapshots: db}
	if cfg.SnapshotStore == "redis" {
		lm.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		lm.snapshots = NewRedisSnapshotStore(lm.rdb, cfg.SnapshotTTL)
	}
	return lm, nil
}

// OptionsFromConfig converts configuration into library options.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		Start:     cfg.StartTime,
		OpenHour:  cfg.OpenHour,
		CloseHour: cfg.CloseHour,
		Policy: LedgerPolicy{
			MaxLoans:      cfg.MaxLoans,
			FineThreshold: cfg.FineThreshold,
			FinePerDay:    cfg.FinePerDay,
			LoanPeriod:    cfg.LoanPeriod,
		},
		HistoryLimit: cfg.HistoryLimit,
		PasswordCost: cfg.PasswordCost,
		Logger:       logger,
	}
}

// Close closes the database and the Redis connection.
func (lm *LibraryManager) Close() error {
	if lm.rdb != nil {
		lm.rdb.Close()
	}
	return lm.db.Close()
}

// Start builds the library, from the named snapshot when restore is set,
// and makes sure the bootstrap staff account exists.
func (lm *LibraryManager) Start(ctx context.Context, restore string) error {
	opts := OptionsFromConfig(lm.cfg, lm.log)
	if restore != "" {
		snap, err := lm.snapshots.LoadSnapshot(ctx, restore)
		if err != nil {
			return err
		}
		lib, err := Restore(snap, opts)
		if err != nil {
			return fmt.Errorf("restore %s: %w", restore, err)
		}
		lm.lib = lib
		lm.log.Info("library restored", "snapshot", restore, "clock", snap.Clock)
	} else {
		store, err := lm.db.StoreBooks()
		if err != nil {
			return fmt.Errorf("load store books: %w", err)
		}
		lm.lib = New(opts, store)
		lm.log.Info("library started", "store_books", len(store), "clock", opts.Start)
	}

	if lm.cfg.AdminUser != "" {
		if err := lm.lib.EnsureAccount(lm.cfg.AdminUser, lm.cfg.AdminPassword, RoleStaff, ""); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	lm.dispatch = NewDispatcher(lm.lib)
	return nil
}

// Config returns the configuration the manager was built with.
func (lm *LibraryManager) Config() config.Config { return lm.cfg }

// Library returns the running library; nil before Start.
func (lm *LibraryManager) Library() *Library { return lm.lib }

// Dispatcher returns the command dispatcher; nil before Start.
func (lm *LibraryManager) Dispatcher() *Dispatcher { return lm.dispatch }

// Shutdown saves a snapshot of the running library under name.
func (lm *LibraryManager) Shutdown(ctx context.Context, name string) (SnapshotInfo, error) {
	if lm.lib == nil {
		return SnapshotInfo{}, fmt.Errorf("library not started")
	}
	if name == "" {
		name = DefaultSnapshotName
	}
	info, err := lm.snapshots.SaveSnapshot(ctx, name, lm.lib.Export())
	if err != nil {
		lm.log.Error("snapshot failed", "name", name, "err", err)
		return SnapshotInfo{}, err
	}
	lm.log.Info("snapshot saved", "name", name, "id", info.ID, "bytes", info.Size)
	return info, nil
}

// ImportBooks reads a books file into the bookstore inventory.
func (lm *LibraryManager) ImportBooks(path string) (int, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := lm.db.ImportStoreBooks(f)
	if err != nil {
		return 0, err
	}
	lm.log.Info("store books imported", "path", path, "count", n)
	return n, nil
}

// StoreBooks lists the bookstore inventory.
func (lm *LibraryManager) StoreBooks() ([]BookRecord, error) { return lm.db.StoreBooks() }

// Snapshots lists saved snapshots, newest first.
func (lm *LibraryManager) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	return lm.snapshots.ListSnapshots(ctx)
}

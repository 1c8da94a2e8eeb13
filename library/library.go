package library

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Library.
type Options struct {
	Start        time.Time
	OpenHour     int
	CloseHour    int
	Policy       LedgerPolicy
	HistoryLimit int
	PasswordCost int // bcrypt cost; 0 means bcrypt.DefaultCost
	Logger       *slog.Logger
}

// DefaultOptions opens at 08:00, closes at 19:00 and starts on the first
// opening of 2024.
func DefaultOptions() Options {
	return Options{
		Start:        time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC),
		OpenHour:     8,
		CloseHour:    19,
		Policy:       DefaultPolicy,
		HistoryLimit: 20,
	}
}

// Library is one independent instance of every core component.
type Library struct {
	opts Options
	log  *slog.Logger

	clock    *TimeKeeper
	books    *Catalog
	store    *Catalog
	visitors *VisitorDirectory
	ledger   *CheckoutLedger
	accounts *AccountDB

	// gate is held exclusively while the clock moves or a snapshot is taken,
	// and shared by every other command.
	gate      sync.RWMutex
	purchased atomic.Int64
}

// New builds an empty library whose bookstore sells storeBooks.
func New(opts Options, storeBooks []BookRecord) *Library {
	return assemble(opts, opts.Start, NewCatalog(), NewCatalog(storeBooks...), NewVisitorDirectory(), NewAccountDB(opts.HistoryLimit, opts.PasswordCost))
}

func assemble(opts Options, now time.Time, books, store *Catalog, visitors *VisitorDirectory, accounts *AccountDB) *Library {
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	l := &Library{
		opts:     opts,
		log:      logger,
		clock:    NewTimeKeeper(now, opts.OpenHour, opts.CloseHour),
		books:    books,
		store:    store,
		visitors: visitors,
		accounts: accounts,
	}
	l.ledger = NewCheckoutLedger(visitors, books, opts.Policy, l.clock.Now, logger)
	l.clock.OnTransition(l.ledger.Assess)
	l.clock.OnTransition(func(s LibraryState, at time.Time) {
		l.log.Info("library state changed", "state", s.String(), "at", at)
	})
	return l
}

// Clock returns the time keeper.
func (l *Library) Clock() *TimeKeeper { return l.clock }

// Books returns the library catalog.
func (l *Library) Books() *Catalog { return l.books }

// Store returns the bookstore catalog.
func (l *Library) Store() *Catalog { return l.store }

// Visitors returns the visitor directory.
func (l *Library) Visitors() *VisitorDirectory { return l.visitors }

// Ledger returns the checkout ledger.
func (l *Library) Ledger() *CheckoutLedger { return l.ledger }

// Accounts returns the account and session store.
func (l *Library) Accounts() *AccountDB { return l.accounts }

// Purchased is the number of copies bought from the store.
func (l *Library) Purchased() int { return int(l.purchased.Load()) }

// EnsureAccount creates an account unless the username already exists.
func (l *Library) EnsureAccount(username, password string, role Role, visitorID string) error {
	_, err := l.accounts.Create(username, password, role, visitorID)
	if errors.Is(err, ErrDuplicateUsername) {
		return nil
	}
	return err
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

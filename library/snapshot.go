package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// SnapshotVersion is the layout written by Export.
const SnapshotVersion = 1

var (
	// ErrSnapshotVersion is returned when a snapshot has a layout this build cannot read.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")

	// ErrInvalidSnapshot is returned when a snapshot breaks a book, visitor or loan invariant.
	ErrInvalidSnapshot = errors.New("snapshot is not consistent")

	// ErrSnapshotNotFound is returned by stores when no snapshot has the requested name.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Checkouts is the ledger part of a snapshot.
type Checkouts struct {
	Open      map[string][]Transaction `json:"open"`
	Closed    map[string][]Transaction `json:"closed"`
	Collected int                      `json:"collected"`
}

// Snapshot is everything needed to rebuild a Library. Session history and
// cached search results are not part of it.
type Snapshot struct {
	Version   int             `json:"version"`
	TakenAt   time.Time       `json:"taken_at"`
	Clock     time.Time       `json:"clock"`
	Accounts  []Account       `json:"accounts"`
	Books     []BookRecord    `json:"books"`
	Store     []BookRecord    `json:"store"`
	Visitors  []VisitorRecord `json:"visitors"`
	Checkouts Checkouts       `json:"checkouts"`
	Sessions  []SessionRecord `json:"sessions"`
	Purchased int             `json:"purchased"`
}

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	TakenAt time.Time `json:"taken_at"`
	Size    int       `json:"size"`
}

// SnapshotStore persists encoded snapshots under a name. Loading a name
// returns the most recent snapshot saved with it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, name string, s Snapshot) (SnapshotInfo, error)
	LoadSnapshot(ctx context.Context, name string) (Snapshot, error)
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
}

// Export captures the library while every command is held off.
func (l *Library) Export() Snapshot {
	l.gate.Lock()
	defer l.gate.Unlock()

	open, closed := l.ledger.Loans()
	return Snapshot{
		Version:  SnapshotVersion,
		TakenAt:  time.Now().UTC(),
		Clock:    l.clock.Now(),
		Accounts: l.accounts.Accounts(),
		Books:    l.books.Books(),
		Store:    l.store.Books(),
		Visitors: l.visitors.Visitors(),
		Checkouts: Checkouts{
			Open:      open,
			Closed:    closed,
			Collected: l.ledger.Collected(),
		},
		Sessions:  l.accounts.Sessions(),
		Purchased: l.Purchased(),
	}
}

// Restore rebuilds a library from s. The clock resumes at s.Clock; opts
// supplies everything else that is configuration.
func Restore(s Snapshot, opts Options) (*Library, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	l := assemble(opts, s.Clock,
		NewCatalog(s.Books...),
		NewCatalog(s.Store...),
		NewVisitorDirectory(s.Visitors...),
		NewAccountDB(opts.HistoryLimit, opts.PasswordCost, s.Accounts...),
	)
	l.ledger.load(s.Checkouts.Open, s.Checkouts.Closed, s.Checkouts.Collected)
	l.accounts.restoreSessions(s.Sessions)
	l.purchased.Store(int64(s.Purchased))
	return l, nil
}

// Validate checks the version and the invariants tying books, visitors and loans together.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}

	books := make(map[string]BookRecord, len(s.Books))
	for _, b := range s.Books {
		if b.OnLoan < 0 || b.OnLoan > b.TotalCopies {
			return fmt.Errorf("%w: book %s has %d of %d copies on loan", ErrInvalidSnapshot, b.ISBN, b.OnLoan, b.TotalCopies)
		}
		books[b.ISBN] = b
	}

	visitors := make(map[string]VisitorRecord, len(s.Visitors))
	for _, v := range s.Visitors {
		if !IsVisitorID(v.ID) {
			return fmt.Errorf("%w: visitor id %q", ErrInvalidSnapshot, v.ID)
		}
		open := 0
		for _, visit := range v.Visits {
			if visit.Open() {
				open++
			}
		}
		if open > 1 {
			return fmt.Errorf("%w: visitor %s has %d open visits", ErrInvalidSnapshot, v.ID, open)
		}
		visitors[v.ID] = v
	}

	onLoan := make(map[string]int)
	for visitorID, txs := range s.Checkouts.Open {
		v, ok := visitors[visitorID]
		if !ok {
			return fmt.Errorf("%w: loans for unknown visitor %s", ErrInvalidSnapshot, visitorID)
		}
		if len(v.Loans) != len(txs) {
			return fmt.Errorf("%w: visitor %s links %d loans, ledger has %d", ErrInvalidSnapshot, visitorID, len(v.Loans), len(txs))
		}
		seen := make(map[string]bool, len(txs))
		for _, t := range txs {
			if _, ok := books[t.ISBN]; !ok || seen[t.ISBN] || !t.Open() {
				return fmt.Errorf("%w: open loan %d", ErrInvalidSnapshot, t.ID)
			}
			seen[t.ISBN] = true
			onLoan[t.ISBN]++
		}
	}
	for isbn, b := range books {
		if onLoan[isbn] != b.OnLoan {
			return fmt.Errorf("%w: book %s has %d copies on loan, ledger has %d", ErrInvalidSnapshot, isbn, b.OnLoan, onLoan[isbn])
		}
	}
	for visitorID, txs := range s.Checkouts.Closed {
		if _, ok := visitors[visitorID]; !ok {
			return fmt.Errorf("%w: loans for unknown visitor %s", ErrInvalidSnapshot, visitorID)
		}
		for _, t := range txs {
			if t.Open() {
				return fmt.Errorf("%w: closed loan %d has no return date", ErrInvalidSnapshot, t.ID)
			}
		}
	}
	return nil
}

// EncodeSnapshot renders s as JSON.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := jsoniter.ConfigFastest.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// DecodeSnapshot parses JSON written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if !jsoniter.ConfigFastest.Valid(data) {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", ErrInvalidSnapshot)
	}
	var s Snapshot
	if err := jsoniter.ConfigFastest.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

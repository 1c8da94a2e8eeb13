package library

import (
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"
)

// LedgerPolicy holds the circulation limits.
type LedgerPolicy struct {
	MaxLoans      int           // concurrent open loans per visitor
	FineThreshold int           // borrowing is refused while the unpaid balance is above this
	FinePerDay    int           // charged for each full day past due
	LoanPeriod    time.Duration // checkout to due date
}

// DefaultPolicy is used when no policy is configured.
var DefaultPolicy = LedgerPolicy{
	MaxLoans:      5,
	FineThreshold: 0,
	FinePerDay:    2,
	LoanPeriod:    7 * 24 * time.Hour,
}

// fineAt is the fine a loan has accrued at instant at.
func (p LedgerPolicy) fineAt(t Transaction, at time.Time) int {
	if !at.After(t.Due) {
		return 0
	}
	days := int(at.Sub(t.Due) / (24 * time.Hour))
	return days * p.FinePerDay
}

// Payment is the part of a payment applied to one transaction.
type Payment struct {
	TransactionID int64 `json:"transaction_id"`
	Amount        int   `json:"amount"`
}

// CheckoutLedger holds open and closed loans per visitor.
type CheckoutLedger struct {
	mu        sync.RWMutex
	visitors  *VisitorDirectory
	books     *Catalog
	policy    LedgerPolicy
	now       func() time.Time
	log       *slog.Logger
	open      map[string][]*Transaction
	closed    map[string][]*Transaction
	lastID    int64
	collected int
}

// NewCheckoutLedger builds an empty ledger over a directory and a catalog.
// now supplies the instant fines of open loans are computed at.
func NewCheckoutLedger(visitors *VisitorDirectory, books *Catalog, policy LedgerPolicy, now func() time.Time, logger *slog.Logger) *CheckoutLedger {
	if logger == nil {
		logger = discardLogger()
	}
	return &CheckoutLedger{
		visitors: visitors,
		books:    books,
		policy:   policy,
		now:      now,
		log:      logger,
		open:     make(map[string][]*Transaction),
		closed:   make(map[string][]*Transaction),
	}
}

// Policy returns the limits the ledger enforces.
func (l *CheckoutLedger) Policy() LedgerPolicy { return l.policy }

func (l *CheckoutLedger) accrued(t *Transaction, at time.Time) int {
	if !t.Open() {
		return t.Fine
	}
	return max(t.Fine, l.policy.fineAt(*t, at))
}

func (l *CheckoutLedger) balanceLocked(visitorID string, at time.Time) int {
	total := 0
	for _, t := range l.open[visitorID] {
		total += l.accrued(t, at) - t.FinePaid
	}
	for _, t := range l.closed[visitorID] {
		total += l.accrued(t, at) - t.FinePaid
	}
	return total
}

// Checkout lends one copy of each isbn to the visitor at date. Nothing changes
// unless every book can be lent.
func (l *CheckoutLedger) Checkout(date time.Time, visitorID string, isbns ...string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.visitors.Exists(visitorID) {
		return nil, ErrInvalidVisitorID
	}
	if len(l.open[visitorID])+len(isbns) > l.policy.MaxLoans {
		return nil, ErrBookLimitExceeded
	}
	if owed := l.balanceLocked(visitorID, l.now()); owed > l.policy.FineThreshold {
		return nil, ErrOutstandingFine.With(strconv.Itoa(owed))
	}

	var dup []string
	for i, isbn := range isbns {
		if slices.Contains(isbns[:i], isbn) || l.openLoanLocked(visitorID, isbn) != nil {
			dup = append(dup, isbn)
		}
	}
	if len(dup) > 0 {
		return nil, ErrDuplicateLoan.With(formatList(dup))
	}

	txs := make([]*Transaction, 0, len(isbns))
	ids := make([]int64, 0, len(isbns))
	for i, isbn := range isbns {
		id := l.lastID + int64(i) + 1
		txs = append(txs, &Transaction{
			ID:         id,
			VisitorID:  visitorID,
			ISBN:       isbn,
			CheckedOut: date,
			Due:        date.Add(l.policy.LoanPeriod),
		})
		ids = append(ids, id)
	}

	if err := l.visitors.linkLoans(visitorID, ids...); err != nil {
		return nil, err
	}
	if err := l.books.reserve(isbns...); err != nil {
		l.visitors.unlinkLoans(visitorID, ids...)
		return nil, err
	}
	l.lastID += int64(len(isbns))
	l.open[visitorID] = append(l.open[visitorID], txs...)
	return values(txs), nil
}

// Return closes the visitor's open loan of each isbn at date and settles the final fine.
func (l *CheckoutLedger) Return(date time.Time, visitorID string, isbns ...string) ([]Transaction, error) {
	_, after, err := l.returnLoans(date, visitorID, isbns...)
	return after, err
}

// returnLoans is Return that also hands back the loans as they were before closing.
func (l *CheckoutLedger) returnLoans(date time.Time, visitorID string, isbns ...string) (before, after []Transaction, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.visitors.Exists(visitorID) {
		return nil, nil, ErrInvalidVisitorID
	}
	var missing []string
	txs := make([]*Transaction, 0, len(isbns))
	for i, isbn := range isbns {
		t := l.openLoanLocked(visitorID, isbn)
		if t == nil || slices.Contains(isbns[:i], isbn) {
			missing = append(missing, isbn)
			continue
		}
		txs = append(txs, t)
	}
	if len(missing) > 0 {
		return nil, nil, ErrInvalidBookID.With(formatList(missing))
	}

	before = values(txs)
	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		t.Fine = l.accrued(t, date)
		t.Returned = date
		l.moveLocked(t, l.open, l.closed)
		ids = append(ids, t.ID)
	}
	l.books.release(isbns...)
	l.visitors.unlinkLoans(visitorID, ids...)
	return before, values(txs), nil
}

// OpenLoans lists the visitor's books still out, oldest first.
func (l *CheckoutLedger) OpenLoans(visitorID string) ([]Transaction, error) {
	if !l.visitors.Exists(visitorID) {
		return nil, ErrInvalidVisitorID
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return values(l.open[visitorID]), nil
}

// CalculateFine is what the visitor owes across open and closed loans.
func (l *CheckoutLedger) CalculateFine(visitorID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(visitorID, l.now())
}

// CalculateTotalFines is what every visitor owes together.
func (l *CheckoutLedger) CalculateTotalFines() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	seen := make(map[string]bool)
	total := 0
	for _, m := range []map[string][]*Transaction{l.open, l.closed} {
		for v := range m {
			if !seen[v] {
				seen[v] = true
				total += l.balanceLocked(v, now)
			}
		}
	}
	return total
}

// Collected is the sum of every payment received.
func (l *CheckoutLedger) Collected() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collected
}

// Pay applies amount to the visitor's fines, oldest loan first, and returns
// how it was split and the remaining balance.
func (l *CheckoutLedger) Pay(visitorID string, amount int) ([]Payment, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.visitors.Exists(visitorID) {
		return nil, 0, ErrInvalidVisitorID
	}
	now := l.now()
	owed := l.balanceLocked(visitorID, now)
	if amount <= 0 || amount > owed {
		return nil, owed, ErrInvalidAmount.With(strconv.Itoa(amount), strconv.Itoa(owed))
	}

	all := append(slices.Clone(l.closed[visitorID]), l.open[visitorID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	var split []Payment
	left := amount
	for _, t := range all {
		if left == 0 {
			break
		}
		due := l.accrued(t, now) - t.FinePaid
		if due <= 0 {
			continue
		}
		p := min(due, left)
		t.FinePaid += p
		left -= p
		split = append(split, Payment{TransactionID: t.ID, Amount: p})
	}
	l.collected += amount
	return split, owed - amount, nil
}

// RestorePayments reverses (sign -1) or reapplies (sign +1) a payment split.
func (l *CheckoutLedger) RestorePayments(visitorID string, split []Payment, sign int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	targets := make([]*Transaction, len(split))
	total := 0
	for i, p := range split {
		t := l.findLocked(visitorID, p.TransactionID)
		if t == nil || t.FinePaid+sign*p.Amount < 0 {
			return ErrStaleHistory
		}
		targets[i] = t
		total += p.Amount
	}
	for i, p := range split {
		targets[i].FinePaid += sign * p.Amount
	}
	l.collected += sign * total
	return nil
}

// UndoCheckout takes back loans created by Checkout as if they never happened.
func (l *CheckoutLedger) UndoCheckout(visitorID string, txs []Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := make([]*Transaction, 0, len(txs))
	for _, want := range txs {
		t := l.findLocked(visitorID, want.ID)
		if t == nil || !t.Open() || t.FinePaid != 0 {
			return ErrStaleHistory
		}
		found = append(found, t)
	}
	isbns := make([]string, 0, len(found))
	ids := make([]int64, 0, len(found))
	for _, t := range found {
		l.open[visitorID] = slices.DeleteFunc(l.open[visitorID], func(o *Transaction) bool { return o == t })
		isbns = append(isbns, t.ISBN)
		ids = append(ids, t.ID)
	}
	if len(l.open[visitorID]) == 0 {
		delete(l.open, visitorID)
	}
	l.books.release(isbns...)
	l.visitors.unlinkLoans(visitorID, ids...)
	return nil
}

// RedoCheckout lends the exact transactions again.
func (l *CheckoutLedger) RedoCheckout(visitorID string, txs []Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	isbns := make([]string, 0, len(txs))
	ids := make([]int64, 0, len(txs))
	for _, t := range txs {
		if l.findLocked(visitorID, t.ID) != nil || l.openLoanLocked(visitorID, t.ISBN) != nil {
			return ErrStaleHistory
		}
		isbns = append(isbns, t.ISBN)
		ids = append(ids, t.ID)
	}
	if len(l.open[visitorID])+len(txs) > l.policy.MaxLoans {
		return ErrBookLimitExceeded
	}
	if owed := l.balanceLocked(visitorID, l.now()); owed > l.policy.FineThreshold {
		return ErrOutstandingFine.With(strconv.Itoa(owed))
	}
	if err := l.visitors.linkLoans(visitorID, ids...); err != nil {
		return err
	}
	if err := l.books.reserve(isbns...); err != nil {
		l.visitors.unlinkLoans(visitorID, ids...)
		return err
	}
	for _, t := range txs {
		t := t
		l.insertLocked(l.open, &t)
	}
	return nil
}

// UndoReturn reopens returned loans with their values from before the return.
func (l *CheckoutLedger) UndoReturn(visitorID string, before []Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := make([]*Transaction, 0, len(before))
	for _, b := range before {
		t := l.findLocked(visitorID, b.ID)
		if t == nil || t.Open() || t.FinePaid != b.FinePaid || l.openLoanLocked(visitorID, b.ISBN) != nil {
			return ErrStaleHistory
		}
		found = append(found, t)
	}
	isbns := make([]string, 0, len(before))
	ids := make([]int64, 0, len(before))
	for _, b := range before {
		isbns = append(isbns, b.ISBN)
		ids = append(ids, b.ID)
	}
	if err := l.visitors.linkLoans(visitorID, ids...); err != nil {
		return err
	}
	if err := l.books.reserve(isbns...); err != nil {
		l.visitors.unlinkLoans(visitorID, ids...)
		return err
	}
	for i, t := range found {
		l.closed[visitorID] = slices.DeleteFunc(l.closed[visitorID], func(o *Transaction) bool { return o == t })
		*t = before[i]
		l.insertLocked(l.open, t)
	}
	if len(l.closed[visitorID]) == 0 {
		delete(l.closed, visitorID)
	}
	return nil
}

// RedoReturn closes loans again with the values recorded when they were returned.
// It refuses once anything was paid on the reopened loans since the undo.
func (l *CheckoutLedger) RedoReturn(visitorID string, before, after []Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(before) != len(after) {
		return ErrStaleHistory
	}
	found := make([]*Transaction, 0, len(after))
	for i, a := range after {
		t := l.findLocked(visitorID, a.ID)
		if t == nil || !t.Open() || t.FinePaid != before[i].FinePaid {
			return ErrStaleHistory
		}
		found = append(found, t)
	}
	isbns := make([]string, 0, len(after))
	ids := make([]int64, 0, len(after))
	for i, t := range found {
		*t = after[i]
		l.moveLocked(t, l.open, l.closed)
		isbns = append(isbns, t.ISBN)
		ids = append(ids, t.ID)
	}
	l.books.release(isbns...)
	l.visitors.unlinkLoans(visitorID, ids...)
	return nil
}

// Assess records the fine every open loan has accrued. It runs when the library closes.
func (l *CheckoutLedger) Assess(state LibraryState, at time.Time) {
	if state != Closed {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	overdue := 0
	for _, txs := range l.open {
		for _, t := range txs {
			t.Fine = l.accrued(t, at)
			if t.Fine > 0 {
				overdue++
			}
		}
	}
	l.log.Debug("fines assessed", "at", at, "overdue_loans", overdue)
}

// hasLoans reports whether the visitor ever borrowed anything.
func (l *CheckoutLedger) hasLoans(visitorID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.open[visitorID])+len(l.closed[visitorID]) > 0
}

func (l *CheckoutLedger) openLoanLocked(visitorID, isbn string) *Transaction {
	for _, t := range l.open[visitorID] {
		if t.ISBN == isbn {
			return t
		}
	}
	return nil
}

func (l *CheckoutLedger) findLocked(visitorID string, id int64) *Transaction {
	for _, m := range []map[string][]*Transaction{l.open, l.closed} {
		for _, t := range m[visitorID] {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

func (l *CheckoutLedger) moveLocked(t *Transaction, from, to map[string][]*Transaction) {
	from[t.VisitorID] = slices.DeleteFunc(from[t.VisitorID], func(o *Transaction) bool { return o == t })
	if len(from[t.VisitorID]) == 0 {
		delete(from, t.VisitorID)
	}
	l.insertLocked(to, t)
}

// insertLocked keeps each visitor's list ordered by transaction ID.
func (l *CheckoutLedger) insertLocked(m map[string][]*Transaction, t *Transaction) {
	list := m[t.VisitorID]
	i := sort.Search(len(list), func(i int) bool { return list[i].ID > t.ID })
	m[t.VisitorID] = slices.Insert(list, i, t)
}

// Loans returns copies of both maps, for snapshots.
func (l *CheckoutLedger) Loans() (open, closed map[string][]Transaction) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	copyMap := func(m map[string][]*Transaction) map[string][]Transaction {
		out := make(map[string][]Transaction, len(m))
		for v, txs := range m {
			out[v] = values(txs)
		}
		return out
	}
	return copyMap(l.open), copyMap(l.closed)
}

// load replaces the ledger contents; only used while restoring a snapshot.
func (l *CheckoutLedger) load(open, closed map[string][]Transaction, collected int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = make(map[string][]*Transaction, len(open))
	l.closed = make(map[string][]*Transaction, len(closed))
	l.lastID = 0
	for _, src := range []map[string][]Transaction{open, closed} {
		for _, txs := range src {
			for _, t := range txs {
				t := t
				if t.Open() {
					l.insertLocked(l.open, &t)
				} else {
					l.insertLocked(l.closed, &t)
				}
				l.lastID = max(l.lastID, t.ID)
			}
		}
	}
	l.collected = collected
}

func values(txs []*Transaction) []Transaction {
	out := make([]Transaction, len(txs))
	for i, t := range txs {
		out[i] = *t
	}
	return out
}

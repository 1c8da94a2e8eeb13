package library

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"
)

// VisitorIDLength is the fixed width of a visitor ID.
const VisitorIDLength = 10

// IsVisitorID reports whether s has the shape of a visitor ID.
func IsVisitorID(s string) bool {
	if len(s) != VisitorIDLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// VisitorDirectory holds registrations and visits.
type VisitorDirectory struct {
	mu       sync.RWMutex
	visitors map[string]*VisitorRecord
	lastID   int64
}

// NewVisitorDirectory builds a directory, continuing ID allocation after the highest existing ID.
func NewVisitorDirectory(records ...VisitorRecord) *VisitorDirectory {
	d := &VisitorDirectory{visitors: make(map[string]*VisitorRecord, len(records))}
	for _, r := range records {
		r = r.clone()
		d.visitors[r.ID] = &r
		if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil && n > d.lastID {
			d.lastID = n
		}
	}
	return d
}

// Register stores a new visitor unless someone with the same name, address
// and phone number is already registered.
func (d *VisitorDirectory) Register(first, last, address, phone string, at time.Time) (VisitorRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range d.visitors {
		if v.sameIdentity(first, last, address, phone) {
			return VisitorRecord{}, ErrDuplicateVisitor
		}
	}
	d.lastID++
	v := &VisitorRecord{
		ID:           fmt.Sprintf("%0*d", VisitorIDLength, d.lastID),
		FirstName:    first,
		LastName:     last,
		Address:      address,
		Phone:        phone,
		RegisteredAt: at,
	}
	d.visitors[v.ID] = v
	return v.clone(), nil
}

// Get returns a copy of the visitor record.
func (d *VisitorDirectory) Get(id string) (VisitorRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.visitors[id]
	if !ok {
		return VisitorRecord{}, false
	}
	return v.clone(), true
}

// Exists reports whether id is registered.
func (d *VisitorDirectory) Exists(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.visitors[id]
	return ok
}

// Len is the number of registered visitors.
func (d *VisitorDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.visitors)
}

// Visitors lists all records ordered by ID.
func (d *VisitorDirectory) Visitors() []VisitorRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]VisitorRecord, 0, len(d.visitors))
	for _, v := range d.visitors {
		out = append(out, v.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AverageVisit is the mean duration of every finished visit.
func (d *VisitorDirectory) AverageVisit() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var total time.Duration
	var n int64
	for _, v := range d.visitors {
		for _, visit := range v.Visits {
			if !visit.Open() {
				total += visit.Duration
				n++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// BeginVisit opens a visit starting at now.
func (d *VisitorDirectory) BeginVisit(id string, now time.Time) (Visit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return Visit{}, ErrInvalidVisitorID
	}
	if v.openVisit() >= 0 {
		return Visit{}, ErrAlreadyVisiting
	}
	visit := Visit{Start: now}
	v.Visits = append(v.Visits, visit)
	return visit, nil
}

// EndVisit closes the open visit at now.
func (d *VisitorDirectory) EndVisit(id string, now time.Time) (Visit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return Visit{}, ErrInvalidVisitorID
	}
	i := v.openVisit()
	if i < 0 {
		return Visit{}, ErrNotVisiting
	}
	v.Visits[i].End = now
	v.Visits[i].Duration = now.Sub(v.Visits[i].Start)
	return v.Visits[i], nil
}

// Unregister removes a visitor that has never visited nor borrowed. Removing
// the newest visitor hands its ID out again.
func (d *VisitorDirectory) Unregister(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return ErrInvalidVisitorID
	}
	if len(v.Loans) > 0 || len(v.Visits) > 0 {
		return ErrVisitorInUse
	}
	delete(d.visitors, id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n == d.lastID {
		d.lastID--
	}
	return nil
}

// RestoreVisitor puts a previously removed record back under its original ID.
func (d *VisitorDirectory) RestoreVisitor(r VisitorRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.visitors[r.ID]; ok {
		return ErrDuplicateVisitor
	}
	for _, v := range d.visitors {
		if v.sameIdentity(r.FirstName, r.LastName, r.Address, r.Phone) {
			return ErrDuplicateVisitor
		}
	}
	r = r.clone()
	d.visitors[r.ID] = &r
	if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil && n > d.lastID {
		d.lastID = n
	}
	return nil
}

// CancelVisit drops the open visit that started at visit.Start.
func (d *VisitorDirectory) CancelVisit(id string, visit Visit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return ErrInvalidVisitorID
	}
	i := v.openVisit()
	if i < 0 || !v.Visits[i].Start.Equal(visit.Start) {
		return ErrStaleHistory
	}
	v.Visits = v.Visits[:i]
	return nil
}

// RestoreVisit reopens a visit that was cancelled, keeping its start time.
func (d *VisitorDirectory) RestoreVisit(id string, visit Visit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return ErrInvalidVisitorID
	}
	if v.openVisit() >= 0 {
		return ErrAlreadyVisiting
	}
	v.Visits = append(v.Visits, Visit{Start: visit.Start})
	return nil
}

// ReopenVisit undoes the end of the most recent visit, which must equal visit.
func (d *VisitorDirectory) ReopenVisit(id string, visit Visit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return ErrInvalidVisitorID
	}
	n := len(v.Visits)
	if n == 0 || !v.Visits[n-1].equal(visit) {
		return ErrStaleHistory
	}
	v.Visits[n-1].End = time.Time{}
	v.Visits[n-1].Duration = 0
	return nil
}

// CloseVisit ends the open visit with the recorded end of visit.
func (d *VisitorDirectory) CloseVisit(id string, visit Visit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return ErrInvalidVisitorID
	}
	i := v.openVisit()
	if i < 0 || !v.Visits[i].Start.Equal(visit.Start) {
		return ErrStaleHistory
	}
	v.Visits[i] = visit
	return nil
}

// linkLoans records open transaction IDs on the visitor.
func (d *VisitorDirectory) linkLoans(id string, txIDs ...int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return ErrInvalidVisitorID
	}
	v.Loans = append(v.Loans, txIDs...)
	slices.Sort(v.Loans)
	return nil
}

// unlinkLoans forgets transaction IDs on the visitor.
func (d *VisitorDirectory) unlinkLoans(id string, txIDs ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.visitors[id]
	if !ok {
		return
	}
	v.Loans = slices.DeleteFunc(v.Loans, func(l int64) bool { return slices.Contains(txIDs, l) })
}

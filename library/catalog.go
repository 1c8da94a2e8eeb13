package library

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

// Wildcard disables a search filter.
const Wildcard = "*"

// SortKey orders search results.
type SortKey string

const (
	SortNone        SortKey = Wildcard
	SortTitle       SortKey = "title"
	SortPublishDate SortKey = "publish-date"
	SortBookStatus  SortKey = "book-status"
)

// ParseSortKey validates a sort key; an empty string means no sorting.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.TrimSpace(s)); k {
	case "", SortNone:
		return SortNone, nil
	case SortTitle, SortPublishDate, SortBookStatus:
		return k, nil
	}
	return "", ErrInvalidSortOrder.With(s)
}

// Query describes a catalog search. Empty or wildcard fields match everything.
type Query struct {
	Title     string
	Authors   []string
	ISBN      string
	Publisher string
	Sort      SortKey
}

// Catalog holds book records keyed by ISBN, remembering insertion order.
type Catalog struct {
	mu    sync.RWMutex
	books map[string]*BookRecord
	order []string
}

// NewCatalog builds a catalog from records; later duplicates of an ISBN replace earlier ones.
func NewCatalog(records ...BookRecord) *Catalog {
	c := &Catalog{books: make(map[string]*BookRecord, len(records))}
	for _, r := range records {
		c.put(r)
	}
	return c
}

func (c *Catalog) put(r BookRecord) {
	r.Authors = slices.Clone(r.Authors)
	if _, ok := c.books[r.ISBN]; !ok {
		c.order = append(c.order, r.ISBN)
	}
	c.books[r.ISBN] = &r
}

// Get returns a copy of the record for isbn.
func (c *Catalog) Get(isbn string) (BookRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[isbn]
	if !ok {
		return BookRecord{}, false
	}
	return *b, true
}

// Len is the number of titles.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Books lists every record in insertion order.
func (c *Catalog) Books() []BookRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]BookRecord, 0, len(c.order))
	for _, isbn := range c.order {
		out = append(out, *c.books[isbn])
	}
	return out
}

// TotalCopies counts every copy owned, lent or not.
func (c *Catalog) TotalCopies() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, b := range c.books {
		n += b.TotalCopies
	}
	return n
}

// Search filters and sorts the catalog.
func (c *Catalog) Search(q Query) []BookRecord {
	c.mu.RLock()
	hits := make([]BookRecord, 0)
	for _, isbn := range c.order {
		if b := c.books[isbn]; q.matches(b) {
			hits = append(hits, *b)
		}
	}
	c.mu.RUnlock()

	switch q.Sort {
	case SortTitle:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Title < hits[j].Title })
	case SortPublishDate:
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].PublishDate.Before(hits[j].PublishDate) })
	case SortBookStatus:
		hits = slices.DeleteFunc(hits, func(b BookRecord) bool { return b.Available() <= 0 })
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Available() < hits[j].Available() })
	}
	return hits
}

func (q Query) matches(b *BookRecord) bool {
	if !ignored(q.Title) && !strings.Contains(b.Title, q.Title) {
		return false
	}
	for _, a := range q.Authors {
		if ignored(a) {
			continue
		}
		if !slices.Contains(b.Authors, a) {
			return false
		}
	}
	if !ignored(q.ISBN) && b.ISBN != q.ISBN {
		return false
	}
	if !ignored(q.Publisher) && b.Publisher != q.Publisher {
		return false
	}
	return true
}

func ignored(s string) bool { return s == "" || s == Wildcard }

// reserve lends one copy of each isbn. Either every copy is reserved or none is.
func (c *Catalog) reserve(isbns ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var unknown, gone []string
	for _, isbn := range isbns {
		b, ok := c.books[isbn]
		switch {
		case !ok:
			unknown = append(unknown, isbn)
		case b.Available() <= 0:
			gone = append(gone, isbn)
		}
	}
	if len(unknown) > 0 {
		return ErrInvalidBookID.With(formatList(unknown))
	}
	if len(gone) > 0 {
		return ErrNoCopies.With(formatList(gone))
	}
	for _, isbn := range isbns {
		c.books[isbn].OnLoan++
	}
	return nil
}

// release puts one copy of each isbn back on the shelf.
func (c *Catalog) release(isbns ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, isbn := range isbns {
		if b, ok := c.books[isbn]; ok && b.OnLoan > 0 {
			b.OnLoan--
		}
	}
}

// MaxPurchaseQuantity bounds the copies of each title a single purchase adds.
const MaxPurchaseQuantity = 1000

// AddCopies adds n copies of r, creating the title when it is new.
// It reports whether the title was created.
func (c *Catalog) AddCopies(r BookRecord, n int) (BookRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.books[r.ISBN]; ok {
		b.TotalCopies += n
		return *b, false
	}
	r.TotalCopies = n
	r.OnLoan = 0
	c.put(r)
	return *c.books[r.ISBN], true
}

// RemoveCopies takes n unlent copies away, deleting the title when drop is set.
func (c *Catalog) RemoveCopies(isbn string, n int, drop bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[isbn]
	if !ok {
		return ErrInvalidBookID.With(isbn)
	}
	if b.Available() < n {
		return ErrNoCopies.With(isbn)
	}
	b.TotalCopies -= n
	if drop && b.TotalCopies == 0 {
		delete(c.books, isbn)
		c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == isbn })
	}
	return nil
}

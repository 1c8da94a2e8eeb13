package library

import (
	"fmt"
	"strings"
	"time"
)

// Date and time layouts used on the wire.
const (
	DateLayout = "2006/01/02"
	TimeLayout = "15:04:05"
)

// Role is the permission level of an account.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleStaff   Role = "staff"
)

// ParseRole accepts "visitor", "staff" and the older "employee" spelling.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "visitor":
		return RoleVisitor, true
	case "staff", "employee":
		return RoleStaff, true
	}
	return "", false
}

// BookRecord represents a title and the availability of its copies.
// OnLoan never exceeds TotalCopies.
type BookRecord struct {
	ISBN        string    `json:"isbn"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors"`
	Publisher   string    `json:"publisher"`
	PublishDate time.Time `json:"publish_date"`
	PageCount   int       `json:"page_count"`
	TotalCopies int       `json:"total_copies"`
	OnLoan      int       `json:"on_loan"`
}

// Available is the number of copies that can still be lent.
func (b BookRecord) Available() int { return b.TotalCopies - b.OnLoan }

// fields renders the record the way search responses list it.
func (b BookRecord) fields() []string {
	return []string{
		b.ISBN,
		b.Title,
		formatList(b.Authors),
		b.Publisher,
		formatDate(b.PublishDate),
	}
}

// Visit is one stay in the library. End and Duration are zero while the visit is open.
type Visit struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Open reports whether the visitor is still inside.
func (v Visit) Open() bool { return v.End.IsZero() }

func (v Visit) equal(o Visit) bool {
	return v.Start.Equal(o.Start) && v.End.Equal(o.End) && v.Duration == o.Duration
}

// VisitorRecord is a registered visitor.
type VisitorRecord struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Address      string    `json:"address"`
	Phone        string    `json:"phone"`
	RegisteredAt time.Time `json:"registered_at"`
	Loans        []int64   `json:"loans"`
	Visits       []Visit   `json:"visits"`
}

func (v VisitorRecord) sameIdentity(first, last, address, phone string) bool {
	return v.FirstName == first && v.LastName == last && v.Address == address && v.Phone == phone
}

// openVisit returns the index of the open visit or -1.
func (v VisitorRecord) openVisit() int {
	if n := len(v.Visits); n > 0 && v.Visits[n-1].Open() {
		return n - 1
	}
	return -1
}

func (v VisitorRecord) clone() VisitorRecord {
	v.Loans = append([]int64(nil), v.Loans...)
	v.Visits = append([]Visit(nil), v.Visits...)
	return v
}

// Transaction is a single loan of one ISBN to one visitor.
// Returned is zero while the loan is open. Fine holds the final fine once the
// loan is closed and the last assessed fine while it is open.
type Transaction struct {
	ID         int64     `json:"id"`
	VisitorID  string    `json:"visitor_id"`
	ISBN       string    `json:"isbn"`
	CheckedOut time.Time `json:"checked_out"`
	Due        time.Time `json:"due"`
	Returned   time.Time `json:"returned,omitempty"`
	Fine       int       `json:"fine"`
	FinePaid   int       `json:"fine_paid"`
}

// Open reports whether the book is still out.
func (t Transaction) Open() bool { return t.Returned.IsZero() }

// Account is a login that survives sessions.
type Account struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Role         Role   `json:"role"`
	VisitorID    string `json:"visitor_id,omitempty"`
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func formatTime(t time.Time) string { return t.Format(TimeLayout) }

// formatDuration renders d as HH:MM:SS; hours may exceed 24.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}

func formatList(items []string) string { return "{" + strings.Join(items, ",") + "}" }

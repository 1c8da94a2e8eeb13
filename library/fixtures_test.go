package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	isbnGo     = "9781617291784"
	isbnDune   = "9780441013593"
	isbnSICP   = "9780262510875"
	adminUser  = "admin"
	adminPass  = "secret"
	annAddress = "1 Main St"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func goBook() BookRecord {
	return BookRecord{
		ISBN:        isbnGo,
		Title:       "Go in Action",
		Authors:     []string{"William Kennedy", "Brian Ketelsen"},
		Publisher:   "Manning",
		PublishDate: date(2015, time.November, 1),
		PageCount:   264,
	}
}

func duneBook() BookRecord {
	return BookRecord{
		ISBN:        isbnDune,
		Title:       "Dune",
		Authors:     []string{"Frank Herbert"},
		Publisher:   "Ace",
		PublishDate: date(1965, time.August, 1),
		PageCount:   896,
	}
}

func sicpBook() BookRecord {
	return BookRecord{
		ISBN:        isbnSICP,
		Title:       "Structure and Interpretation of Computer Programs",
		Authors:     []string{"Harold Abelson", "Gerald Jay Sussman"},
		Publisher:   "MIT Press",
		PublishDate: date(1996, time.July, 25),
		PageCount:   657,
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PasswordCost = bcrypt.MinCost
	return opts
}

// newTestLibrary starts at 2024/01/01 08:00 with two copies of Go in Action
// and one of Dune on the shelves and SICP in the store.
func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib := New(testOptions(), []BookRecord{sicpBook()})
	lib.Books().AddCopies(goBook(), 2)
	lib.Books().AddCopies(duneBook(), 1)
	require.NoError(t, lib.EnsureAccount(adminUser, adminPass, RoleStaff, ""))
	return lib
}

// staffClient connects and logs in as the bootstrap staff account.
func staffClient(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	d := NewDispatcher(newTestLibrary(t))
	cid := d.Connect()
	require.Equal(t, cid+",login,success;", d.Execute(cid, "login,"+adminUser+","+adminPass+";"))
	return d, cid
}

// registerAnn registers Ann Lee and returns her visitor ID.
func registerAnn(t *testing.T, d *Dispatcher, cid string) string {
	t.Helper()
	resp := d.Execute(cid, "register,Ann,Lee,"+annAddress+",5551234;")
	require.Equal(t, cid+",register,0000000001,2024/01/01;", resp)
	return "0000000001"
}

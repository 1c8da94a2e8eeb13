package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goLine   = "9781617291784,Go in Action,{William Kennedy,Brian Ketelsen},Manning,2015/11/01"
	duneLine = "9780441013593,Dune,{Frank Herbert},Ace,1965/08/01"
	sicpLine = "9780262510875,Structure and Interpretation of Computer Programs,{Harold Abelson,Gerald Jay Sussman},MIT Press,1996/07/25"
)

// run executes each request in order and checks every reply.
func run(t *testing.T, d *Dispatcher, cid string, steps [][2]string) {
	t.Helper()
	for _, step := range steps {
		assert.Equal(t, step[1], d.Execute(cid, step[0]), step[0])
	}
}

func TestBorrowUntilClosing(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)

	run(t, d, cid, [][2]string{
		{"search,*,*;", "1,search,2\n0," + goLine + ",2\n1," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"borrow," + ann + ",0;", "1,borrow,duplicate,{" + isbnGo + "};"},
		{"advance,0,11;", "1,advance,success,2024/01/01,19:00:00;"},
		{"register,Bob,Ray,2 Side St,5550000;", "1,register,0000000002,2024/01/01;"},
		{"arrive,0000000002;", "1,arrive,closed-library;"},
		{"borrow," + ann + ",1;", "1,borrow,closed-library;"},
	})

	bob, _ := d.Library().Visitors().Get("0000000002")
	assert.Empty(t, bob.Visits)
	goBook, _ := d.Library().Books().Get(isbnGo)
	assert.Equal(t, 1, goBook.OnLoan)
}

func TestProtocolErrors(t *testing.T) {
	d, cid := staffClient(t)
	guest := d.Connect()
	require.Equal(t, "2", guest)

	run(t, d, cid, [][2]string{
		{"search,*,*", "partial-request;"},
		{"fly,away;", "1,illegal-command,fly;"},
		{"register,Ann;", "1,register,missing-parameters,first name,last name,address,phone-number;"},
		{"register,Ann,,1 Main St,555;", "1,register,missing-parameters,first name,last name,address,phone-number;"},
		{"advance,x;", "1,advance,invalid-number-of-days,x;"},
		{"advance,8;", "1,advance,invalid-number-of-days,8;"},
		{"advance,1,y;", "1,advance,invalid-number-of-hours,y;"},
		{"search,*,*,*,*,author;", "1,search,invalid-sort-order,author;"},
		{"DateTime;", "1,datetime,2024/01/01,08:00:00;"},
	})
	run(t, d, guest, [][2]string{
		{"register,Ann,Lee,1 Main St,555;", "2,register,not-authorized;"},
		{"borrow,0;", "2,borrow,not-authorized;"},
		{"create,boss,pw,staff;", "2,create,not-authorized;"},
		{"login,admin,wrong;", "2,login,bad-username-or-password;"},
		{"search,Dune,*;", "2,search,1\n0," + duneLine + ",1;"},
	})

	assert.Equal(t, "99,invalid-client-id;", d.Execute("99", "datetime;"))
	assert.Equal(t, "connect,3;", d.Execute("", "connect;"))
	assert.Equal(t, "2,disconnect;", d.Execute(guest, "disconnect;"))
	assert.Equal(t, "2,invalid-client-id;", d.Execute(guest, "datetime;"))
}

func TestShortIDsComeFromTheLastListing(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)

	run(t, d, cid, [][2]string{
		{"borrow," + ann + ",0;", "1,borrow,invalid-book-id,{0};"},
		{"search,Dune,*;", "1,search,1\n0," + duneLine + ",1;"},
		{"borrow," + ann + ",{0,4};", "1,borrow,invalid-book-id,{4};"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"return," + ann + ",0;", "1,return,invalid-book-id,{0};"},
		{"borrowed," + ann + ";", "1,borrowed,1\n0," + isbnDune + ",Dune,2024/01/01,2024/01/08;"},
		{"return," + ann + ",0;", "1,return,success;"},
		{"borrowed," + ann + ";", "1,borrowed,0;"},
	})
}

func TestOverdueReturnAndFines(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)

	run(t, d, cid, [][2]string{
		{"search,*,*;", "1,search,2\n0," + goLine + ",2\n1," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"advance,7;", "1,advance,success,2024/01/08,08:00:00;"},
		{"advance,2;", "1,advance,success,2024/01/10,08:00:00;"},
		{"fines," + ann + ";", "1,fines," + ann + ",4;"},
		{"borrowed," + ann + ";", "1,borrowed,1\n0," + isbnGo + ",Go in Action,2024/01/01,2024/01/08;"},
		{"return," + ann + ",0;", "1,return,overdue,$4,{0};"},
		{"borrow," + ann + ",1;", "1,borrow,outstanding-fine,4;"},
		{"pay," + ann + ",five;", "1,pay,invalid-amount,five,4;"},
		{"pay," + ann + ",5;", "1,pay,invalid-amount,5,4;"},
		{"pay," + ann + ",3;", "1,pay,success,1;"},
		{"undo;", "1,undo,success;"},
		{"fines," + ann + ";", "1,fines," + ann + ",4;"},
		{"redo;", "1,redo,success;"},
		{"pay," + ann + ",1;", "1,pay,success,0;"},
		{"report;", "1,report,2024/01/10,3,1,00:00:00,0,4,0;"},
	})
}

func TestUndoRedoRoundTrip(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)
	lib := d.Library()

	run(t, d, cid, [][2]string{
		{"arrive," + ann + ";", "1,arrive," + ann + ",2024/01/01,08:00:00;"},
		{"search,Dune,*;", "1,search,1\n0," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"advance,0,2;", "1,advance,success,2024/01/01,10:00:00;"},
		{"depart," + ann + ";", "1,depart," + ann + ",10:00:00,02:00:00;"},
	})

	// Undo everything, newest first.
	for i := 0; i < 4; i++ {
		require.Equal(t, "1,undo,success;", d.Execute(cid, "undo;"), "undo %d", i)
	}
	assert.Equal(t, "1,undo,cannot-undo;", d.Execute(cid, "undo;"))
	assert.False(t, lib.Visitors().Exists(ann))
	dune, _ := lib.Books().Get(isbnDune)
	assert.Equal(t, 0, dune.OnLoan)

	for i := 0; i < 4; i++ {
		require.Equal(t, "1,redo,success;", d.Execute(cid, "redo;"), "redo %d", i)
	}
	assert.Equal(t, "1,redo,cannot-redo;", d.Execute(cid, "redo;"))

	v, ok := lib.Visitors().Get(ann)
	require.True(t, ok)
	require.Len(t, v.Visits, 1)
	assert.Equal(t, "02:00:00", formatDuration(v.Visits[0].Duration))
	dune, _ = lib.Books().Get(isbnDune)
	assert.Equal(t, 1, dune.OnLoan)
	assert.Len(t, v.Loans, 1)
}

func TestUndoFailsWhenStateMovedOn(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)
	other := d.Connect()
	run(t, d, other, [][2]string{{"login,admin,secret;", other + ",login,success;"}})

	run(t, d, cid, [][2]string{
		{"search,Dune,*;", "1,search,1\n0," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
	})
	run(t, d, other, [][2]string{
		{"borrowed," + ann + ";", other + ",borrowed,1\n0," + isbnDune + ",Dune,2024/01/01,2024/01/08;"},
		{"return," + ann + ",0;", other + ",return,success;"},
	})

	assert.Equal(t, "1,undo,cannot-undo;", d.Execute(cid, "undo;"))
	// The failed entry is dropped. The registration is next but Ann has a loan history.
	assert.Equal(t, "1,undo,cannot-undo;", d.Execute(cid, "undo;"))
	assert.True(t, d.Library().Visitors().Exists(ann))
	assert.Equal(t, "1,undo,cannot-undo;", d.Execute(cid, "undo;"))
}

func TestBuyFromStore(t *testing.T) {
	d, cid := staffClient(t)
	lib := d.Library()

	run(t, d, cid, [][2]string{
		{"buy,2,0;", "1,buy,invalid-book-id,{0};"},
		{"store,*,*;", "1,store,1\n0," + sicpLine + ";"},
		{"buy,0,0;", "1,buy,invalid-quantity,0;"},
		{"buy,2,{0,0};", "1,buy,success,1\n" + sicpLine + ",2;"},
		{"report;", "1,report,2024/01/01,5,0,00:00:00,2,0,0;"},
		{"search,Structure,*;", "1,search,1\n0," + sicpLine + ",2;"},
		{"undo;", "1,undo,success;"},
		{"report;", "1,report,2024/01/01,3,0,00:00:00,0,0,0;"},
		{"redo;", "1,redo,success;"},
	})
	sicp, ok := lib.Books().Get(isbnSICP)
	require.True(t, ok)
	assert.Equal(t, 2, sicp.TotalCopies)
	assert.Equal(t, 2, lib.Purchased())
}

func TestVisitorAccountsActOnTheirOwnID(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)
	run(t, d, cid, [][2]string{
		{"register,Bob,Ray,2 Side St,5550000;", "1,register,0000000002,2024/01/01;"},
		{"create,ann,pw,visitor;", "1,create,missing-parameters,username,password,role[,visitor ID];"},
		{"create,ann,pw,pilot," + ann + ";", "1,create,invalid-role,pilot;"},
		{"create,ann,pw,visitor,0000000009;", "1,create,invalid-visitor-id;"},
		{"create,ann,pw,visitor," + ann + ";", "1,create,success;"},
		{"create,ann,pw,visitor,0000000002;", "1,create,duplicate-username;"},
	})

	me := d.Connect()
	run(t, d, me, [][2]string{
		{"login,ann,pw;", me + ",login,success;"},
		{"arrive;", me + ",arrive," + ann + ",2024/01/01,08:00:00;"},
		{"arrive,0000000002;", me + ",arrive,not-authorized;"},
		{"search,*,*;", me + ",search,2\n0," + goLine + ",2\n1," + duneLine + ",1;"},
		{"borrow,0000000002,0;", me + ",borrow,not-authorized;"},
		{"borrow,{0,1};", me + ",borrow,2024/01/08;"},
		{"fines;", me + ",fines," + ann + ",0;"},
		{"register,Cy,Po,3 Low Rd,5559999;", me + ",register,not-authorized;"},
		{"logout;", me + ",logout,success;"},
		{"fines;", me + ",fines,not-authorized;"},
	})

	// A staff account with no visitor needs the ID spelled out.
	assert.Equal(t, "1,fines,missing-parameters,visitor ID;", d.Execute(cid, "fines;"))
}

func TestRedoRespectsClosingTime(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)
	lib := d.Library()

	run(t, d, cid, [][2]string{
		{"arrive," + ann + ";", "1,arrive," + ann + ",2024/01/01,08:00:00;"},
		{"search,Dune,*;", "1,search,1\n0," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"undo;", "1,undo,success;"},
		{"undo;", "1,undo,success;"},
		{"advance,0,11;", "1,advance,success,2024/01/01,19:00:00;"},
		{"arrive," + ann + ";", "1,arrive,closed-library;"},
		{"redo;", "1,redo,cannot-redo;"},
		{"redo;", "1,redo,cannot-redo;"},
		{"redo;", "1,redo,cannot-redo;"},
	})

	assert.False(t, lib.Clock().IsOpen())
	v, _ := lib.Visitors().Get(ann)
	assert.Empty(t, v.Visits)
	dune, _ := lib.Books().Get(isbnDune)
	assert.Equal(t, 0, dune.OnLoan)
	loans, err := lib.Ledger().OpenLoans(ann)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestRedoBorrowChecksFines(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)

	run(t, d, cid, [][2]string{
		{"search,*,*;", "1,search,2\n0," + goLine + ",2\n1," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"borrow," + ann + ",1;", "1,borrow,2024/01/08;"},
		{"undo;", "1,undo,success;"},
		{"advance,7;", "1,advance,success,2024/01/08,08:00:00;"},
		{"advance,2;", "1,advance,success,2024/01/10,08:00:00;"},
		{"redo;", "1,redo,cannot-redo;"},
		{"fines," + ann + ";", "1,fines," + ann + ",4;"},
	})
	dune, _ := d.Library().Books().Get(isbnDune)
	assert.Equal(t, 0, dune.OnLoan)
}

func TestRedoReturnKeepsLaterPayments(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)
	other := d.Connect()
	run(t, d, other, [][2]string{{"login,admin,secret;", other + ",login,success;"}})

	run(t, d, cid, [][2]string{
		{"search,*,*;", "1,search,2\n0," + goLine + ",2\n1," + duneLine + ",1;"},
		{"borrow," + ann + ",0;", "1,borrow,2024/01/08;"},
		{"advance,7;", "1,advance,success,2024/01/08,08:00:00;"},
		{"advance,2;", "1,advance,success,2024/01/10,08:00:00;"},
		{"borrowed," + ann + ";", "1,borrowed,1\n0," + isbnGo + ",Go in Action,2024/01/01,2024/01/08;"},
		{"return," + ann + ",0;", "1,return,overdue,$4,{0};"},
		{"undo;", "1,undo,success;"},
	})
	run(t, d, other, [][2]string{{"pay," + ann + ",4;", other + ",pay,success,0;"}})
	run(t, d, cid, [][2]string{
		{"redo;", "1,redo,cannot-redo;"},
		{"fines," + ann + ";", "1,fines," + ann + ",0;"},
	})

	lib := d.Library()
	assert.Equal(t, 4, lib.Ledger().Collected())
	loans, err := lib.Ledger().OpenLoans(ann)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, 4, loans[0].FinePaid)
}

func TestBuyQuantityIsBounded(t *testing.T) {
	d, cid := staffClient(t)

	run(t, d, cid, [][2]string{
		{"store,*,*;", "1,store,1\n0," + sicpLine + ";"},
		{"buy,9223372036854775807,0;", "1,buy,invalid-quantity,9223372036854775807;"},
		{"buy,1001,0;", "1,buy,invalid-quantity,1001;"},
		{"buy,1000,0;", "1,buy,success,1\n" + sicpLine + ",1000;"},
	})
	sicp, _ := d.Library().Books().Get(isbnSICP)
	assert.Equal(t, MaxPurchaseQuantity, sicp.TotalCopies)
	assert.Equal(t, MaxPurchaseQuantity, d.Library().Purchased())
}

func TestUndoRegisterReusesTheID(t *testing.T) {
	d, cid := staffClient(t)
	registerAnn(t, d, cid)

	run(t, d, cid, [][2]string{
		{"register,Bob,Ray,2 Side St,5550000;", "1,register,0000000002,2024/01/01;"},
		{"undo;", "1,undo,success;"},
		{"register,Cat,Fox,3 Hill Rd,5550001;", "1,register,0000000002,2024/01/01;"},
	})
	assert.False(t, d.Library().Visitors().Exists("0000000003"))
}

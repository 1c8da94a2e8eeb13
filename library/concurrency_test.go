package library

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerParallelCheckoutAndReturn(t *testing.T) {
	f := newLedgerFixture(t, DefaultPolicy)

	var lent, returned atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if _, err := f.ledger.Checkout(day1, f.ann, isbnDune); err == nil {
					lent.Add(1)
				}
				if _, err := f.ledger.Return(day1, f.ann, isbnDune); err == nil {
					returned.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	open, err := f.ledger.OpenLoans(f.ann)
	require.NoError(t, err)
	assert.Equal(t, lent.Load()-returned.Load(), int64(len(open)))
	assert.Equal(t, len(open), f.onLoan(isbnDune))
	assert.LessOrEqual(t, f.onLoan(isbnDune), 1)
	assert.Zero(t, f.ledger.CalculateFine(f.ann))
}

func TestDispatcherParallelClients(t *testing.T) {
	d, cid := staffClient(t)
	ann := registerAnn(t, d, cid)
	require.Equal(t, cid+",register,0000000002,2024/01/01;", d.Execute(cid, "register,Bob,Ray,2 Side St,5550000;"))
	visitors := []string{ann, "0000000002"}

	clients := make([]string, 4)
	for i := range clients {
		c := d.Connect()
		require.Equal(t, c+",login,success;", d.Execute(c, "login,admin,secret;"))
		require.True(t, strings.HasPrefix(d.Execute(c, "search,*,*;"), c+",search,2\n"))
		clients[i] = c
	}

	var wg sync.WaitGroup
	for i, c := range clients {
		v := visitors[i%len(visitors)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 30 {
				for _, cmd := range []string{"borrow," + v + ",1;", "borrowed," + v + ";", "return," + v + ",0;", "fines," + v + ";"} {
					resp := d.Execute(c, cmd)
					assert.True(t, strings.HasPrefix(resp, c+","), resp)
					assert.NotContains(t, resp, ",error;")
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 24 {
			assert.True(t, strings.HasPrefix(d.Execute(cid, "advance,0,1;"), cid+",advance,success,"))
		}
	}()
	wg.Wait()

	lib := d.Library()
	assert.Equal(t, time.Date(2024, time.January, 2, 8, 0, 0, 0, time.UTC), lib.Clock().Now())
	assert.True(t, lib.Clock().IsOpen())

	open, _ := lib.Ledger().Loans()
	perISBN := map[string]int{}
	for _, v := range visitors {
		rec, ok := lib.Visitors().Get(v)
		require.True(t, ok)
		assert.Len(t, rec.Loans, len(open[v]), v)
		for _, tx := range open[v] {
			perISBN[tx.ISBN]++
		}
	}
	for _, b := range lib.Books().Books() {
		assert.GreaterOrEqual(t, b.OnLoan, 0, b.ISBN)
		assert.LessOrEqual(t, b.OnLoan, b.TotalCopies, b.ISBN)
		assert.Equal(t, perISBN[b.ISBN], b.OnLoan, b.ISBN)
	}
}

package library

// entryKind tags what a history entry undoes.
type entryKind int

const (
	entryRegister entryKind = iota + 1
	entryArrive
	entryDepart
	entryBorrow
	entryReturn
	entryPay
	entryBuy
)

// purchase is one title bought from the store.
type purchase struct {
	record   BookRecord
	quantity int
	created  bool
}

// historyEntry carries the values needed to reverse a command and to apply it again.
type historyEntry struct {
	kind      entryKind
	visitorID string

	visitor   VisitorRecord // register
	visit     Visit         // arrive, depart (the visit after the command)
	before    []Transaction // return
	after     []Transaction // borrow, return
	payments  []Payment     // pay
	purchases []purchase    // buy
}

// History is a bounded undo stack with a redo stack.
type History struct {
	limit int
	undo  []historyEntry
	redo  []historyEntry
}

func newHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit}
}

// push records a new command; the oldest entry falls off at the limit and redo is cleared.
func (h *History) push(e historyEntry) {
	h.undo = append(h.undo, e)
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
	h.redo = nil
}

func (h *History) popUndo() (historyEntry, bool) {
	if len(h.undo) == 0 {
		return historyEntry{}, false
	}
	e := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	return e, true
}

func (h *History) popRedo() (historyEntry, bool) {
	if len(h.redo) == 0 {
		return historyEntry{}, false
	}
	e := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	return e, true
}

func (h *History) pushRedo(e historyEntry) {
	h.redo = append(h.redo, e)
	if len(h.redo) > h.limit {
		h.redo = h.redo[len(h.redo)-h.limit:]
	}
}

// pushUndo puts a redone entry back without touching the redo stack.
func (h *History) pushUndo(e historyEntry) {
	h.undo = append(h.undo, e)
	if len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
}

func (h *History) clear() {
	h.undo = nil
	h.redo = nil
}

// Len returns the sizes of the undo and redo stacks.
func (h *History) Len() (undo, redo int) { return len(h.undo), len(h.redo) }

// revert applies the inverse of e.
func (l *Library) revert(e historyEntry) error {
	switch e.kind {
	case entryRegister:
		if l.ledger.hasLoans(e.visitor.ID) {
			return ErrVisitorInUse
		}
		return l.visitors.Unregister(e.visitor.ID)
	case entryArrive:
		return l.visitors.CancelVisit(e.visitorID, e.visit)
	case entryDepart:
		return l.visitors.ReopenVisit(e.visitorID, e.visit)
	case entryBorrow:
		return l.ledger.UndoCheckout(e.visitorID, e.after)
	case entryReturn:
		return l.ledger.UndoReturn(e.visitorID, e.before)
	case entryPay:
		return l.ledger.RestorePayments(e.visitorID, e.payments, -1)
	case entryBuy:
		for i, p := range e.purchases {
			if err := l.books.RemoveCopies(p.record.ISBN, p.quantity, p.created); err != nil {
				for _, done := range e.purchases[:i] {
					l.books.AddCopies(done.record, done.quantity)
				}
				return err
			}
		}
		l.purchased.Add(-int64(purchasedCopies(e.purchases)))
		return nil
	}
	return ErrStaleHistory
}

// reapply performs e again with its recorded values.
func (l *Library) reapply(e historyEntry) error {
	switch e.kind {
	case entryRegister:
		return l.visitors.RestoreVisitor(e.visitor)
	case entryArrive:
		if !l.clock.IsOpen() {
			return ErrClosedLibrary
		}
		return l.visitors.RestoreVisit(e.visitorID, e.visit)
	case entryDepart:
		return l.visitors.CloseVisit(e.visitorID, e.visit)
	case entryBorrow:
		if !l.clock.IsOpen() {
			return ErrClosedLibrary
		}
		return l.ledger.RedoCheckout(e.visitorID, e.after)
	case entryReturn:
		return l.ledger.RedoReturn(e.visitorID, e.before, e.after)
	case entryPay:
		return l.ledger.RestorePayments(e.visitorID, e.payments, 1)
	case entryBuy:
		for _, p := range e.purchases {
			l.books.AddCopies(p.record, p.quantity)
		}
		l.purchased.Add(int64(purchasedCopies(e.purchases)))
		return nil
	}
	return ErrStaleHistory
}

func purchasedCopies(ps []purchase) int {
	n := 0
	for _, p := range ps {
		n += p.quantity
	}
	return n
}

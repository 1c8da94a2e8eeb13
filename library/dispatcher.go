package library

import (
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// Dispatcher turns raw command strings into operations on a Library and
// formats the replies.
type Dispatcher struct {
	lib *Library
	log *slog.Logger
}

// NewDispatcher builds a dispatcher over lib.
func NewDispatcher(lib *Library) *Dispatcher {
	return &Dispatcher{lib: lib, log: lib.log.With("component", "dispatcher")}
}

// Library returns the library commands run against.
func (d *Dispatcher) Library() *Library { return d.lib }

// Connect opens a session and returns its client ID.
func (d *Dispatcher) Connect() string {
	d.lib.gate.RLock()
	defer d.lib.gate.RUnlock()
	s := d.lib.accounts.Connect()
	d.log.Debug("client connected", "client", s.ID)
	return s.ID
}

// Execute runs one command for clientID and returns the wire response.
func (d *Dispatcher) Execute(clientID, raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, Terminator) {
		return PartialRequest + Terminator
	}
	fields := splitFields(strings.TrimSpace(strings.TrimSuffix(raw, Terminator)))
	keyword, args := strings.ToLower(fields[0]), fields[1:]
	if len(args) == 1 && args[0] == "" {
		args = nil
	}

	if keyword == "connect" {
		return render("", keyword, []string{d.Connect()}, nil)
	}

	s, ok := d.lib.accounts.Session(clientID)
	if !ok {
		return render(clientID, ErrInvalidClientID.Code, nil, nil)
	}
	cmd, ok := commands[keyword]
	if !ok {
		return render(clientID, ErrIllegalCommand.Code, []string{keyword}, nil)
	}
	if !cmd.accepts(len(args)) {
		return d.fail(clientID, keyword, ErrMissingParameters.With(cmd.usage))
	}

	if cmd.exclusive {
		d.lib.gate.Lock()
		defer d.lib.gate.Unlock()
	} else {
		d.lib.gate.RLock()
		defer d.lib.gate.RUnlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := authorize(s, cmd.auth); err != nil {
		return d.fail(clientID, keyword, err)
	}
	resp, entry, err := cmd.run(d, s, args)
	if errors.Is(err, ErrMissingParameters) && len(asError(err).Details) == 0 {
		err = ErrMissingParameters.With(cmd.usage)
	}
	if err != nil {
		return d.fail(clientID, keyword, err)
	}
	switch {
	case entry == nil:
	case cmd.records(resp):
		s.history.push(*entry)
	default:
		d.log.Warn("reply not recorded", "client", clientID, "keyword", keyword, "fields", len(resp.fields))
	}
	d.log.Debug("command executed", "client", clientID, "keyword", keyword)
	return render(clientID, keyword, resp.fields, resp.lines)
}

func (d *Dispatcher) fail(clientID, keyword string, err error) string {
	var e *Error
	if !errors.As(err, &e) {
		d.log.Error("command failed", "client", clientID, "keyword", keyword, "err", err)
		return render(clientID, keyword, []string{"error"}, nil)
	}
	d.log.Debug("command rejected", "client", clientID, "keyword", keyword, "code", e.Code, "kind", e.Kind.String())
	return render(clientID, keyword, e.wireFields(), nil)
}

func asError(err error) *Error {
	var e *Error
	errors.As(err, &e)
	return e
}

func authorize(s *Session, level authLevel) error {
	if level == authNone {
		return nil
	}
	if s.account == nil {
		return ErrNotAuthorized
	}
	if level == authStaff && s.account.Role != RoleStaff {
		return ErrNotAuthorized
	}
	return nil
}

// visitorFor resolves the optional leading visitor ID of args. A visitor
// account may only act on its own ID.
func visitorFor(s *Session, args []string) (string, []string, error) {
	acc := s.account
	if len(args) > 0 && IsVisitorID(args[0]) {
		if acc.Role != RoleStaff && args[0] != acc.VisitorID {
			return "", nil, ErrNotAuthorized
		}
		return args[0], args[1:], nil
	}
	if acc.VisitorID == "" {
		return "", nil, ErrMissingParameters
	}
	return acc.VisitorID, args, nil
}

// visitorOnly is visitorFor for commands that take nothing but the visitor ID.
func visitorOnly(s *Session, args []string) (string, error) {
	id, rest, err := visitorFor(s, args)
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		return "", ErrInvalidVisitorID
	}
	return id, nil
}

func (d *Dispatcher) disconnect(s *Session, _ []string) (response, *historyEntry, error) {
	s.reset()
	if err := d.lib.accounts.Disconnect(s.ID); err != nil {
		return response{}, nil, err
	}
	return reply(), nil, nil
}

func (d *Dispatcher) create(s *Session, args []string) (response, *historyEntry, error) {
	username, password := args[0], args[1]
	role, ok := ParseRole(args[2])
	if !ok {
		return response{}, nil, ErrInvalidRole.With(args[2])
	}
	if role == RoleStaff && (s.account == nil || s.account.Role != RoleStaff) {
		return response{}, nil, ErrNotAuthorized
	}
	var visitorID string
	if len(args) == 4 {
		visitorID = args[3]
	}
	if role == RoleVisitor && visitorID == "" {
		return response{}, nil, ErrMissingParameters
	}
	if visitorID != "" && !d.lib.visitors.Exists(visitorID) {
		return response{}, nil, ErrInvalidVisitorID
	}
	if _, err := d.lib.accounts.Create(username, password, role, visitorID); err != nil {
		return response{}, nil, err
	}
	return reply("success"), nil, nil
}

func (d *Dispatcher) login(s *Session, args []string) (response, *historyEntry, error) {
	acc, err := d.lib.accounts.Authenticate(args[0], args[1])
	if err != nil {
		return response{}, nil, err
	}
	s.reset()
	s.account = acc
	return reply("success"), nil, nil
}

func (d *Dispatcher) logout(s *Session, _ []string) (response, *historyEntry, error) {
	s.reset()
	return reply("success"), nil, nil
}

func (d *Dispatcher) register(_ *Session, args []string) (response, *historyEntry, error) {
	for _, a := range args {
		if a == "" {
			return response{}, nil, ErrMissingParameters
		}
	}
	now := d.lib.clock.Now()
	v, err := d.lib.visitors.Register(args[0], args[1], args[2], args[3], now)
	if err != nil {
		return response{}, nil, err
	}
	return reply(v.ID, formatDate(now)), &historyEntry{kind: entryRegister, visitorID: v.ID, visitor: v}, nil
}

func (d *Dispatcher) arrive(s *Session, args []string) (response, *historyEntry, error) {
	id, err := visitorOnly(s, args)
	if err != nil {
		return response{}, nil, err
	}
	if !d.lib.clock.IsOpen() {
		return response{}, nil, ErrClosedLibrary
	}
	visit, err := d.lib.visitors.BeginVisit(id, d.lib.clock.Now())
	if err != nil {
		return response{}, nil, err
	}
	return reply(id, formatDate(visit.Start), formatTime(visit.Start)), &historyEntry{kind: entryArrive, visitorID: id, visit: visit}, nil
}

func (d *Dispatcher) depart(s *Session, args []string) (response, *historyEntry, error) {
	id, err := visitorOnly(s, args)
	if err != nil {
		return response{}, nil, err
	}
	visit, err := d.lib.visitors.EndVisit(id, d.lib.clock.Now())
	if err != nil {
		return response{}, nil, err
	}
	return reply(id, formatTime(visit.End), formatDuration(visit.Duration)), &historyEntry{kind: entryDepart, visitorID: id, visit: visit}, nil
}

func parseQuery(args []string) (Query, error) {
	q := Query{Title: args[0], Authors: parseList(args[1])}
	if len(args) > 2 {
		q.ISBN = args[2]
	}
	if len(args) > 3 {
		q.Publisher = args[3]
	}
	if len(args) > 4 {
		key, err := ParseSortKey(args[4])
		if err != nil {
			return Query{}, err
		}
		q.Sort = key
	}
	return q, nil
}

func (d *Dispatcher) search(s *Session, args []string) (response, *historyEntry, error) {
	q, err := parseQuery(args)
	if err != nil {
		return response{}, nil, err
	}
	s.search = d.lib.books.Search(q)
	resp := reply(strconv.Itoa(len(s.search)))
	for i, b := range s.search {
		line := append([]string{strconv.Itoa(i)}, b.fields()...)
		line = append(line, strconv.Itoa(b.Available()))
		resp.lines = append(resp.lines, strings.Join(line, Delimiter))
	}
	return resp, nil, nil
}

func (d *Dispatcher) storeSearch(s *Session, args []string) (response, *historyEntry, error) {
	q, err := parseQuery(args)
	if err != nil {
		return response{}, nil, err
	}
	s.store = d.lib.store.Search(q)
	resp := reply(strconv.Itoa(len(s.store)))
	for i, b := range s.store {
		resp.lines = append(resp.lines, strings.Join(append([]string{strconv.Itoa(i)}, b.fields()...), Delimiter))
	}
	return resp, nil, nil
}

// resolve maps short IDs onto the cached records, reporting every unknown ID.
func resolve[T any](cache []T, ids []int) ([]T, error) {
	var bad []string
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if id >= len(cache) {
			bad = append(bad, strconv.Itoa(id))
			continue
		}
		out = append(out, cache[id])
	}
	if len(bad) > 0 {
		return nil, ErrInvalidBookID.With(formatList(bad))
	}
	return out, nil
}

func (d *Dispatcher) borrow(s *Session, args []string) (response, *historyEntry, error) {
	id, rest, err := visitorFor(s, args)
	if err != nil {
		return response{}, nil, err
	}
	if !d.lib.clock.IsOpen() {
		return response{}, nil, ErrClosedLibrary
	}
	ids, err := parseIDs(rest)
	if err != nil {
		return response{}, nil, err
	}
	books, err := resolve(s.search, ids)
	if err != nil {
		return response{}, nil, err
	}
	isbns := make([]string, len(books))
	for i, b := range books {
		isbns[i] = b.ISBN
	}
	txs, err := d.lib.ledger.Checkout(d.lib.clock.Now(), id, isbns...)
	if err != nil {
		return response{}, nil, err
	}
	return reply(formatDate(txs[0].Due)), &historyEntry{kind: entryBorrow, visitorID: id, after: txs}, nil
}

func (d *Dispatcher) borrowed(s *Session, args []string) (response, *historyEntry, error) {
	id, err := visitorOnly(s, args)
	if err != nil {
		return response{}, nil, err
	}
	loans, err := d.lib.ledger.OpenLoans(id)
	if err != nil {
		return response{}, nil, err
	}
	s.borrowed, s.borrowedFor = loans, id
	resp := reply(strconv.Itoa(len(loans)))
	for i, t := range loans {
		b, _ := d.lib.books.Get(t.ISBN)
		resp.lines = append(resp.lines, strings.Join([]string{
			strconv.Itoa(i), t.ISBN, b.Title, formatDate(t.CheckedOut), formatDate(t.Due),
		}, Delimiter))
	}
	return resp, nil, nil
}

func (d *Dispatcher) returnBooks(s *Session, args []string) (response, *historyEntry, error) {
	id, rest, err := visitorFor(s, args)
	if err != nil {
		return response{}, nil, err
	}
	if !d.lib.visitors.Exists(id) {
		return response{}, nil, ErrInvalidVisitorID
	}
	ids, err := parseIDs(rest)
	if err != nil {
		return response{}, nil, err
	}
	var cache []Transaction
	if s.borrowedFor == id {
		cache = s.borrowed
	}
	loans, err := resolve(cache, ids)
	if err != nil {
		return response{}, nil, err
	}
	isbns := make([]string, len(loans))
	for i, t := range loans {
		isbns[i] = t.ISBN
	}
	before, after, err := d.lib.ledger.returnLoans(d.lib.clock.Now(), id, isbns...)
	if err != nil {
		return response{}, nil, err
	}
	entry := &historyEntry{kind: entryReturn, visitorID: id, before: before, after: after}

	var overdue []string
	fine := 0
	for i, t := range after {
		if owed := t.Fine - t.FinePaid; owed > 0 {
			fine += owed
			overdue = append(overdue, strconv.Itoa(ids[i]))
		}
	}
	if fine > 0 {
		return reply("overdue", "$"+strconv.Itoa(fine), formatList(overdue)), entry, nil
	}
	return reply("success"), entry, nil
}

func (d *Dispatcher) pay(s *Session, args []string) (response, *historyEntry, error) {
	id, rest, err := visitorFor(s, args)
	if err != nil {
		return response{}, nil, err
	}
	if len(rest) != 1 {
		return response{}, nil, ErrMissingParameters
	}
	amount, convErr := strconv.Atoi(rest[0])
	if convErr != nil {
		if !d.lib.visitors.Exists(id) {
			return response{}, nil, ErrInvalidVisitorID
		}
		return response{}, nil, ErrInvalidAmount.With(rest[0], strconv.Itoa(d.lib.ledger.CalculateFine(id)))
	}
	split, balance, err := d.lib.ledger.Pay(id, amount)
	if err != nil {
		return response{}, nil, err
	}
	return reply("success", strconv.Itoa(balance)), &historyEntry{kind: entryPay, visitorID: id, payments: split}, nil
}

func (d *Dispatcher) fines(s *Session, args []string) (response, *historyEntry, error) {
	id, err := visitorOnly(s, args)
	if err != nil {
		return response{}, nil, err
	}
	if !d.lib.visitors.Exists(id) {
		return response{}, nil, ErrInvalidVisitorID
	}
	return reply(id, strconv.Itoa(d.lib.ledger.CalculateFine(id))), nil, nil
}

func (d *Dispatcher) buy(s *Session, args []string) (response, *historyEntry, error) {
	quantity, err := strconv.Atoi(args[0])
	if err != nil || quantity <= 0 || quantity > MaxPurchaseQuantity {
		return response{}, nil, ErrInvalidQuantity.With(args[0])
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		return response{}, nil, err
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	books, err := resolve(s.store, ids)
	if err != nil {
		return response{}, nil, err
	}

	entry := &historyEntry{kind: entryBuy}
	resp := reply("success", strconv.Itoa(len(books)))
	for _, b := range books {
		_, created := d.lib.books.AddCopies(b, quantity)
		entry.purchases = append(entry.purchases, purchase{record: b, quantity: quantity, created: created})
		line := append(b.fields(), strconv.Itoa(quantity))
		resp.lines = append(resp.lines, strings.Join(line, Delimiter))
	}
	d.lib.purchased.Add(int64(purchasedCopies(entry.purchases)))
	return resp, entry, nil
}

func (d *Dispatcher) datetime(_ *Session, _ []string) (response, *historyEntry, error) {
	now := d.lib.clock.Now()
	return reply(formatDate(now), formatTime(now)), nil, nil
}

func (d *Dispatcher) advance(_ *Session, args []string) (response, *historyEntry, error) {
	days, err := strconv.Atoi(args[0])
	if err != nil {
		return response{}, nil, ErrInvalidDays.With(args[0])
	}
	hours := 0
	if len(args) == 2 {
		if hours, err = strconv.Atoi(args[1]); err != nil {
			return response{}, nil, ErrInvalidHours.With(args[1])
		}
	}
	now, err := d.lib.clock.Advance(days, hours)
	if err != nil {
		return response{}, nil, err
	}
	return reply("success", formatDate(now), formatTime(now)), nil, nil
}

func (d *Dispatcher) report(_ *Session, _ []string) (response, *historyEntry, error) {
	return reply(
		formatDate(d.lib.clock.Now()),
		strconv.Itoa(d.lib.books.TotalCopies()),
		strconv.Itoa(d.lib.visitors.Len()),
		formatDuration(d.lib.visitors.AverageVisit()),
		strconv.Itoa(d.lib.Purchased()),
		strconv.Itoa(d.lib.ledger.Collected()),
		strconv.Itoa(d.lib.ledger.CalculateTotalFines()),
	), nil, nil
}

func (d *Dispatcher) undo(s *Session, _ []string) (response, *historyEntry, error) {
	e, ok := s.history.popUndo()
	if !ok {
		return response{}, nil, ErrCannotUndo
	}
	if err := d.lib.revert(e); err != nil {
		d.log.Debug("undo no longer applies", "client", s.ID, "err", err)
		return response{}, nil, ErrCannotUndo
	}
	s.history.pushRedo(e)
	return reply("success"), nil, nil
}

func (d *Dispatcher) redo(s *Session, _ []string) (response, *historyEntry, error) {
	e, ok := s.history.popRedo()
	if !ok {
		return response{}, nil, ErrCannotRedo
	}
	if err := d.lib.reapply(e); err != nil {
		d.log.Debug("redo no longer applies", "client", s.ID, "err", err)
		return response{}, nil, ErrCannotRedo
	}
	s.history.pushUndo(e)
	return reply("success"), nil, nil
}

package library

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Session binds a connected client to the account it logged in with.
// Its fields are guarded by mu, which the dispatcher holds for a whole command.
type Session struct {
	mu sync.Mutex

	ID      string
	account *Account

	search      []BookRecord
	store       []BookRecord
	borrowed    []Transaction
	borrowedFor string

	history *History
}

// Account returns the logged in account, if any.
func (s *Session) Account() (Account, bool) {
	if s.account == nil {
		return Account{}, false
	}
	return *s.account, true
}

func (s *Session) reset() {
	s.account = nil
	s.search = nil
	s.store = nil
	s.borrowed = nil
	s.borrowedFor = ""
	s.history.clear()
}

// SessionRecord is the persisted form of a session.
type SessionRecord struct {
	ClientID string `json:"client_id"`
	Username string `json:"username,omitempty"`
}

// AccountDB holds accounts and the sessions of connected clients.
type AccountDB struct {
	mu           sync.RWMutex
	accounts     map[string]*Account
	sessions     map[string]*Session
	lastClient   int64
	historyLimit int
	cost         int
}

// NewAccountDB builds the account store. cost is the bcrypt cost for new passwords.
func NewAccountDB(historyLimit, cost int, accounts ...Account) *AccountDB {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	a := &AccountDB{
		accounts:     make(map[string]*Account, len(accounts)),
		sessions:     make(map[string]*Session),
		historyLimit: historyLimit,
		cost:         cost,
	}
	for _, acc := range accounts {
		acc := acc
		a.accounts[acc.Username] = &acc
	}
	return a
}

// Connect opens a session for a new client and returns its ID.
func (a *AccountDB) Connect() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastClient++
	s := &Session{ID: strconv.FormatInt(a.lastClient, 10), history: newHistory(a.historyLimit)}
	a.sessions[s.ID] = s
	return s
}

// Disconnect forgets a session.
func (a *AccountDB) Disconnect(clientID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[clientID]; !ok {
		return ErrInvalidClientID
	}
	delete(a.sessions, clientID)
	return nil
}

// Session looks up a connected client.
func (a *AccountDB) Session(clientID string) (*Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[clientID]
	return s, ok
}

// Create adds an account. Usernames are unique and a visitor has at most one account.
func (a *AccountDB) Create(username, password string, role Role, visitorID string) (Account, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Account{}, ErrMissingParameters
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return Account{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.accounts[username]; ok {
		return Account{}, ErrDuplicateUsername
	}
	if visitorID != "" {
		for _, acc := range a.accounts {
			if acc.VisitorID == visitorID {
				return Account{}, ErrDuplicateAccount
			}
		}
	}
	acc := &Account{Username: username, PasswordHash: string(hash), Role: role, VisitorID: visitorID}
	a.accounts[username] = acc
	return *acc, nil
}

// Authenticate checks a username and password.
func (a *AccountDB) Authenticate(username, password string) (*Account, error) {
	a.mu.RLock()
	acc, ok := a.accounts[username]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return acc, nil
}

// Accounts lists every account ordered by username.
func (a *AccountDB) Accounts() []Account {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Account, 0, len(a.accounts))
	for _, acc := range a.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Sessions lists connected clients. Callers must keep commands out while reading.
func (a *AccountDB) Sessions() []SessionRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]SessionRecord, 0, len(a.sessions))
	for _, s := range a.sessions {
		r := SessionRecord{ClientID: s.ID}
		if s.account != nil {
			r.Username = s.account.Username
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return lessClientID(out[i].ClientID, out[j].ClientID) })
	return out
}

// restoreSessions recreates sessions from a snapshot. Unknown usernames leave the session logged out.
func (a *AccountDB) restoreSessions(records []SessionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range records {
		s := &Session{ID: r.ClientID, history: newHistory(a.historyLimit)}
		if acc, ok := a.accounts[r.Username]; ok {
			s.account = acc
		}
		a.sessions[s.ID] = s
		if n, err := strconv.ParseInt(r.ClientID, 10, 64); err == nil && n > a.lastClient {
			a.lastClient = n
		}
	}
}

func lessClientID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

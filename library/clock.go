package library

import (
	"strconv"
	"sync"
	"time"
)

// Limits on a single clock advance.
const (
	MaxAdvanceDays  = 7
	MaxAdvanceHours = 23
)

// LibraryState is whether new visits and checkouts are accepted.
type LibraryState int

const (
	Open LibraryState = iota
	Closed
)

func (s LibraryState) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// TransitionHook is told about every change of state and the instant it happened.
type TransitionHook func(state LibraryState, at time.Time)

type transition struct {
	state LibraryState
	at    time.Time
}

// TimeKeeper owns the simulated clock and the open/closed state derived from it.
// The state only changes when Advance crosses the opening or closing hour.
type TimeKeeper struct {
	mu        sync.RWMutex
	now       time.Time
	openHour  int
	closeHour int
	state     LibraryState
	hooks     []TransitionHook
}

// NewTimeKeeper starts the clock at start. The initial state follows the
// opening hours, so a start inside them begins Open.
func NewTimeKeeper(start time.Time, openHour, closeHour int) *TimeKeeper {
	tk := &TimeKeeper{now: start, openHour: openHour, closeHour: closeHour}
	tk.state = tk.stateAt(start)
	return tk
}

// OnTransition registers a hook run after each open/closed change.
func (tk *TimeKeeper) OnTransition(h TransitionHook) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.hooks = append(tk.hooks, h)
}

// Now reads the simulated clock.
func (tk *TimeKeeper) Now() time.Time {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.now
}

// State returns the current library state.
func (tk *TimeKeeper) State() LibraryState {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.state
}

// IsOpen reports whether new visits and checkouts are allowed.
func (tk *TimeKeeper) IsOpen() bool { return tk.State() == Open }

// Advance moves the clock forward by days and hours, running hooks for every
// boundary crossed on the way.
func (tk *TimeKeeper) Advance(days, hours int) (time.Time, error) {
	if days < 0 || days > MaxAdvanceDays {
		return time.Time{}, ErrInvalidDays.With(strconv.Itoa(days))
	}
	if hours < 0 || hours > MaxAdvanceHours {
		return time.Time{}, ErrInvalidHours.With(strconv.Itoa(hours))
	}

	tk.mu.Lock()
	target := tk.now.Add(time.Duration(days)*24*time.Hour + time.Duration(hours)*time.Hour)
	var crossed []transition
	for b := tk.nextBoundary(tk.now); !b.After(target); b = tk.nextBoundary(b) {
		if s := tk.stateAt(b); s != tk.state {
			tk.state = s
			crossed = append(crossed, transition{state: s, at: b})
		}
	}
	tk.now = target
	hooks := append([]TransitionHook(nil), tk.hooks...)
	tk.mu.Unlock()

	for _, c := range crossed {
		for _, h := range hooks {
			h(c.state, c.at)
		}
	}
	return target, nil
}

func (tk *TimeKeeper) stateAt(t time.Time) LibraryState {
	if h := t.Hour(); h >= tk.openHour && h < tk.closeHour {
		return Open
	}
	return Closed
}

// nextBoundary is the first opening or closing instant strictly after t.
func (tk *TimeKeeper) nextBoundary(t time.Time) time.Time {
	y, m, d := t.Date()
	for day := 0; day < 2; day++ {
		for _, h := range []int{tk.openHour, tk.closeHour} {
			b := time.Date(y, m, d+day, h, 0, 0, 0, t.Location())
			if b.After(t) {
				return b
			}
		}
	}
	return time.Date(y, m, d+2, tk.openHour, 0, 0, 0, t.Location())
}

// Package session owns the rotating set of authenticated upstream sessions:
// loading credential records, tracking per-endpoint-class rate-limit windows,
// and selecting a usable session for each outbound request.
package session

import "time"

// Class is a category of upstream calls sharing one rate-limit bucket.
type Class string

const (
	ClassTweetDetail Class = "tweet_detail"
	ClassUserTweets  Class = "user_tweets"
	ClassUserLookup  Class = "user_lookup"
)

// Status is a session's health state.
type Status int

const (
	StatusActive Status = iota
	StatusRateLimited
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRateLimited:
		return "rate_limited"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// RateWindow tracks the remaining quota and reset time for one endpoint class.
type RateWindow struct {
	Reset     time.Time
	Remaining int
}

// Session is one scraped set of upstream credentials. The credential fields
// are immutable after construction; all mutable state is owned by the Pool
// and only touched under its lock.
type Session struct {
	ID        string
	Username  string
	AuthToken string
	CSRFToken string

	lastUsed time.Time
	windows  map[Class]RateWindow
	status   Status
}

func newSession(r Record) *Session {
	return &Session{
		ID:        r.ID,
		Username:  r.Username,
		AuthToken: r.AuthToken,
		CSRFToken: r.CT0,
		windows:   make(map[Class]RateWindow),
	}
}

// Status returns the session's current health state.
func (s *Session) Status() Status { return s.status }

// Remaining reports the known remaining quota for class at time now.
// It returns -1 when the quota is unknown: either no response has been seen
// for this class yet, or the stored window has already reset.
func (s *Session) Remaining(class Class, now time.Time) int {
	w, ok := s.windows[class]
	if !ok || !now.Before(w.Reset) {
		return -1
	}
	return w.Remaining
}

// ResetAt returns the stored reset time for class, or the zero time when no
// window has been recorded.
func (s *Session) ResetAt(class Class) time.Time {
	return s.windows[class].Reset
}

// updateWindow applies upstream-reported rate-limit metadata. A reset time
// earlier than the stored one is stale and ignored, so window reset times
// move monotonically forward per (session, class).
func (s *Session) updateWindow(class Class, remaining int, reset time.Time) {
	w, ok := s.windows[class]
	if ok && reset.Before(w.Reset) {
		return
	}
	s.windows[class] = RateWindow{Remaining: remaining, Reset: reset}
}

// decrementWindow is the optimistic fallback when a response carried no
// rate-limit metadata: count one call against the window and leave the
// reset time unchanged.
func (s *Session) decrementWindow(class Class) {
	w, ok := s.windows[class]
	if !ok {
		return
	}
	if w.Remaining > 0 {
		w.Remaining--
	}
	s.windows[class] = w
}

// exhaustWindow records an upstream 429 that carried no metadata. The
// remaining count drops to zero; if no reset is known one full window length
// from now is assumed, never a time in the past.
func (s *Session) exhaustWindow(class Class, now time.Time) {
	w, ok := s.windows[class]
	if !ok || !now.Before(w.Reset) {
		w = RateWindow{Reset: now.Add(windowLength)}
	}
	w.Remaining = 0
	s.windows[class] = w
}

// windowLength is the upstream's standard rate-limit window.
const windowLength = 15 * time.Minute

// usable reports whether the session can serve a request for class right now.
// Invalid sessions never qualify; otherwise a session qualifies unless its
// current window for class is exhausted.
func (s *Session) usable(class Class, now time.Time) bool {
	if s.status == StatusInvalid {
		return false
	}
	return s.Remaining(class, now) != 0
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"birdgate/metrics"
	"birdgate/pkg/model"
)

// Outcome classifies how a request that used a session ended, so the pool
// can react before the next Acquire.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeAuthFailed
)

// RateMeta carries the rate-limit metadata extracted from one upstream
// response. A nil *RateMeta means the response carried no such headers.
type RateMeta struct {
	Reset     time.Time
	Remaining int
}

const defaultWaitCeiling = 16 * time.Second

// Pool selects a usable session for each outbound request and tracks session
// health. All session mutation happens under the pool lock.
type Pool struct {
	logger      *slog.Logger
	store       *Store
	now         func() time.Time
	seen        map[string]bool
	sessions    []*Session
	waitCeiling time.Duration
	mu          sync.Mutex
}

// NewPool creates a pool backed by the given record store. waitCeiling bounds
// how long Acquire may wait for a session to regain quota; zero selects the
// default.
func NewPool(store *Store, waitCeiling time.Duration, logger *slog.Logger) *Pool {
	if waitCeiling <= 0 {
		waitCeiling = defaultWaitCeiling
	}
	return &Pool{
		logger:      logger,
		store:       store,
		now:         time.Now,
		seen:        make(map[string]bool),
		waitCeiling: waitCeiling,
	}
}

// Load ingests all records from the store. Safe to call repeatedly: records
// with previously-unseen ids become new sessions, existing sessions keep
// their state. The pool never creates sessions itself; it only consumes what
// the external login tool appended.
func (p *Pool) Load(ctx context.Context) (int, error) {
	recs, err := p.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load session records: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, r := range recs {
		if p.seen[r.ID] {
			continue
		}
		p.seen[r.ID] = true
		p.sessions = append(p.sessions, newSession(r))
		added++
	}
	p.updateGauges()
	if added > 0 {
		p.logger.Info("Sessions ingested", "added", added, "total", len(p.sessions))
	}
	return added, nil
}

// ReloadEvery re-ingests the record source on a timer until ctx is done, so
// sessions minted by the login tool become usable without a restart. A zero
// or negative interval disables reloading.
func (p *Pool) ReloadEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Load(ctx); err != nil {
				p.logger.Warn("Session reload failed", "error", err)
			}
		}
	}
}

// Acquire returns a session able to serve a request for class. Among usable
// sessions it picks the one whose quota window resets soonest, breaking ties
// toward the least recently chosen to spread load. When every session is out
// of quota it waits, bounded by the pool's wait ceiling, for the soonest
// reset; it returns model.ErrNoSession when no session can help in time.
func (p *Pool) Acquire(ctx context.Context, class Class) (*Session, error) {
	start := p.now()
	deadline := start.Add(p.waitCeiling)

	for {
		p.mu.Lock()
		s := p.pick(class)
		if s != nil {
			s.lastUsed = p.now()
			if s.status == StatusRateLimited {
				s.status = StatusActive
			}
			p.updateGauges()
			p.mu.Unlock()
			metrics.AcquireWait.Observe(p.now().Sub(start).Seconds())
			return s, nil
		}
		next, ok := p.soonestReset(class)
		p.mu.Unlock()

		if !ok {
			metrics.AcquireFailures.Inc()
			return nil, model.ErrNoSession
		}

		now := p.now()
		wait := next.Sub(now)
		if wait < time.Second {
			wait = time.Second
		}
		if now.Add(wait).After(deadline) {
			metrics.AcquireFailures.Inc()
			return nil, fmt.Errorf("next quota reset in %s exceeds wait ceiling: %w",
				wait.Round(time.Second), model.ErrNoSession)
		}

		p.logger.Debug("All sessions exhausted, waiting for quota reset", "class", class, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// pick returns the best usable session for class, or nil. Caller holds p.mu.
func (p *Pool) pick(class Class) *Session {
	now := p.now()
	var best *Session
	for _, s := range p.sessions {
		if !s.usable(class, now) {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		br, sr := best.ResetAt(class), s.ResetAt(class)
		switch {
		case sr.Before(br):
			best = s
		case sr.Equal(br) && s.lastUsed.Before(best.lastUsed):
			best = s
		}
	}
	return best
}

// soonestReset returns the earliest future reset among non-Invalid sessions.
// Caller holds p.mu.
func (p *Pool) soonestReset(class Class) (time.Time, bool) {
	var soonest time.Time
	for _, s := range p.sessions {
		if s.status == StatusInvalid {
			continue
		}
		r := s.ResetAt(class)
		if r.IsZero() {
			continue
		}
		if soonest.IsZero() || r.Before(soonest) {
			soonest = r
		}
	}
	return soonest, !soonest.IsZero()
}

// Release reports the outcome of a request made with s. AuthFailed is
// terminal: the session becomes Invalid, is excluded from all future
// selection, and an audit entry is appended to the record source.
func (p *Pool) Release(s *Session, class Class, outcome Outcome, meta *RateMeta) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch outcome {
	case OutcomeAuthFailed:
		if s.status != StatusInvalid {
			s.status = StatusInvalid
			p.logger.Warn("Session permanently invalidated", "username", s.Username, "id", s.ID)
			go p.appendAudit(s)
		}
	case OutcomeRateLimited:
		s.status = StatusRateLimited
		if meta != nil {
			s.updateWindow(class, meta.Remaining, meta.Reset)
		} else {
			s.exhaustWindow(class, p.now())
		}
		p.logger.Info("Session rate limited", "username", s.Username, "class", class, "reset", s.ResetAt(class))
	case OutcomeSuccess:
		if s.status == StatusRateLimited {
			s.status = StatusActive
		}
		if meta != nil {
			s.updateWindow(class, meta.Remaining, meta.Reset)
		} else {
			s.decrementWindow(class)
		}
	}
	p.updateGauges()
}

func (p *Pool) appendAudit(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rec := AuditRecord{
		ID:            s.ID,
		Username:      s.Username,
		Reason:        "auth_failed",
		InvalidatedAt: time.Now().UTC(),
	}
	if err := p.store.AppendAudit(ctx, rec); err != nil {
		p.logger.Warn("Failed to append session audit record", "username", s.Username, "error", err)
	}
}

// Counts returns the number of sessions per status, for health reporting.
func (p *Pool) Counts() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[string]int, 3)
	for _, s := range p.sessions {
		counts[s.status.String()]++
	}
	return counts
}

// updateGauges refreshes the per-status session gauges. Caller holds p.mu.
func (p *Pool) updateGauges() {
	counts := map[Status]int{}
	for _, s := range p.sessions {
		counts[s.status]++
	}
	for _, st := range []Status{StatusActive, StatusRateLimited, StatusInvalid} {
		metrics.SessionsByStatus.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

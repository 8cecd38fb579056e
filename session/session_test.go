package session

import (
	"testing"
	"time"
)

// TestUpdateWindowMonotonic verifies reset times only move forward per
// session and class.
func TestUpdateWindowMonotonic(t *testing.T) {
	now := time.Now()
	s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})

	s.updateWindow(ClassTweetDetail, 50, now.Add(10*time.Minute))
	if got := s.ResetAt(ClassTweetDetail); !got.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("ResetAt = %v, want %v", got, now.Add(10*time.Minute))
	}

	// A stale response reporting an earlier reset must not rewind the window.
	s.updateWindow(ClassTweetDetail, 80, now.Add(5*time.Minute))
	if got := s.ResetAt(ClassTweetDetail); !got.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("stale update rewound reset to %v", got)
	}
	if got := s.Remaining(ClassTweetDetail, now); got != 50 {
		t.Errorf("stale update changed remaining to %d, want 50", got)
	}

	// A later reset replaces the window.
	s.updateWindow(ClassTweetDetail, 100, now.Add(20*time.Minute))
	if got := s.Remaining(ClassTweetDetail, now); got != 100 {
		t.Errorf("Remaining after newer update = %d, want 100", got)
	}
}

// TestWindowsIndependentPerClass verifies one class's exhaustion never bleeds
// into another.
func TestWindowsIndependentPerClass(t *testing.T) {
	now := time.Now()
	s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})

	s.updateWindow(ClassTweetDetail, 0, now.Add(10*time.Minute))
	s.updateWindow(ClassUserTweets, 30, now.Add(10*time.Minute))

	if s.usable(ClassTweetDetail, now) {
		t.Error("session usable for exhausted tweet_detail class")
	}
	if !s.usable(ClassUserTweets, now) {
		t.Error("session not usable for user_tweets class with quota left")
	}
	if !s.usable(ClassUserLookup, now) {
		t.Error("session not usable for class with no recorded window")
	}
}

// TestRemaining covers the unknown-quota conventions.
func TestRemaining(t *testing.T) {
	now := time.Now()
	s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})

	if got := s.Remaining(ClassTweetDetail, now); got != -1 {
		t.Errorf("Remaining with no window = %d, want -1", got)
	}

	s.updateWindow(ClassTweetDetail, 7, now.Add(time.Minute))
	if got := s.Remaining(ClassTweetDetail, now); got != 7 {
		t.Errorf("Remaining inside window = %d, want 7", got)
	}

	// Once the reset passes the stored count means nothing.
	if got := s.Remaining(ClassTweetDetail, now.Add(2*time.Minute)); got != -1 {
		t.Errorf("Remaining after reset = %d, want -1", got)
	}
}

// TestDecrementWindow verifies the metadata-less success fallback.
func TestDecrementWindow(t *testing.T) {
	now := time.Now()
	s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})

	// No window recorded yet: nothing to count against.
	s.decrementWindow(ClassTweetDetail)
	if got := s.Remaining(ClassTweetDetail, now); got != -1 {
		t.Errorf("Remaining after no-op decrement = %d, want -1", got)
	}

	s.updateWindow(ClassTweetDetail, 2, now.Add(time.Minute))
	s.decrementWindow(ClassTweetDetail)
	if got := s.Remaining(ClassTweetDetail, now); got != 1 {
		t.Errorf("Remaining after decrement = %d, want 1", got)
	}
	s.decrementWindow(ClassTweetDetail)
	s.decrementWindow(ClassTweetDetail)
	if got := s.Remaining(ClassTweetDetail, now); got != 0 {
		t.Errorf("Remaining must not go below zero, got %d", got)
	}
}

// TestExhaustWindow verifies a metadata-less 429 zeroes the window without
// ever pointing the reset into the past.
func TestExhaustWindow(t *testing.T) {
	now := time.Now()

	t.Run("no prior window", func(t *testing.T) {
		s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})
		s.exhaustWindow(ClassTweetDetail, now)
		if got := s.Remaining(ClassTweetDetail, now); got != 0 {
			t.Errorf("Remaining = %d, want 0", got)
		}
		if got := s.ResetAt(ClassTweetDetail); !got.Equal(now.Add(windowLength)) {
			t.Errorf("ResetAt = %v, want one full window out", got)
		}
	})

	t.Run("future reset kept", func(t *testing.T) {
		s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})
		reset := now.Add(3 * time.Minute)
		s.updateWindow(ClassTweetDetail, 10, reset)
		s.exhaustWindow(ClassTweetDetail, now)
		if got := s.ResetAt(ClassTweetDetail); !got.Equal(reset) {
			t.Errorf("ResetAt = %v, want existing future reset %v", got, reset)
		}
		if got := s.Remaining(ClassTweetDetail, now); got != 0 {
			t.Errorf("Remaining = %d, want 0", got)
		}
	})

	t.Run("stale reset replaced", func(t *testing.T) {
		s := newSession(Record{ID: "1", Username: "a", AuthToken: "t", CT0: "c"})
		s.updateWindow(ClassTweetDetail, 10, now.Add(-time.Minute))
		s.exhaustWindow(ClassTweetDetail, now)
		if got := s.ResetAt(ClassTweetDetail); !got.After(now) {
			t.Errorf("ResetAt = %v, want a future time", got)
		}
	})
}

package router

import (
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxPerWindow     = 3
	DefaultWindow           = time.Second
	DefaultMaxMessageLength = 5000
)

// RateLimiter keeps a sliding window of message timestamps per connection and
// enforces a maximum message length.
type RateLimiter struct {
	mu               sync.Mutex
	windows          map[string][]time.Time
	maxPerWindow     int
	window           time.Duration
	maxMessageLength int
}

// NewRateLimiter creates a limiter accepting at most maxPerWindow messages per
// window and messages of at most maxMessageLength code points.
func NewRateLimiter(maxPerWindow int, window time.Duration, maxMessageLength int) (*RateLimiter, error) {
	if maxPerWindow <= 0 || window <= 0 || maxMessageLength <= 0 {
		return nil, ErrInvalidRateConfig
	}
	return &RateLimiter{
		windows:          make(map[string][]time.Time),
		maxPerWindow:     maxPerWindow,
		window:           window,
		maxMessageLength: maxMessageLength,
	}, nil
}

// Allow records a message from connID at now and reports whether it is within
// the limit. Rejected messages still count towards the window.
func (rl *RateLimiter) Allow(connID string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cut := now.Add(-rl.window)
	stamps := rl.windows[connID]

	kept := stamps[:0]
	for _, ts := range stamps {
		if !ts.Before(cut) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	rl.windows[connID] = kept

	return len(kept) <= rl.maxPerWindow
}

// CheckLength rejects messages longer than the configured maximum.
func (rl *RateLimiter) CheckLength(message string) error {
	if utf8.RuneCountInString(message) > rl.maxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// Check applies the length limit and then the rate limit. A message rejected
// for length does not consume rate budget.
func (rl *RateLimiter) Check(connID, message string, now time.Time) error {
	if err := rl.CheckLength(message); err != nil {
		return err
	}
	if !rl.Allow(connID, now) {
		return ErrRateLimited
	}
	return nil
}

// Forget drops the window for a connection that went away.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, connID)
}

// Cleanup removes windows whose newest timestamp has left the window.
func (rl *RateLimiter) Cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cut := now.Add(-rl.window)
	for connID, stamps := range rl.windows {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(cut) {
			delete(rl.windows, connID)
		}
	}
}

// Tracked returns the number of connections with a live window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/commitcast/commitcast/backend/internal/models"
)

// A remaining count at or below this (but above zero) flips IsLow.
const lowRemainingThreshold = 3

// UsageState is the presentation state a dashboard derives from one
// snapshot: what to gate, what to tint, what to warn about.
type UsageState struct {
	IsUnlimited bool
	PercentUsed float64
	IsLow       bool
	IsExhausted bool
}

// Derive computes UsageState from a snapshot. A posts limit of -1 means
// unlimited: nothing is gated and the meter stays empty. PercentUsed is
// clamped to [0,100] so a stale snapshot can never overflow the meter.
func Derive(snap models.UsageSnapshot) UsageState {
	if snap.PostsLimit == -1 {
		return UsageState{IsUnlimited: true}
	}
	var state UsageState
	if snap.PostsLimit > 0 {
		state.PercentUsed = float64(snap.PostsToday) / float64(snap.PostsLimit) * 100
		if state.PercentUsed > 100 {
			state.PercentUsed = 100
		}
		if state.PercentUsed < 0 {
			state.PercentUsed = 0
		}
	}
	state.IsLow = snap.PostsRemaining > 0 && snap.PostsRemaining <= lowRemainingThreshold
	state.IsExhausted = snap.PostsRemaining == 0
	return state
}

// FormatRemaining renders a reset countdown the way the dashboard shows it:
// "now" once the window has reset, "{m}m" under an hour, "{h}h {m}m" from
// an hour up. Minutes floor, so 59s reads "0m".
func FormatRemaining(seconds int64) string {
	if seconds <= 0 {
		return "now"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// UsageTracker owns the latest usage snapshot plus a local reset countdown
// that interpolates between fetches. The countdown only ever counts down;
// any fetch snaps it back to the server's authoritative value.
type UsageTracker struct {
	api *API

	// TickEvery is the countdown cadence; tests shorten it. Each tick
	// subtracts one minute regardless of cadence, mirroring the dashboard's
	// once-a-minute repaint.
	TickEvery time.Duration

	mu          sync.Mutex
	snap        models.UsageSnapshot
	state       UsageState
	secondsLeft int64
	loaded      bool
	lastErr     error
}

func NewUsageTracker(api *API) *UsageTracker {
	return &UsageTracker{api: api, TickEvery: time.Minute}
}

// Fetch replaces the snapshot and derived state, and resets the countdown
// to the server's resets_in_seconds. On error the previous snapshot stays
// visible and only LastError changes.
func (t *UsageTracker) Fetch(ctx context.Context, userID string) (models.UsageSnapshot, error) {
	snap, err := t.api.Usage(ctx, userID)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
	if err != nil {
		return t.snap, err
	}
	t.snap = snap
	t.state = Derive(snap)
	t.secondsLeft = snap.ResetsInSeconds
	t.loaded = true
	return snap, nil
}

// StartCountdown ticks the local reset clock down one minute per interval
// until ctx is done. It never fetches; run it with go and let periodic
// Fetch calls correct any drift.
func (t *UsageTracker) StartCountdown(ctx context.Context) {
	interval := t.TickEvery
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *UsageTracker) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.secondsLeft <= 0 {
		return
	}
	t.secondsLeft -= 60
	if t.secondsLeft < 0 {
		t.secondsLeft = 0
	}
}

// Snapshot returns the last fetched snapshot and whether one exists yet.
func (t *UsageTracker) Snapshot() (models.UsageSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap, t.loaded
}

// State returns the presentation state derived from the last snapshot.
func (t *UsageTracker) State() UsageState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Loading reports whether no snapshot has been fetched yet.
func (t *UsageTracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.loaded
}

// LastError returns the error from the most recent Fetch, nil after a
// successful one.
func (t *UsageTracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// SecondsToReset returns the current local countdown value.
func (t *UsageTracker) SecondsToReset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.secondsLeft
}

// Countdown renders the current countdown via FormatRemaining.
func (t *UsageTracker) Countdown() string {
	return FormatRemaining(t.SecondsToReset())
}

package client

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/commitcast/commitcast/backend/internal/models"
)

// Validation codes for schedule candidates.
const (
	CodeMissingFields = "missing_fields"
	CodeInPast        = "in_past"
)

// The server rejects the same cases with the same messages; validating here
// just saves the round trip.
const (
	msgMissingFields = "Post content and scheduled time are required"
	msgInPast        = "Scheduled time must be in the future"
)

// MinLeadTime is how far out a time picker should start. It is an input
// affordance only: validation rejects past times, not near ones, so a
// candidate one minute out still passes.
const MinLeadTime = 5 * time.Minute

// MaxContentLength mirrors LinkedIn's post ceiling; inputs should cap at it.
const MaxContentLength = 3000

// ValidationError is a locally detected problem with a schedule candidate.
// It is always raised before any network call.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// MinSelectable returns the earliest time a picker should offer.
func MinSelectable(now time.Time) time.Time {
	return now.Add(MinLeadTime)
}

// ValidateCandidate checks a schedule candidate without touching the
// network. The boundary is exclusive: a time equal to now is already in
// the past.
func ValidateCandidate(content string, scheduledAt, now time.Time) *ValidationError {
	if strings.TrimSpace(content) == "" || scheduledAt.IsZero() {
		return &ValidationError{Code: CodeMissingFields, Message: msgMissingFields}
	}
	if !scheduledAt.After(now) {
		return &ValidationError{Code: CodeInPast, Message: msgInPast}
	}
	return nil
}

// ScheduleManager drives the scheduled-post queue: validate, submit, list,
// cancel, reschedule. Mutations never touch the local list; callers refresh
// with List after a success so one round trip serves batched updates. The
// in-flight flags exist for UI gating (disable the button) and are
// informational only; concurrent calls are serialized by the server, not
// here.
type ScheduleManager struct {
	api *API

	// Now is the clock used for candidate validation; tests pin it.
	Now func() time.Time

	mu         sync.Mutex
	posts      []models.ScheduledPost
	submitting bool
	cancelling bool
	lastErr    error
}

func NewScheduleManager(api *API) *ScheduleManager {
	return &ScheduleManager{api: api, Now: time.Now}
}

// Submit validates the candidate locally, then creates it server-side.
// Local failures return *ValidationError; server rejections surface
// verbatim as *APIError. The queue is not refreshed; call List.
func (m *ScheduleManager) Submit(ctx context.Context, userID, content, imageURL string, scheduledAt time.Time) (models.ScheduledPost, error) {
	if verr := ValidateCandidate(content, scheduledAt, m.now()); verr != nil {
		m.recordErr(verr)
		return models.ScheduledPost{}, verr
	}

	m.setSubmitting(true)
	defer m.setSubmitting(false)

	post, err := m.api.CreateScheduledPost(ctx, userID, strings.TrimSpace(content), imageURL, scheduledAt)
	m.recordErr(err)
	return post, err
}

// List fetches the queue and replaces the local copy. This is the only
// method that mutates Posts.
func (m *ScheduleManager) List(ctx context.Context, userID string) ([]models.ScheduledPost, error) {
	posts, err := m.api.ScheduledPosts(ctx, userID)
	m.recordErr(err)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.posts = posts
	m.mu.Unlock()
	return posts, nil
}

// Cancel deletes a pending post. The local list keeps the post until the
// caller refreshes with List, so a failed cancel leaves nothing to undo.
func (m *ScheduleManager) Cancel(ctx context.Context, userID string, postID int64) error {
	m.setCancelling(true)
	defer m.setCancelling(false)

	err := m.api.CancelScheduledPost(ctx, userID, postID)
	m.recordErr(err)
	return err
}

// Reschedule moves a pending post to newTime after validating it the same
// way Submit validates a candidate time.
func (m *ScheduleManager) Reschedule(ctx context.Context, userID string, postID int64, newTime time.Time) error {
	if newTime.IsZero() {
		verr := &ValidationError{Code: CodeMissingFields, Message: msgMissingFields}
		m.recordErr(verr)
		return verr
	}
	if !newTime.After(m.now()) {
		verr := &ValidationError{Code: CodeInPast, Message: msgInPast}
		m.recordErr(verr)
		return verr
	}

	m.setSubmitting(true)
	defer m.setSubmitting(false)

	err := m.api.RescheduleScheduledPost(ctx, userID, postID, newTime)
	m.recordErr(err)
	return err
}

// Posts returns a copy of the queue from the last successful List.
func (m *ScheduleManager) Posts() []models.ScheduledPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ScheduledPost, len(m.posts))
	copy(out, m.posts)
	return out
}

// Submitting reports whether a Submit or Reschedule is in flight.
func (m *ScheduleManager) Submitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitting
}

// Cancelling reports whether a Cancel is in flight.
func (m *ScheduleManager) Cancelling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelling
}

// LastError returns the error from the most recent operation, nil after a
// successful one.
func (m *ScheduleManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *ScheduleManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *ScheduleManager) setSubmitting(v bool) {
	m.mu.Lock()
	m.submitting = v
	m.mu.Unlock()
}

func (m *ScheduleManager) setCancelling(v bool) {
	m.mu.Lock()
	m.cancelling = v
	m.mu.Unlock()
}

func (m *ScheduleManager) recordErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

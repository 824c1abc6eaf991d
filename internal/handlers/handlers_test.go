package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/gorilla/mux"
	"github.com/lib/pq"
)

// Noon UTC keeps the daily-reset math readable: 12h until next midnight.
var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// What modernc.org/sqlite surfaces for a duplicate (user_id, scheduled_time) slot.
var errUniqueSqlite = errors.New("constraint failed: UNIQUE constraint failed: scheduled_posts.user_id, scheduled_posts.scheduled_time (2067)")

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Handler{db: db, now: func() time.Time { return fixedNow }}, mock
}

func serve(h *Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	RegisterRoutes(h, r)
	req := httptest.NewRequest(method, target, body)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func errorMessageOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rr, &body)
	return body.Error
}

func expectTier(mock sqlmock.Sqlmock, tier string) {
	mock.ExpectQuery(`SELECT tier FROM user_settings WHERE user_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow(tier))
}

func expectPublishedToday(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM post_history`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func expectPendingScheduled(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM scheduled_posts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func TestGetUsage_FreeTier(t *testing.T) {
	h, mock := newTestHandler(t)
	expectTier(mock, "free")
	expectPublishedToday(mock, 4)
	expectPendingScheduled(mock, 2)

	rr := serve(h, http.MethodGet, "/api/usage/user-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var snap models.UsageSnapshot
	decodeBody(t, rr, &snap)
	if snap.Tier != "free" || snap.PostsToday != 4 || snap.PostsLimit != 10 || snap.PostsRemaining != 6 {
		t.Fatalf("unexpected posts fields: %+v", snap)
	}
	if snap.ScheduledCount != 2 || snap.ScheduledLimit != 10 || snap.ScheduledRemaining != 8 {
		t.Fatalf("unexpected scheduled fields: %+v", snap)
	}
	if snap.ResetsInSeconds != 43200 {
		t.Fatalf("expected 43200s to reset, got %d", snap.ResetsInSeconds)
	}
	if snap.ResetsAt == nil || *snap.ResetsAt != "2026-03-11T00:00:00Z" {
		t.Fatalf("unexpected resets_at %v", snap.ResetsAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetUsage_ProTierUnlimited(t *testing.T) {
	h, mock := newTestHandler(t)
	expectTier(mock, "pro")
	expectPublishedToday(mock, 37)
	expectPendingScheduled(mock, 12)

	rr := serve(h, http.MethodGet, "/api/usage/user-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap models.UsageSnapshot
	decodeBody(t, rr, &snap)
	if snap.PostsLimit != -1 || snap.PostsRemaining != -1 || snap.ScheduledLimit != -1 {
		t.Fatalf("expected unlimited sentinels, got %+v", snap)
	}
	if snap.ResetsInSeconds != 0 || snap.ResetsAt != nil {
		t.Fatalf("unlimited tier should not count down, got %+v", snap)
	}
}

func TestGetUsage_UnknownUserGetsFreeZeroSnapshot(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`SELECT tier FROM user_settings`).
		WillReturnError(sql.ErrNoRows)
	expectPublishedToday(mock, 0)
	expectPendingScheduled(mock, 0)

	rr := serve(h, http.MethodGet, "/api/usage/new-user", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap models.UsageSnapshot
	decodeBody(t, rr, &snap)
	if snap.Tier != "free" || snap.PostsToday != 0 || snap.PostsRemaining != 10 {
		t.Fatalf("expected pristine free snapshot, got %+v", snap)
	}
}

func TestGetUsageStats(t *testing.T) {
	h, mock := newTestHandler(t)
	counts := []int{20, 12, 9, 4, 2}
	for _, n := range counts {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM post_history WHERE user_id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}

	rr := serve(h, http.MethodGet, "/api/usage/user-1/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var stats models.UsageStats
	decodeBody(t, rr, &stats)
	if stats.PostsGenerated != 20 || stats.PostsPublished != 12 || stats.DraftPosts != 8 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.PostsThisWeek != 4 || stats.PostsLastWeek != 2 || stats.GrowthPercentage != 100 {
		t.Fatalf("unexpected growth math %+v", stats)
	}
}

func scheduledPostBody(userID string, offset time.Duration) string {
	return `{"user_id": "` + userID + `", "post_content": "Shipping a new release", "scheduled_time": ` +
		strings.TrimSpace(jsonInt(fixedNow.Add(offset).Unix())) + `}`
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCreateScheduledPost_Success(t *testing.T) {
	h, mock := newTestHandler(t)
	expectTier(mock, "free")
	expectPendingScheduled(mock, 3)
	mock.ExpectQuery(`INSERT INTO scheduled_posts`).
		WithArgs("user-1", "Shipping a new release", nil, fixedNow.Add(2*time.Hour).Unix(), "pending", fixedNow.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	rr := serve(h, http.MethodPost, "/api/scheduled", strings.NewReader(scheduledPostBody("user-1", 2*time.Hour)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success bool                 `json:"success"`
		Post    models.ScheduledPost `json:"post"`
	}
	decodeBody(t, rr, &resp)
	if !resp.Success || resp.Post.ID != 7 || resp.Post.Status != "pending" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Post.ScheduledTime != fixedNow.Add(2*time.Hour).Unix() {
		t.Fatalf("scheduled_time drifted: %d", resp.Post.ScheduledTime)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateScheduledPost_Validation(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{
			name:    "missing content",
			body:    `{"user_id": "user-1", "post_content": "  ", "scheduled_time": ` + jsonInt(fixedNow.Add(time.Hour).Unix()) + `}`,
			status:  http.StatusBadRequest,
			message: "Post content and scheduled time are required",
		},
		{
			name:    "missing time",
			body:    `{"user_id": "user-1", "post_content": "hello"}`,
			status:  http.StatusBadRequest,
			message: "Post content and scheduled time are required",
		},
		{
			name:    "time exactly now is past",
			body:    `{"user_id": "user-1", "post_content": "hello", "scheduled_time": ` + jsonInt(fixedNow.Unix()) + `}`,
			status:  http.StatusBadRequest,
			message: "Scheduled time must be in the future",
		},
		{
			name:    "time in the past",
			body:    `{"user_id": "user-1", "post_content": "hello", "scheduled_time": ` + jsonInt(fixedNow.Add(-time.Minute).Unix()) + `}`,
			status:  http.StatusBadRequest,
			message: "Scheduled time must be in the future",
		},
		{
			name:    "content too long",
			body:    `{"user_id": "user-1", "post_content": "` + strings.Repeat("a", 3001) + `", "scheduled_time": ` + jsonInt(fixedNow.Add(time.Hour).Unix()) + `}`,
			status:  http.StatusBadRequest,
			message: "Post content exceeds 3000 characters",
		},
		{
			name:    "missing user",
			body:    `{"post_content": "hello", "scheduled_time": ` + jsonInt(fixedNow.Add(time.Hour).Unix()) + `}`,
			status:  http.StatusBadRequest,
			message: "user_id is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandler(t)
			rr := serve(h, http.MethodPost, "/api/scheduled", strings.NewReader(tc.body))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if got := errorMessageOf(t, rr); got != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, got)
			}
		})
	}
}

func TestCreateScheduledPost_QuotaExceeded(t *testing.T) {
	h, mock := newTestHandler(t)
	expectTier(mock, "free")
	expectPendingScheduled(mock, 10)

	rr := serve(h, http.MethodPost, "/api/scheduled", strings.NewReader(scheduledPostBody("user-1", time.Hour)))
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
	want := "Scheduled posts limit reached. Free tier allows 10 scheduled posts."
	if got := errorMessageOf(t, rr); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCreateScheduledPost_SlotConflict(t *testing.T) {
	t.Run("sqlite duplicate", func(t *testing.T) {
		h, mock := newTestHandler(t)
		expectTier(mock, "free")
		expectPendingScheduled(mock, 1)
		mock.ExpectQuery(`INSERT INTO scheduled_posts`).
			WillReturnError(errUniqueSqlite)

		rr := serve(h, http.MethodPost, "/api/scheduled", strings.NewReader(scheduledPostBody("user-1", time.Hour)))
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		if got := errorMessageOf(t, rr); got != "A post is already scheduled for this time" {
			t.Fatalf("unexpected message %q", got)
		}
	})

	t.Run("postgres duplicate", func(t *testing.T) {
		h, mock := newTestHandler(t)
		expectTier(mock, "free")
		expectPendingScheduled(mock, 1)
		mock.ExpectQuery(`INSERT INTO scheduled_posts`).
			WillReturnError(&pq.Error{Code: "23505"})

		rr := serve(h, http.MethodPost, "/api/scheduled", strings.NewReader(scheduledPostBody("user-1", time.Hour)))
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
	})
}

func TestListScheduledPosts(t *testing.T) {
	h, mock := newTestHandler(t)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "post_content", "image_url", "scheduled_time",
		"status", "error_message", "created_at", "published_at",
	}).
		AddRow(1, "user-1", "first", nil, fixedNow.Add(time.Hour).Unix(), "pending", nil, fixedNow.Unix(), nil).
		AddRow(2, "user-1", "second", "https://img.example/x.png", fixedNow.Add(2*time.Hour).Unix(), "pending", nil, fixedNow.Unix(), nil)
	mock.ExpectQuery(`SELECT .+ FROM scheduled_posts WHERE user_id = \$1 AND \(status = \$2 OR scheduled_time > \$3\) ORDER BY scheduled_time ASC`).
		WithArgs("user-1", "pending", fixedNow.Unix()-86400).
		WillReturnRows(rows)

	rr := serve(h, http.MethodGet, "/api/scheduled/user-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Success bool                   `json:"success"`
		Posts   []models.ScheduledPost `json:"posts"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Posts) != 2 || resp.Posts[0].ID != 1 || resp.Posts[1].ID != 2 {
		t.Fatalf("unexpected posts %+v", resp.Posts)
	}
	if resp.Posts[1].ImageURL == nil || *resp.Posts[1].ImageURL != "https://img.example/x.png" {
		t.Fatalf("expected image url, got %+v", resp.Posts[1])
	}
}

func TestListScheduledPosts_EmptyIsArray(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`SELECT .+ FROM scheduled_posts`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "post_content", "image_url", "scheduled_time",
			"status", "error_message", "created_at", "published_at",
		}))

	rr := serve(h, http.MethodGet, "/api/scheduled/user-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"posts":[]`) {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestListScheduledPosts_IncludePastLiftsWindow(t *testing.T) {
	h, mock := newTestHandler(t)
	mock.ExpectQuery(`SELECT .+ FROM scheduled_posts WHERE user_id = \$1 ORDER BY scheduled_time ASC`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "post_content", "image_url", "scheduled_time",
			"status", "error_message", "created_at", "published_at",
		}))

	rr := serve(h, http.MethodGet, "/api/scheduled/user-1?include_past=true", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCancelScheduledPost(t *testing.T) {
	t.Run("pending post is deleted", func(t *testing.T) {
		h, mock := newTestHandler(t)
		mock.ExpectExec(`DELETE FROM scheduled_posts`).
			WithArgs(int64(42), "user-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		rr := serve(h, http.MethodDelete, "/api/scheduled/42?user_id=user-1", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		decodeBody(t, rr, &resp)
		if !resp.Success || resp.Message != "Post cancelled" {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("published post is not cancellable", func(t *testing.T) {
		h, mock := newTestHandler(t)
		mock.ExpectExec(`DELETE FROM scheduled_posts`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		rr := serve(h, http.MethodDelete, "/api/scheduled/42?user_id=user-1", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if got := errorMessageOf(t, rr); got != "Post not found or already published" {
			t.Fatalf("unexpected message %q", got)
		}
	})

	t.Run("non-numeric id is rejected by the router", func(t *testing.T) {
		h, _ := newTestHandler(t)
		rr := serve(h, http.MethodDelete, "/api/scheduled/abc?user_id=user-1", nil)
		if rr.Code == http.StatusOK {
			t.Fatalf("expected failure for non-numeric id, got 200")
		}
	})
}

func TestRescheduleScheduledPost(t *testing.T) {
	newTime := fixedNow.Add(3 * time.Hour).Unix()
	body := `{"user_id": "user-1", "new_time": ` + jsonInt(newTime) + `}`

	t.Run("pending post moves", func(t *testing.T) {
		h, mock := newTestHandler(t)
		mock.ExpectExec(`UPDATE scheduled_posts`).
			WithArgs(newTime, int64(3), "user-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		rr := serve(h, http.MethodPut, "/api/scheduled/3", strings.NewReader(body))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "Post rescheduled") {
			t.Fatalf("unexpected body %s", rr.Body.String())
		}
	})

	t.Run("missing or published post conflicts", func(t *testing.T) {
		h, mock := newTestHandler(t)
		mock.ExpectExec(`UPDATE scheduled_posts`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		rr := serve(h, http.MethodPut, "/api/scheduled/3", strings.NewReader(body))
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
		if got := errorMessageOf(t, rr); got != "Post not found or time conflicts" {
			t.Fatalf("unexpected message %q", got)
		}
	})

	t.Run("slot collision conflicts", func(t *testing.T) {
		h, mock := newTestHandler(t)
		mock.ExpectExec(`UPDATE scheduled_posts`).
			WillReturnError(errUniqueSqlite)

		rr := serve(h, http.MethodPut, "/api/scheduled/3", strings.NewReader(body))
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
	})

	t.Run("past time rejected before touching the db", func(t *testing.T) {
		h, _ := newTestHandler(t)
		past := `{"user_id": "user-1", "new_time": ` + jsonInt(fixedNow.Add(-time.Hour).Unix()) + `}`
		rr := serve(h, http.MethodPut, "/api/scheduled/3", strings.NewReader(past))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if got := errorMessageOf(t, rr); got != "Scheduled time must be in the future" {
			t.Fatalf("unexpected message %q", got)
		}
	})
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := serve(h, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := serve(h, http.MethodPatch, "/api/scheduled", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

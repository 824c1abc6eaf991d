package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/commitcast/commitcast/backend/internal/ai"
	"github.com/commitcast/commitcast/backend/internal/github"
	"github.com/commitcast/commitcast/backend/internal/linkedin"
	"github.com/commitcast/commitcast/backend/internal/middleware"
	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/commitcast/commitcast/backend/internal/usage"
	"github.com/lib/pq"
	"golang.org/x/oauth2"
)

// maxPostLength mirrors LinkedIn's post ceiling.
const maxPostLength = 3000

// Handler carries the shared dependencies of every endpoint. The publish
// func defaults to the LinkedIn client and is swapped out in worker tests.
type Handler struct {
	db       *sql.DB
	github   *github.Client
	ai       *ai.Client
	linkedin *linkedin.Client
	oauth    *oauth2.Config
	now      func() time.Time
	publish  func(ctx context.Context, token, owner, content, imageURL string) (string, error)
}

func New(db *sql.DB) *Handler {
	h := &Handler{
		db:       db,
		github:   github.NewClient(os.Getenv("GITHUB_TOKEN")),
		ai:       ai.NewClient(os.Getenv("GROQ_API_KEY")),
		linkedin: linkedin.NewClient(),
		oauth: linkedin.OAuthConfig(
			os.Getenv("LINKEDIN_CLIENT_ID"),
			os.Getenv("LINKEDIN_CLIENT_SECRET"),
			os.Getenv("LINKEDIN_REDIRECT_URL"),
		),
		now: time.Now,
	}
	h.publish = h.linkedin.Publish
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requireUser rejects requests without a user id or with a token subject
// that doesn't match it. With auth disabled every subject matches.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request, userID string) bool {
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return false
	}
	if !middleware.Authorized(r.Context(), userID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// settingsFor loads a user's settings row. A missing row is not an error;
// ok reports whether one existed.
func (h *Handler) settingsFor(ctx context.Context, userID string) (models.Settings, bool, error) {
	s := models.Settings{UserID: userID, Tier: models.TierFree}
	err := h.db.QueryRowContext(ctx, `
		SELECT github_username, groq_api_key, linkedin_access_token, linkedin_owner_urn,
		       tier, default_style, stripe_customer_id, updated_at
		  FROM user_settings
		 WHERE user_id = $1
	`, userID).Scan(
		&s.GithubUsername, &s.GroqAPIKey, &s.LinkedInAccessToken, &s.LinkedInOwnerURN,
		&s.Tier, &s.DefaultStyle, &s.StripeCustomerID, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	return s, true, nil
}

// GetUsage returns the quota snapshot the dashboard header renders. Users
// without any rows yet get a zero-usage free-tier snapshot, not a 404.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}
	snap, err := usage.SnapshotForUser(r.Context(), h.db, userID, h.now())
	if err != nil {
		log.Printf("[Usage] snapshot failed user=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetUsageStats returns the lifetime/weekly counters for the stats cards.
func (h *Handler) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}
	stats, err := usage.StatsForUser(r.Context(), h.db, userID, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

const scheduledPostColumns = `id, user_id, post_content, image_url, scheduled_time, status, error_message, created_at, published_at`

func scanScheduledPost(row interface{ Scan(...any) error }) (models.ScheduledPost, error) {
	var p models.ScheduledPost
	err := row.Scan(&p.ID, &p.UserID, &p.PostContent, &p.ImageURL, &p.ScheduledTime,
		&p.Status, &p.ErrorMessage, &p.CreatedAt, &p.PublishedAt)
	return p, err
}

// ListScheduledPosts returns the queue soonest-first: everything pending
// plus the previous 24h of published/failed outcomes, so the dashboard can
// show recent results without unbounded history. include_past=true lifts
// the window.
func (h *Handler) ListScheduledPosts(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}

	query := `SELECT ` + scheduledPostColumns + ` FROM scheduled_posts WHERE user_id = $1`
	args := []any{userID}
	if r.URL.Query().Get("include_past") != "true" {
		query += ` AND (status = $2 OR scheduled_time > $3)`
		args = append(args, models.StatusPending, h.now().Unix()-86400)
	}
	query += ` ORDER BY scheduled_time ASC`

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	posts := []models.ScheduledPost{}
	for rows.Next() {
		p, err := scanScheduledPost(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "posts": posts})
}

type createScheduledPostRequest struct {
	UserID        string  `json:"user_id"`
	PostContent   string  `json:"post_content"`
	ImageURL      *string `json:"image_url"`
	ScheduledTime int64   `json:"scheduled_time"`
}

// CreateScheduledPost queues content for future publication. The slot is
// unique per user down to the second; collisions are a 409 and quota
// exhaustion a 402, both with messages clients show verbatim.
func (h *Handler) CreateScheduledPost(w http.ResponseWriter, r *http.Request) {
	var req createScheduledPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.requireUser(w, r, req.UserID) {
		return
	}
	req.PostContent = strings.TrimSpace(req.PostContent)
	if req.PostContent == "" || req.ScheduledTime == 0 {
		writeError(w, http.StatusBadRequest, "Post content and scheduled time are required")
		return
	}
	if utf8.RuneCountInString(req.PostContent) > maxPostLength {
		writeError(w, http.StatusBadRequest, "Post content exceeds 3000 characters")
		return
	}
	now := h.now()
	if req.ScheduledTime <= now.Unix() {
		writeError(w, http.StatusBadRequest, "Scheduled time must be in the future")
		return
	}

	check, err := usage.CanSchedule(r.Context(), h.db, req.UserID, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !check.Allowed {
		writeError(w, http.StatusPaymentRequired, check.Reason)
		return
	}

	post := models.ScheduledPost{
		UserID:        req.UserID,
		PostContent:   req.PostContent,
		ImageURL:      req.ImageURL,
		ScheduledTime: req.ScheduledTime,
		Status:        models.StatusPending,
		CreatedAt:     now.Unix(),
	}
	err = h.db.QueryRowContext(r.Context(), `
		INSERT INTO scheduled_posts (user_id, post_content, image_url, scheduled_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, post.UserID, post.PostContent, post.ImageURL, post.ScheduledTime, post.Status, post.CreatedAt).Scan(&post.ID)
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "A post is already scheduled for this time")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[ScheduledPosts] queued id=%d user=%s at=%d", post.ID, post.UserID, post.ScheduledTime)
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "post": post})
}

// CancelScheduledPost deletes a pending post. Rows that are published,
// failed, claimed by the publisher, or owned by someone else all look the
// same from outside: not cancellable.
func (h *Handler) CancelScheduledPost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(pathVar(r, "postId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if !h.requireUser(w, r, userID) {
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		DELETE FROM scheduled_posts
		 WHERE id = $1 AND user_id = $2 AND status = $3 AND publish_claim_id IS NULL
	`, postID, userID, models.StatusPending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "Post not found or already published")
		return
	}

	log.Printf("[ScheduledPosts] cancelled id=%d user=%s", postID, userID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Post cancelled"})
}

type rescheduleScheduledPostRequest struct {
	UserID  string `json:"user_id"`
	NewTime int64  `json:"new_time"`
}

// RescheduleScheduledPost moves a pending post to a new slot. Not-found and
// slot-conflict collapse into one answer so callers can't probe other
// users' queues.
func (h *Handler) RescheduleScheduledPost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(pathVar(r, "postId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	var req rescheduleScheduledPostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.requireUser(w, r, req.UserID) {
		return
	}
	if req.NewTime <= h.now().Unix() {
		writeError(w, http.StatusBadRequest, "Scheduled time must be in the future")
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		UPDATE scheduled_posts
		   SET scheduled_time = $1
		 WHERE id = $2 AND user_id = $3 AND status = $4 AND publish_claim_id IS NULL
	`, req.NewTime, postID, req.UserID, models.StatusPending)
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Post not found or time conflicts")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusConflict, "Post not found or time conflicts")
		return
	}

	log.Printf("[ScheduledPosts] rescheduled id=%d user=%s to=%d", postID, req.UserID, req.NewTime)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Post rescheduled"})
}

// isUniqueViolation matches duplicate-key errors from both engines.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Package client is the view-model layer a dashboard or bot drives against
// the commitcast backend: a thin JSON API client, a usage tracker that
// interpolates the quota reset countdown between polls, and a manager for
// the scheduled-post queue. cmd/commitcastctl is the reference consumer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/commitcast/commitcast/backend/internal/models"
)

const (
	defaultBaseURL  = "http://localhost:18911"
	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20
)

// APIError is a non-2xx response from the backend. Message carries the
// server's error string verbatim when the body had one, otherwise the
// fallback for that call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// API talks JSON to the commitcast backend. Zero values get defaults on
// first use, so &API{BaseURL: url} is enough.
type API struct {
	BaseURL string
	Token   string // optional bearer token, sent when non-empty
	Client  *http.Client
}

func NewAPI(baseURL string) *API {
	a := &API{BaseURL: baseURL}
	a.ensureDefaults()
	return a
}

func (a *API) ensureDefaults() {
	if a.BaseURL == "" {
		a.BaseURL = defaultBaseURL
	}
	a.BaseURL = strings.TrimRight(a.BaseURL, "/")
	if a.Client == nil {
		a.Client = &http.Client{Timeout: defaultTimeout}
	}
}

// do runs one request/response cycle. Error bodies are decoded into the
// {"error": ...} envelope; when the body has no usable message the fallback
// becomes the APIError message.
func (a *API) do(ctx context.Context, method, path string, body, out any, fallback string) error {
	a.ensureDefaults()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode, fallback)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte, status int, fallback string) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	if fallback != "" {
		return fallback
	}
	return fmt.Sprintf("request failed with status %d", status)
}

// Usage fetches the authoritative quota snapshot for userID.
func (a *API) Usage(ctx context.Context, userID string) (models.UsageSnapshot, error) {
	var snap models.UsageSnapshot
	err := a.do(ctx, http.MethodGet, "/api/usage/"+userID, nil, &snap, "")
	return snap, err
}

// UsageStats fetches the lifetime/weekly counters behind the stats cards.
func (a *API) UsageStats(ctx context.Context, userID string) (models.UsageStats, error) {
	var stats models.UsageStats
	err := a.do(ctx, http.MethodGet, "/api/usage/"+userID+"/stats", nil, &stats, "")
	return stats, err
}

// ScheduledPosts lists the user's queue, soonest first. The window matches
// the server default: everything pending plus the last day of outcomes.
func (a *API) ScheduledPosts(ctx context.Context, userID string) ([]models.ScheduledPost, error) {
	var resp struct {
		Posts []models.ScheduledPost `json:"posts"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/scheduled/"+userID, nil, &resp, ""); err != nil {
		return nil, err
	}
	if resp.Posts == nil {
		resp.Posts = []models.ScheduledPost{}
	}
	return resp.Posts, nil
}

type schedulePostRequest struct {
	UserID        string `json:"user_id"`
	PostContent   string `json:"post_content"`
	ImageURL      string `json:"image_url,omitempty"`
	ScheduledTime int64  `json:"scheduled_time"`
}

// CreateScheduledPost queues content for scheduledAt (stored as epoch
// seconds, so sub-second precision is dropped). Server-side rejections
// (quota, slot conflict, validation) come back verbatim as *APIError.
func (a *API) CreateScheduledPost(ctx context.Context, userID, content, imageURL string, scheduledAt time.Time) (models.ScheduledPost, error) {
	req := schedulePostRequest{
		UserID:        userID,
		PostContent:   content,
		ImageURL:      imageURL,
		ScheduledTime: scheduledAt.Unix(),
	}
	var resp struct {
		Post models.ScheduledPost `json:"post"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/scheduled", req, &resp, "Failed to schedule post"); err != nil {
		return models.ScheduledPost{}, err
	}
	return resp.Post, nil
}

// CancelScheduledPost deletes a pending post. Published, failed and unknown
// posts all report "Post not found or already published".
func (a *API) CancelScheduledPost(ctx context.Context, userID string, postID int64) error {
	path := fmt.Sprintf("/api/scheduled/%d?user_id=%s", postID, userID)
	return a.do(ctx, http.MethodDelete, path, nil, nil, "Failed to cancel post")
}

type rescheduleRequest struct {
	UserID  string `json:"user_id"`
	NewTime int64  `json:"new_time"`
}

// RescheduleScheduledPost moves a pending post to newTime.
func (a *API) RescheduleScheduledPost(ctx context.Context, userID string, postID int64, newTime time.Time) error {
	req := rescheduleRequest{UserID: userID, NewTime: newTime.Unix()}
	path := fmt.Sprintf("/api/scheduled/%d", postID)
	return a.do(ctx, http.MethodPut, path, req, nil, "Failed to reschedule post")
}

package models

import (
	"encoding/json"
	"time"
)

// Scheduled post lifecycle. Transitions are one-way: pending becomes
// published or failed, never anything else.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// History post states. Drafts come from the generator; published rows from
// the publisher.
const (
	HistoryDraft     = "draft"
	HistoryPublished = "published"
)

// Subscription tiers. Free is the default for unknown users.
const (
	TierFree = "free"
	TierPro  = "pro"
	TierTeam = "team"
)

// ScheduledPost is one row of the scheduling queue in its wire shape.
// Timestamps are epoch seconds. Nullable columns stay pointers so the JSON
// carries explicit nulls, matching what clients already parse.
type ScheduledPost struct {
	ID            int64   `json:"id"`
	UserID        string  `json:"-"`
	PostContent   string  `json:"post_content"`
	ImageURL      *string `json:"image_url"`
	ScheduledTime int64   `json:"scheduled_time"`
	Status        string  `json:"status"`
	ErrorMessage  *string `json:"error_message"`
	CreatedAt     int64   `json:"created_at"`
	PublishedAt   *int64  `json:"published_at"`
}

// UsageSnapshot is the authoritative quota view for one user. Limits of -1
// mean unlimited; unlimited tiers report -1 remaining, 0 reset seconds and
// a null reset time.
type UsageSnapshot struct {
	Tier               string  `json:"tier"`
	PostsToday         int     `json:"posts_today"`
	PostsLimit         int     `json:"posts_limit"`
	PostsRemaining     int     `json:"posts_remaining"`
	ScheduledCount     int     `json:"scheduled_count"`
	ScheduledLimit     int     `json:"scheduled_limit"`
	ScheduledRemaining int     `json:"scheduled_remaining"`
	ResetsInSeconds    int64   `json:"resets_in_seconds"`
	ResetsAt           *string `json:"resets_at"`
}

type UsageStats struct {
	PostsGenerated   int `json:"posts_generated"`
	PostsPublished   int `json:"posts_published"`
	PostsThisMonth   int `json:"posts_this_month"`
	PostsThisWeek    int `json:"posts_this_week"`
	PostsLastWeek    int `json:"posts_last_week"`
	GrowthPercentage int `json:"growth_percentage"`
	DraftPosts       int `json:"draft_posts"`
}

// HistoryPost is a generated or published post in the user's history.
// Context carries the originating activity; engagement is reserved for
// reaction counts.
type HistoryPost struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"-"`
	PostContent    string          `json:"post_content"`
	PostType       *string         `json:"post_type"`
	Context        json.RawMessage `json:"context"`
	Status         string          `json:"status"`
	LinkedInPostID *string         `json:"linkedin_post_id"`
	Engagement     json.RawMessage `json:"engagement"`
	CreatedAt      int64           `json:"created_at"`
	PublishedAt    *int64          `json:"published_at"`
}

// Settings is the per-user configuration row. Secret fields are masked by
// the settings handler before they go over the wire; the Stripe customer id
// never leaves the backend.
type Settings struct {
	UserID              string  `json:"user_id"`
	GithubUsername      *string `json:"github_username"`
	GroqAPIKey          *string `json:"groq_api_key"`
	LinkedInAccessToken *string `json:"linkedin_access_token"`
	LinkedInOwnerURN    *string `json:"linkedin_owner_urn"`
	Tier                string  `json:"subscription_tier"`
	DefaultStyle        *string `json:"default_style"`
	StripeCustomerID    *string `json:"-"`
	UpdatedAt           int64   `json:"updated_at"`
}

// GithubEvent is one parsed activity item from the GitHub events feed.
// OccurredAt backs the time_ago string and the recency filter; it stays off
// the wire.
type GithubEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Repo        string    `json:"repo"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	TimeAgo     string    `json:"time_ago"`
	OccurredAt  time.Time `json:"-"`
}

// GeneratedPost is one batch-generation result. Per-activity failures are
// reported inline instead of failing the whole batch.
type GeneratedPost struct {
	ID            string  `json:"id"`
	ActivityID    string  `json:"activity_id"`
	ActivityType  string  `json:"activity_type"`
	ActivityTitle string  `json:"activity_title"`
	Content       *string `json:"content"`
	Error         *string `json:"error,omitempty"`
	Status        string  `json:"status"`
	ImageURL      *string `json:"image_url"`
}

// Template describes one entry of the static post-template catalog.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Icon        string         `json:"icon"`
	Context     map[string]any `json:"context"`
}

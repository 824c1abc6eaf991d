// Package github fetches a user's public GitHub activity and parses it into
// the event shapes the post generator understands.
package github

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/commitcast/commitcast/backend/internal/models"
)

const (
	defaultBaseURL   = "https://api.github.com"
	activityCacheTTL = 5 * time.Minute
)

// Client calls the GitHub events API. Responses are cached per username so
// dashboard polling doesn't burn the API quota, and all outbound calls go
// through the limiter.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
	Limiter *rate.Limiter
	Cache   *gocache.Cache
	Logger  *log.Logger
}

func NewClient(token string) *Client {
	c := &Client{Token: token}
	c.ensureDefaults()
	return c
}

func (c *Client) ensureDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Limiter == nil {
		c.Limiter = limiterFromEnv()
	}
	if c.Cache == nil {
		c.Cache = gocache.New(activityCacheTTL, 10*time.Minute)
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Env vars, e.g.:
// GITHUB_API_RPS=0.5
// GITHUB_API_BURST=2
func limiterFromEnv() *rate.Limiter {
	rps := 2.0
	burst := 4
	if v := os.Getenv("GITHUB_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("GITHUB_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RecentActivity returns parsed events for username, newest first. Results
// are cached for five minutes; fresh bypasses and re-primes the cache.
func (c *Client) RecentActivity(ctx context.Context, username string, limit int, fresh bool) ([]models.GithubEvent, error) {
	c.ensureDefaults()
	if username == "" {
		return nil, fmt.Errorf("github username is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	key := fmt.Sprintf("activity:%s:%d", username, limit)
	if !fresh {
		if v, ok := c.Cache.Get(key); ok {
			if events, ok := v.([]models.GithubEvent); ok {
				return events, nil
			}
		}
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/users/%s/events/public?per_page=%d", c.BaseURL, username, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "token "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github events request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read github response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github events status=%d body=%s", resp.StatusCode, truncate(string(body), 600))
	}

	events := ParseEvents(body, time.Now())
	if len(events) > limit {
		events = events[:limit]
	}
	c.Cache.Set(key, events, gocache.DefaultExpiration)
	c.Logger.Printf("[GitHub] fetched username=%s events=%d fresh=%v", username, len(events), fresh)
	return events, nil
}

// ParseEvents extracts the supported event kinds from a raw events API
// response. Unsupported kinds and zero-commit pushes are dropped.
func ParseEvents(body []byte, now time.Time) []models.GithubEvent {
	events := make([]models.GithubEvent, 0)
	for _, ev := range gjson.ParseBytes(body).Array() {
		if e := parseEvent(ev, now); e != nil {
			events = append(events, *e)
		}
	}
	return events
}

func parseEvent(ev gjson.Result, now time.Time) *models.GithubEvent {
	repo := ev.Get("repo.name").String()
	e := models.GithubEvent{
		ID:   ev.Get("id").String(),
		Repo: repo,
	}
	if t, err := time.Parse(time.RFC3339, ev.Get("created_at").String()); err == nil {
		e.OccurredAt = t
		e.TimeAgo = timeAgo(now.Sub(t))
	} else {
		e.TimeAgo = "recently"
	}

	switch ev.Get("type").String() {
	case "PushEvent":
		commits := int(ev.Get("payload.commits.#").Int())
		// Branch deletes and force pushes show up as zero-commit pushes.
		if commits == 0 {
			return nil
		}
		e.Type = "push"
		e.Icon = "🚀"
		e.Title = fmt.Sprintf("Pushed %d commit%s to %s", commits, plural(commits), repo)
		e.Description = fmt.Sprintf("%d new commit%s", commits, plural(commits))
	case "PullRequestEvent":
		action := ev.Get("payload.action").String()
		if action == "" {
			action = "opened"
		}
		e.Type = "pull_request"
		e.Icon = "🔀"
		e.Title = fmt.Sprintf("Pull request #%d %s in %s", ev.Get("payload.pull_request.number").Int(), action, repo)
		e.Description = clip(ev.Get("payload.pull_request.title").String(), 100)
	case "CreateEvent":
		if ev.Get("payload.ref_type").String() != "repository" {
			return nil
		}
		e.Type = "new_repo"
		e.Icon = "✨"
		e.Title = fmt.Sprintf("Created new repository %s", repo)
		e.Description = ev.Get("payload.description").String()
		if e.Description == "" {
			e.Description = "New repository"
		}
	case "IssuesEvent":
		action := ev.Get("payload.action").String()
		if action == "" {
			action = "opened"
		}
		e.Type = "issue"
		e.Icon = "🐛"
		e.Title = fmt.Sprintf("Issue %s in %s", action, repo)
		e.Description = clip(ev.Get("payload.issue.title").String(), 100)
	case "ReleaseEvent":
		e.Type = "release"
		e.Icon = "🎉"
		e.Title = fmt.Sprintf("Released %s in %s", ev.Get("payload.release.tag_name").String(), repo)
		e.Description = clip(ev.Get("payload.release.name").String(), 100)
	default:
		return nil
	}
	return &e
}

func timeAgo(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if days := int(d.Hours() / 24); days > 0 {
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	}
	if hours := int(d.Hours()); hours > 0 {
		return fmt.Sprintf("%d hour%s ago", hours, plural(hours))
	}
	minutes := int(d.Minutes())
	return fmt.Sprintf("%d minute%s ago", minutes, plural(minutes))
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const eventsFixture = `[
  {
    "id": "101",
    "type": "PushEvent",
    "repo": {"name": "octocat/commitcast"},
    "created_at": "2026-08-25T10:00:00Z",
    "payload": {"commits": [{"sha": "a"}, {"sha": "b"}]}
  },
  {
    "id": "102",
    "type": "PushEvent",
    "repo": {"name": "octocat/commitcast"},
    "created_at": "2026-08-25T09:59:00Z",
    "payload": {"commits": []}
  },
  {
    "id": "103",
    "type": "PullRequestEvent",
    "repo": {"name": "octocat/widgets"},
    "created_at": "2026-08-24T12:00:00Z",
    "payload": {"action": "merged", "pull_request": {"number": 7, "title": "Add retry logic"}}
  },
  {
    "id": "104",
    "type": "CreateEvent",
    "repo": {"name": "octocat/newthing"},
    "created_at": "2026-08-23T12:00:00Z",
    "payload": {"ref_type": "repository"}
  },
  {
    "id": "105",
    "type": "CreateEvent",
    "repo": {"name": "octocat/newthing"},
    "created_at": "2026-08-23T12:01:00Z",
    "payload": {"ref_type": "branch"}
  },
  {
    "id": "106",
    "type": "IssuesEvent",
    "repo": {"name": "octocat/widgets"},
    "created_at": "2026-08-22T12:00:00Z",
    "payload": {"action": "opened", "issue": {"title": "Crash on empty input"}}
  },
  {
    "id": "107",
    "type": "ReleaseEvent",
    "repo": {"name": "octocat/commitcast"},
    "created_at": "2026-08-21T12:00:00Z",
    "payload": {"release": {"tag_name": "v1.2.0", "name": "Summer release"}}
  },
  {
    "id": "108",
    "type": "WatchEvent",
    "repo": {"name": "octocat/other"},
    "created_at": "2026-08-21T13:00:00Z",
    "payload": {}
  }
]`

func TestParseEvents_SupportedKinds(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	events := ParseEvents([]byte(eventsFixture), now)

	if len(events) != 5 {
		t.Fatalf("expected 5 parsed events, got %d", len(events))
	}

	push := events[0]
	if push.Type != "push" || push.Icon != "🚀" {
		t.Fatalf("push parsed wrong: %+v", push)
	}
	if push.Title != "Pushed 2 commits to octocat/commitcast" {
		t.Fatalf("push title=%q", push.Title)
	}
	if push.TimeAgo != "2 hours ago" {
		t.Fatalf("push time_ago=%q", push.TimeAgo)
	}

	pr := events[1]
	if pr.Type != "pull_request" || pr.Icon != "🔀" {
		t.Fatalf("pr parsed wrong: %+v", pr)
	}
	if pr.Title != "Pull request #7 merged in octocat/widgets" {
		t.Fatalf("pr title=%q", pr.Title)
	}
	if pr.Description != "Add retry logic" {
		t.Fatalf("pr description=%q", pr.Description)
	}

	repo := events[2]
	if repo.Type != "new_repo" || repo.Icon != "✨" || repo.Description != "New repository" {
		t.Fatalf("new repo parsed wrong: %+v", repo)
	}

	issue := events[3]
	if issue.Type != "issue" || issue.Icon != "🐛" {
		t.Fatalf("issue parsed wrong: %+v", issue)
	}

	rel := events[4]
	if rel.Type != "release" || rel.Icon != "🎉" {
		t.Fatalf("release parsed wrong: %+v", rel)
	}
	if rel.Title != "Released v1.2.0 in octocat/commitcast" {
		t.Fatalf("release title=%q", rel.Title)
	}
}

func TestTimeAgo(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "0 minutes ago"},
		{1 * time.Minute, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{1 * time.Hour, "1 hour ago"},
		{3 * time.Hour, "3 hours ago"},
		{25 * time.Hour, "1 day ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, c := range cases {
		if got := timeAgo(c.d); got != c.want {
			t.Fatalf("timeAgo(%v)=%q want %q", c.d, got, c.want)
		}
	}
}

func TestRecentActivity_CachesPerUsername(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/users/octocat/events/public" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token tok123" {
			t.Errorf("missing token header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, eventsFixture)
	}))
	defer srv.Close()

	c := NewClient("tok123")
	c.BaseURL = srv.URL

	events, err := c.RecentActivity(context.Background(), "octocat", 10, false)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}

	// Second call is served from cache.
	if _, err := c.RecentActivity(context.Background(), "octocat", 10, false); err != nil {
		t.Fatalf("RecentActivity cached: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}

	// fresh bypasses the cache.
	if _, err := c.RecentActivity(context.Background(), "octocat", 10, true); err != nil {
		t.Fatalf("RecentActivity fresh: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected fresh call to hit upstream, got calls=%d", calls)
	}
}

func TestRecentActivity_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("")
	c.BaseURL = srv.URL

	if _, err := c.RecentActivity(context.Background(), "ghost", 10, false); err == nil {
		t.Fatalf("expected error for 404 response")
	}
}

func TestRecentActivity_RequiresUsername(t *testing.T) {
	c := NewClient("")
	if _, err := c.RecentActivity(context.Background(), "", 10, false); err == nil {
		t.Fatalf("expected error for empty username")
	}
}

// Package usage holds the tier quota rules: how many posts a user may
// generate per day, how many they may keep scheduled, and when the daily
// window resets.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/commitcast/commitcast/backend/internal/models"
)

// Free tier caps. Paid tiers are unlimited (-1).
const (
	FreeDailyPosts     = 10
	FreeScheduledPosts = 10
)

// Limits describes what a tier allows. -1 means unlimited.
type Limits struct {
	DailyPosts     int
	ScheduledPosts int
}

var tierLimits = map[string]Limits{
	models.TierFree: {DailyPosts: FreeDailyPosts, ScheduledPosts: FreeScheduledPosts},
	models.TierPro:  {DailyPosts: -1, ScheduledPosts: -1},
	models.TierTeam: {DailyPosts: -1, ScheduledPosts: -1},
}

// LimitsFor returns the caps for a tier. Unknown tiers fall back to free.
func LimitsFor(tier string) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[models.TierFree]
}

// Check is the answer to "can this user do X right now".
type Check struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Remaining int    `json:"remaining"`
}

// TierFor reads the user's tier from settings. Missing rows and read errors
// both mean free; quota checks must not fail open on a flaky read.
func TierFor(ctx context.Context, db *sql.DB, userID string) string {
	var tier sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT tier FROM user_settings WHERE user_id = $1`, userID,
	).Scan(&tier)
	if err != nil || !tier.Valid {
		return models.TierFree
	}
	switch tier.String {
	case models.TierPro, models.TierTeam:
		return tier.String
	default:
		return models.TierFree
	}
}

// SnapshotForUser builds the authoritative quota view: published-today count,
// pending scheduled count, limits for the tier, and seconds until the next
// local midnight when the daily window resets.
func SnapshotForUser(ctx context.Context, db *sql.DB, userID string, now time.Time) (models.UsageSnapshot, error) {
	tier := TierFor(ctx, db, userID)

	postsToday, err := publishedTodayCount(ctx, db, userID, now)
	if err != nil {
		return models.UsageSnapshot{}, fmt.Errorf("count posts today: %w", err)
	}
	scheduled, err := pendingScheduledCount(ctx, db, userID)
	if err != nil {
		return models.UsageSnapshot{}, fmt.Errorf("count scheduled: %w", err)
	}

	snap := models.UsageSnapshot{
		Tier:           tier,
		PostsToday:     postsToday,
		ScheduledCount: scheduled,
	}

	lim := LimitsFor(tier)
	if lim.DailyPosts < 0 {
		snap.PostsLimit = -1
		snap.PostsRemaining = -1
		snap.ScheduledLimit = -1
		snap.ScheduledRemaining = -1
		return snap, nil
	}

	snap.PostsLimit = lim.DailyPosts
	snap.PostsRemaining = lim.DailyPosts - postsToday
	if snap.PostsRemaining < 0 {
		snap.PostsRemaining = 0
	}
	snap.ScheduledLimit = lim.ScheduledPosts
	snap.ScheduledRemaining = lim.ScheduledPosts - scheduled
	if snap.ScheduledRemaining < 0 {
		snap.ScheduledRemaining = 0
	}

	reset := NextMidnight(now)
	snap.ResetsInSeconds = int64(reset.Sub(now) / time.Second)
	resetsAt := reset.Format(time.RFC3339)
	snap.ResetsAt = &resetsAt
	return snap, nil
}

// CanGenerate reports whether the user may generate count more posts today.
func CanGenerate(ctx context.Context, db *sql.DB, userID string, count int, now time.Time) (Check, error) {
	tier := TierFor(ctx, db, userID)
	lim := LimitsFor(tier)
	if lim.DailyPosts < 0 {
		return Check{Allowed: true, Remaining: -1}, nil
	}
	if count < 1 {
		count = 1
	}

	postsToday, err := publishedTodayCount(ctx, db, userID, now)
	if err != nil {
		return Check{}, fmt.Errorf("count posts today: %w", err)
	}
	remaining := lim.DailyPosts - postsToday
	if remaining <= 0 {
		return Check{
			Reason: fmt.Sprintf("Daily limit reached. You've used all %d posts today.", lim.DailyPosts),
		}, nil
	}
	if count > remaining {
		return Check{
			Reason:    fmt.Sprintf("You can only generate %d more post(s) today.", remaining),
			Remaining: remaining,
		}, nil
	}
	return Check{Allowed: true, Remaining: remaining}, nil
}

// CanSchedule reports whether the user may add another scheduled post.
func CanSchedule(ctx context.Context, db *sql.DB, userID string, now time.Time) (Check, error) {
	tier := TierFor(ctx, db, userID)
	lim := LimitsFor(tier)
	if lim.ScheduledPosts < 0 {
		return Check{Allowed: true, Remaining: -1}, nil
	}

	scheduled, err := pendingScheduledCount(ctx, db, userID)
	if err != nil {
		return Check{}, fmt.Errorf("count scheduled: %w", err)
	}
	remaining := lim.ScheduledPosts - scheduled
	if remaining <= 0 {
		return Check{
			Reason: fmt.Sprintf("Scheduled posts limit reached. Free tier allows %d scheduled posts.", lim.ScheduledPosts),
		}, nil
	}
	return Check{Allowed: true, Remaining: remaining}, nil
}

// StatsForUser aggregates post history: totals, 30-day and 7-day windows,
// and week-over-week growth.
func StatsForUser(ctx context.Context, db *sql.DB, userID string, now time.Time) (models.UsageStats, error) {
	var stats models.UsageStats

	countWhere := func(cond string, args ...interface{}) (int, error) {
		var n int
		q := `SELECT COUNT(*) FROM post_history WHERE user_id = $1` + cond
		err := db.QueryRowContext(ctx, q, append([]interface{}{userID}, args...)...).Scan(&n)
		return n, err
	}

	var err error
	if stats.PostsGenerated, err = countWhere(""); err != nil {
		return stats, fmt.Errorf("count total: %w", err)
	}
	if stats.PostsPublished, err = countWhere(` AND status = $2`, models.StatusPublished); err != nil {
		return stats, fmt.Errorf("count published: %w", err)
	}

	monthAgo := now.Add(-30 * 24 * time.Hour).Unix()
	weekAgo := now.Add(-7 * 24 * time.Hour).Unix()
	twoWeeksAgo := now.Add(-14 * 24 * time.Hour).Unix()

	if stats.PostsThisMonth, err = countWhere(` AND created_at > $2`, monthAgo); err != nil {
		return stats, fmt.Errorf("count month: %w", err)
	}
	if stats.PostsThisWeek, err = countWhere(` AND created_at > $2`, weekAgo); err != nil {
		return stats, fmt.Errorf("count week: %w", err)
	}
	if stats.PostsLastWeek, err = countWhere(` AND created_at > $2 AND created_at <= $3`, twoWeeksAgo, weekAgo); err != nil {
		return stats, fmt.Errorf("count last week: %w", err)
	}

	switch {
	case stats.PostsLastWeek > 0:
		delta := float64(stats.PostsThisWeek-stats.PostsLastWeek) / float64(stats.PostsLastWeek)
		stats.GrowthPercentage = int(math.Round(delta * 100))
	case stats.PostsThisWeek > 0:
		stats.GrowthPercentage = 100
	}

	stats.DraftPosts = stats.PostsGenerated - stats.PostsPublished
	return stats, nil
}

// NextMidnight is the start of the next day in now's location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// StartOfDay is local midnight of now's day.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func publishedTodayCount(ctx context.Context, db *sql.DB, userID string, now time.Time) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		  FROM post_history
		 WHERE user_id = $1
		   AND status = $2
		   AND published_at >= $3
	`, userID, models.StatusPublished, StartOfDay(now).Unix()).Scan(&n)
	return n, err
}

func pendingScheduledCount(ctx context.Context, db *sql.DB, userID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		  FROM scheduled_posts
		 WHERE user_id = $1
		   AND status = $2
	`, userID, models.StatusPending).Scan(&n)
	return n, err
}

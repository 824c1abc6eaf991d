package handlers

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/google/uuid"
)

// processDueScheduledPostsOnce claims due scheduled posts and publishes them
// to LinkedIn.
//
// Claiming is done by setting publish_claim_id so multiple app instances
// never publish the same post twice.
func (h *Handler) processDueScheduledPostsOnce(ctx context.Context, limit int) (int, error) {
	if h == nil || h.db == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 25
	}

	type cand struct {
		id     int64
		userID string
	}

	now := h.now().Unix()
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, user_id
		  FROM scheduled_posts
		 WHERE status = $1
		   AND scheduled_time <= $2
		   AND publish_claim_id IS NULL
		 ORDER BY scheduled_time ASC
		 LIMIT $3
	`, models.StatusPending, now, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	cands := make([]cand, 0)
	for rows.Next() {
		var c cand
		if err := rows.Scan(&c.id, &c.userID); err != nil {
			return 0, err
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(cands) == 0 {
		return 0, nil
	}

	published := 0
	for _, c := range cands {
		claimID := uuid.NewString()
		log.Printf("[ScheduledPosts] candidate id=%d user=%s", c.id, c.userID)

		// Try to claim atomically (prevents multiple app instances from
		// publishing the same post).
		res, err := h.db.ExecContext(ctx, `
			UPDATE scheduled_posts
			   SET publish_claim_id = $1
			 WHERE id = $2
			   AND user_id = $3
			   AND status = $4
			   AND scheduled_time <= $5
			   AND publish_claim_id IS NULL
		`, claimID, c.id, c.userID, models.StatusPending, now)
		if err != nil {
			log.Printf("[ScheduledPosts] claim_failed id=%d user=%s err=%v", c.id, c.userID, err)
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			log.Printf("[ScheduledPosts] claim_skipped id=%d user=%s reason=not_due_or_already_claimed", c.id, c.userID)
			continue
		}

		// Load the content only after the claim so a lost race never reads
		// a row another instance owns.
		var content string
		var imageURL sql.NullString
		if err := h.db.QueryRowContext(ctx, `
			SELECT post_content, image_url
			  FROM scheduled_posts
			 WHERE id = $1 AND publish_claim_id = $2
		`, c.id, claimID).Scan(&content, &imageURL); err != nil {
			h.markPublishFailed(ctx, c.id, claimID, "load_failed")
			log.Printf("[ScheduledPosts] load_failed id=%d user=%s err=%v", c.id, c.userID, err)
			continue
		}

		if strings.TrimSpace(content) == "" {
			// Mark failed instead of retrying forever; the user can
			// reschedule after editing.
			h.markPublishFailed(ctx, c.id, claimID, "empty_content")
			log.Printf("[ScheduledPosts] skipped id=%d user=%s reason=empty_content", c.id, c.userID)
			continue
		}

		settings, ok, err := h.settingsFor(ctx, c.userID)
		var token, owner string
		if ok {
			if settings.LinkedInAccessToken != nil {
				token = *settings.LinkedInAccessToken
			}
			if settings.LinkedInOwnerURN != nil {
				owner = *settings.LinkedInOwnerURN
			}
		}
		if err != nil || token == "" || owner == "" {
			h.markPublishFailed(ctx, c.id, claimID, "linkedin_not_connected")
			log.Printf("[ScheduledPosts] skipped id=%d user=%s reason=linkedin_not_connected", c.id, c.userID)
			continue
		}

		urn, err := h.publish(ctx, token, owner, content, imageURL.String)
		if err != nil {
			h.markPublishFailed(ctx, c.id, claimID, truncate(err.Error(), 300))
			log.Printf("[ScheduledPosts] publish_failed id=%d user=%s err=%v", c.id, c.userID, err)
			continue
		}

		publishedAt := h.now().Unix()
		if _, err := h.db.ExecContext(ctx, `
			UPDATE scheduled_posts
			   SET status = $1, published_at = $2, error_message = NULL
			 WHERE id = $3 AND publish_claim_id = $4
		`, models.StatusPublished, publishedAt, c.id, claimID); err != nil {
			// The LinkedIn post exists; the claim stays set so nothing
			// retries it. Needs operator attention.
			log.Printf("[ScheduledPosts] mark_published_failed id=%d user=%s urn=%s err=%v", c.id, c.userID, urn, err)
			continue
		}

		// Published posts charge the daily quota through post_history.
		if _, err := h.db.ExecContext(ctx, `
			INSERT INTO post_history (user_id, post_content, post_type, status, linkedin_post_id, created_at, published_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.userID, content, "scheduled", models.HistoryPublished, urn, publishedAt, publishedAt); err != nil {
			log.Printf("[ScheduledPosts] history_insert_failed id=%d user=%s err=%v", c.id, c.userID, err)
		}

		published++
		log.Printf("[ScheduledPosts] published id=%d user=%s urn=%s", c.id, c.userID, urn)
	}

	return published, nil
}

func (h *Handler) markPublishFailed(ctx context.Context, id int64, claimID, reason string) {
	_, _ = h.db.ExecContext(ctx, `
		UPDATE scheduled_posts
		   SET status = $1, error_message = $2
		 WHERE id = $3 AND publish_claim_id = $4
	`, models.StatusFailed, reason, id, claimID)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// StartScheduledPostsWorker runs a periodic poller that publishes due
// scheduled posts. Enable it by wiring it from `main` using an env gate.
func (h *Handler) StartScheduledPostsWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log.Printf("[ScheduledPosts] worker started interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Log a lightweight summary periodically even when nothing is due.
	sweepCount := 0
	sweepStats := func() (due int, next sql.NullInt64) {
		if h == nil || h.db == nil {
			return 0, sql.NullInt64{}
		}
		now := h.now().Unix()
		_ = h.db.QueryRowContext(ctx, `
			SELECT COUNT(*)
			  FROM scheduled_posts
			 WHERE status = $1
			   AND scheduled_time <= $2
			   AND publish_claim_id IS NULL
		`, models.StatusPending, now).Scan(&due)
		_ = h.db.QueryRowContext(ctx, `
			SELECT MIN(scheduled_time)
			  FROM scheduled_posts
			 WHERE status = $1
			   AND scheduled_time > $2
		`, models.StatusPending, now).Scan(&next)
		return due, next
	}

	run := func() {
		sweepCount++
		limit := 25
		backoffs := []time.Duration{700 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}
		var n int
		var err error
		for attempt := 0; attempt < len(backoffs)+1; attempt++ {
			// Timebox each sweep attempt.
			sweepCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
			n, err = h.processDueScheduledPostsOnce(sweepCtx, limit)
			cancel()
			if err == nil {
				break
			}
			// Shrink the batch when the DB is under pressure.
			if strings.Contains(strings.ToLower(err.Error()), "out of memory") && limit > 5 {
				limit = 5
			}
			if attempt < len(backoffs) {
				log.Printf("[ScheduledPosts] sweep error attempt=%d/%d limit=%d err=%v", attempt+1, len(backoffs)+1, limit, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffs[attempt]):
				}
				continue
			}
		}
		if err != nil {
			log.Printf("[ScheduledPosts] sweep error final limit=%d err=%v", limit, err)
			return
		}
		if n > 0 {
			log.Printf("[ScheduledPosts] published=%d", n)
			return
		}
		// Every ~10 sweeps, print a summary so "nothing happening" is diagnosable.
		if sweepCount%10 == 0 {
			due, next := sweepStats()
			nextStr := ""
			if next.Valid {
				nextStr = time.Unix(next.Int64, 0).UTC().Format(time.RFC3339)
			}
			log.Printf("[ScheduledPosts] sweep ok published=0 due=%d next=%s", due, nextStr)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[ScheduledPosts] worker stopped err=%v", ctx.Err())
			return
		case <-ticker.C:
			run()
		}
	}
}

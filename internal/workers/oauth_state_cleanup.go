// Package workers holds background maintenance loops that belong to no
// handler: currently the janitor for abandoned OAuth authorization states.
package workers

import (
	"context"
	"database/sql"
	"log"
	"time"
)

// OAuthStateCleanupWorker deletes oauth_states rows whose authorization was
// never completed. A state older than MaxAge can no longer finish the flow,
// so keeping it around only grows the table.
type OAuthStateCleanupWorker struct {
	DB       *sql.DB
	MaxAge   time.Duration // how long an unconsumed state stays usable (default 30m)
	Interval time.Duration // how often to sweep (default 10m)
	Now      func() time.Time
}

// Start runs the cleanup loop until ctx is cancelled.
func (w *OAuthStateCleanupWorker) Start(ctx context.Context) {
	if w.MaxAge <= 0 {
		w.MaxAge = 30 * time.Minute
	}
	if w.Interval <= 0 {
		w.Interval = 10 * time.Minute
	}
	if w.Now == nil {
		w.Now = time.Now
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	log.Printf("[OAuthStateCleanup] started max_age=%s interval=%s", w.MaxAge, w.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[OAuthStateCleanup] stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *OAuthStateCleanupWorker) cleanup(ctx context.Context) {
	cutoff := w.Now().Add(-w.MaxAge).Unix()

	res, err := w.DB.ExecContext(ctx, `
		DELETE FROM oauth_states WHERE created_at < $1
	`, cutoff)
	if err != nil {
		log.Printf("[OAuthStateCleanup] error: %v", err)
		return
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		log.Printf("[OAuthStateCleanup] error getting rows affected: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[OAuthStateCleanup] deleted %d expired states", deleted)
	}
}

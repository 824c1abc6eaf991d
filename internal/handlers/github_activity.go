package handlers

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/samber/lo"
)

const (
	defaultActivityDays = 7
	maxActivityDays     = 90
	activityFetchLimit  = 100
)

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// githubUsername resolves the GitHub account to read for userID.
func (h *Handler) githubUsername(r *http.Request, userID string) (string, error) {
	settings, ok, err := h.settingsFor(r.Context(), userID)
	if err != nil {
		return "", err
	}
	if ok && settings.GithubUsername != nil {
		return *settings.GithubUsername, nil
	}
	return "", nil
}

func (h *Handler) recentEvents(r *http.Request, username string, days int, fresh bool) ([]models.GithubEvent, error) {
	events, err := h.github.RecentActivity(r.Context(), username, activityFetchLimit, fresh)
	if err != nil {
		return nil, err
	}
	cutoff := h.now().Add(-time.Duration(days) * 24 * time.Hour)
	return lo.Filter(events, func(ev models.GithubEvent, _ int) bool {
		return ev.OccurredAt.After(cutoff)
	}), nil
}

// GetGithubActivity returns the user's recent GitHub events, newest first,
// filtered to the last ?days (default 7). Served from the shared cache
// unless ?fresh=true.
func (h *Handler) GetGithubActivity(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}

	username, err := h.githubUsername(r, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if username == "" {
		writeError(w, http.StatusBadRequest, "GitHub username not configured. Set it in settings.")
		return
	}

	days := intQuery(r, "days", defaultActivityDays)
	if days > maxActivityDays {
		days = maxActivityDays
	}
	events, err := h.recentEvents(r, username, days, r.URL.Query().Get("fresh") == "true")
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"username": username,
		"events":   events,
		"count":    len(events),
	})
}

type scanGithubRequest struct {
	Days int `json:"days"`
}

// ScanGithubActivity forces a fresh pull of the events feed, bypassing the
// cache. The dashboard's "Scan now" button lands here.
func (h *Handler) ScanGithubActivity(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}

	var req scanGithubRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Days <= 0 {
		req.Days = defaultActivityDays
	}
	if req.Days > maxActivityDays {
		req.Days = maxActivityDays
	}

	username, err := h.githubUsername(r, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if username == "" {
		writeError(w, http.StatusBadRequest, "GitHub username not configured. Set it in settings.")
		return
	}

	events, err := h.recentEvents(r, username, req.Days, true)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	log.Printf("[GitHub] scan user=%s username=%s days=%d events=%d", userID, username, req.Days, len(events))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"username":   username,
		"events":     events,
		"count":      len(events),
		"scanned_at": h.now().Unix(),
	})
}

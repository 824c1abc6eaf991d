package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/commitcast/commitcast/backend/internal/ai"
	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/commitcast/commitcast/backend/internal/usage"
)

const (
	defaultBatchPosts = 3
	maxBatchPosts     = 10
)

// postTemplates is the static catalog the composer offers when there is no
// recent activity worth posting about.
var postTemplates = []models.Template{
	{
		ID:          "code_release",
		Name:        "Code Release",
		Description: "Announce a new version or release",
		Icon:        "🚀",
		Context:     map[string]any{"type": "milestone", "milestone": "v1.0.0"},
	},
	{
		ID:          "learning",
		Name:        "Learning Journey",
		Description: "Share what you learned",
		Icon:        "📚",
		Context:     map[string]any{"type": "generic"},
	},
	{
		ID:          "project_update",
		Name:        "Project Update",
		Description: "Share progress on a project",
		Icon:        "🔨",
		Context:     map[string]any{"type": "push", "commits": 5},
	},
	{
		ID:          "collaboration",
		Name:        "Collaboration",
		Description: "Thank contributors or collaborators",
		Icon:        "🤝",
		Context:     map[string]any{"type": "pull_request"},
	},
	{
		ID:          "new_project",
		Name:        "New Project",
		Description: "Announce a new repository",
		Icon:        "✨",
		Context:     map[string]any{"type": "new_repo"},
	},
}

func (h *Handler) GetTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": postTemplates})
}

// generationParams resolves the per-user Groq key and writing style, letting
// explicit request values win over stored settings.
func (h *Handler) generationParams(ctx context.Context, userID, requestStyle string) (userKey, style string, err error) {
	settings, ok, err := h.settingsFor(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if ok && settings.GroqAPIKey != nil {
		userKey = *settings.GroqAPIKey
	}
	style = requestStyle
	if style == "" && ok && settings.DefaultStyle != nil {
		style = *settings.DefaultStyle
	}
	return userKey, ai.NormalizeStyle(style), nil
}

type generatePreviewRequest struct {
	UserID string             `json:"user_id"`
	Event  models.GithubEvent `json:"event"`
	Style  string             `json:"style"`
}

// GeneratePreview drafts one post for an activity without saving or
// charging anything. The composer calls this as the user flips styles.
func (h *Handler) GeneratePreview(w http.ResponseWriter, r *http.Request) {
	var req generatePreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.requireUser(w, r, req.UserID) {
		return
	}
	if req.Event.Type == "" && req.Event.Title == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}

	userKey, style, err := h.generationParams(r.Context(), req.UserID, req.Style)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	content, err := h.ai.GeneratePost(r.Context(), userKey, req.Event, style)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "content": content, "style": style})
}

type generateBatchRequest struct {
	UserID   string `json:"user_id"`
	Days     int    `json:"days"`
	Style    string `json:"style"`
	MaxPosts int    `json:"max_posts"`
}

// GenerateBatch drafts posts for the user's recent activity and saves each
// as a draft. Drafts are free; the quota check only keeps a user from
// drafting more than they could still publish today. Per-activity failures
// are reported inline so one model hiccup doesn't sink the batch.
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req generateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.requireUser(w, r, req.UserID) {
		return
	}
	if req.Days <= 0 {
		req.Days = defaultActivityDays
	}
	if req.Days > maxActivityDays {
		req.Days = maxActivityDays
	}
	if req.MaxPosts <= 0 {
		req.MaxPosts = defaultBatchPosts
	}
	if req.MaxPosts > maxBatchPosts {
		req.MaxPosts = maxBatchPosts
	}

	check, err := usage.CanGenerate(r.Context(), h.db, req.UserID, req.MaxPosts, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !check.Allowed {
		writeError(w, http.StatusPaymentRequired, check.Reason)
		return
	}

	username, err := h.githubUsername(r, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if username == "" {
		writeError(w, http.StatusBadRequest, "GitHub username not configured. Set it in settings.")
		return
	}

	events, err := h.recentEvents(r, username, req.Days, false)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if len(events) > req.MaxPosts {
		events = events[:req.MaxPosts]
	}

	userKey, style, err := h.generationParams(r.Context(), req.UserID, req.Style)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]models.GeneratedPost, 0, len(events))
	generated, failed := 0, 0
	for _, ev := range events {
		result := models.GeneratedPost{
			ActivityID:    ev.ID,
			ActivityType:  ev.Type,
			ActivityTitle: ev.Title,
			Status:        models.HistoryDraft,
		}
		content, err := h.ai.GeneratePost(r.Context(), userKey, ev, style)
		if err != nil {
			msg := err.Error()
			result.Error = &msg
			result.Status = models.StatusFailed
			failed++
			results = append(results, result)
			continue
		}

		contextJSON, _ := json.Marshal(map[string]string{
			"activity_id": ev.ID,
			"type":        ev.Type,
			"repo":        ev.Repo,
			"title":       ev.Title,
		})
		post := models.HistoryPost{
			UserID:      req.UserID,
			PostContent: content,
			Context:     contextJSON,
			Status:      models.HistoryDraft,
			CreatedAt:   h.now().Unix(),
		}
		postType := style
		post.PostType = &postType
		if err := h.insertHistory(r.Context(), &post); err != nil {
			msg := err.Error()
			result.Error = &msg
			result.Status = models.StatusFailed
			failed++
			results = append(results, result)
			continue
		}

		result.ID = strconv.FormatInt(post.ID, 10)
		result.Content = &content
		generated++
		results = append(results, result)
	}

	log.Printf("[Generate] batch user=%s requested=%d generated=%d failed=%d", req.UserID, req.MaxPosts, generated, failed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"posts":           results,
		"generated_count": generated,
		"failed_count":    failed,
	})
}

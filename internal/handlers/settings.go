package handlers

import (
	"net/http"
	"strings"

	"github.com/commitcast/commitcast/backend/internal/ai"
)

// maskSecret hides the middle of a credential, keeping enough to recognize
// which key is stored without exposing it.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 12 {
		return "••••••••"
	}
	return s[:8] + "..." + s[len(s)-4:]
}

type settingsResponse struct {
	UserID           string `json:"user_id"`
	GithubUsername   string `json:"github_username"`
	GroqAPIKey       string `json:"groq_api_key"`
	HasGroq          bool   `json:"has_groq"`
	HasLinkedIn      bool   `json:"has_linkedin"`
	LinkedInOwnerURN string `json:"linkedin_owner_urn"`
	DefaultStyle     string `json:"default_style"`
	SubscriptionTier string `json:"subscription_tier"`
	UpdatedAt        int64  `json:"updated_at"`
}

// GetSettings returns the user's settings with secrets masked. The masked
// value tells the frontend a key is saved without ever shipping it back.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}
	settings, _, err := h.settingsFor(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := settingsResponse{
		UserID:           userID,
		SubscriptionTier: settings.Tier,
		UpdatedAt:        settings.UpdatedAt,
	}
	if settings.GithubUsername != nil {
		resp.GithubUsername = *settings.GithubUsername
	}
	if settings.GroqAPIKey != nil {
		resp.GroqAPIKey = maskSecret(*settings.GroqAPIKey)
		resp.HasGroq = *settings.GroqAPIKey != ""
	}
	if settings.LinkedInAccessToken != nil {
		resp.HasLinkedIn = *settings.LinkedInAccessToken != ""
	}
	if settings.LinkedInOwnerURN != nil {
		resp.LinkedInOwnerURN = *settings.LinkedInOwnerURN
	}
	if settings.DefaultStyle != nil {
		resp.DefaultStyle = *settings.DefaultStyle
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateSettingsRequest struct {
	GithubUsername string `json:"github_username"`
	GroqAPIKey     string `json:"groq_api_key"`
	DefaultStyle   string `json:"default_style"`
}

// cleanSecret drops values that are masks round-tripped from GetSettings so
// a settings save can never clobber a stored key with its own mask.
func cleanSecret(s string) string {
	if strings.Contains(s, "•") || strings.Contains(s, "...") {
		return ""
	}
	return strings.TrimSpace(s)
}

// UpdateSettings upserts the user's settings. Empty fields keep their
// stored values, so partial saves are safe.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}
	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	style := strings.TrimSpace(req.DefaultStyle)
	if style != "" {
		style = ai.NormalizeStyle(style)
	}

	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO user_settings (user_id, github_username, groq_api_key, default_style, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			github_username = COALESCE(NULLIF(EXCLUDED.github_username, ''), user_settings.github_username),
			groq_api_key = COALESCE(NULLIF(EXCLUDED.groq_api_key, ''), user_settings.groq_api_key),
			default_style = COALESCE(NULLIF(EXCLUDED.default_style, ''), user_settings.default_style),
			updated_at = EXCLUDED.updated_at
	`, userID, strings.TrimSpace(req.GithubUsername), cleanSecret(req.GroqAPIKey), style, h.now().Unix())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

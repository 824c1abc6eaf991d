package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"

	"github.com/commitcast/commitcast/backend/internal/linkedin"
	"github.com/google/uuid"
)

// LinkedInAuthorize starts the OAuth dance: mint a state, persist it, and
// bounce the browser to LinkedIn's consent page. The state row ties the
// callback back to our user id.
func (h *Handler) LinkedInAuthorize(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if h.oauth.ClientID == "" {
		writeError(w, http.StatusInternalServerError, "LinkedIn OAuth is not configured")
		return
	}

	state := uuid.NewString()
	if _, err := h.db.ExecContext(r.Context(), `
		INSERT INTO oauth_states (state, user_id, created_at) VALUES ($1, $2, $3)
	`, state, userID, h.now().Unix()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// LinkedInCallback finishes the dance: burn the state, swap the code for a
// token, resolve the member URN, and store both in settings.
func (h *Handler) LinkedInCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	var userID string
	err := h.db.QueryRowContext(r.Context(), `
		SELECT user_id FROM oauth_states WHERE state = $1
	`, state).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusBadRequest, "Invalid or expired authorization state")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// One-shot: a replayed callback must not reconnect.
	if _, err := h.db.ExecContext(r.Context(), `DELETE FROM oauth_states WHERE state = $1`, state); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tok, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("[LinkedIn] token exchange failed user=%s err=%v", userID, err)
		writeError(w, http.StatusBadGateway, "LinkedIn token exchange failed")
		return
	}
	info, err := h.linkedin.FetchUserinfo(r.Context(), tok.AccessToken)
	if err != nil {
		log.Printf("[LinkedIn] userinfo failed user=%s err=%v", userID, err)
		writeError(w, http.StatusBadGateway, "Failed to resolve LinkedIn identity")
		return
	}
	urn := linkedin.PersonURN(info.Sub)

	if _, err := h.db.ExecContext(r.Context(), `
		INSERT INTO user_settings (user_id, linkedin_access_token, linkedin_owner_urn, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			linkedin_access_token = EXCLUDED.linkedin_access_token,
			linkedin_owner_urn = EXCLUDED.linkedin_owner_urn,
			updated_at = EXCLUDED.updated_at
	`, userID, tok.AccessToken, urn, h.now().Unix()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[LinkedIn] connected user=%s", userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"connected": true,
		"name":      info.Name,
	})
}

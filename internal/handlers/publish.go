package handlers

import (
	"log"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/commitcast/commitcast/backend/internal/usage"
)

type publishNowRequest struct {
	PostContent string  `json:"post_content"`
	ImageURL    *string `json:"image_url"`
	PostID      int64   `json:"post_id"`
}

// PublishNow pushes content straight to LinkedIn and records it in history,
// charging the daily quota. Pass post_id to flip an existing draft to
// published instead of creating a new row.
func (h *Handler) PublishNow(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}
	var req publishNowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.PostContent = strings.TrimSpace(req.PostContent)
	if req.PostContent == "" {
		writeError(w, http.StatusBadRequest, "post_content is required")
		return
	}
	if utf8.RuneCountInString(req.PostContent) > maxPostLength {
		writeError(w, http.StatusBadRequest, "Post content exceeds 3000 characters")
		return
	}

	now := h.now()
	check, err := usage.CanGenerate(r.Context(), h.db, userID, 1, now)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !check.Allowed {
		writeError(w, http.StatusPaymentRequired, check.Reason)
		return
	}

	settings, ok, err := h.settingsFor(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var token, owner string
	if ok {
		if settings.LinkedInAccessToken != nil {
			token = *settings.LinkedInAccessToken
		}
		if settings.LinkedInOwnerURN != nil {
			owner = *settings.LinkedInOwnerURN
		}
	}
	if token == "" || owner == "" {
		writeError(w, http.StatusBadRequest, "LinkedIn not connected. Connect your account in settings.")
		return
	}

	var imageURL string
	if req.ImageURL != nil {
		imageURL = *req.ImageURL
	}
	urn, err := h.publish(r.Context(), token, owner, req.PostContent, imageURL)
	if err != nil {
		log.Printf("[Publish] failed user=%s err=%v", userID, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	publishedAt := now.Unix()
	recorded := false
	if req.PostID > 0 {
		res, err := h.db.ExecContext(r.Context(), `
			UPDATE post_history
			   SET status = $1, linkedin_post_id = $2, published_at = $3
			 WHERE id = $4 AND user_id = $5 AND status = $6
		`, models.HistoryPublished, urn, publishedAt, req.PostID, userID, models.HistoryDraft)
		if err == nil {
			n, _ := res.RowsAffected()
			recorded = n > 0
		}
	}
	if !recorded {
		postType := "manual"
		post := models.HistoryPost{
			UserID:         userID,
			PostContent:    req.PostContent,
			PostType:       &postType,
			Status:         models.HistoryPublished,
			LinkedInPostID: &urn,
			CreatedAt:      publishedAt,
			PublishedAt:    &publishedAt,
		}
		if err := h.insertHistory(r.Context(), &post); err != nil {
			// The LinkedIn post exists; surface the bookkeeping failure
			// rather than pretending nothing happened.
			log.Printf("[Publish] history_insert_failed user=%s urn=%s err=%v", userID, urn, err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	log.Printf("[Publish] published user=%s urn=%s", userID, urn)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"post_urn":     urn,
		"published_at": publishedAt,
	})
}

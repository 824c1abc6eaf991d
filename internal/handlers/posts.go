package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/commitcast/commitcast/backend/internal/models"
)

// insertHistory writes a post_history row and fills in its id.
func (h *Handler) insertHistory(ctx context.Context, p *models.HistoryPost) error {
	return h.db.QueryRowContext(ctx, `
		INSERT INTO post_history (user_id, post_content, post_type, context, status, linkedin_post_id, engagement, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, p.UserID, p.PostContent, p.PostType, rawOrNull(p.Context), p.Status,
		p.LinkedInPostID, rawOrNull(p.Engagement), p.CreatedAt, p.PublishedAt).Scan(&p.ID)
}

// rawOrNull stores JSON blobs as TEXT, writing NULL instead of "".
func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanHistoryPost(rows *sql.Rows) (models.HistoryPost, error) {
	var p models.HistoryPost
	var contextJSON, engagement sql.NullString
	err := rows.Scan(&p.ID, &p.UserID, &p.PostContent, &p.PostType, &contextJSON,
		&p.Status, &p.LinkedInPostID, &engagement, &p.CreatedAt, &p.PublishedAt)
	if contextJSON.Valid {
		p.Context = json.RawMessage(contextJSON.String)
	}
	if engagement.Valid {
		p.Engagement = json.RawMessage(engagement.String)
	}
	return p, err
}

type savePostRequest struct {
	UserID      string          `json:"user_id"`
	PostContent string          `json:"post_content"`
	PostType    *string         `json:"post_type"`
	Context     json.RawMessage `json:"context"`
}

// SavePost stores a hand-written or edited draft. Drafts never charge the
// quota; only publishing does.
func (h *Handler) SavePost(w http.ResponseWriter, r *http.Request) {
	var req savePostRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !h.requireUser(w, r, req.UserID) {
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

	post := models.HistoryPost{
		UserID:      req.UserID,
		PostContent: req.PostContent,
		PostType:    req.PostType,
		Context:     req.Context,
		Status:      models.HistoryDraft,
		CreatedAt:   h.now().Unix(),
	}
	if err := h.insertHistory(r.Context(), &post); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "post": post})
}

// ListPosts returns history newest first. ?status filters to
// draft/published and ?limit caps the page (default 50).
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	if !h.requireUser(w, r, userID) {
		return
	}
	limit := intQuery(r, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	query := `
		SELECT id, user_id, post_content, post_type, context, status, linkedin_post_id, engagement, created_at, published_at
		  FROM post_history
		 WHERE user_id = $1`
	args := []any{userID}
	if status := r.URL.Query().Get("status"); status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := h.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	posts := []models.HistoryPost{}
	for rows.Next() {
		p, err := scanHistoryPost(rows)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "posts": posts})
}

// DeletePost removes a post from history.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(pathVar(r, "postId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if !h.requireUser(w, r, userID) {
		return
	}

	res, err := h.db.ExecContext(r.Context(), `
		DELETE FROM post_history WHERE id = $1 AND user_id = $2
	`, postID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Post deleted"})
}

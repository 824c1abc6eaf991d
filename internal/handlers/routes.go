package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes attaches every API route to r. cmd/api wraps the router in
// auth, rate limiting and CORS; tests mount it bare.
func RegisterRoutes(h *Handler, r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	// Usage and quota
	r.HandleFunc("/api/usage/{userId}", h.GetUsage).Methods(http.MethodGet)
	r.HandleFunc("/api/usage/{userId}/stats", h.GetUsageStats).Methods(http.MethodGet)

	// Scheduling queue
	r.HandleFunc("/api/scheduled", h.CreateScheduledPost).Methods(http.MethodPost)
	r.HandleFunc("/api/scheduled/{userId}", h.ListScheduledPosts).Methods(http.MethodGet)
	r.HandleFunc("/api/scheduled/{postId:[0-9]+}", h.CancelScheduledPost).Methods(http.MethodDelete)
	r.HandleFunc("/api/scheduled/{postId:[0-9]+}", h.RescheduleScheduledPost).Methods(http.MethodPut)

	// GitHub activity
	r.HandleFunc("/api/github/{userId}/activity", h.GetGithubActivity).Methods(http.MethodGet)
	r.HandleFunc("/api/github/{userId}/scan", h.ScanGithubActivity).Methods(http.MethodPost)

	// Post generation
	r.HandleFunc("/api/generate/preview", h.GeneratePreview).Methods(http.MethodPost)
	r.HandleFunc("/api/generate/batch", h.GenerateBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/templates", h.GetTemplates).Methods(http.MethodGet)

	// Post history
	r.HandleFunc("/api/posts", h.SavePost).Methods(http.MethodPost)
	r.HandleFunc("/api/posts/{userId}", h.ListPosts).Methods(http.MethodGet)
	r.HandleFunc("/api/posts/{postId:[0-9]+}", h.DeletePost).Methods(http.MethodDelete)

	// Immediate publish
	r.HandleFunc("/api/publish/{userId}", h.PublishNow).Methods(http.MethodPost)

	// LinkedIn OAuth
	r.HandleFunc("/api/linkedin/authorize", h.LinkedInAuthorize).Methods(http.MethodGet)
	r.HandleFunc("/api/linkedin/callback", h.LinkedInCallback).Methods(http.MethodGet)

	// Settings
	r.HandleFunc("/api/settings/{userId}", h.GetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings/{userId}", h.UpdateSettings).Methods(http.MethodPut)

	// Billing
	r.HandleFunc("/api/billing/webhook", h.StripeWebhook).Methods(http.MethodPost)
}

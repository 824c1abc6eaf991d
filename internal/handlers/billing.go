package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/commitcast/commitcast/backend/internal/models"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const maxWebhookBody = 1 << 16

// StripeWebhook ingests subscription lifecycle events and keeps user tiers
// in sync. Checkout carries our user id as client_reference_id; later
// subscription events are matched through the stored Stripe customer id.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	// Verify webhook signature
	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, skipping signature verification")
	} else {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			log.Printf("[Billing][Webhook] missing Stripe-Signature header")
			writeError(w, http.StatusBadRequest, "Missing signature")
			return
		}

		event, err := webhook.ConstructEvent(payload, sig, webhookSecret)
		if err != nil {
			log.Printf("[Billing][Webhook] signature verification error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}

		h.processStripeEvent(r.Context(), event)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	// Fallback: process without verification (not recommended for production)
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		log.Printf("[Billing][Webhook] unmarshal error: %v", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	h.processStripeEvent(r.Context(), event)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) processStripeEvent(ctx context.Context, event stripe.Event) {
	if event.Data == nil {
		event.Data = &stripe.EventData{}
	}

	// Record first; the primary key makes redelivered events no-ops.
	res, err := h.db.ExecContext(ctx, `
		INSERT INTO billing_events (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.Type), string(event.Data.Raw), h.now().Unix())
	if err != nil {
		log.Printf("[Billing][Webhook] event save error: %v", err)
	} else if n, _ := res.RowsAffected(); n == 0 && event.ID != "" {
		log.Printf("[Billing][Webhook] duplicate event id=%s type=%s", event.ID, event.Type)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		h.handleSubscriptionEvent(ctx, event)
	case "customer.subscription.deleted":
		h.handleSubscriptionCancellation(ctx, event)
	default:
		log.Printf("[Billing][Webhook] unhandled event type: %s", event.Type)
	}
}

// tierFromMetadata maps checkout/subscription metadata to a tier. Paid flows
// without an explicit tier default to pro.
func tierFromMetadata(md map[string]string) string {
	switch md["tier"] {
	case models.TierTeam:
		return models.TierTeam
	case models.TierPro:
		return models.TierPro
	}
	return models.TierPro
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		log.Printf("[Billing][Checkout] unmarshal error: %v", err)
		return
	}
	userID := session.ClientReferenceID
	if userID == "" {
		log.Printf("[Billing][Checkout] session without client_reference_id id=%s", session.ID)
		return
	}
	var customerID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	tier := tierFromMetadata(session.Metadata)
	if err := h.setTier(ctx, userID, tier, customerID); err != nil {
		log.Printf("[Billing][Checkout] tier update error user=%s: %v", userID, err)
		return
	}
	h.tagBillingEvent(ctx, event.ID, userID)
	log.Printf("[Billing][Checkout] user=%s tier=%s customer=%s", userID, tier, customerID)
}

func (h *Handler) handleSubscriptionEvent(ctx context.Context, event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][SubscriptionEvent] unmarshal error: %v", err)
		return
	}
	if subscription.Customer == nil {
		return
	}
	userID, err := h.userByStripeCustomer(ctx, subscription.Customer.ID)
	if err != nil {
		log.Printf("[Billing][SubscriptionEvent] customer lookup error: %v", err)
		return
	}
	if userID == "" {
		log.Printf("[Billing][SubscriptionEvent] no user for customer=%s", subscription.Customer.ID)
		return
	}

	tier := tierFromMetadata(subscription.Metadata)
	switch subscription.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		tier = models.TierFree
	}
	if err := h.setTier(ctx, userID, tier, subscription.Customer.ID); err != nil {
		log.Printf("[Billing][SubscriptionEvent] tier update error user=%s: %v", userID, err)
		return
	}
	h.tagBillingEvent(ctx, event.ID, userID)
	log.Printf("[Billing][SubscriptionEvent] user=%s tier=%s status=%s", userID, tier, subscription.Status)
}

func (h *Handler) handleSubscriptionCancellation(ctx context.Context, event stripe.Event) {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		log.Printf("[Billing][CancellationEvent] unmarshal error: %v", err)
		return
	}
	if subscription.Customer == nil {
		return
	}
	userID, err := h.userByStripeCustomer(ctx, subscription.Customer.ID)
	if err != nil || userID == "" {
		log.Printf("[Billing][CancellationEvent] no user for customer=%s err=%v", subscription.Customer.ID, err)
		return
	}
	if err := h.setTier(ctx, userID, models.TierFree, subscription.Customer.ID); err != nil {
		log.Printf("[Billing][CancellationEvent] tier update error user=%s: %v", userID, err)
		return
	}
	h.tagBillingEvent(ctx, event.ID, userID)
	log.Printf("[Billing][CancellationEvent] user=%s downgraded to free", userID)
}

// setTier upserts the user's tier and remembers the Stripe customer id so
// later subscription events can find the user without a checkout session.
func (h *Handler) setTier(ctx context.Context, userID, tier, customerID string) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, tier, stripe_customer_id, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (user_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			stripe_customer_id = COALESCE(NULLIF(EXCLUDED.stripe_customer_id, ''), user_settings.stripe_customer_id),
			updated_at = EXCLUDED.updated_at
	`, userID, tier, customerID, h.now().Unix())
	return err
}

func (h *Handler) userByStripeCustomer(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", nil
	}
	var userID string
	err := h.db.QueryRowContext(ctx, `
		SELECT user_id FROM user_settings WHERE stripe_customer_id = $1
	`, customerID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return userID, err
}

func (h *Handler) tagBillingEvent(ctx context.Context, eventID, userID string) {
	if eventID == "" || userID == "" {
		return
	}
	if _, err := h.db.ExecContext(ctx, `
		UPDATE billing_events SET user_id = $1 WHERE id = $2
	`, userID, eventID); err != nil {
		log.Printf("[Billing][Webhook] event tag error id=%s: %v", eventID, err)
	}
}

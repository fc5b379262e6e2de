package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PortNumber53/social-autopilot/backend/internal/store"
	"github.com/PortNumber53/social-autopilot/backend/internal/tiers"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type billingConfig struct {
	webhookSecret string
	priceTiers    map[string]tiers.Tier
}

// WithStripe configures the billing webhook. priceTiers maps Stripe price IDs to tiers for
// prices that do not carry a "tier" metadata entry.
func WithStripe(webhookSecret string, priceTiers map[string]tiers.Tier) Option {
	return func(h *Handler, _ *[]store.Option) {
		h.billing = billingConfig{webhookSecret: strings.TrimSpace(webhookSecret), priceTiers: priceTiers}
	}
}

// ParsePriceTiers reads "price_a=PRO,price_b=BUSINESS".
func ParsePriceTiers(s string) (map[string]tiers.Tier, error) {
	out := make(map[string]tiers.Tier)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		price, tier, ok := strings.Cut(pair, "=")
		price, tier = strings.TrimSpace(price), strings.TrimSpace(tier)
		if !ok || price == "" || tier == "" {
			return nil, fmt.Errorf("invalid price mapping %q (want price_id=TIER)", pair)
		}
		out[price] = tiers.ParseTier(tier)
	}
	return out, nil
}

const maxWebhookBodyBytes = int64(65536)

// StripeWebhook applies subscription changes to the user's tier.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var event stripe.Event
	if h.billing.webhookSecret != "" {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			log.Printf("[Billing][Webhook] missing Stripe-Signature header")
			writeError(w, http.StatusBadRequest, "Missing signature")
			return
		}
		event, err = webhook.ConstructEventWithOptions(payload, sig, h.billing.webhookSecret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			log.Printf("[Billing][Webhook] signature verification error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
	} else {
		// Unsigned events only from loopback, for local testing with the Stripe CLI.
		if !isLocalhostRemoteAddr(r.RemoteAddr) {
			log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, refusing remote=%s", r.RemoteAddr)
			writeError(w, http.StatusServiceUnavailable, "Stripe webhook not configured")
			return
		}
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Printf("[Billing][Webhook] unmarshal error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	if err := h.processStripeEvent(r.Context(), event); err != nil {
		log.Printf("[Billing][Webhook] process error event=%s type=%s err=%v", event.ID, event.Type, err)
		writeError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) processStripeEvent(ctx context.Context, event stripe.Event) error {
	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}
	fresh, err := h.store.RecordBillingEvent(ctx, event.ID, string(event.Type), raw)
	if err != nil {
		log.Printf("[Billing][Webhook] event save error: %v", err)
	} else if !fresh {
		log.Printf("[Billing][Webhook] replay event=%s type=%s", event.ID, event.Type)
	}

	eventAt := h.now()
	if event.Created > 0 {
		eventAt = time.Unix(event.Created, 0)
	}

	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, raw)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionEvent(ctx, raw, eventAt)
	case "customer.subscription.deleted":
		return h.handleSubscriptionCancellation(ctx, raw, eventAt)
	default:
		log.Printf("[Billing][Webhook] unhandled event type: %s", event.Type)
		return nil
	}
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, raw []byte) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		log.Printf("[Billing][Checkout] unmarshal error: %v", err)
		return nil
	}
	userID := strings.TrimSpace(session.ClientReferenceID)
	if userID == "" || session.Customer == nil || session.Customer.ID == "" {
		log.Printf("[Billing][Checkout] session=%s missing client_reference_id or customer", session.ID)
		return nil
	}
	err := h.store.LinkStripeCustomer(ctx, userID, session.Customer.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[Billing][Checkout] unknown userId=%s", userID)
		return nil
	}
	return err
}

// tierForSubscription picks the first subscription item whose price maps to a tier.
func (h *Handler) tierForSubscription(sub *stripe.Subscription) (tiers.Tier, bool) {
	if sub.Items == nil {
		return "", false
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if t, ok := item.Price.Metadata["tier"]; ok && h.store.Policy().Known(tiers.Tier(t)) {
			return tiers.ParseTier(t), true
		}
		if t, ok := h.billing.priceTiers[item.Price.ID]; ok && h.store.Policy().Known(t) {
			return t, true
		}
	}
	return "", false
}

func (h *Handler) handleSubscriptionEvent(ctx context.Context, raw []byte, eventAt time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		log.Printf("[Billing][SubscriptionEvent] unmarshal error: %v", err)
		return nil
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		tier, ok := h.tierForSubscription(&sub)
		if !ok {
			log.Printf("[Billing][SubscriptionEvent] subscription=%s has no mapped price", sub.ID)
			return nil
		}
		return h.applyCustomerTier(ctx, sub.Customer, tier, eventAt)
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return h.applyCustomerTier(ctx, sub.Customer, tiers.Free, eventAt)
	default:
		log.Printf("[Billing][SubscriptionEvent] subscription=%s status=%s left unchanged", sub.ID, sub.Status)
		return nil
	}
}

func (h *Handler) handleSubscriptionCancellation(ctx context.Context, raw []byte, eventAt time.Time) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		log.Printf("[Billing][CancellationEvent] unmarshal error: %v", err)
		return nil
	}
	return h.applyCustomerTier(ctx, sub.Customer, tiers.Free, eventAt)
}

// applyCustomerTier sets the tier unless a newer event was already applied to the profile, so
// redeliveries arriving out of order cannot roll a cancellation back.
func (h *Handler) applyCustomerTier(ctx context.Context, customer *stripe.Customer, tier tiers.Tier, eventAt time.Time) error {
	if customer == nil || customer.ID == "" {
		return nil
	}
	userID, err := h.store.SetTierByStripeCustomer(ctx, customer.ID, tier, eventAt)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("[Billing][Tier] no profile for customer=%s", customer.ID)
		return nil
	}
	if errors.Is(err, store.ErrStaleEvent) {
		log.Printf("[Billing][Tier] ignoring stale event userId=%s customer=%s tier=%s eventAt=%s",
			userID, customer.ID, tier, eventAt.UTC().Format(time.RFC3339))
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("[Billing][Tier] userId=%s customer=%s tier=%s", userID, customer.ID, tier)
	h.emitEvent(userID, realtimeEvent{Type: "tier.changed", Status: string(tier)})
	return nil
}

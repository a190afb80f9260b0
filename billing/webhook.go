package billing

import (
	"context"
	"encoding/json"
	"log"

	"github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"dugsi-admin/core"
)

// ErrBadSignature is returned for webhook payloads that fail signature verification.
var ErrBadSignature = core.Invalid("invalid webhook signature")

// ErrNoSigningSecret is returned for every event when signatures are required but no secret
// is configured.
var ErrNoSigningSecret = core.Invalid("webhook signing secret is not configured")

// WebhookProcessor syncs local subscription rows from provider events.
type WebhookProcessor struct {
	repo             Repository
	secret           string
	requireSignature bool
}

// NewWebhookProcessor accepts unsigned payloads only when secret is empty and
// requireSignature is false.
func NewWebhookProcessor(repo Repository, secret string, requireSignature bool) *WebhookProcessor {
	if secret == "" {
		if requireSignature {
			log.Printf("[WEBHOOK][warn] no signing secret configured, every event will be rejected")
		} else {
			log.Printf("[WEBHOOK][warn] no signing secret configured, unsigned events are accepted")
		}
	}
	return &WebhookProcessor{repo: repo, secret: secret, requireSignature: requireSignature}
}

// Handle verifies payload when a secret is configured and applies subscription events. It
// reports whether the event changed a local row.
func (w *WebhookProcessor) Handle(ctx context.Context, payload []byte, signature string) (bool, error) {
	var event stripe.Event
	if w.secret == "" && w.requireSignature {
		log.Printf("[WEBHOOK][reject] signing secret missing")
		return false, ErrNoSigningSecret
	}
	if w.secret != "" {
		ev, err := webhook.ConstructEventWithOptions(payload, signature, w.secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			log.Printf("[WEBHOOK][reject] err=%v", err)
			return false, ErrBadSignature
		}
		event = ev
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return false, core.Invalid("invalid webhook payload")
	}

	switch event.Type {
	case "customer.subscription.updated", "customer.subscription.deleted":
	default:
		log.Printf("[WEBHOOK][ignored] type=%s", event.Type)
		return false, nil
	}
	if event.Data == nil {
		return false, core.Invalid("webhook event has no data")
	}
	var raw stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return false, errors.Wrap(err, "decoding subscription event")
	}
	sub := toSubscription(&raw)
	changed, err := w.repo.SyncState(ctx, sub)
	if err != nil {
		return false, err
	}
	log.Printf("[WEBHOOK][%s] sub=%s status=%s amount=%d known=%t", event.Type, sub.ID, sub.Status, sub.Amount, changed)
	return changed, nil
}

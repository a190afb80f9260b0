package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dugsi-admin/core"
)

const subscriptionUpdated = `{
	"id": "evt_1",
	"object": "event",
	"type": "customer.subscription.updated",
	"data": {"object": {
		"id": "sub_1",
		"object": "subscription",
		"status": "past_due",
		"customer": "cus_1",
		"current_period_start": 1767225600,
		"current_period_end": 1769904000,
		"items": {"object": "list", "data": [
			{"id": "si_1", "object": "subscription_item", "quantity": 1, "price": {"id": "price_1", "object": "price", "unit_amount": 8000, "currency": "usd"}}
		]}
	}}
}`

func TestWebhook_syncsSubscription(t *testing.T) {
	b := newMemBilling()
	b.link("fam-1", Subscription{ID: "sub_1", Status: "active", Amount: 16000})
	w := NewWebhookProcessor(b, "", false)

	changed, err := w.Handle(context.Background(), []byte(subscriptionUpdated), "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "past_due", b.records["sub_1"].Status)
	assert.Equal(t, int64(8000), b.records["sub_1"].Amount)
}

func TestWebhook_unknownSubscriptionIsIgnored(t *testing.T) {
	w := NewWebhookProcessor(newMemBilling(), "", false)

	changed, err := w.Handle(context.Background(), []byte(subscriptionUpdated), "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWebhook_otherEventsAreIgnored(t *testing.T) {
	w := NewWebhookProcessor(newMemBilling(), "", false)

	changed, err := w.Handle(context.Background(), []byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{}}}`), "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWebhook_rejectsBadInput(t *testing.T) {
	signed := NewWebhookProcessor(newMemBilling(), "whsec_test", true)
	_, err := signed.Handle(context.Background(), []byte(subscriptionUpdated), "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)

	unsigned := NewWebhookProcessor(newMemBilling(), "", false)
	_, err = unsigned.Handle(context.Background(), []byte(`not json`), "")
	_, ok := core.AsValidation(err)
	assert.True(t, ok)
}

func TestWebhook_requiredSignatureWithoutSecretRejectsEverything(t *testing.T) {
	b := newMemBilling()
	b.link("fam-1", Subscription{ID: "sub_1", Status: "active", Amount: 16000})
	w := NewWebhookProcessor(b, "", true)

	changed, err := w.Handle(context.Background(), []byte(subscriptionUpdated), "")
	assert.ErrorIs(t, err, ErrNoSigningSecret)
	assert.False(t, changed)
	assert.Equal(t, "active", b.records["sub_1"].Status)
	assert.Equal(t, int64(16000), b.records["sub_1"].Amount)
}

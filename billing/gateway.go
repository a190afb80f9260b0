package billing

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"dugsi-admin/config"
	"dugsi-admin/core"
)

// Subscription is the provider's view of a recurring payment.
type Subscription struct {
	ID                 string
	Status             string
	CustomerID         string
	CustomerName       string
	CustomerEmail      string
	Currency           string
	Amount             int64
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// Active reports whether the subscription still bills the family.
func (s Subscription) Active() bool {
	return isActiveStatus(s.Status)
}

var activeStatuses = []string{"active", "trialing", "past_due"}

func isActiveStatus(status string) bool {
	for _, a := range activeStatuses {
		if status == a {
			return true
		}
	}
	return false
}

// Gateway is the payment provider. Failures are returned as *core.ProviderError.
type Gateway interface {
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	UpdateSubscriptionAmount(ctx context.Context, id string, amount int64) (Subscription, error)
	CancelSubscription(ctx context.Context, id string) (Subscription, error)
	UpdateCustomer(ctx context.Context, customerID, name, email string) error
	VerifyMicrodeposits(ctx context.Context, paymentIntentID, descriptorCode string) (string, error)
}

// StripeGateway talks to Stripe. A nil *StripeGateway (no secret key configured) fails
// every call with a provider error.
type StripeGateway struct {
	secretKey string
	productID string
	currency  string
	sc        *client.API
}

var _ Gateway = (*StripeGateway)(nil) // interface compliance check

var errNotConfigured = &core.ProviderError{Code: "not_configured", Message: "Stripe is not configured"}

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripeGateway returns nil when no secret key is configured.
func NewStripeGateway(cfg config.Stripe) *StripeGateway {
	if cfg.SecretKey == "" {
		log.Printf("[STRIPE][init] secret key missing, billing calls disabled")
		return nil
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	log.Printf("[STRIPE][init] key=%s", maskKey(cfg.SecretKey))
	return &StripeGateway{secretKey: cfg.SecretKey, productID: cfg.ProductID, currency: cfg.Currency, sc: sc}
}

func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	if g == nil {
		return Subscription{}, errNotConfigured
	}
	sub, err := g.fetch(ctx, id)
	if err != nil {
		return Subscription{}, g.providerError("get", err)
	}
	return toSubscription(sub), nil
}

func (g *StripeGateway) fetch(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("customer")
	return g.sc.Subscriptions.Get(id, params)
}

// UpdateSubscriptionAmount replaces the price of the subscription's first item with an inline
// price of amount cents per interval and deletes every other item, so the subscription bills
// exactly amount. No proration is charged.
func (g *StripeGateway) UpdateSubscriptionAmount(ctx context.Context, id string, amount int64) (Subscription, error) {
	if g == nil {
		return Subscription{}, errNotConfigured
	}
	if amount <= 0 {
		return Subscription{}, errors.Errorf("refusing to set subscription %s to %d", id, amount)
	}
	cur, err := g.fetch(ctx, id)
	if err != nil {
		return Subscription{}, g.providerError("update", err)
	}
	if cur.Items == nil || len(cur.Items.Data) == 0 {
		return Subscription{}, &core.ProviderError{Code: "no_items", Message: "Subscription has no billable items"}
	}
	item := cur.Items.Data[0]

	productID, currency, interval := g.productID, g.currency, "month"
	if item.Price != nil {
		if item.Price.Product != nil && item.Price.Product.ID != "" {
			productID = item.Price.Product.ID
		}
		if item.Price.Currency != "" {
			currency = string(item.Price.Currency)
		}
		if item.Price.Recurring != nil && item.Price.Recurring.Interval != "" {
			interval = string(item.Price.Recurring.Interval)
		}
	}

	items := []*stripe.SubscriptionItemsParams{{
		ID: stripe.String(item.ID),
		PriceData: &stripe.SubscriptionItemPriceDataParams{
			Currency:   stripe.String(currency),
			Product:    stripe.String(productID),
			UnitAmount: stripe.Int64(amount),
			Recurring:  &stripe.SubscriptionItemPriceDataRecurringParams{Interval: stripe.String(interval)},
		},
		Quantity: stripe.Int64(1),
	}}
	for _, extra := range cur.Items.Data[1:] {
		items = append(items, &stripe.SubscriptionItemsParams{ID: stripe.String(extra.ID), Deleted: stripe.Bool(true)})
	}

	params := &stripe.SubscriptionParams{Items: items, ProrationBehavior: stripe.String("none")}
	params.Context = ctx
	params.AddExpand("customer")
	sub, err := g.sc.Subscriptions.Update(id, params)
	if err != nil {
		return Subscription{}, g.providerError("update", err)
	}
	out := toSubscription(sub)
	if out.Amount != amount {
		log.Printf("[STRIPE][update] sub=%s requested=%d billed=%d", id, amount, out.Amount)
		return Subscription{}, &core.ProviderError{
			Code:    "amount_mismatch",
			Message: fmt.Sprintf("Subscription bills %d after update, expected %d", out.Amount, amount),
		}
	}
	log.Printf("[STRIPE][update] sub=%s amount=%d removed_items=%d", id, amount, len(items)-1)
	return out, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, id string) (Subscription, error) {
	if g == nil {
		return Subscription{}, errNotConfigured
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := g.sc.Subscriptions.Cancel(id, params)
	if err != nil {
		return Subscription{}, g.providerError("cancel", err)
	}
	log.Printf("[STRIPE][cancel] sub=%s status=%s", id, sub.Status)
	return toSubscription(sub), nil
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customerID, name, email string) error {
	if g == nil {
		return errNotConfigured
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if name != "" {
		params.Name = stripe.String(name)
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	if _, err := g.sc.Customers.Update(customerID, params); err != nil {
		return g.providerError("customer", err)
	}
	return nil
}

// VerifyMicrodeposits confirms a bank account with the statement descriptor code and
// returns the payment intent's resulting status.
func (g *StripeGateway) VerifyMicrodeposits(ctx context.Context, paymentIntentID, descriptorCode string) (string, error) {
	if g == nil {
		return "", errNotConfigured
	}
	params := &stripe.PaymentIntentVerifyMicrodepositsParams{DescriptorCode: stripe.String(descriptorCode)}
	params.Context = ctx
	pi, err := g.sc.PaymentIntents.VerifyMicrodeposits(paymentIntentID, params)
	if err != nil {
		return "", g.providerError("verify", err)
	}
	return string(pi.Status), nil
}

func (g *StripeGateway) providerError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		log.Printf("[STRIPE][%s] error: %v", op, err)
		return &core.ProviderError{Code: "api_connection_error", Message: "Could not reach Stripe", Err: err}
	}
	if se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key") {
		log.Printf("[STRIPE][%s] invalid api key (%s): %v", op, maskKey(g.secretKey), se)
		return &core.ProviderError{Code: "invalid_api_key", Message: "Stripe rejected the API key", Err: err}
	}
	log.Printf("[STRIPE][%s] code=%s status=%d msg=%s", op, se.Code, se.HTTPStatusCode, se.Msg)
	return &core.ProviderError{Code: string(se.Code), Message: se.Msg, Err: err}
}

func toSubscription(sub *stripe.Subscription) Subscription {
	out := Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Currency: string(sub.Currency),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
		out.CustomerName = sub.Customer.Name
		out.CustomerEmail = sub.Customer.Email
	}
	if sub.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			qty := item.Quantity
			if qty == 0 {
				qty = 1
			}
			out.Amount += item.Price.UnitAmount * qty
		}
	}
	return out
}

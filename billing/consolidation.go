package billing

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"dugsi-admin/core"
	"dugsi-admin/students"
)

// FieldMismatch is a customer field whose provider value differs from the family record.
type FieldMismatch struct {
	Field         string `json:"field"`
	StripeValue   string `json:"stripeValue"`
	DatabaseValue string `json:"databaseValue"`
}

type SubscriptionSummary struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	CustomerID       string     `json:"customerId"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

type ConsolidationPreview struct {
	Subscription        SubscriptionSummary `json:"subscription"`
	StripeCustomerName  string              `json:"stripeCustomerName"`
	StripeCustomerEmail string              `json:"stripeCustomerEmail"`
	FamilyID            string              `json:"familyId"`
	FamilyName          string              `json:"familyName"`
	FamilyEmail         string              `json:"familyEmail"`
	ChildrenNames       []string            `json:"childrenNames"`
	ActiveChildrenCount int                 `json:"activeChildrenCount"`
	ExpectedAmount      int64               `json:"expectedAmount"`
	Mismatches          []FieldMismatch     `json:"mismatches"`
	IsAlreadyLinked     bool                `json:"isAlreadyLinked"`
	LinkedFamilyID      string              `json:"linkedFamilyId,omitempty"`
}

type ConsolidationRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,stripe_sub"`
	FamilyID       string `json:"familyId" validate:"required,max=36"`
}

type ConsolidateInput struct {
	SubscriptionID     string `json:"subscriptionId" validate:"required,stripe_sub"`
	FamilyID           string `json:"familyId" validate:"required,max=36"`
	SyncStripeCustomer bool   `json:"syncStripeCustomer"`
	ForceOverride      bool   `json:"forceOverride"`
}

type ConsolidateResult struct {
	SubscriptionID   string `json:"subscriptionId"`
	FamilyID         string `json:"familyId"`
	BillingAccountID string `json:"billingAccountId"`
	MovedFrom        string `json:"movedFrom,omitempty"`
	CustomerSynced   bool   `json:"customerSynced"`
	Warning          string `json:"-"`
}

const acknowledgeMove = "This subscription is already linked to another family. You must acknowledge the move to continue."

type consolidationState struct {
	sub     Subscription
	members []students.ProfileGraph
	linked  *Record
}

func (s *Service) loadConsolidation(ctx context.Context, subscriptionID, familyID string) (consolidationState, error) {
	var st consolidationState
	members, err := s.students.FindByFamilyReference(ctx, familyID)
	if err != nil {
		return st, err
	}
	if len(members) == 0 {
		return st, core.NotFound("Family not found")
	}
	sub, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return st, err
	}
	linked, err := s.repo.ByStripeID(ctx, subscriptionID)
	if err != nil {
		return st, err
	}
	st.sub, st.members, st.linked = sub, members, linked
	return st, nil
}

func (st consolidationState) linkedElsewhere(familyID string) bool {
	return st.linked != nil && st.linked.FamilyReferenceID != familyID
}

// familyContact is the primary guardian of the first member that has one.
func familyContact(members []students.ProfileGraph) *students.Guardian {
	for _, m := range members {
		if p := m.Primary(); p != nil {
			return p
		}
	}
	return nil
}

// PreviewConsolidation compares the provider subscription's customer against the family
// record. Nothing is written.
func (s *Service) PreviewConsolidation(ctx context.Context, req ConsolidationRequest) (ConsolidationPreview, error) {
	req.SubscriptionID = core.CleanString(req.SubscriptionID)
	req.FamilyID = core.CleanString(req.FamilyID)
	if err := core.ValidateStruct(req); err != nil {
		return ConsolidationPreview{}, err
	}
	st, err := s.loadConsolidation(ctx, req.SubscriptionID, req.FamilyID)
	if err != nil {
		return ConsolidationPreview{}, err
	}

	active := lo.CountBy(st.members, func(p students.ProfileGraph) bool { return p.Status.Active() })
	p := ConsolidationPreview{
		Subscription: SubscriptionSummary{
			ID:         st.sub.ID,
			Status:     st.sub.Status,
			Amount:     st.sub.Amount,
			Currency:   st.sub.Currency,
			CustomerID: st.sub.CustomerID,
		},
		StripeCustomerName:  st.sub.CustomerName,
		StripeCustomerEmail: st.sub.CustomerEmail,
		FamilyID:            req.FamilyID,
		ChildrenNames:       lo.Map(st.members, func(p students.ProfileGraph, _ int) string { return p.Name }),
		ActiveChildrenCount: active,
		ExpectedAmount:      s.rates.MonthlyRate(active),
		IsAlreadyLinked:     st.linkedElsewhere(req.FamilyID),
	}
	if !st.sub.CurrentPeriodEnd.IsZero() {
		end := st.sub.CurrentPeriodEnd
		p.Subscription.CurrentPeriodEnd = &end
	}
	if p.IsAlreadyLinked {
		p.LinkedFamilyID = st.linked.FamilyReferenceID
	}
	if g := familyContact(st.members); g != nil {
		p.FamilyName, p.FamilyEmail = g.Name, g.Email.String
	}
	p.Mismatches = compareCustomer(st.sub, p.FamilyName, p.FamilyEmail)
	return p, nil
}

func compareCustomer(sub Subscription, name, email string) []FieldMismatch {
	out := []FieldMismatch{}
	if !core.SameText(sub.CustomerName, name) {
		out = append(out, FieldMismatch{Field: "name", StripeValue: sub.CustomerName, DatabaseValue: name})
	}
	if !core.SameText(sub.CustomerEmail, email) {
		out = append(out, FieldMismatch{Field: "email", StripeValue: sub.CustomerEmail, DatabaseValue: email})
	}
	return out
}

// Consolidate links an externally created subscription to the family's billing account.
// Moving a subscription away from another family requires ForceOverride. With
// SyncStripeCustomer the family contact is pushed to the provider customer afterwards; a
// failure there keeps the link and is returned as a warning.
func (s *Service) Consolidate(ctx context.Context, in ConsolidateInput) (ConsolidateResult, error) {
	in.SubscriptionID = core.CleanString(in.SubscriptionID)
	in.FamilyID = core.CleanString(in.FamilyID)
	if err := core.ValidateStruct(in); err != nil {
		return ConsolidateResult{}, err
	}
	st, err := s.loadConsolidation(ctx, in.SubscriptionID, in.FamilyID)
	if err != nil {
		return ConsolidateResult{}, err
	}
	if st.linkedElsewhere(in.FamilyID) && !in.ForceOverride {
		return ConsolidateResult{}, core.NewValidationError(errors.New(acknowledgeMove),
			core.FieldError{Field: "forceOverride", Error: "must acknowledge move"})
	}

	contact := familyContact(st.members)
	res := ConsolidateResult{SubscriptionID: in.SubscriptionID, FamilyID: in.FamilyID}
	if st.linkedElsewhere(in.FamilyID) {
		res.MovedFrom = st.linked.FamilyReferenceID
	}
	err = s.tx.InTx(ctx, func(tx sqlx.ExtContext) error {
		var personID string
		if contact != nil {
			personID = contact.PersonID
		}
		acc, err := s.repo.EnsureAccount(ctx, in.FamilyID, personID, st.sub.CustomerID, tx)
		if err != nil {
			return err
		}
		res.BillingAccountID = acc.ID
		return s.repo.Link(ctx, acc.ID, st.sub, tx)
	})
	if err != nil {
		return ConsolidateResult{}, err
	}
	log.Printf("[CONSOLIDATE][ok] sub=%s family=%s moved_from=%s", in.SubscriptionID, in.FamilyID, res.MovedFrom)

	if in.SyncStripeCustomer {
		switch {
		case contact == nil:
			res.Warning = "Subscription linked, but the family has no guardian to copy to Stripe."
		case st.sub.CustomerID == "":
			res.Warning = "Subscription linked, but it has no Stripe customer to update."
		default:
			if err := s.gateway.UpdateCustomer(ctx, st.sub.CustomerID, contact.Name, contact.Email.String); err != nil {
				log.Printf("[CONSOLIDATE][warn] customer sync failed customer=%s err=%v", st.sub.CustomerID, err)
				res.Warning = "Subscription linked, but the Stripe customer could not be updated: " + err.Error()
			} else {
				res.CustomerSynced = true
			}
		}
	}
	return res, nil
}

package billing

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"dugsi-admin/conn"
	"dugsi-admin/core"
	"dugsi-admin/students"
	"dugsi-admin/telemetry"
)

type Adjustment string

const (
	AdjustAuto   Adjustment = "auto_recalculate"
	AdjustKeep   Adjustment = "keep_current"
	AdjustCustom Adjustment = "custom_amount"
	AdjustCancel Adjustment = "cancel_subscription"
)

const (
	ActionUpdated   = "updated"
	ActionCanceled  = "canceled"
	ActionUnchanged = "unchanged"
)

const noSubscriptionWarning = "No active subscription was found for this family, so billing was not changed."

type WithdrawPreview struct {
	StudentID             string `json:"studentId"`
	StudentName           string `json:"studentName"`
	ActiveChildrenCount   int    `json:"activeChildrenCount"`
	RemainingActiveCount  int    `json:"remainingActiveCount"`
	CurrentAmount         int64  `json:"currentAmount"`
	RecalculatedAmount    int64  `json:"recalculatedAmount"`
	IsLastActiveChild     bool   `json:"isLastActiveChild"`
	HasActiveSubscription bool   `json:"hasActiveSubscription"`
	SubscriptionID        string `json:"subscriptionId,omitempty"`
}

type WithdrawInput struct {
	StudentID         string     `json:"-"`
	Reason            string     `json:"reason" validate:"required,max=64"`
	ReasonNote        string     `json:"reasonNote" validate:"omitempty,max=1000"`
	BillingAdjustment Adjustment `json:"billingAdjustment" validate:"required,billing_adjustment"`
	CustomAmount      int64      `json:"customAmount" validate:"omitempty,gt=0"`
}

type ReEnrollInput struct {
	StudentID         string     `json:"-"`
	BillingAdjustment Adjustment `json:"billingAdjustment" validate:"required,oneof=auto_recalculate keep_current custom_amount"`
	CustomAmount      int64      `json:"customAmount" validate:"omitempty,gt=0"`
}

// BillingChange describes what happened to the family's subscription.
type BillingChange struct {
	Action         string `json:"action"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	PreviousAmount int64  `json:"previousAmount"`
	NewAmount      int64  `json:"newAmount"`
}

type StatusResult struct {
	StudentID         string        `json:"studentId"`
	StudentName       string        `json:"studentName"`
	ActiveChildrenNow int           `json:"activeChildrenNow"`
	Billing           BillingChange `json:"billing"`
	Warning           string        `json:"-"`
}

type familyState struct {
	student students.ProfileGraph
	family  []students.ProfileGraph
	active  int
	sub     *Record
}

func (s *Service) loadFamily(ctx context.Context, studentID string, exec sqlx.ExtContext) (familyState, error) {
	var st familyState
	seed, err := s.students.GetProfile(ctx, studentID, exec)
	if err != nil {
		return st, err
	}
	family, err := s.students.FamilyOf(ctx, seed, exec)
	if err != nil {
		return st, err
	}
	sub, err := s.repo.ActiveForFamily(ctx, students.FamilyRefs(family), exec)
	if err != nil {
		return st, err
	}
	st.student, st.family, st.sub = seed, family, sub
	st.active = lo.CountBy(family, func(p students.ProfileGraph) bool { return p.Status.Active() })
	return st, nil
}

// GetWithdrawPreview computes the billing impact of withdrawing the student without changing
// anything.
func (s *Service) GetWithdrawPreview(ctx context.Context, studentID string) (WithdrawPreview, error) {
	st, err := s.loadFamily(ctx, studentID, nil)
	if err != nil {
		return WithdrawPreview{}, err
	}
	if !st.student.Status.Active() {
		return WithdrawPreview{}, core.Invalid("Student is already withdrawn")
	}
	remaining := st.active - 1
	p := WithdrawPreview{
		StudentID:            st.student.ID,
		StudentName:          st.student.Name,
		ActiveChildrenCount:  st.active,
		RemainingActiveCount: remaining,
		RecalculatedAmount:   s.rates.MonthlyRate(remaining),
		IsLastActiveChild:    remaining == 0,
	}
	if st.sub != nil {
		p.HasActiveSubscription = true
		p.SubscriptionID = st.sub.StripeSubscriptionID
		p.CurrentAmount = st.sub.Amount
	}
	return p, nil
}

func validateAdjustment(in interface{}, adj Adjustment, custom int64) error {
	if err := core.ValidateStruct(in); err != nil {
		return err
	}
	if adj == AdjustCustom && custom <= 0 {
		msg := "customAmount must be greater than 0 for a custom amount"
		return core.NewValidationError(errors.New(msg), core.FieldError{Field: "customAmount", Error: msg})
	}
	return nil
}

// WithdrawChild marks the student withdrawn and applies the billing adjustment in one
// transaction. A provider failure rolls the status change back.
func (s *Service) WithdrawChild(ctx context.Context, in WithdrawInput) (StatusResult, error) {
	in.Reason = core.CleanString(in.Reason)
	in.ReasonNote = core.CleanString(in.ReasonNote)
	if err := validateAdjustment(in, in.BillingAdjustment, in.CustomAmount); err != nil {
		return StatusResult{}, err
	}
	seed, err := s.students.GetProfile(ctx, in.StudentID)
	if err != nil {
		return StatusResult{}, err
	}
	if !seed.Status.Active() {
		return StatusResult{}, core.Invalid("Student is already withdrawn")
	}

	var res StatusResult
	var change BillingChange
	err = s.tx.InTx(ctx, func(tx sqlx.ExtContext) error {
		st, err := s.loadFamily(ctx, in.StudentID, tx)
		if err != nil {
			return err
		}
		remaining := st.active - 1
		statusChange := students.StatusChange{Status: students.StatusWithdrawn, Reason: in.Reason, Note: in.ReasonNote, At: s.now()}
		if err := s.students.SetStatus(ctx, []string{st.student.ID}, statusChange, tx); err != nil {
			return err
		}
		var warning string
		change, warning, err = s.adjust(ctx, tx, st.sub, in.BillingAdjustment, in.CustomAmount, remaining)
		if err != nil {
			return err
		}
		res = StatusResult{
			StudentID:         st.student.ID,
			StudentName:       st.student.Name,
			ActiveChildrenNow: remaining,
			Billing:           change,
			Warning:           warning,
		}
		return nil
	})
	if err != nil {
		s.flagInconsistency("WITHDRAW", err, change, in.StudentID)
		return StatusResult{}, err
	}
	log.Printf("[WITHDRAW][ok] student=%s adjustment=%s action=%s amount=%d->%d",
		in.StudentID, in.BillingAdjustment, change.Action, change.PreviousAmount, change.NewAmount)
	s.notifyWithdrawal(seed, []string{seed.Name}, change.Note())
	return res, nil
}

// ReEnrollChild moves a withdrawn student back to ENROLLED and applies the billing adjustment
// in one transaction.
func (s *Service) ReEnrollChild(ctx context.Context, in ReEnrollInput) (StatusResult, error) {
	if err := validateAdjustment(in, in.BillingAdjustment, in.CustomAmount); err != nil {
		return StatusResult{}, err
	}
	seed, err := s.students.GetProfile(ctx, in.StudentID)
	if err != nil {
		return StatusResult{}, err
	}
	if seed.Status != students.StatusWithdrawn {
		return StatusResult{}, core.Invalid("Student is not withdrawn")
	}

	var res StatusResult
	var change BillingChange
	err = s.tx.InTx(ctx, func(tx sqlx.ExtContext) error {
		st, err := s.loadFamily(ctx, in.StudentID, tx)
		if err != nil {
			return err
		}
		target := st.active + 1
		if err := s.students.SetStatus(ctx, []string{st.student.ID}, students.StatusChange{Status: students.StatusEnrolled}, tx); err != nil {
			return err
		}
		var warning string
		change, warning, err = s.adjust(ctx, tx, st.sub, in.BillingAdjustment, in.CustomAmount, target)
		if err != nil {
			return err
		}
		res = StatusResult{
			StudentID:         st.student.ID,
			StudentName:       st.student.Name,
			ActiveChildrenNow: target,
			Billing:           change,
			Warning:           warning,
		}
		return nil
	})
	if err != nil {
		s.flagInconsistency("RE_ENROLL", err, change, in.StudentID)
		return StatusResult{}, err
	}
	log.Printf("[RE_ENROLL][ok] student=%s adjustment=%s action=%s amount=%d->%d",
		in.StudentID, in.BillingAdjustment, change.Action, change.PreviousAmount, change.NewAmount)
	s.notifyReEnrollment(seed)
	return res, nil
}

// adjust applies adj to sub for a family that will have children active students. Auto
// recalculation with no children left cancels instead of billing zero.
func (s *Service) adjust(ctx context.Context, exec sqlx.ExtContext, sub *Record, adj Adjustment, custom int64, children int) (BillingChange, string, error) {
	if adj == AdjustKeep {
		change := BillingChange{Action: ActionUnchanged}
		if sub != nil {
			change.SubscriptionID = sub.StripeSubscriptionID
			change.PreviousAmount, change.NewAmount = sub.Amount, sub.Amount
		}
		return change, "", nil
	}
	if sub == nil {
		return BillingChange{Action: ActionUnchanged}, noSubscriptionWarning, nil
	}
	change := BillingChange{SubscriptionID: sub.StripeSubscriptionID, PreviousAmount: sub.Amount}

	var updated Subscription
	var err error
	switch {
	case adj == AdjustCancel, adj == AdjustAuto && children <= 0:
		updated, err = s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID)
		change.Action = ActionCanceled
	default:
		amount := custom
		if adj == AdjustAuto {
			amount = s.rates.MonthlyRate(children)
		}
		change.NewAmount = amount
		if amount == sub.Amount {
			change.Action = ActionUnchanged
			return change, "", nil
		}
		updated, err = s.gateway.UpdateSubscriptionAmount(ctx, sub.StripeSubscriptionID, amount)
		change.Action = ActionUpdated
	}
	if err != nil {
		return BillingChange{}, "", err
	}
	if change.Action == ActionUpdated && updated.Amount != change.NewAmount {
		log.Printf("[BILLING][adjust] sub=%s requested=%d billed=%d", sub.StripeSubscriptionID, change.NewAmount, updated.Amount)
		return BillingChange{}, "", &core.ProviderError{
			Code:    "amount_mismatch",
			Message: fmt.Sprintf("Subscription bills %d after update, expected %d", updated.Amount, change.NewAmount),
		}
	}
	if _, err := s.repo.SyncState(ctx, updated, exec); err != nil {
		return change, "", err
	}
	return change, "", nil
}

// flagInconsistency reports a provider change whose database side did not commit. It is
// not compensated.
func (s *Service) flagInconsistency(tag string, err error, change BillingChange, studentID string) {
	if change.Action == "" || change.Action == ActionUnchanged {
		return
	}
	var commitErr *conn.CommitError
	what := "subscription changed but database update failed"
	if errors.As(err, &commitErr) {
		what = "subscription changed but commit failed"
	}
	telemetry.Critical(tag, errors.Wrap(err, what), map[string]interface{}{
		"student_id":      studentID,
		"subscription_id": change.SubscriptionID,
		"action":          change.Action,
		"new_amount":      change.NewAmount,
	})
}

// Describe renders the result as the admin-facing success message.
func (r StatusResult) Describe(verb string) string {
	msg := fmt.Sprintf("%s %s.", r.StudentName, verb)
	switch r.Billing.Action {
	case ActionCanceled:
		msg += " Subscription canceled."
	case ActionUpdated:
		msg += fmt.Sprintf(" Subscription updated to %s/month.", FormatAmount(r.Billing.NewAmount))
	}
	return msg
}

// Note describes the change in a sentence for the guardian, or returns "" when billing did
// not change.
func (c BillingChange) Note() string {
	switch c.Action {
	case ActionCanceled:
		return "Your monthly subscription has been canceled."
	case ActionUpdated:
		return fmt.Sprintf("Your monthly billing is now %s.", FormatAmount(c.NewAmount))
	}
	return ""
}

// FormatAmount renders cents as dollars.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

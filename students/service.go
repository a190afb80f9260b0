package students

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"dugsi-admin/core"
	"dugsi-admin/telemetry"
)

// SubscriptionCanceler cancels the active subscription billed to any of the given family
// references and marks it canceled through exec. It reports whether anything was canceled.
type SubscriptionCanceler interface {
	CancelFamilySubscription(ctx context.Context, exec sqlx.ExtContext, familyRefs []string) (bool, error)
}

// Notifier is implemented by email.Mailer.
type Notifier interface {
	SendWithdrawalNotice(to, guardianName string, children []string, billingNote string) error
}

type Service struct {
	repo     Repository
	tx       core.TxRunner
	billing  SubscriptionCanceler
	notifier Notifier
	now      func() time.Time
}

func NewService(repo Repository, tx core.TxRunner, billing SubscriptionCanceler, notifier Notifier) *Service {
	return &Service{repo: repo, tx: tx, billing: billing, notifier: notifier, now: time.Now}
}

func (s *Service) ListRegistrations(ctx context.Context, filter Filter) ([]DugsiRegistration, error) {
	graphs, err := s.repo.ListProfiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	return ToRegistrations(graphs), nil
}

func (s *Service) GetRegistration(ctx context.Context, id string) (DugsiRegistration, error) {
	g, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return DugsiRegistration{}, err
	}
	return ToRegistration(g), nil
}

// ListFamilies groups every registration matching filter into sibling sets.
func (s *Service) ListFamilies(ctx context.Context, filter Filter) ([]FamilyGroup, error) {
	regs, err := s.ListRegistrations(ctx, filter)
	if err != nil {
		return nil, err
	}
	return GroupFamilies(regs), nil
}

// GetFamily returns the student's family, the student included.
func (s *Service) GetFamily(ctx context.Context, studentID string) ([]DugsiRegistration, error) {
	seed, err := s.repo.GetProfile(ctx, studentID)
	if err != nil {
		return nil, err
	}
	family, err := s.repo.FamilyOf(ctx, seed)
	if err != nil {
		return nil, err
	}
	return ToRegistrations(family), nil
}

func (s *Service) UpdateStudent(ctx context.Context, id string, upd StudentUpdate) (DugsiRegistration, error) {
	if err := core.ValidateStruct(upd); err != nil {
		return DugsiRegistration{}, err
	}
	if upd.Name != nil && core.CleanString(*upd.Name) == "" {
		return DugsiRegistration{}, core.Invalid("name cannot be blank")
	}
	if err := s.repo.UpdateStudent(ctx, id, upd); err != nil {
		return DugsiRegistration{}, err
	}
	return s.GetRegistration(ctx, id)
}

type DeleteFamilyResult struct {
	DeletedCount         int      `json:"deletedCount"`
	StudentNames         []string `json:"studentNames"`
	SubscriptionCanceled bool     `json:"subscriptionCanceled"`
}

// DeleteFamily removes every student in the seed student's family. The family's active
// subscription is canceled before any row is deleted, so a provider failure leaves the
// database untouched.
func (s *Service) DeleteFamily(ctx context.Context, seedStudentID string) (DeleteFamilyResult, error) {
	var res DeleteFamilyResult
	seed, err := s.repo.GetProfile(ctx, seedStudentID)
	if err != nil {
		return res, err
	}

	var providerDone bool
	err = s.tx.InTx(ctx, func(tx sqlx.ExtContext) error {
		family, err := s.repo.FamilyOf(ctx, seed, tx)
		if err != nil {
			return err
		}
		canceled, err := s.billing.CancelFamilySubscription(ctx, tx, FamilyRefs(family))
		providerDone = canceled
		if err != nil {
			return err
		}
		if err := s.repo.DeleteProfiles(ctx, family, tx); err != nil {
			return err
		}
		res = DeleteFamilyResult{
			DeletedCount:         len(family),
			StudentNames:         lo.Map(family, func(p ProfileGraph, _ int) string { return p.Name }),
			SubscriptionCanceled: canceled,
		}
		return nil
	})
	if err != nil {
		if providerDone {
			telemetry.Critical("FAMILY_DELETE", errors.Wrap(err, "subscription canceled but family delete failed"),
				map[string]interface{}{"student_id": seedStudentID})
		}
		return DeleteFamilyResult{}, err
	}
	log.Printf("[FAMILY_DELETE][ok] seed=%s deleted=%d subscription_canceled=%t", seedStudentID, res.DeletedCount, res.SubscriptionCanceled)
	return res, nil
}

type WithdrawAllInput struct {
	Reason     string `json:"reason" validate:"required,max=64"`
	ReasonNote string `json:"reasonNote" validate:"omitempty,max=1000"`
}

type WithdrawAllResult struct {
	WithdrawnCount       int      `json:"withdrawnCount"`
	StudentNames         []string `json:"studentNames"`
	SubscriptionCanceled bool     `json:"subscriptionCanceled"`
}

// WithdrawAllChildren withdraws every active child of the family and cancels its subscription
// in one transaction. Records are kept.
func (s *Service) WithdrawAllChildren(ctx context.Context, familyID string, in WithdrawAllInput) (WithdrawAllResult, error) {
	var res WithdrawAllResult
	in.Reason = core.CleanString(in.Reason)
	if err := core.ValidateStruct(in); err != nil {
		return res, err
	}
	if core.CleanString(familyID) == "" {
		return res, core.Invalid("familyId is required")
	}
	members, err := s.repo.FindByFamilyReference(ctx, familyID)
	if err != nil {
		return res, err
	}
	if len(members) == 0 {
		return res, core.NotFound("Family not found")
	}

	var providerDone bool
	err = s.tx.InTx(ctx, func(tx sqlx.ExtContext) error {
		family, err := s.repo.FamilyOf(ctx, members[0], tx)
		if err != nil {
			return err
		}
		active := lo.Filter(family, func(p ProfileGraph, _ int) bool { return p.Status.Active() })
		if len(active) == 0 {
			return core.Invalid("No active children to withdraw")
		}
		change := StatusChange{Status: StatusWithdrawn, Reason: in.Reason, Note: in.ReasonNote, At: s.now()}
		ids := lo.Map(active, func(p ProfileGraph, _ int) string { return p.ID })
		if err := s.repo.SetStatus(ctx, ids, change, tx); err != nil {
			return err
		}
		canceled, err := s.billing.CancelFamilySubscription(ctx, tx, FamilyRefs(family))
		providerDone = canceled
		if err != nil {
			return err
		}
		res = WithdrawAllResult{
			WithdrawnCount:       len(active),
			StudentNames:         lo.Map(active, func(p ProfileGraph, _ int) string { return p.Name }),
			SubscriptionCanceled: canceled,
		}
		return nil
	})
	if err != nil {
		if providerDone {
			telemetry.Critical("FAMILY_WITHDRAW", errors.Wrap(err, "subscription canceled but withdrawal not saved"),
				map[string]interface{}{"family_id": familyID})
		}
		return WithdrawAllResult{}, err
	}
	log.Printf("[FAMILY_WITHDRAW][ok] family=%s withdrawn=%d subscription_canceled=%t", familyID, res.WithdrawnCount, res.SubscriptionCanceled)
	note := ""
	if res.SubscriptionCanceled {
		note = "Your monthly subscription has been canceled."
	}
	s.notify(members[0], res.StudentNames, note)
	return res, nil
}

func (s *Service) notify(g ProfileGraph, children []string, billingNote string) {
	if s.notifier == nil {
		return
	}
	p := g.Primary()
	if p == nil || !p.Email.Valid {
		return
	}
	if err := s.notifier.SendWithdrawalNotice(p.Email.String, p.Name, children, billingNote); err != nil {
		log.Printf("[FAMILY_WITHDRAW][warn] notice not sent to=%s err=%v", p.Email.String, err)
	}
}

// FamilyRefs returns the distinct family references carried by the given profiles.
func FamilyRefs(family []ProfileGraph) []string {
	refs := lo.FilterMap(family, func(p ProfileGraph, _ int) (string, bool) {
		return p.FamilyReferenceID.String, p.FamilyReferenceID.Valid && p.FamilyReferenceID.String != ""
	})
	return lo.Uniq(refs)
}

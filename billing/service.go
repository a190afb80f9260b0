package billing

import (
	"context"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"dugsi-admin/core"
	"dugsi-admin/students"
)

// Notifier is implemented by email.Mailer.
type Notifier interface {
	SendWithdrawalNotice(to, guardianName string, children []string, billingNote string) error
	SendReEnrollmentNotice(to, guardianName, child string) error
}

type Service struct {
	students students.Repository
	repo     Repository
	gateway  Gateway
	tx       core.TxRunner
	rates    Schedule
	notifier Notifier
	now      func() time.Time
}

var _ students.SubscriptionCanceler = (*Service)(nil)

func NewService(studentRepo students.Repository, repo Repository, gateway Gateway, tx core.TxRunner, rates Schedule, notifier Notifier) *Service {
	return &Service{
		students: studentRepo,
		repo:     repo,
		gateway:  gateway,
		tx:       tx,
		rates:    rates,
		notifier: notifier,
		now:      time.Now,
	}
}

// CancelFamilySubscription cancels the family's active subscription with the provider and
// records the new state through exec. Nothing is written when the provider call fails.
func (s *Service) CancelFamilySubscription(ctx context.Context, exec sqlx.ExtContext, familyRefs []string) (bool, error) {
	rec, err := s.repo.ActiveForFamily(ctx, familyRefs, exec)
	if err != nil || rec == nil {
		return false, err
	}
	sub, err := s.gateway.CancelSubscription(ctx, rec.StripeSubscriptionID)
	if err != nil {
		return false, err
	}
	if _, err := s.repo.SyncState(ctx, sub, exec); err != nil {
		return true, err
	}
	log.Printf("[BILLING][cancel] sub=%s families=%v", rec.StripeSubscriptionID, familyRefs)
	return true, nil
}

func (s *Service) notifyWithdrawal(g students.ProfileGraph, children []string, billingNote string) {
	if s.notifier == nil {
		return
	}
	if p := g.Primary(); p != nil && p.Email.Valid {
		if err := s.notifier.SendWithdrawalNotice(p.Email.String, p.Name, children, billingNote); err != nil {
			log.Printf("[WITHDRAW][warn] notice not sent to=%s err=%v", p.Email.String, err)
		}
	}
}

func (s *Service) notifyReEnrollment(g students.ProfileGraph) {
	if s.notifier == nil {
		return
	}
	if p := g.Primary(); p != nil && p.Email.Valid {
		if err := s.notifier.SendReEnrollmentNotice(p.Email.String, p.Name, g.Name); err != nil {
			log.Printf("[RE_ENROLL][warn] notice not sent to=%s err=%v", p.Email.String, err)
		}
	}
}

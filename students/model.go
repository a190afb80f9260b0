package students

import (
	"database/sql"
	"time"
)

const Program = "DUGSI"

type Status string

const (
	StatusRegistered Status = "REGISTERED"
	StatusEnrolled   Status = "ENROLLED"
	StatusWithdrawn  Status = "WITHDRAWN"
)

// Active reports whether the student counts toward the family's billed children.
func (s Status) Active() bool {
	return s == StatusRegistered || s == StatusEnrolled
}

const (
	RolePrimary   = "PRIMARY"
	RoleSecondary = "SECONDARY"
)

// Profile is a child's enrollment record in the Dugsi program joined with its person row
// and the family's current billing subscription, if any.
type Profile struct {
	ID                string         `db:"id"`
	PersonID          string         `db:"person_id"`
	Status            Status         `db:"status"`
	Gender            sql.NullString `db:"gender"`
	GradeLevel        sql.NullString `db:"grade_level"`
	SchoolName        sql.NullString `db:"school_name"`
	HealthInfo        sql.NullString `db:"health_info"`
	FamilyReferenceID sql.NullString `db:"family_reference_id"`
	WithdrawalReason  sql.NullString `db:"withdrawal_reason"`
	WithdrawalNote    sql.NullString `db:"withdrawal_note"`
	WithdrawnAt       sql.NullTime   `db:"withdrawn_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`

	Name        string       `db:"name"`
	DateOfBirth sql.NullTime `db:"date_of_birth"`

	BillingAccountID     sql.NullString `db:"billing_account_id"`
	StripeCustomerID     sql.NullString `db:"stripe_customer_id"`
	StripeSubscriptionID sql.NullString `db:"stripe_subscription_id"`
	SubscriptionStatus   sql.NullString `db:"subscription_status"`
	SubscriptionAmount   sql.NullInt64  `db:"subscription_amount"`
	PaidUntil            sql.NullTime   `db:"current_period_end"`
}

type Guardian struct {
	DependentPersonID string         `db:"dependent_person_id"`
	Role              string         `db:"role"`
	PersonID          string         `db:"id"`
	Name              string         `db:"name"`
	Email             sql.NullString `db:"email"`
	Phone             sql.NullString `db:"phone"`
}

// ProfileGraph is a profile with its guardians, primary first.
type ProfileGraph struct {
	Profile
	Guardians []Guardian
}

// Primary returns the primary guardian, falling back to the first one listed.
func (g ProfileGraph) Primary() *Guardian {
	for i := range g.Guardians {
		if g.Guardians[i].Role == RolePrimary {
			return &g.Guardians[i]
		}
	}
	if len(g.Guardians) > 0 {
		return &g.Guardians[0]
	}
	return nil
}

// Secondary returns the first guardian that is not Primary().
func (g ProfileGraph) Secondary() *Guardian {
	primary := g.Primary()
	for i := range g.Guardians {
		if primary == nil || g.Guardians[i].PersonID != primary.PersonID {
			return &g.Guardians[i]
		}
	}
	return nil
}

type Filter struct {
	Status Status
	Search string
}

// StudentUpdate carries the editable fields; nil means unchanged.
type StudentUpdate struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=191"`
	Gender      *string `json:"gender" validate:"omitempty,oneof=MALE FEMALE"`
	DateOfBirth *string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	GradeLevel  *string `json:"gradeLevel" validate:"omitempty,max=32"`
	SchoolName  *string `json:"schoolName" validate:"omitempty,max=191"`
	HealthInfo  *string `json:"healthInfo" validate:"omitempty,max=2000"`
}

// StatusChange is applied to a set of profiles in one statement.
type StatusChange struct {
	Status Status
	Reason string
	Note   string
	At     time.Time
}

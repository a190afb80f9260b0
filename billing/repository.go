package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"dugsi-admin/conn"
)

type Account struct {
	ID                string         `db:"id"`
	FamilyReferenceID string         `db:"family_reference_id"`
	PersonID          sql.NullString `db:"person_id"`
	StripeCustomerID  sql.NullString `db:"stripe_customer_id"`
	CreatedAt         time.Time      `db:"created_at"`
}

// Record is the local copy of a provider subscription, joined with its billing account.
type Record struct {
	ID                   string         `db:"id"`
	BillingAccountID     string         `db:"billing_account_id"`
	StripeSubscriptionID string         `db:"stripe_subscription_id"`
	Status               string         `db:"status"`
	Amount               int64          `db:"amount"`
	Currency             string         `db:"currency"`
	CurrentPeriodStart   sql.NullTime   `db:"current_period_start"`
	CurrentPeriodEnd     sql.NullTime   `db:"current_period_end"`
	UpdatedAt            time.Time      `db:"updated_at"`
	FamilyReferenceID    string         `db:"family_reference_id"`
	StripeCustomerID     sql.NullString `db:"stripe_customer_id"`
}

const selectRecords = `
	SELECT s.id, s.billing_account_id, s.stripe_subscription_id, s.status, s.amount, s.currency,
		s.current_period_start, s.current_period_end, s.updated_at,
		ba.family_reference_id, ba.stripe_customer_id
	FROM subscriptions s
	JOIN billing_accounts ba ON ba.id = s.billing_account_id`

type Repository interface {
	// ActiveForFamily returns the most recently updated active subscription billed to any of
	// familyRefs, or nil.
	ActiveForFamily(ctx context.Context, familyRefs []string, exec ...sqlx.ExtContext) (*Record, error)
	// ByStripeID returns nil when the subscription is not linked to any family.
	ByStripeID(ctx context.Context, stripeID string, exec ...sqlx.ExtContext) (*Record, error)
	EnsureAccount(ctx context.Context, familyRef, personID, customerID string, exec ...sqlx.ExtContext) (Account, error)
	// Link points the subscription at accountID, inserting it when unknown.
	Link(ctx context.Context, accountID string, sub Subscription, exec ...sqlx.ExtContext) error
	// SyncState copies status, amount and period from the provider. Unknown ids are ignored.
	SyncState(ctx context.Context, sub Subscription, exec ...sqlx.ExtContext) (bool, error)
}

type repository struct {
	db *sqlx.DB
}

var _ Repository = (*repository)(nil) // interface compliance check

func NewRepository(db *sqlx.DB) *repository {
	return &repository{db: db}
}

func (r *repository) getExec(exec []sqlx.ExtContext) sqlx.ExtContext {
	if len(exec) > 0 && exec[0] != nil {
		return exec[0]
	}
	return r.db
}

func (r *repository) ActiveForFamily(ctx context.Context, familyRefs []string, exec ...sqlx.ExtContext) (*Record, error) {
	if len(familyRefs) == 0 {
		return nil, nil
	}
	ex := r.getExec(exec)
	q, args, err := sqlx.In(selectRecords+`
		WHERE ba.family_reference_id IN (?) AND s.status IN (?)
		ORDER BY s.updated_at DESC LIMIT 1`, familyRefs, activeStatuses)
	if err != nil {
		return nil, errors.Wrap(err, "building subscription query")
	}
	return r.one(ctx, ex, ex.Rebind(q), args...)
}

func (r *repository) ByStripeID(ctx context.Context, stripeID string, exec ...sqlx.ExtContext) (*Record, error) {
	return r.one(ctx, r.getExec(exec), selectRecords+" WHERE s.stripe_subscription_id = ?", stripeID)
}

func (r *repository) one(ctx context.Context, ex sqlx.ExtContext, q string, args ...interface{}) (*Record, error) {
	var rec Record
	if err := sqlx.GetContext(ctx, ex, &rec, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "querying subscription")
	}
	return &rec, nil
}

func (r *repository) EnsureAccount(ctx context.Context, familyRef, personID, customerID string, exec ...sqlx.ExtContext) (Account, error) {
	ex := r.getExec(exec)
	acc, err := r.accountByFamily(ctx, ex, familyRef)
	if err != nil {
		return Account{}, err
	}
	if acc == nil {
		fresh := Account{
			ID:                uuid.NewString(),
			FamilyReferenceID: familyRef,
			PersonID:          sql.NullString{String: personID, Valid: personID != ""},
			StripeCustomerID:  sql.NullString{String: customerID, Valid: customerID != ""},
		}
		_, err := ex.ExecContext(ctx, ex.Rebind(`INSERT INTO billing_accounts (id, family_reference_id, person_id, stripe_customer_id, created_at) VALUES (?, ?, ?, ?, NOW())`),
			fresh.ID, fresh.FamilyReferenceID, fresh.PersonID, fresh.StripeCustomerID)
		if err == nil {
			return fresh, nil
		}
		if !conn.IsDuplicateKey(err) {
			return Account{}, errors.Wrap(err, "creating billing account")
		}
		// created concurrently, use that one
		if acc, err = r.accountByFamily(ctx, ex, familyRef); err != nil {
			return Account{}, err
		}
		if acc == nil {
			return Account{}, errors.Errorf("billing account for family %s vanished after duplicate insert", familyRef)
		}
	}
	if customerID != "" && acc.StripeCustomerID.String != customerID {
		if _, err := ex.ExecContext(ctx, ex.Rebind(`UPDATE billing_accounts SET stripe_customer_id = ? WHERE id = ?`), customerID, acc.ID); err != nil {
			return Account{}, errors.Wrap(err, "updating billing account customer")
		}
		acc.StripeCustomerID = sql.NullString{String: customerID, Valid: true}
	}
	return *acc, nil
}

func (r *repository) accountByFamily(ctx context.Context, ex sqlx.ExtContext, familyRef string) (*Account, error) {
	var acc Account
	err := sqlx.GetContext(ctx, ex, &acc, ex.Rebind(`SELECT id, family_reference_id, person_id, stripe_customer_id, created_at FROM billing_accounts WHERE family_reference_id = ?`), familyRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying billing account")
	}
	return &acc, nil
}

func (r *repository) Link(ctx context.Context, accountID string, sub Subscription, exec ...sqlx.ExtContext) error {
	ex := r.getExec(exec)
	_, err := ex.ExecContext(ctx, ex.Rebind(`
		INSERT INTO subscriptions (id, billing_account_id, stripe_subscription_id, status, amount, currency, current_period_start, current_period_end, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE billing_account_id = VALUES(billing_account_id), status = VALUES(status), amount = VALUES(amount),
			currency = VALUES(currency), current_period_start = VALUES(current_period_start), current_period_end = VALUES(current_period_end), updated_at = NOW()`),
		uuid.NewString(), accountID, sub.ID, sub.Status, sub.Amount, currencyOr(sub.Currency), nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd))
	if err != nil {
		return errors.Wrap(err, "linking subscription")
	}
	return nil
}

func (r *repository) SyncState(ctx context.Context, sub Subscription, exec ...sqlx.ExtContext) (bool, error) {
	ex := r.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind(`
		UPDATE subscriptions SET status = ?, amount = ?, current_period_start = COALESCE(?, current_period_start),
			current_period_end = COALESCE(?, current_period_end), updated_at = NOW()
		WHERE stripe_subscription_id = ?`),
		sub.Status, sub.Amount, nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.ID)
	if err != nil {
		return false, errors.Wrap(err, "syncing subscription")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "syncing subscription")
	}
	return n > 0, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func currencyOr(c string) string {
	if c == "" {
		return "usd"
	}
	return c
}

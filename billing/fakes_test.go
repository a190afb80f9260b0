package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"dugsi-admin/core"
	"dugsi-admin/students"
)

// memStudents resolves families by family reference only.
type memStudents struct {
	order    []string
	profiles map[string]students.ProfileGraph
}

func newMemStudents(graphs ...students.ProfileGraph) *memStudents {
	m := &memStudents{profiles: map[string]students.ProfileGraph{}}
	for _, g := range graphs {
		m.order = append(m.order, g.ID)
		m.profiles[g.ID] = g
	}
	return m
}

func (m *memStudents) all() []students.ProfileGraph {
	return lo.FilterMap(m.order, func(id string, _ int) (students.ProfileGraph, bool) {
		g, ok := m.profiles[id]
		return g, ok
	})
}

func (m *memStudents) ListProfiles(context.Context, students.Filter) ([]students.ProfileGraph, error) {
	return m.all(), nil
}

func (m *memStudents) GetProfile(_ context.Context, id string, _ ...sqlx.ExtContext) (students.ProfileGraph, error) {
	g, ok := m.profiles[id]
	if !ok {
		return students.ProfileGraph{}, students.ErrStudentNotFound
	}
	return g, nil
}

func (m *memStudents) FamilyOf(_ context.Context, seed students.ProfileGraph, _ ...sqlx.ExtContext) ([]students.ProfileGraph, error) {
	return lo.Filter(m.all(), func(g students.ProfileGraph, _ int) bool {
		return g.ID == seed.ID || (seed.FamilyReferenceID.Valid && g.FamilyReferenceID.String == seed.FamilyReferenceID.String)
	}), nil
}

func (m *memStudents) FindByFamilyReference(_ context.Context, ref string) ([]students.ProfileGraph, error) {
	return lo.Filter(m.all(), func(g students.ProfileGraph, _ int) bool { return g.FamilyReferenceID.String == ref }), nil
}

func (m *memStudents) UpdateStudent(context.Context, string, students.StudentUpdate) error { return nil }

func (m *memStudents) SetStatus(_ context.Context, ids []string, change students.StatusChange, _ ...sqlx.ExtContext) error {
	for _, id := range ids {
		g := m.profiles[id]
		g.Status = change.Status
		g.WithdrawalReason = sql.NullString{String: change.Reason, Valid: change.Reason != ""}
		m.profiles[id] = g
	}
	return nil
}

func (m *memStudents) DeleteProfiles(_ context.Context, profiles []students.ProfileGraph, _ ...sqlx.ExtContext) error {
	for _, p := range profiles {
		delete(m.profiles, p.ID)
	}
	return nil
}

type memBilling struct {
	accounts map[string]Account // by family reference
	records  map[string]Record  // by stripe subscription id
}

func newMemBilling() *memBilling {
	return &memBilling{accounts: map[string]Account{}, records: map[string]Record{}}
}

func (b *memBilling) link(familyRef string, sub Subscription) {
	acc, _ := b.EnsureAccount(context.Background(), familyRef, "", sub.CustomerID)
	_ = b.Link(context.Background(), acc.ID, sub)
}

func (b *memBilling) ActiveForFamily(_ context.Context, refs []string, _ ...sqlx.ExtContext) (*Record, error) {
	for _, rec := range b.records {
		if lo.Contains(refs, rec.FamilyReferenceID) && isActiveStatus(rec.Status) {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

func (b *memBilling) ByStripeID(_ context.Context, id string, _ ...sqlx.ExtContext) (*Record, error) {
	rec, ok := b.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (b *memBilling) EnsureAccount(_ context.Context, familyRef, personID, customerID string, _ ...sqlx.ExtContext) (Account, error) {
	acc, ok := b.accounts[familyRef]
	if !ok {
		acc = Account{ID: uuid.NewString(), FamilyReferenceID: familyRef, PersonID: sql.NullString{String: personID, Valid: personID != ""}}
	}
	if customerID != "" {
		acc.StripeCustomerID = sql.NullString{String: customerID, Valid: true}
	}
	b.accounts[familyRef] = acc
	return acc, nil
}

func (b *memBilling) Link(_ context.Context, accountID string, sub Subscription, _ ...sqlx.ExtContext) error {
	var familyRef string
	for ref, acc := range b.accounts {
		if acc.ID == accountID {
			familyRef = ref
		}
	}
	b.records[sub.ID] = Record{
		ID:                   uuid.NewString(),
		BillingAccountID:     accountID,
		StripeSubscriptionID: sub.ID,
		Status:               sub.Status,
		Amount:               sub.Amount,
		Currency:             currencyOr(sub.Currency),
		FamilyReferenceID:    familyRef,
	}
	return nil
}

func (b *memBilling) SyncState(_ context.Context, sub Subscription, _ ...sqlx.ExtContext) (bool, error) {
	rec, ok := b.records[sub.ID]
	if !ok {
		return false, nil
	}
	rec.Status, rec.Amount = sub.Status, sub.Amount
	b.records[sub.ID] = rec
	return true, nil
}

// memTx snapshots both stores and restores them when fn or the commit fails.
type memTx struct {
	students  *memStudents
	billing   *memBilling
	commitErr error
}

func (t *memTx) InTx(_ context.Context, fn func(tx sqlx.ExtContext) error) error {
	profiles := lo.Assign(t.students.profiles)
	accounts := lo.Assign(t.billing.accounts)
	records := lo.Assign(t.billing.records)
	restore := func() {
		t.students.profiles, t.billing.accounts, t.billing.records = profiles, accounts, records
	}
	if err := fn(nil); err != nil {
		restore()
		return err
	}
	if t.commitErr != nil {
		restore()
		return t.commitErr
	}
	return nil
}

type gatewayCall struct {
	op     string
	id     string
	amount int64
}

type fakeGateway struct {
	subs      map[string]Subscription
	calls     []gatewayCall
	errs      map[string]error // by op
	verifyErr error
	lastCode  string
	extra     int64 // billed on top of every requested amount
}

func newFakeGateway(subs ...Subscription) *fakeGateway {
	g := &fakeGateway{subs: map[string]Subscription{}, errs: map[string]error{}}
	for _, s := range subs {
		g.subs[s.ID] = s
	}
	return g
}

func (g *fakeGateway) record(op, id string, amount int64) error {
	g.calls = append(g.calls, gatewayCall{op, id, amount})
	return g.errs[op]
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (Subscription, error) {
	if err := g.record("get", id, 0); err != nil {
		return Subscription{}, err
	}
	sub, ok := g.subs[id]
	if !ok {
		return Subscription{}, &core.ProviderError{Code: "resource_missing", Message: "No such subscription: '" + id + "'"}
	}
	return sub, nil
}

func (g *fakeGateway) UpdateSubscriptionAmount(_ context.Context, id string, amount int64) (Subscription, error) {
	if err := g.record("update", id, amount); err != nil {
		return Subscription{}, err
	}
	sub := g.subs[id]
	sub.Amount = amount + g.extra
	g.subs[id] = sub
	return sub, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (Subscription, error) {
	if err := g.record("cancel", id, 0); err != nil {
		return Subscription{}, err
	}
	sub := g.subs[id]
	sub.Status = "canceled"
	g.subs[id] = sub
	return sub, nil
}

func (g *fakeGateway) UpdateCustomer(_ context.Context, customerID, name, email string) error {
	if err := g.record("customer", customerID, 0); err != nil {
		return err
	}
	for id, sub := range g.subs {
		if sub.CustomerID == customerID {
			sub.CustomerName, sub.CustomerEmail = name, email
			g.subs[id] = sub
		}
	}
	return nil
}

func (g *fakeGateway) VerifyMicrodeposits(_ context.Context, id, code string) (string, error) {
	g.calls = append(g.calls, gatewayCall{op: "verify", id: id})
	g.lastCode = code
	if g.verifyErr != nil {
		return "", g.verifyErr
	}
	return "processing", nil
}

// ops is nil when nothing was called.
func (g *fakeGateway) ops() []string {
	var out []string
	for _, c := range g.calls {
		out = append(out, c.op)
	}
	return out
}

type fakeNotifier struct {
	withdrawn  []string
	notes      []string
	reEnrolled []string
}

func (n *fakeNotifier) SendWithdrawalNotice(to, _ string, _ []string, billingNote string) error {
	n.withdrawn = append(n.withdrawn, to)
	n.notes = append(n.notes, billingNote)
	return nil
}

func (n *fakeNotifier) SendReEnrollmentNotice(to, _, _ string) error {
	n.reEnrolled = append(n.reEnrolled, to)
	return nil
}

func child(id, name, familyRef string, status students.Status) students.ProfileGraph {
	return students.ProfileGraph{
		Profile: students.Profile{
			ID:                id,
			PersonID:          "p-" + id,
			Name:              name,
			Status:            status,
			FamilyReferenceID: sql.NullString{String: familyRef, Valid: familyRef != ""},
			CreatedAt:         time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		Guardians: []students.Guardian{{
			DependentPersonID: "p-" + id,
			Role:              students.RolePrimary,
			PersonID:          "g-" + familyRef,
			Name:              "Hodan Ali",
			Email:             sql.NullString{String: "hodan@example.org", Valid: true},
			Phone:             sql.NullString{String: "6125550100", Valid: true},
		}},
	}
}

type fixture struct {
	svc      *Service
	students *memStudents
	billing  *memBilling
	gateway  *fakeGateway
	tx       *memTx
	notifier *fakeNotifier
}

func newFixture(graphs ...students.ProfileGraph) *fixture {
	st := newMemStudents(graphs...)
	b := newMemBilling()
	gw := newFakeGateway()
	tx := &memTx{students: st, billing: b}
	n := &fakeNotifier{}
	svc := NewService(st, b, gw, tx, DefaultSchedule, n)
	svc.now = func() time.Time { return time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, students: st, billing: b, gateway: gw, tx: tx, notifier: n}
}

// withSubscription bills familyRef with an active subscription of amount cents.
func (f *fixture) withSubscription(familyRef, subID string, amount int64) *fixture {
	sub := Subscription{ID: subID, Status: "active", CustomerID: "cus_" + familyRef, Amount: amount, Currency: "usd"}
	f.gateway.subs[subID] = sub
	f.billing.link(familyRef, sub)
	return f
}

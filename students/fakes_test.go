package students

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"dugsi-admin/core"
)

// memRepo is an in-memory Repository keyed by profile id.
type memRepo struct {
	order    []string
	profiles map[string]ProfileGraph
}

func newMemRepo(graphs ...ProfileGraph) *memRepo {
	r := &memRepo{profiles: map[string]ProfileGraph{}}
	for _, g := range graphs {
		r.order = append(r.order, g.ID)
		r.profiles[g.ID] = g
	}
	return r
}

func (r *memRepo) snapshot() *memRepo {
	cp := &memRepo{order: append([]string(nil), r.order...), profiles: map[string]ProfileGraph{}}
	for k, v := range r.profiles {
		cp.profiles[k] = v
	}
	return cp
}

func (r *memRepo) restore(s *memRepo) {
	r.order, r.profiles = s.order, s.profiles
}

func (r *memRepo) all() []ProfileGraph {
	return lo.FilterMap(r.order, func(id string, _ int) (ProfileGraph, bool) {
		g, ok := r.profiles[id]
		return g, ok
	})
}

func (r *memRepo) ListProfiles(_ context.Context, f Filter) ([]ProfileGraph, error) {
	return lo.Filter(r.all(), func(g ProfileGraph, _ int) bool {
		if f.Status != "" && g.Status != f.Status {
			return false
		}
		return f.Search == "" || strings.Contains(strings.ToLower(g.Name), strings.ToLower(f.Search))
	}), nil
}

func (r *memRepo) GetProfile(_ context.Context, id string, _ ...sqlx.ExtContext) (ProfileGraph, error) {
	g, ok := r.profiles[id]
	if !ok {
		return ProfileGraph{}, ErrStudentNotFound
	}
	return g, nil
}

func (r *memRepo) FamilyOf(_ context.Context, seed ProfileGraph, _ ...sqlx.ExtContext) ([]ProfileGraph, error) {
	phones, emails := contactsOf(seed.Guardians)
	return lo.Filter(r.all(), func(g ProfileGraph, _ int) bool {
		if g.ID == seed.ID {
			return true
		}
		if seed.FamilyReferenceID.Valid && g.FamilyReferenceID.String == seed.FamilyReferenceID.String {
			return true
		}
		gp, ge := contactsOf(g.Guardians)
		return len(lo.Intersect(phones, gp)) > 0 || len(lo.Intersect(emails, ge)) > 0
	}), nil
}

func (r *memRepo) FindByFamilyReference(_ context.Context, ref string) ([]ProfileGraph, error) {
	return lo.Filter(r.all(), func(g ProfileGraph, _ int) bool { return g.FamilyReferenceID.String == ref }), nil
}

func (r *memRepo) UpdateStudent(_ context.Context, id string, upd StudentUpdate) error {
	g, ok := r.profiles[id]
	if !ok {
		return ErrStudentNotFound
	}
	if upd.Name != nil {
		g.Name = core.CleanString(*upd.Name)
	}
	g.GradeLevel = pick(upd.GradeLevel, g.GradeLevel)
	r.profiles[id] = g
	return nil
}

func (r *memRepo) SetStatus(_ context.Context, ids []string, change StatusChange, _ ...sqlx.ExtContext) error {
	for _, id := range ids {
		g := r.profiles[id]
		g.Status = change.Status
		g.WithdrawalReason = nullString(change.Reason)
		g.WithdrawalNote = nullString(change.Note)
		g.WithdrawnAt = sql.NullTime{Time: change.At, Valid: change.Status == StatusWithdrawn}
		r.profiles[id] = g
	}
	return nil
}

func (r *memRepo) DeleteProfiles(_ context.Context, profiles []ProfileGraph, _ ...sqlx.ExtContext) error {
	for _, p := range profiles {
		delete(r.profiles, p.ID)
	}
	return nil
}

// memTx rolls the repository back to its state before fn when fn (or the commit) fails.
type memTx struct {
	repo      *memRepo
	commitErr error
}

func (t *memTx) InTx(_ context.Context, fn func(tx sqlx.ExtContext) error) error {
	before := t.repo.snapshot()
	if err := fn(nil); err != nil {
		t.repo.restore(before)
		return err
	}
	if t.commitErr != nil {
		t.repo.restore(before)
		return t.commitErr
	}
	return nil
}

type fakeCanceler struct {
	active bool
	err    error
	calls  [][]string
}

func (f *fakeCanceler) CancelFamilySubscription(_ context.Context, _ sqlx.ExtContext, refs []string) (bool, error) {
	f.calls = append(f.calls, refs)
	if f.err != nil {
		return false, f.err
	}
	was := f.active
	f.active = false
	return was, nil
}

type fakeNotifier struct {
	to       []string
	children [][]string
	notes    []string
	err      error
}

func (n *fakeNotifier) SendWithdrawalNotice(to, _ string, children []string, billingNote string) error {
	n.to = append(n.to, to)
	n.children = append(n.children, children)
	n.notes = append(n.notes, billingNote)
	return n.err
}

var errProvider = &core.ProviderError{Code: "api_error", Message: "Stripe is unavailable", Err: errors.New("503")}

func ns(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func guardian(dependent, role, id, name, email, phone string) Guardian {
	return Guardian{DependentPersonID: dependent, Role: role, PersonID: id, Name: name, Email: ns(email), Phone: ns(phone)}
}

// hassanFamily has two enrolled children under family reference fam-1 and a third child
// registered separately by the same mother (matched by phone only).
func hassanFamily() []ProfileGraph {
	created := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	mother := func(dep string) Guardian {
		return guardian(dep, RolePrimary, "g-1", "Hodan Ali", "hodan@example.org", "6125550100")
	}
	father := func(dep string) Guardian {
		return guardian(dep, RoleSecondary, "g-2", "Abdi Hassan", "abdi@example.org", "6125550101")
	}
	return []ProfileGraph{
		{Profile: Profile{ID: "s-1", PersonID: "p-1", Name: "Amina Abdi Hassan", Status: StatusEnrolled, FamilyReferenceID: ns("fam-1"), CreatedAt: created},
			Guardians: []Guardian{mother("p-1"), father("p-1")}},
		{Profile: Profile{ID: "s-2", PersonID: "p-2", Name: "Yusuf Hassan", Status: StatusEnrolled, FamilyReferenceID: ns("fam-1"), CreatedAt: created},
			Guardians: []Guardian{mother("p-2"), father("p-2")}},
		{Profile: Profile{ID: "s-3", PersonID: "p-3", Name: "Zakariye Hassan", Status: StatusRegistered, CreatedAt: created},
			Guardians: []Guardian{guardian("p-3", RolePrimary, "g-9", "Hodan A.", "", "6125550100")}},
	}
}

func otherFamily() ProfileGraph {
	return ProfileGraph{
		Profile:   Profile{ID: "s-9", PersonID: "p-9", Name: "Ilhan Warsame", Status: StatusEnrolled, FamilyReferenceID: ns("fam-2")},
		Guardians: []Guardian{guardian("p-9", RolePrimary, "g-7", "Fadumo Warsame", "fadumo@example.org", "6125550199")},
	}
}

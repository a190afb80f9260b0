package students

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"dugsi-admin/core"
)

var ErrStudentNotFound = core.NotFound("Student not found")

const selectProfiles = `
	SELECT pp.id, pp.person_id, pp.status, pp.gender, pp.grade_level, pp.school_name, pp.health_info,
		pp.family_reference_id, pp.withdrawal_reason, pp.withdrawal_note, pp.withdrawn_at,
		pp.created_at, pp.updated_at,
		p.name, p.date_of_birth,
		ba.id AS billing_account_id, ba.stripe_customer_id,
		s.stripe_subscription_id, s.status AS subscription_status, s.amount AS subscription_amount, s.current_period_end
	FROM program_profiles pp
	JOIN people p ON p.id = pp.person_id
	LEFT JOIN billing_accounts ba ON ba.family_reference_id = pp.family_reference_id
	LEFT JOIN subscriptions s ON s.id = (
		SELECT s2.id FROM subscriptions s2 WHERE s2.billing_account_id = ba.id
		ORDER BY s2.status = 'active' DESC, s2.updated_at DESC LIMIT 1)
	WHERE pp.program = 'DUGSI'`

type Repository interface {
	ListProfiles(ctx context.Context, filter Filter) ([]ProfileGraph, error)
	GetProfile(ctx context.Context, id string, exec ...sqlx.ExtContext) (ProfileGraph, error)
	// FamilyOf resolves every profile sharing a guardian phone/email or the family
	// reference with seed, seed included.
	FamilyOf(ctx context.Context, seed ProfileGraph, exec ...sqlx.ExtContext) ([]ProfileGraph, error)
	FindByFamilyReference(ctx context.Context, familyRef string) ([]ProfileGraph, error)
	UpdateStudent(ctx context.Context, id string, upd StudentUpdate) error
	SetStatus(ctx context.Context, ids []string, change StatusChange, exec ...sqlx.ExtContext) error
	DeleteProfiles(ctx context.Context, profiles []ProfileGraph, exec ...sqlx.ExtContext) error
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

func (r *repository) ListProfiles(ctx context.Context, filter Filter) ([]ProfileGraph, error) {
	q := selectProfiles
	args := []interface{}{}
	if filter.Status != "" {
		q += " AND pp.status = ?"
		args = append(args, filter.Status)
	}
	if s := core.CleanString(filter.Search, true); s != "" {
		like := "%" + s + "%"
		q += ` AND (LOWER(p.name) LIKE ? OR pp.person_id IN (
			SELECT gr.dependent_person_id FROM guardian_relationships gr JOIN people g ON g.id = gr.guardian_person_id
			WHERE LOWER(g.name) LIKE ? OR LOWER(g.email) LIKE ? OR g.phone LIKE ?))`
		args = append(args, like, like, like, like)
	}
	q += " ORDER BY pp.created_at DESC"
	return r.load(ctx, r.db, q, args...)
}

func (r *repository) GetProfile(ctx context.Context, id string, exec ...sqlx.ExtContext) (ProfileGraph, error) {
	graphs, err := r.load(ctx, r.getExec(exec), selectProfiles+" AND pp.id = ?", id)
	if err != nil {
		return ProfileGraph{}, err
	}
	if len(graphs) == 0 {
		return ProfileGraph{}, ErrStudentNotFound
	}
	return graphs[0], nil
}

func (r *repository) FamilyOf(ctx context.Context, seed ProfileGraph, exec ...sqlx.ExtContext) ([]ProfileGraph, error) {
	ex := r.getExec(exec)
	phones, emails := contactsOf(seed.Guardians)

	conds := []string{"pp.id = ?"}
	args := []interface{}{seed.ID}
	if seed.FamilyReferenceID.Valid {
		conds = append(conds, "pp.family_reference_id = ?")
		args = append(args, seed.FamilyReferenceID.String)
	}
	var contactConds []string
	if len(phones) > 0 {
		contactConds = append(contactConds, "g.phone IN (?)")
		args = append(args, phones)
	}
	if len(emails) > 0 {
		contactConds = append(contactConds, "LOWER(g.email) IN (?)")
		args = append(args, emails)
	}
	if len(contactConds) > 0 {
		conds = append(conds, `pp.person_id IN (
			SELECT gr.dependent_person_id FROM guardian_relationships gr JOIN people g ON g.id = gr.guardian_person_id
			WHERE gr.is_active = 1 AND (`+strings.Join(contactConds, " OR ")+`))`)
	}
	q, qArgs, err := sqlx.In(selectProfiles+" AND ("+strings.Join(conds, " OR ")+") ORDER BY pp.created_at ASC", args...)
	if err != nil {
		return nil, errors.Wrap(err, "building family query")
	}
	return r.load(ctx, ex, ex.Rebind(q), qArgs...)
}

func (r *repository) FindByFamilyReference(ctx context.Context, familyRef string) ([]ProfileGraph, error) {
	return r.load(ctx, r.db, selectProfiles+" AND pp.family_reference_id = ? ORDER BY pp.created_at ASC", familyRef)
}

func (r *repository) UpdateStudent(ctx context.Context, id string, upd StudentUpdate) error {
	cur, err := r.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil || upd.DateOfBirth != nil {
		name := cur.Name
		if upd.Name != nil {
			name = core.CleanString(*upd.Name)
		}
		dob := cur.DateOfBirth
		if upd.DateOfBirth != nil {
			t, err := time.Parse("2006-01-02", *upd.DateOfBirth)
			if err != nil {
				return core.Invalid("dateOfBirth must be YYYY-MM-DD")
			}
			dob = sql.NullTime{Time: t, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE people SET name = ?, date_of_birth = ?, updated_at = NOW() WHERE id = ?`, name, dob, cur.PersonID); err != nil {
			return errors.Wrap(err, "updating person")
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE program_profiles SET gender = ?, grade_level = ?, school_name = ?, health_info = ?, updated_at = NOW() WHERE id = ?`,
		pick(upd.Gender, cur.Gender), pick(upd.GradeLevel, cur.GradeLevel), pick(upd.SchoolName, cur.SchoolName), pick(upd.HealthInfo, cur.HealthInfo), id)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return errors.Wrap(tx.Commit(), "committing student update")
}

func (r *repository) SetStatus(ctx context.Context, ids []string, change StatusChange, exec ...sqlx.ExtContext) error {
	if len(ids) == 0 {
		return nil
	}
	ex := r.getExec(exec)
	var q string
	var args []interface{}
	if change.Status == StatusWithdrawn {
		q = `UPDATE program_profiles SET status = ?, withdrawal_reason = ?, withdrawal_note = ?, withdrawn_at = ?, updated_at = NOW() WHERE id IN (?)`
		args = []interface{}{change.Status, change.Reason, nullString(change.Note), change.At, ids}
	} else {
		q = `UPDATE program_profiles SET status = ?, withdrawal_reason = NULL, withdrawal_note = NULL, withdrawn_at = NULL, updated_at = NOW() WHERE id IN (?)`
		args = []interface{}{change.Status, ids}
	}
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return errors.Wrap(err, "building status update")
	}
	if _, err := ex.ExecContext(ctx, ex.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "updating profile status")
	}
	return nil
}

func (r *repository) DeleteProfiles(ctx context.Context, profiles []ProfileGraph, exec ...sqlx.ExtContext) error {
	if len(profiles) == 0 {
		return nil
	}
	ex := r.getExec(exec)
	profileIDs := lo.Map(profiles, func(p ProfileGraph, _ int) string { return p.ID })
	personIDs := lo.Map(profiles, func(p ProfileGraph, _ int) string { return p.PersonID })

	steps := []struct {
		what  string
		query string
		ids   []string
	}{
		{"class enrollments", `DELETE FROM dugsi_class_enrollments WHERE profile_id IN (?)`, profileIDs},
		{"guardian links", `DELETE FROM guardian_relationships WHERE dependent_person_id IN (?)`, personIDs},
		{"profiles", `DELETE FROM program_profiles WHERE id IN (?)`, profileIDs},
		{"people", `DELETE FROM people WHERE id IN (?)`, personIDs},
	}
	for _, s := range steps {
		q, args, err := sqlx.In(s.query, s.ids)
		if err != nil {
			return errors.Wrapf(err, "building delete of %s", s.what)
		}
		if _, err := ex.ExecContext(ctx, ex.Rebind(q), args...); err != nil {
			return errors.Wrapf(err, "deleting %s", s.what)
		}
	}
	return nil
}

func (r *repository) load(ctx context.Context, ex sqlx.ExtContext, q string, args ...interface{}) ([]ProfileGraph, error) {
	var rows []Profile
	if err := sqlx.SelectContext(ctx, ex, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying profiles")
	}
	if len(rows) == 0 {
		return []ProfileGraph{}, nil
	}

	personIDs := lo.Uniq(lo.Map(rows, func(p Profile, _ int) string { return p.PersonID }))
	gq, gArgs, err := sqlx.In(`
		SELECT gr.dependent_person_id, gr.role, g.id, g.name, g.email, g.phone
		FROM guardian_relationships gr JOIN people g ON g.id = gr.guardian_person_id
		WHERE gr.is_active = 1 AND gr.dependent_person_id IN (?)
		ORDER BY gr.role = 'PRIMARY' DESC, g.name ASC`, personIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building guardian query")
	}
	var guardians []Guardian
	if err := sqlx.SelectContext(ctx, ex, &guardians, ex.Rebind(gq), gArgs...); err != nil {
		return nil, errors.Wrap(err, "querying guardians")
	}
	byDependent := lo.GroupBy(guardians, func(g Guardian) string { return g.DependentPersonID })

	graphs := make([]ProfileGraph, 0, len(rows))
	for _, p := range rows {
		graphs = append(graphs, ProfileGraph{Profile: p, Guardians: byDependent[p.PersonID]})
	}
	return graphs, nil
}

// contactsOf returns the distinct phones and lower-cased emails of the given guardians.
func contactsOf(guardians []Guardian) (phones, emails []string) {
	for _, g := range guardians {
		if p := core.CleanString(g.Phone.String); g.Phone.Valid && p != "" {
			phones = append(phones, p)
		}
		if e := core.CleanString(g.Email.String, true); g.Email.Valid && e != "" {
			emails = append(emails, e)
		}
	}
	return lo.Uniq(phones), lo.Uniq(emails)
}

func pick(v *string, cur sql.NullString) sql.NullString {
	if v == nil {
		return cur
	}
	return nullString(*v)
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

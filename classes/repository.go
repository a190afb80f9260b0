package classes

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"dugsi-admin/core"
)

var (
	ErrClassNotFound   = core.NotFound("Class not found")
	ErrTeacherNotFound = core.NotFound("Teacher not found")
	ErrCheckInNotFound = core.NotFound("Check-in not found")
)

const selectClasses = `
	SELECT c.id, c.name, c.shift, c.teacher_id, t.name AS teacher_name, c.is_active, c.created_at,
		(SELECT COUNT(*) FROM dugsi_class_enrollments e WHERE e.class_id = c.id AND e.is_active = 1) AS student_count
	FROM dugsi_classes c
	LEFT JOIN dugsi_teachers t ON t.id = c.teacher_id
	WHERE c.is_active = 1`

const selectCheckIns = `
	SELECT ci.id, ci.teacher_id, t.name AS teacher_name, ci.shift, ci.checked_in_at, ci.checked_out_at, ci.is_late, ci.note
	FROM dugsi_teacher_checkins ci
	JOIN dugsi_teachers t ON t.id = ci.teacher_id`

type Repository interface {
	ListClasses(ctx context.Context) ([]Class, error)
	GetClass(ctx context.Context, id string, exec ...sqlx.ExtContext) (Class, error)
	CreateClass(ctx context.Context, c Class) error
	GetTeacher(ctx context.Context, id string) (Teacher, error)
	// ExistingProfiles returns the subset of ids that are Dugsi profiles.
	ExistingProfiles(ctx context.Context, ids []string, exec ...sqlx.ExtContext) ([]string, error)
	DeactivateEnrollments(ctx context.Context, profileIDs []string, exec ...sqlx.ExtContext) error
	InsertEnrollments(ctx context.Context, classID string, profileIDs []string, at time.Time, exec ...sqlx.ExtContext) error
	RemoveEnrollment(ctx context.Context, classID, profileID string) (bool, error)

	// OpenCheckIn returns the check-in of teacher for shift started in [from, to) that has
	// not been closed, or nil.
	OpenCheckIn(ctx context.Context, teacherID string, shift Shift, from, to time.Time) (*CheckIn, error)
	InsertCheckIn(ctx context.Context, c CheckIn) error
	GetCheckIn(ctx context.Context, id string) (CheckIn, error)
	CloseCheckIn(ctx context.Context, id string, at time.Time) error
	ListCheckIns(ctx context.Context, from, to time.Time) ([]CheckIn, error)
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

func (r *repository) ListClasses(ctx context.Context) ([]Class, error) {
	var rows []Class
	if err := r.db.SelectContext(ctx, &rows, selectClasses+" ORDER BY c.shift ASC, c.name ASC"); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	return rows, nil
}

func (r *repository) GetClass(ctx context.Context, id string, exec ...sqlx.ExtContext) (Class, error) {
	var c Class
	err := sqlx.GetContext(ctx, r.getExec(exec), &c, selectClasses+" AND c.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Class{}, ErrClassNotFound
	}
	if err != nil {
		return Class{}, errors.Wrap(err, "querying class")
	}
	return c, nil
}

func (r *repository) CreateClass(ctx context.Context, c Class) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO dugsi_classes (id, name, shift, teacher_id, is_active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		c.ID, c.Name, c.Shift, c.TeacherID, c.CreatedAt)
	return errors.Wrap(err, "inserting class")
}

func (r *repository) GetTeacher(ctx context.Context, id string) (Teacher, error) {
	var t Teacher
	err := r.db.GetContext(ctx, &t, `SELECT id, name, email, phone, is_active FROM dugsi_teachers WHERE id = ? AND is_active = 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Teacher{}, ErrTeacherNotFound
	}
	if err != nil {
		return Teacher{}, errors.Wrap(err, "querying teacher")
	}
	return t, nil
}

func (r *repository) ExistingProfiles(ctx context.Context, ids []string, exec ...sqlx.ExtContext) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	ex := r.getExec(exec)
	q, args, err := sqlx.In(`SELECT id FROM program_profiles WHERE program = 'DUGSI' AND id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "building profile lookup")
	}
	var found []string
	if err := sqlx.SelectContext(ctx, ex, &found, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying profiles")
	}
	return found, nil
}

func (r *repository) DeactivateEnrollments(ctx context.Context, profileIDs []string, exec ...sqlx.ExtContext) error {
	if len(profileIDs) == 0 {
		return nil
	}
	ex := r.getExec(exec)
	q, args, err := sqlx.In(`UPDATE dugsi_class_enrollments SET is_active = 0 WHERE is_active = 1 AND profile_id IN (?)`, profileIDs)
	if err != nil {
		return errors.Wrap(err, "building enrollment update")
	}
	if _, err := ex.ExecContext(ctx, ex.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deactivating enrollments")
	}
	return nil
}

func (r *repository) InsertEnrollments(ctx context.Context, classID string, profileIDs []string, at time.Time, exec ...sqlx.ExtContext) error {
	ex := r.getExec(exec)
	for _, id := range profileIDs {
		_, err := ex.ExecContext(ctx, `INSERT INTO dugsi_class_enrollments (id, class_id, profile_id, is_active, assigned_at) VALUES (?, ?, ?, 1, ?)`,
			uuid.NewString(), classID, id, at)
		if err != nil {
			return errors.Wrapf(err, "enrolling profile %s", id)
		}
	}
	return nil
}

func (r *repository) RemoveEnrollment(ctx context.Context, classID, profileID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE dugsi_class_enrollments SET is_active = 0 WHERE class_id = ? AND profile_id = ? AND is_active = 1`, classID, profileID)
	if err != nil {
		return false, errors.Wrap(err, "removing enrollment")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reading affected rows")
	}
	return n > 0, nil
}

func (r *repository) OpenCheckIn(ctx context.Context, teacherID string, shift Shift, from, to time.Time) (*CheckIn, error) {
	var c CheckIn
	err := r.db.GetContext(ctx, &c, selectCheckIns+`
		WHERE ci.teacher_id = ? AND ci.shift = ? AND ci.checked_out_at IS NULL
			AND ci.checked_in_at >= ? AND ci.checked_in_at < ?
		ORDER BY ci.checked_in_at DESC LIMIT 1`, teacherID, shift, from, to)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying open check-in")
	}
	return &c, nil
}

func (r *repository) InsertCheckIn(ctx context.Context, c CheckIn) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO dugsi_teacher_checkins (id, teacher_id, shift, checked_in_at, is_late, note) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.TeacherID, c.Shift, c.CheckedInAt, c.IsLate, c.Note)
	return errors.Wrap(err, "inserting check-in")
}

func (r *repository) GetCheckIn(ctx context.Context, id string) (CheckIn, error) {
	var c CheckIn
	err := r.db.GetContext(ctx, &c, selectCheckIns+" WHERE ci.id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckIn{}, ErrCheckInNotFound
	}
	if err != nil {
		return CheckIn{}, errors.Wrap(err, "querying check-in")
	}
	return c, nil
}

func (r *repository) CloseCheckIn(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE dugsi_teacher_checkins SET checked_out_at = ? WHERE id = ? AND checked_out_at IS NULL`, at, id)
	return errors.Wrap(err, "closing check-in")
}

func (r *repository) ListCheckIns(ctx context.Context, from, to time.Time) ([]CheckIn, error) {
	var rows []CheckIn
	err := r.db.SelectContext(ctx, &rows, selectCheckIns+`
		WHERE ci.checked_in_at >= ? AND ci.checked_in_at < ?
		ORDER BY ci.checked_in_at ASC`, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "querying check-ins")
	}
	return rows, nil
}

package classes

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

type enrollment struct {
	classID   string
	profileID string
	active    bool
}

type memRepo struct {
	classes     map[string]Class
	teachers    map[string]Teacher
	profiles    map[string]bool
	enrollments []enrollment
	checkIns    []CheckIn
	insertErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		classes: map[string]Class{
			"c-1": {ID: "c-1", Name: "Juz Amma A", Shift: ShiftMorning, IsActive: true},
			"c-2": {ID: "c-2", Name: "Qaida", Shift: ShiftAfternoon, IsActive: true},
		},
		teachers: map[string]Teacher{
			"t-1": {ID: "t-1", Name: "Sheikh Omar", IsActive: true},
		},
		profiles: map[string]bool{"s-1": true, "s-2": true, "s-3": true},
	}
}

func (r *memRepo) snapshot() memRepo {
	cp := *r
	cp.classes = lo.Assign(r.classes)
	cp.enrollments = append([]enrollment(nil), r.enrollments...)
	cp.checkIns = append([]CheckIn(nil), r.checkIns...)
	return cp
}

func (r *memRepo) restore(s memRepo) {
	r.classes, r.enrollments, r.checkIns = s.classes, s.enrollments, s.checkIns
}

func (r *memRepo) activeIn(classID string) []string {
	return lo.FilterMap(r.enrollments, func(e enrollment, _ int) (string, bool) {
		return e.profileID, e.active && e.classID == classID
	})
}

func (r *memRepo) ListClasses(context.Context) ([]Class, error) {
	out := lo.Values(r.classes)
	for i := range out {
		out[i].StudentCount = len(r.activeIn(out[i].ID))
	}
	return out, nil
}

func (r *memRepo) GetClass(_ context.Context, id string, _ ...sqlx.ExtContext) (Class, error) {
	c, ok := r.classes[id]
	if !ok {
		return Class{}, ErrClassNotFound
	}
	c.StudentCount = len(r.activeIn(id))
	return c, nil
}

func (r *memRepo) CreateClass(_ context.Context, c Class) error {
	r.classes[c.ID] = c
	return nil
}

func (r *memRepo) GetTeacher(_ context.Context, id string) (Teacher, error) {
	t, ok := r.teachers[id]
	if !ok {
		return Teacher{}, ErrTeacherNotFound
	}
	return t, nil
}

func (r *memRepo) ExistingProfiles(_ context.Context, ids []string, _ ...sqlx.ExtContext) ([]string, error) {
	return lo.Filter(ids, func(id string, _ int) bool { return r.profiles[id] }), nil
}

func (r *memRepo) DeactivateEnrollments(_ context.Context, ids []string, _ ...sqlx.ExtContext) error {
	for i, e := range r.enrollments {
		if lo.Contains(ids, e.profileID) {
			r.enrollments[i].active = false
		}
	}
	return nil
}

func (r *memRepo) InsertEnrollments(_ context.Context, classID string, ids []string, _ time.Time, _ ...sqlx.ExtContext) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, id := range ids {
		r.enrollments = append(r.enrollments, enrollment{classID: classID, profileID: id, active: true})
	}
	return nil
}

func (r *memRepo) RemoveEnrollment(_ context.Context, classID, profileID string) (bool, error) {
	for i, e := range r.enrollments {
		if e.active && e.classID == classID && e.profileID == profileID {
			r.enrollments[i].active = false
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) OpenCheckIn(_ context.Context, teacherID string, shift Shift, from, to time.Time) (*CheckIn, error) {
	for _, c := range r.checkIns {
		if c.TeacherID == teacherID && c.Shift == shift && !c.CheckedOutAt.Valid &&
			!c.CheckedInAt.Before(from) && c.CheckedInAt.Before(to) {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) InsertCheckIn(_ context.Context, c CheckIn) error {
	r.checkIns = append(r.checkIns, c)
	return nil
}

func (r *memRepo) GetCheckIn(_ context.Context, id string) (CheckIn, error) {
	c, ok := lo.Find(r.checkIns, func(c CheckIn) bool { return c.ID == id })
	if !ok {
		return CheckIn{}, ErrCheckInNotFound
	}
	return c, nil
}

func (r *memRepo) CloseCheckIn(_ context.Context, id string, at time.Time) error {
	for i := range r.checkIns {
		if r.checkIns[i].ID == id {
			r.checkIns[i].CheckedOutAt = sql.NullTime{Time: at, Valid: true}
		}
	}
	return nil
}

func (r *memRepo) ListCheckIns(_ context.Context, from, to time.Time) ([]CheckIn, error) {
	return lo.Filter(r.checkIns, func(c CheckIn, _ int) bool {
		return !c.CheckedInAt.Before(from) && c.CheckedInAt.Before(to)
	}), nil
}

type memTx struct{ repo *memRepo }

func (t *memTx) InTx(_ context.Context, fn func(tx sqlx.ExtContext) error) error {
	before := t.repo.snapshot()
	if err := fn(nil); err != nil {
		t.repo.restore(before)
		return err
	}
	return nil
}

var errInsert = errors.New("insert failed")

var chicago = time.FixedZone("CDT", -5*3600)

// newTestService returns a service whose clock reads the value pointed to by now.
func newTestService(repo *memRepo, now *time.Time) *Service {
	svc, err := NewService(repo, &memTx{repo: repo}, chicago, "09:00", "13:00")
	if err != nil {
		panic(err)
	}
	svc.now = func() time.Time { return *now }
	return svc
}

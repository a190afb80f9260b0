package classes

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"dugsi-admin/core"
)

// MaxCheckInRange bounds the number of days ListCheckIns returns.
const MaxCheckInRange = 62

type clock struct{ hour, minute int }

type Service struct {
	repo   Repository
	tx     core.TxRunner
	loc    *time.Location
	starts map[Shift]clock
	now    func() time.Time
}

// NewService parses the shift start times ("15:04", in loc).
func NewService(repo Repository, tx core.TxRunner, loc *time.Location, morningStart, afternoonStart string) (*Service, error) {
	if loc == nil {
		loc = time.UTC
	}
	starts := map[Shift]clock{}
	for shift, raw := range map[Shift]string{ShiftMorning: morningStart, ShiftAfternoon: afternoonStart} {
		t, err := time.Parse("15:04", raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s start %q", strings.ToLower(string(shift)), raw)
		}
		starts[shift] = clock{t.Hour(), t.Minute()}
	}
	return &Service{repo: repo, tx: tx, loc: loc, starts: starts, now: time.Now}, nil
}

func (s *Service) ListClasses(ctx context.Context) ([]ClassDTO, error) {
	rows, err := s.repo.ListClasses(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(c Class, _ int) ClassDTO { return ToClassDTO(c) }), nil
}

func (s *Service) CreateClass(ctx context.Context, in CreateClassInput) (ClassDTO, error) {
	in.Name = core.CleanString(in.Name)
	if err := core.ValidateStruct(in); err != nil {
		return ClassDTO{}, err
	}
	c := Class{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Shift:     in.Shift,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if in.TeacherID != "" {
		t, err := s.repo.GetTeacher(ctx, in.TeacherID)
		if err != nil {
			return ClassDTO{}, err
		}
		c.TeacherID = sql.NullString{String: t.ID, Valid: true}
		c.TeacherName = sql.NullString{String: t.Name, Valid: true}
	}
	if err := s.repo.CreateClass(ctx, c); err != nil {
		return ClassDTO{}, err
	}
	log.Printf("[CLASSES][create] class=%s shift=%s", c.ID, c.Shift)
	return ToClassDTO(c), nil
}

type AssignResult struct {
	ClassID  string `json:"classId"`
	Assigned int    `json:"assigned"`
}

// AssignStudents moves the given students into the class. Their previous enrollments are
// deactivated in the same transaction, so a student is active in at most one class.
func (s *Service) AssignStudents(ctx context.Context, classID string, in AssignInput) (AssignResult, error) {
	if err := core.ValidateStruct(in); err != nil {
		return AssignResult{}, err
	}
	ids := lo.Uniq(lo.Map(in.StudentIDs, func(id string, _ int) string { return core.CleanString(id) }))

	err := s.tx.InTx(ctx, func(tx sqlx.ExtContext) error {
		if _, err := s.repo.GetClass(ctx, classID, tx); err != nil {
			return err
		}
		found, err := s.repo.ExistingProfiles(ctx, ids, tx)
		if err != nil {
			return err
		}
		if missing, _ := lo.Difference(ids, found); len(missing) > 0 {
			return core.NewValidationError(
				errors.Errorf("unknown students: %s", strings.Join(missing, ", ")),
				core.FieldError{Field: "studentIds", Error: "contains unknown students"},
			)
		}
		if err := s.repo.DeactivateEnrollments(ctx, ids, tx); err != nil {
			return err
		}
		return s.repo.InsertEnrollments(ctx, classID, ids, s.now().UTC(), tx)
	})
	if err != nil {
		return AssignResult{}, err
	}
	log.Printf("[CLASSES][assign] class=%s students=%d", classID, len(ids))
	return AssignResult{ClassID: classID, Assigned: len(ids)}, nil
}

func (s *Service) RemoveStudent(ctx context.Context, classID, studentID string) error {
	if _, err := s.repo.GetClass(ctx, classID); err != nil {
		return err
	}
	removed, err := s.repo.RemoveEnrollment(ctx, classID, studentID)
	if err != nil {
		return err
	}
	if !removed {
		return core.NotFound("Student is not in this class")
	}
	log.Printf("[CLASSES][remove] class=%s student=%s", classID, studentID)
	return nil
}

// dayBounds returns local midnight of t's day and of the next day.
func (s *Service) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

// IsLate reports whether at is after the shift start on the same local day.
func (s *Service) IsLate(shift Shift, at time.Time) bool {
	c, ok := s.starts[shift]
	if !ok {
		return false
	}
	local := at.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, s.loc)
	return local.After(start)
}

func (s *Service) CheckIn(ctx context.Context, teacherID string, in CheckInInput) (CheckInDTO, error) {
	if err := core.ValidateStruct(in); err != nil {
		return CheckInDTO{}, err
	}
	t, err := s.repo.GetTeacher(ctx, teacherID)
	if err != nil {
		return CheckInDTO{}, err
	}
	now := s.now()
	from, to := s.dayBounds(now)
	open, err := s.repo.OpenCheckIn(ctx, t.ID, in.Shift, from.UTC(), to.UTC())
	if err != nil {
		return CheckInDTO{}, err
	}
	if open != nil {
		return CheckInDTO{}, core.Conflict(fmt.Sprintf("%s is already checked in for the %s shift", t.Name, strings.ToLower(string(in.Shift))))
	}

	note := core.CleanString(in.Note)
	c := CheckIn{
		ID:          uuid.NewString(),
		TeacherID:   t.ID,
		TeacherName: t.Name,
		Shift:       in.Shift,
		CheckedInAt: now.UTC(),
		IsLate:      s.IsLate(in.Shift, now),
		Note:        sql.NullString{String: note, Valid: note != ""},
	}
	if err := s.repo.InsertCheckIn(ctx, c); err != nil {
		return CheckInDTO{}, err
	}
	log.Printf("[CHECKIN][in] teacher=%s shift=%s late=%t", t.ID, in.Shift, c.IsLate)
	return ToCheckInDTO(c, s.loc), nil
}

func (s *Service) CheckOut(ctx context.Context, checkInID string) (CheckInDTO, error) {
	c, err := s.repo.GetCheckIn(ctx, checkInID)
	if err != nil {
		return CheckInDTO{}, err
	}
	if c.CheckedOutAt.Valid {
		return CheckInDTO{}, core.Conflict("Already checked out")
	}
	at := s.now().UTC()
	if err := s.repo.CloseCheckIn(ctx, c.ID, at); err != nil {
		return CheckInDTO{}, err
	}
	c.CheckedOutAt = sql.NullTime{Time: at, Valid: true}
	log.Printf("[CHECKIN][out] checkin=%s teacher=%s", c.ID, c.TeacherID)
	return ToCheckInDTO(c, s.loc), nil
}

// ListCheckIns buckets check-ins per local day between from and to ("2006-01-02", both
// inclusive). Empty from/to default to today.
func (s *Service) ListCheckIns(ctx context.Context, from, to string) ([]DayBucket, error) {
	today, _ := s.dayBounds(s.now())
	first, err := s.parseDay("from", from, today)
	if err != nil {
		return nil, err
	}
	last, err := s.parseDay("to", to, today)
	if err != nil {
		return nil, err
	}
	if last.Before(first) {
		return nil, core.NewValidationError(errors.New("to must not be before from"), core.FieldError{Field: "to", Error: "must not be before from"})
	}
	if days := int(last.Sub(first).Hours()/24+0.5) + 1; days > MaxCheckInRange {
		return nil, core.NewValidationError(
			errors.Errorf("date range cannot exceed %d days", MaxCheckInRange),
			core.FieldError{Field: "to", Error: fmt.Sprintf("range cannot exceed %d days", MaxCheckInRange)},
		)
	}

	rows, err := s.repo.ListCheckIns(ctx, first.UTC(), last.AddDate(0, 0, 1).UTC())
	if err != nil {
		return nil, err
	}
	return BucketByDay(rows, first, last, s.loc), nil
}

func (s *Service) parseDay(field, raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, s.loc)
	if err != nil {
		return time.Time{}, core.NewValidationError(errors.Errorf("%s must be YYYY-MM-DD", field), core.FieldError{Field: field, Error: "must be YYYY-MM-DD"})
	}
	return t, nil
}

package classes

import (
	"database/sql"
	"time"
)

type Shift string

const (
	ShiftMorning   Shift = "MORNING"
	ShiftAfternoon Shift = "AFTERNOON"
)

type Class struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Shift        Shift          `db:"shift"`
	TeacherID    sql.NullString `db:"teacher_id"`
	TeacherName  sql.NullString `db:"teacher_name"`
	IsActive     bool           `db:"is_active"`
	CreatedAt    time.Time      `db:"created_at"`
	StudentCount int            `db:"student_count"`
}

type Teacher struct {
	ID       string         `db:"id"`
	Name     string         `db:"name"`
	Email    sql.NullString `db:"email"`
	Phone    sql.NullString `db:"phone"`
	IsActive bool           `db:"is_active"`
}

type CheckIn struct {
	ID           string         `db:"id"`
	TeacherID    string         `db:"teacher_id"`
	TeacherName  string         `db:"teacher_name"`
	Shift        Shift          `db:"shift"`
	CheckedInAt  time.Time      `db:"checked_in_at"`
	CheckedOutAt sql.NullTime   `db:"checked_out_at"`
	IsLate       bool           `db:"is_late"`
	Note         sql.NullString `db:"note"`
}

type CreateClassInput struct {
	Name      string `json:"name" validate:"required,max=191"`
	Shift     Shift  `json:"shift" validate:"required,oneof=MORNING AFTERNOON"`
	TeacherID string `json:"teacherId" validate:"omitempty,max=36"`
}

type AssignInput struct {
	StudentIDs []string `json:"studentIds" validate:"required,min=1,max=200,dive,required"`
}

type CheckInInput struct {
	Shift Shift  `json:"shift" validate:"required,oneof=MORNING AFTERNOON"`
	Note  string `json:"note" validate:"omitempty,max=255"`
}

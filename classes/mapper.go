package classes

import (
	"time"

	"github.com/samber/lo"
)

const dateLayout = "2006-01-02"

type ClassDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Shift        Shift     `json:"shift"`
	TeacherID    string    `json:"teacherId,omitempty"`
	TeacherName  string    `json:"teacherName,omitempty"`
	StudentCount int       `json:"studentCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

func ToClassDTO(c Class) ClassDTO {
	return ClassDTO{
		ID:           c.ID,
		Name:         c.Name,
		Shift:        c.Shift,
		TeacherID:    c.TeacherID.String,
		TeacherName:  c.TeacherName.String,
		StudentCount: c.StudentCount,
		CreatedAt:    c.CreatedAt,
	}
}

type CheckInDTO struct {
	ID           string     `json:"id"`
	TeacherID    string     `json:"teacherId"`
	TeacherName  string     `json:"teacherName"`
	Shift        Shift      `json:"shift"`
	Date         string     `json:"date"`
	CheckedInAt  time.Time  `json:"checkedInAt"`
	CheckedOutAt *time.Time `json:"checkedOutAt,omitempty"`
	IsLate       bool       `json:"isLate"`
	Note         string     `json:"note,omitempty"`
}

// ToCheckInDTO renders times and the bucket date in loc.
func ToCheckInDTO(c CheckIn, loc *time.Location) CheckInDTO {
	in := c.CheckedInAt.In(loc)
	dto := CheckInDTO{
		ID:          c.ID,
		TeacherID:   c.TeacherID,
		TeacherName: c.TeacherName,
		Shift:       c.Shift,
		Date:        in.Format(dateLayout),
		CheckedInAt: in,
		IsLate:      c.IsLate,
		Note:        c.Note.String,
	}
	if c.CheckedOutAt.Valid {
		out := c.CheckedOutAt.Time.In(loc)
		dto.CheckedOutAt = &out
	}
	return dto
}

type DayBucket struct {
	Date      string       `json:"date"`
	CheckIns  []CheckInDTO `json:"checkIns"`
	LateCount int          `json:"lateCount"`
}

// BucketByDay returns one bucket per calendar day from first to last inclusive, empty days
// included. first and last must be midnights in loc.
func BucketByDay(checkIns []CheckIn, first, last time.Time, loc *time.Location) []DayBucket {
	dtos := lo.Map(checkIns, func(c CheckIn, _ int) CheckInDTO { return ToCheckInDTO(c, loc) })
	byDate := lo.GroupBy(dtos, func(d CheckInDTO) string { return d.Date })

	var buckets []DayBucket
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		items := byDate[date]
		if items == nil {
			items = []CheckInDTO{}
		}
		buckets = append(buckets, DayBucket{
			Date:      date,
			CheckIns:  items,
			LateCount: lo.CountBy(items, func(d CheckInDTO) bool { return d.IsLate }),
		})
	}
	return buckets
}

package billing

import "github.com/pkg/errors"

// Schedule holds the monthly price, in cents, of the 1st, 2nd, 3rd... child of a family.
// The last tier applies to every further child.
type Schedule struct {
	PerChild []int64
}

var DefaultSchedule = Schedule{PerChild: []int64{8000, 8000, 7000, 6500}}

// NewSchedule rejects tier lists that would make a bigger family pay more per child.
func NewSchedule(perChild []int64) (Schedule, error) {
	if len(perChild) == 0 {
		return Schedule{}, errors.New("rate schedule needs at least one tier")
	}
	for i, p := range perChild {
		if p <= 0 {
			return Schedule{}, errors.Errorf("tier %d must be positive, got %d", i+1, p)
		}
		if i > 0 && p > perChild[i-1] {
			return Schedule{}, errors.Errorf("tier %d (%d) is higher than tier %d (%d)", i+1, p, i, perChild[i-1])
		}
	}
	return Schedule{PerChild: append([]int64(nil), perChild...)}, nil
}

// ChildRate is the price of the nth child (1-based).
func (s Schedule) ChildRate(nth int) int64 {
	if nth <= 0 || len(s.PerChild) == 0 {
		return 0
	}
	if nth > len(s.PerChild) {
		return s.PerChild[len(s.PerChild)-1]
	}
	return s.PerChild[nth-1]
}

// MonthlyRate is the family total for n active children. Zero means no billing.
func (s Schedule) MonthlyRate(n int) int64 {
	var total int64
	for i := 1; i <= n; i++ {
		total += s.ChildRate(i)
	}
	return total
}

// PerChildRate is MonthlyRate(n) spread over n children.
func (s Schedule) PerChildRate(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(s.MonthlyRate(n)) / float64(n)
}

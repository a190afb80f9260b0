package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyRate(t *testing.T) {
	tests := []struct {
		children int
		want     int64
	}{
		{-1, 0},
		{0, 0},
		{1, 8000},
		{2, 16000},
		{3, 23000},
		{4, 29500},
		{6, 42500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultSchedule.MonthlyRate(tt.children), "children=%d", tt.children)
	}
}

func TestPerChildRateIsNonIncreasing(t *testing.T) {
	schedules := []Schedule{
		DefaultSchedule,
		{PerChild: []int64{5000}},
		{PerChild: []int64{9000, 7500, 7500, 6000, 4000}},
	}
	for _, s := range schedules {
		assert.Equal(t, float64(s.PerChild[0]), s.PerChildRate(1))
		prev := s.PerChildRate(1)
		for n := 2; n <= 20; n++ {
			cur := s.PerChildRate(n)
			assert.LessOrEqual(t, cur, prev, "schedule=%v n=%d", s.PerChild, n)
			prev = cur
		}
	}
}

func TestNewSchedule(t *testing.T) {
	s, err := NewSchedule([]int64{8000, 7000})
	require.NoError(t, err)
	assert.Equal(t, int64(7000), s.ChildRate(5))

	for _, bad := range [][]int64{nil, {8000, 0}, {7000, 8000}, {-1}} {
		_, err := NewSchedule(bad)
		assert.Error(t, err, "%v", bad)
	}
}

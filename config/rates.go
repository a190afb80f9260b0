package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// parseRates accepts either the default slice or a comma separated env value ("8000,8000,7000").
func parseRates(raw string, value interface{}) ([]int64, error) {
	if tiers, ok := value.([]int64); ok {
		return tiers, nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '[' || r == ']' })
	if len(parts) == 0 {
		return nil, errors.New("rates_per_child is empty")
	}
	tiers := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "rates_per_child: invalid amount %q", p)
		}
		tiers = append(tiers, n)
	}
	return tiers, nil
}

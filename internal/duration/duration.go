// Package duration parses human block durations like "25m", "1h30m", "90".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

var componentRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)([smhd]?)`)

// Parse converts a duration string into a time.Duration. Supported forms:
// plain minutes ("30"), single unit ("45m", "2h", "30s", "1d") and combined
// ("1h30m"). A bare number means minutes.
func Parse(s string) (time.Duration, error) {
	rest := []byte(s)
	if len(rest) == 0 {
		return 0, fmt.Errorf("%w: empty string", domain.ErrInvalidDuration)
	}

	var total time.Duration
	for len(rest) > 0 {
		m := componentRe.FindSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDuration, s)
		}

		n, err := strconv.ParseFloat(string(m[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDuration, s)
		}

		var unit time.Duration
		switch string(m[2]) {
		case "s":
			unit = time.Second
		case "", "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		total += time.Duration(n * float64(unit))

		rest = rest[len(m[0]):]
	}

	if total <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDuration, s)
	}
	return total, nil
}

// Format renders a duration the way the menu displays it: "2h 5m", "25m",
// "30s".
func Format(d time.Duration) string {
	switch {
	case d >= time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

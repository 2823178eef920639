package recurrence

import (
	"strconv"
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// ParseOffset parses a relative time string such as "2d", "36h", "1w" or
// "1d12h". A bare integer is a number of days. Anything that does not parse,
// or is negative, yields 0.
func ParseOffset(raw string) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

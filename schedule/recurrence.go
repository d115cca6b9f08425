package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// intervalPattern matches simple fixed-interval recurrence descriptions
// such as "every 30 minutes" or "every 2 days".
var intervalPattern = regexp.MustCompile(`^every\s+(\d+)\s+(second|minute|hour|day|week)s?$`)

// unitDurations maps interval units to their length.
var unitDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// parseInterval extracts a fixed interval from a recurrence description.
// It handles "every N <unit>", "every <unit>", and the shorthand forms
// "hourly", "daily", "weekly". Anything else returns false and is left to
// the interpreter.
func parseInterval(pattern string) (time.Duration, bool) {
	p := strings.ToLower(strings.TrimSpace(pattern))

	switch p {
	case "hourly", "every hour":
		return time.Hour, true
	case "daily", "every day":
		return 24 * time.Hour, true
	case "weekly", "every week":
		return 7 * 24 * time.Hour, true
	case "every minute":
		return time.Minute, true
	case "every second":
		return time.Second, true
	}

	m := intervalPattern.FindStringSubmatch(p)
	if m == nil {
		return 0, false
	}

	count, err := strconv.Atoi(m[1])
	if err != nil || count <= 0 {
		return 0, false
	}
	return time.Duration(count) * unitDurations[m[2]], true
}

// nextFromPattern computes the run following `after` for a fixed-interval
// pattern. The second return value is false when the pattern needs the
// interpreter instead.
func nextFromPattern(pattern string, after time.Time) (time.Time, bool) {
	interval, ok := parseInterval(pattern)
	if !ok {
		return time.Time{}, false
	}
	return after.Add(interval), true
}

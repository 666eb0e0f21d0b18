package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/toolgate/toolgate/internal/toolerr"
)

// Spec is a parsed, canonical schedule: either a recurring cron expression
// or a one-shot absolute timestamp.
type Spec struct {
	Canonical string // what gets stored
	Once      bool
	At        time.Time     // one-shot fire time
	schedule  cron.Schedule // recurring
}

// Next returns the next fire time strictly after t, or the zero time when
// the schedule has nothing left to fire.
func (s *Spec) Next(t time.Time) time.Time {
	if s.Once {
		if t.Before(s.At) {
			return s.At
		}
		return time.Time{}
	}
	return s.schedule.Next(t)
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec accepts a 5-field cron expression, an RFC 3339 timestamp, or a
// natural-language shorthand ("every day at 9am"), plus an optional IANA
// timezone. Shorthands are lowered to cron before storage, so Canonical is
// always cron or a timestamp.
func ParseSpec(expr, timezone string) (*Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, toolerr.InvalidParams("schedule expression must not be empty")
	}

	if ts, err := time.Parse(time.RFC3339, expr); err == nil {
		return &Spec{Canonical: ts.Format(time.RFC3339), Once: true, At: ts}, nil
	}

	cronExpr := expr
	if lowered, ok := lowerShorthand(expr); ok {
		cronExpr = lowered
	}
	if timezone != "" && !strings.HasPrefix(cronExpr, "CRON_TZ=") {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, toolerr.InvalidParams("unknown timezone %q", timezone)
		}
		cronExpr = "CRON_TZ=" + timezone + " " + cronExpr
	}

	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, toolerr.InvalidParams("invalid schedule %q: %v", expr, err)
	}
	return &Spec{Canonical: cronExpr, schedule: schedule}, nil
}

// ParseStored re-parses a canonical stored schedule.
func ParseStored(canonical string) (*Spec, error) {
	return ParseSpec(canonical, "")
}

var (
	everyNMinutes = regexp.MustCompile(`^every\s+(\d+)\s+minutes?$`)
	everyNHours   = regexp.MustCompile(`^every\s+(\d+)\s+hours?$`)
	dailyAt       = regexp.MustCompile(`^(?:every\s+day|daily)\s+at\s+(.+)$`)
	weekdayAt     = regexp.MustCompile(`^every\s+weekday\s+at\s+(.+)$`)
	weeklyAt      = regexp.MustCompile(`^every\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+at\s+(.+))?$`)
	hourlyAtMin   = regexp.MustCompile(`^every\s+hour\s+at\s+:?(\d{1,2})$`)
)

var weekdayNumbers = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// lowerShorthand lowers a natural-language shorthand to a 5-field cron
// expression. Returns ok=false when the input is not a recognised shorthand.
func lowerShorthand(expr string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(expr))
	s = strings.Join(strings.Fields(s), " ")

	switch s {
	case "every minute":
		return "* * * * *", true
	case "every hour", "hourly":
		return "0 * * * *", true
	case "every day", "daily":
		return "0 0 * * *", true
	case "every week", "weekly":
		return "0 0 * * 0", true
	case "every month", "monthly":
		return "0 0 1 * *", true
	}

	if m := everyNMinutes.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("*/%s * * * *", m[1]), true
	}
	if m := everyNHours.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("0 */%s * * *", m[1]), true
	}
	if m := hourlyAtMin.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("%s * * * *", m[1]), true
	}
	if m := dailyAt.FindStringSubmatch(s); m != nil {
		if hour, minute, ok := parseClock(m[1]); ok {
			return fmt.Sprintf("%d %d * * *", minute, hour), true
		}
	}
	if m := weekdayAt.FindStringSubmatch(s); m != nil {
		if hour, minute, ok := parseClock(m[1]); ok {
			return fmt.Sprintf("%d %d * * 1-5", minute, hour), true
		}
	}
	if m := weeklyAt.FindStringSubmatch(s); m != nil {
		day := weekdayNumbers[m[1]]
		hour, minute := 0, 0
		if m[2] != "" {
			var ok bool
			hour, minute, ok = parseClock(m[2])
			if !ok {
				return "", false
			}
		}
		return fmt.Sprintf("%d %d * * %d", minute, hour, day), true
	}
	return "", false
}

var clockPattern = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// parseClock parses "9am", "17:30", "9:15 pm" into a 24h hour/minute pair.
func parseClock(s string) (hour, minute int, ok bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

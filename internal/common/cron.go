package common

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules arrive as quartz-style cron strings with seconds precision.
// Five-field expressions are accepted too; the seconds field defaults to 0.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a scheduling interval expression
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NextScheduledTime returns the first firing of expr strictly after the
// given reference time.
func NextScheduledTime(expr string, after time.Time) (time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

package job

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a definition's cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("job: parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// NextTrigger returns the first trigger time of the definition's schedule
// strictly after the given instant. Returns the zero time when the
// definition has no schedule.
func (d *Definition) NextTrigger(after time.Time) (time.Time, error) {
	if d.Schedule == "" {
		return time.Time{}, nil
	}
	sched, err := ParseSchedule(d.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

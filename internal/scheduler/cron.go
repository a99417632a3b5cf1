package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser wraps robfig/cron for parsing cron expressions.
type cronParser struct {
	parser cron.Parser
}

func newCronParser() *cronParser {
	return &cronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

func (p *cronParser) Parse(expression string) (cron.Schedule, error) {
	schedule, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return schedule, nil
}

// parseInterval parses an interval duration string ("5m", "1h"),
// disallowing sub-second intervals.
func parseInterval(interval string) (time.Duration, error) {
	duration, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("parsing interval: %w", err)
	}
	if duration < time.Second {
		return 0, fmt.Errorf("interval must be at least 1 second")
	}
	return duration, nil
}

// nextRun calculates task's next fire time after `after`, in its own
// timezone if one is set.
func nextRun(task *RotationTask, after time.Time) (time.Time, error) {
	loc := time.UTC
	if task.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(task.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("loading timezone: %w", err)
		}
	}
	afterInTZ := after.In(loc)

	switch task.Type {
	case ScheduleTypeCron:
		schedule, err := newCronParser().Parse(task.Expression)
		if err != nil {
			return time.Time{}, err
		}
		return schedule.Next(afterInTZ), nil

	case ScheduleTypeInterval:
		d, err := parseInterval(task.Expression)
		if err != nil {
			return time.Time{}, err
		}
		return afterInTZ.Add(d), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule type: %s", task.Type)
	}
}

package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oshokin/procdb/internal/logger"
)

const (
	scanPassive = "passive"
	everyPrefix = "@every"
)

// everySchedule fires at a fixed interval. It is used instead of the cron
// parser for "@every" so that sub-second scan periods are kept as written.
type everySchedule struct {
	period time.Duration
}

// Next implements cron.Schedule.
func (e everySchedule) Next(t time.Time) time.Time {
	return t.Add(e.period)
}

// ParseSchedule converts a scan field into a schedule. An empty or
// "passive" field yields a nil schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)

	if spec == "" || strings.EqualFold(spec, scanPassive) {
		return nil, nil //nolint:nilnil // Passive records have no schedule.
	}

	if rest, ok := strings.CutPrefix(spec, everyPrefix); ok {
		period, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid scan period %q: %w", spec, err)
		}

		if period <= 0 {
			return nil, fmt.Errorf("scan period %q must be positive", spec)
		}

		return everySchedule{period: period}, nil
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}

	return schedule, nil
}

// periodic requests processing of name on every tick of schedule.
func (s *Scheduler) periodic(ctx context.Context, name string, schedule cron.Schedule) {
	logger.DebugKV(ctx, "Periodic scan started", "record", name)

	next := schedule.Next(s.clock.Now())

	for {
		wait := next.Sub(s.clock.Now())
		if wait > 0 {
			timer := s.clock.NewTimer(wait)

			select {
			case <-ctx.Done():
				timer.Stop()

				return
			case <-timer.C():
			}
		}

		if ctx.Err() != nil {
			return
		}

		s.RequestProcess(name)

		// A slow tick skips the slots it missed instead of bursting.
		now := s.clock.Now()

		next = schedule.Next(next)
		if !next.After(now) {
			next = schedule.Next(now)
		}
	}
}

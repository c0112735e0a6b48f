package queue

import "time"

// ScheduledJob is a job reference plus its timing. One-shot entries have no
// Schedule and are dropped once pushed; recurring entries advance NextRun.
type ScheduledJob struct {
	Job      Job
	Data     any
	Queue    string
	NextRun  time.Time
	Schedule Schedule
}

// Recurring reports whether the entry survives being pushed
func (s *ScheduledJob) Recurring() bool {
	return s.Schedule != nil
}

// Interval returns the fixed recurrence interval, or zero for one-shot and
// calendar-based entries
func (s *ScheduledJob) Interval() time.Duration {
	switch sched := s.Schedule.(type) {
	case intervalSchedule:
		return sched.every
	case dailySchedule:
		return 24 * time.Hour
	case weeklySchedule:
		return 7 * 24 * time.Hour
	}
	return 0
}

// IsDue reports whether NextRun has been reached
func (s *ScheduledJob) IsDue(now time.Time) bool {
	return !s.NextRun.After(now)
}

// ScheduleNext advances NextRun past now. Runs missed while the scheduler was
// down are skipped rather than replayed one per tick.
func (s *ScheduledJob) ScheduleNext(now time.Time) {
	if s.Schedule == nil {
		return
	}

	next := s.Schedule.Next(s.NextRun)
	for !next.After(now) {
		after := s.Schedule.Next(next)
		if !after.After(next) {
			break
		}
		next = after
	}
	s.NextRun = next
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/jobqueue/pkg/queue"
)

var (
	errUnknownJob      = errors.New("schedule names an unknown job")
	errNoTiming        = errors.New("schedule entry needs exactly one of at, every, daily, weekly or cron")
	errInvalidWeekday  = errors.New("invalid weekday")
	errReadingSchedule = errors.New("failed to read schedule file")
)

// scheduleFile is the YAML document accepted by -schedule:
//
//	schedules:
//	  - job: cleanup
//	    cron: "0 3 * * *"
//	    data: {days: 30}
//	  - job: webhook
//	    every: 5m
//	    queue: hooks
//	    data: {url: "https://example.com/ping"}
//	  - job: webhook
//	    weekly: {day: monday, at: "09:00"}
type scheduleFile struct {
	Schedules []scheduleEntry `yaml:"schedules"`
}

type scheduleEntry struct {
	Job    string         `yaml:"job"`
	Queue  string         `yaml:"queue"`
	Data   map[string]any `yaml:"data"`
	At     string         `yaml:"at"`
	Every  time.Duration  `yaml:"every"`
	Daily  string         `yaml:"daily"`
	Weekly *weeklyEntry   `yaml:"weekly"`
	Cron   string         `yaml:"cron"`
}

type weeklyEntry struct {
	Day string `yaml:"day"`
	At  string `yaml:"at"`
}

func loadSchedule(path string) (*scheduleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(errReadingSchedule, err)
	}
	return parseSchedule(raw)
}

func parseSchedule(raw []byte) (*scheduleFile, error) {
	var f scheduleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Join(errReadingSchedule, err)
	}
	return &f, nil
}

// apply registers every entry with s. Entries are validated up front so a bad
// file schedules nothing. Entries without a queue go to fallbackQueue, the
// queue this process consumes.
func (f *scheduleFile) apply(ctx context.Context, s *queue.Scheduler, factories map[string]queue.JobFactory, fallbackQueue string) (int, error) {
	for i, e := range f.Schedules {
		if err := e.validate(factories); err != nil {
			return 0, fmt.Errorf("schedule entry %d: %w", i, err)
		}
	}

	for i, e := range f.Schedules {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		if e.Queue == "" {
			e.Queue = fallbackQueue
		}
		if err := e.add(s, factories[e.Job]()); err != nil {
			return i, fmt.Errorf("schedule entry %d (%s): %w", i, e.Job, err)
		}
	}
	return len(f.Schedules), nil
}

func (e scheduleEntry) validate(factories map[string]queue.JobFactory) error {
	if _, ok := factories[e.Job]; !ok {
		return fmt.Errorf("%w: %q", errUnknownJob, e.Job)
	}

	n := 0
	for _, set := range []bool{e.At != "", e.Every > 0, e.Daily != "", e.Weekly != nil, e.Cron != ""} {
		if set {
			n++
		}
	}
	if n != 1 {
		return errNoTiming
	}
	if e.Weekly != nil {
		if _, err := parseWeekday(e.Weekly.Day); err != nil {
			return err
		}
	}
	return nil
}

func (e scheduleEntry) add(s *queue.Scheduler, job queue.Job) error {
	var data any
	if e.Data != nil {
		data = e.Data
	}

	var err error
	switch {
	case e.At != "":
		_, err = s.AtExpr(job, e.At, data, e.Queue)
	case e.Every > 0:
		_, err = s.Every(job, e.Every, data, e.Queue)
	case e.Daily != "":
		_, err = s.Daily(job, e.Daily, data, e.Queue)
	case e.Weekly != nil:
		day, _ := parseWeekday(e.Weekly.Day)
		_, err = s.Weekly(job, day, e.Weekly.At, data, e.Queue)
	case e.Cron != "":
		_, err = s.Cron(job, e.Cron, data, e.Queue)
	}
	return err
}

func parseWeekday(name string) (time.Weekday, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", errInvalidWeekday, name)
}

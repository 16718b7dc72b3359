package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/session"
)

// fireGrace bounds how late a job may fire. A job found due more than this
// long after its scheduled instant is skipped and rescheduled, never caught
// up, so a stalled process cannot trigger a burst of stale waterings.
const fireGrace = time.Minute

// Waterer starts a watering session for a zone.
type Waterer interface {
	Start(zoneID string, durationMinutes int) error
}

// job is one recurring firing: a (schedule, time-of-day, weekday) tuple.
// Daily schedules expand to one job per listed time, weekly schedules to one
// job per (time, day) pair.
type job struct {
	scheduleID   string
	scheduleName string
	zoneID       string
	duration     int
	hour         int
	minute       int
	weekday      *time.Weekday
	active       bool
	next         time.Time
}

// Engine converts persisted schedules into timed Start calls. One clock loop
// polls the job table at a fixed interval; firing and rescheduling always
// move a job's next-run time strictly past now, so each scheduled instant
// fires at most once.
type Engine struct {
	database *sql.DB
	waterer  Waterer
	interval time.Duration
	loc      *time.Location

	mu   sync.Mutex
	jobs []*job

	now func() time.Time
}

func NewEngine(database *sql.DB, waterer Waterer, pollInterval time.Duration) *Engine {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Engine{
		database: database,
		waterer:  waterer,
		interval: pollInterval,
		loc:      time.Local,
		now:      time.Now,
	}
}

// Reload rebuilds the job table from the store. A schedule with bad data is
// logged and dropped without affecting the others.
func (e *Engine) Reload() error {
	schedules, err := db.GetAllSchedules(e.database)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	var jobs []*job
	for i := range schedules {
		expanded, err := e.expand(&schedules[i])
		if err != nil {
			log.Error().Err(err).
				Str("schedule_id", schedules[i].ID).
				Str("schedule", schedules[i].Name).
				Msg("Skipping schedule with invalid definition")
			continue
		}
		jobs = append(jobs, expanded...)
	}

	e.mu.Lock()
	e.jobs = jobs
	e.mu.Unlock()

	log.Info().Int("schedules", len(schedules)).Int("jobs", len(jobs)).Msg("Schedule jobs registered")
	return nil
}

// RegisterSchedule adds one schedule's jobs without touching the others.
func (e *Engine) RegisterSchedule(s *model.Schedule) error {
	expanded, err := e.expand(s)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.jobs = append(e.jobs, expanded...)
	e.mu.Unlock()
	return nil
}

func (e *Engine) expand(s *model.Schedule) ([]*job, error) {
	now := e.now()
	var jobs []*job

	for _, t := range s.Times {
		hour, minute, err := model.ParseTimeOfDay(t)
		if err != nil {
			return nil, err
		}

		switch s.Frequency {
		case model.FrequencyDaily:
			j := &job{
				scheduleID:   s.ID,
				scheduleName: s.Name,
				zoneID:       s.ZoneID,
				duration:     s.Duration,
				hour:         hour,
				minute:       minute,
				active:       s.Active,
			}
			j.next = e.nextRun(now, j)
			jobs = append(jobs, j)

		case model.FrequencyWeekly:
			if len(s.Days) == 0 {
				return nil, fmt.Errorf("weekly schedule %s has no days", s.ID)
			}
			for _, dayName := range s.Days {
				day, err := model.ParseWeekday(dayName)
				if err != nil {
					return nil, err
				}
				d := day
				j := &job{
					scheduleID:   s.ID,
					scheduleName: s.Name,
					zoneID:       s.ZoneID,
					duration:     s.Duration,
					hour:         hour,
					minute:       minute,
					weekday:      &d,
					active:       s.Active,
				}
				j.next = e.nextRun(now, j)
				jobs = append(jobs, j)
			}

		default:
			return nil, fmt.Errorf("unknown frequency %q", s.Frequency)
		}
	}

	return jobs, nil
}

// nextRun computes the first wall-clock instant strictly after now at which
// the job fires: the next day at hh:mm for daily jobs, the next matching
// weekday at hh:mm for weekly ones.
func (e *Engine) nextRun(now time.Time, j *job) time.Time {
	now = now.In(e.loc)
	candidate := time.Date(now.Year(), now.Month(), now.Day(), j.hour, j.minute, 0, 0, e.loc)

	if j.weekday == nil {
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate
	}

	for i := 0; i < 8; i++ {
		if candidate.Weekday() == *j.weekday && candidate.After(now) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// NextFire returns the soonest upcoming firing across all active jobs.
func (e *Engine) NextFire() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var next time.Time
	for _, j := range e.jobs {
		if !j.active {
			continue
		}
		if next.IsZero() || j.next.Before(next) {
			next = j.next
		}
	}
	return next, !next.IsZero()
}

// Run drives the clock loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Dur("poll_interval", e.interval).Msg("Starting schedule trigger engine")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Trigger engine shutting down")
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, j := range e.jobs {
		if j.next.After(now) {
			continue
		}

		late := now.Sub(j.next)
		fire := late <= fireGrace
		j.next = e.nextRun(now, j)

		if !j.active {
			log.Debug().
				Str("schedule", j.scheduleName).
				Msg("Schedule is inactive, skipping watering")
			continue
		}
		if !fire {
			log.Warn().
				Str("schedule", j.scheduleName).
				Dur("late", late).
				Time("next", j.next).
				Msg("Missed scheduled watering, skipping")
			continue
		}

		e.fire(j)
	}
}

// fire invokes the session manager for one due job. Failures never stop the
// clock loop; a bad schedule only affects itself.
func (e *Engine) fire(j *job) {
	err := e.waterer.Start(j.zoneID, j.duration)
	switch {
	case err == nil:
		log.Info().
			Str("schedule", j.scheduleName).
			Str("zone_id", j.zoneID).
			Int("duration_min", j.duration).
			Msg("Scheduled watering started")
	case errors.Is(err, session.ErrZoneInactive):
		log.Info().
			Str("schedule", j.scheduleName).
			Str("zone_id", j.zoneID).
			Msg("Zone is inactive, skipping watering")
	case errors.Is(err, session.ErrZoneAlreadyWatering):
		log.Warn().
			Str("schedule", j.scheduleName).
			Str("zone_id", j.zoneID).
			Msg("Zone is already watering, skipping scheduled run")
	default:
		log.Error().Err(err).
			Str("schedule", j.scheduleName).
			Str("zone_id", j.zoneID).
			Msg("Scheduled watering failed")
	}
}

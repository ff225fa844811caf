// Package scheduler runs periodic housekeeping jobs on cron schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler fires registered jobs on their cron schedules.
type Scheduler struct {
	mu   sync.Mutex
	jobs []Job
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 10m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithParser(cronParser))}
}

// Validate reports whether spec is a schedule the scheduler accepts.
func Validate(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers a job. Jobs without a schedule are ignored.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		return nil
	}
	if err := Validate(job.Schedule); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start registers all jobs as cron entries and starts the cron ticker.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		job := job
		_, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Debug("cron firing job", "name", job.Name)
			job.Run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.Stop()
	s.mu.Lock()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}

// Entries returns the number of active cron entries.
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cron.Entries())
}

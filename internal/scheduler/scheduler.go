// Package scheduler runs the periodic sync jobs on top of gocron and keeps
// per job bookkeeping for the API.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusScheduled JobStatus = "scheduled"
)

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	Status            JobStatus     `json:"status"`
	LastRun           time.Time     `json:"lastRun"`
	LastDuration      time.Duration `json:"lastDuration"`
	NextRun           time.Time     `json:"nextRun"`
	Schedule          string        `json:"schedule"`
	Enabled           bool          `json:"enabled"`
	RunCount          int           `json:"runCount"`
	ErrorCount        int           `json:"errorCount"`
	LastError         string        `json:"lastError,omitempty"`
	Singleton         bool          `json:"singleton"`
	InstantAfterStart bool          `json:"instantAfterStart,omitempty"`

	gocronJob gocron.Job
}

// JobFunc represents a function that can be scheduled.
type JobFunc func(ctx context.Context) error

// Option configures the scheduler.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock the scheduler and its bookkeeping use.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// Scheduler manages scheduled jobs.
type Scheduler struct {
	gocron gocron.Scheduler
	clock  clockwork.Clock

	mu       sync.RWMutex
	jobs     map[string]*JobInfo
	jobFuncs map[string]JobFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New(opts ...Option) (*Scheduler, error) {
	o := &options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}

	gocronScheduler, err := gocron.NewScheduler(
		gocron.WithLogger(newGocronLogger(log.Default())),
		gocron.WithClock(o.clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		gocron:   gocronScheduler,
		clock:    o.clock,
		jobs:     make(map[string]*JobInfo),
		jobFuncs: make(map[string]JobFunc),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	log.Info("Starting job scheduler")
	s.gocron.Start()

	// after starting the scheduler, populate the next run times for all jobs
	s.mu.Lock()
	var instant []string
	for id, jobInfo := range s.jobs {
		if nextRun, err := jobInfo.gocronJob.NextRun(); err == nil {
			jobInfo.NextRun = nextRun
			log.Debug("Next run time for job", "id", id, "nextRun", nextRun)
		} else {
			log.Warn("Failed to get next run time for job", "id", id, "error", err)
		}
		if jobInfo.InstantAfterStart {
			instant = append(instant, id)
		}
	}
	s.mu.Unlock()

	for _, id := range instant {
		log.Info("Running job immediately after start", "id", id)
		if err := s.RunJobNow(id); err != nil {
			log.Error("Failed to run job immediately after start", "id", id, "error", err)
		}
	}
	log.Info("Job scheduler started", "jobs", len(s.jobs))
}

// Stop stops the scheduler and cancels running jobs.
func (s *Scheduler) Stop() error {
	log.Info("Stopping job scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// AddSingletonJob adds a cron job of which only one instance runs at a time.
func (s *Scheduler) AddSingletonJob(id, name, description, schedule string, jobFunc JobFunc, instantAfterStart bool) error {
	return s.AddJobWithOptions(id, name, description, schedule, gocron.CronJob(schedule, false), jobFunc, true, instantAfterStart)
}

// AddJobWithOptions adds a new job to the scheduler with optional singleton behavior.
func (s *Scheduler) AddJobWithOptions(
	id, name, description, schedule string,
	jobDef gocron.JobDefinition,
	jobFunc JobFunc,
	singleton, instantAfterStart bool,
) error {
	jobInfo := &JobInfo{
		ID:                id,
		Name:              name,
		Description:       description,
		Status:            JobStatusScheduled,
		Schedule:          schedule,
		Enabled:           true,
		Singleton:         singleton,
		InstantAfterStart: instantAfterStart,
	}

	var jobOptions []gocron.JobOption
	jobOptions = append(jobOptions, gocron.WithName(id))
	if singleton {
		// a trigger while the job is running is rescheduled instead of running in parallel
		jobOptions = append(jobOptions, gocron.WithSingletonMode(gocron.LimitModeReschedule))
	}

	job, err := s.gocron.NewJob(jobDef, gocron.NewTask(s.wrapJobFunc(id, jobFunc)), jobOptions...)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	jobInfo.gocronJob = job

	s.mu.Lock()
	s.jobFuncs[id] = jobFunc
	s.jobs[id] = jobInfo
	s.mu.Unlock()

	log.Info("Added job to scheduler", "id", id, "name", name, "schedule", schedule, "singleton", singleton)
	return nil
}

// RunJobNow manually triggers a job to run immediately.
func (s *Scheduler) RunJobNow(id string) error {
	s.mu.RLock()
	jobInfo, exists := s.jobs[id]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	log.Info("Manually triggering job", "id", id, "name", jobInfo.Name)
	if err := jobInfo.gocronJob.RunNow(); err != nil {
		return fmt.Errorf("failed to trigger job %s: %w", id, err)
	}
	return nil
}

// GetJobs returns a snapshot of all jobs.
func (s *Scheduler) GetJobs() map[string]JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make(map[string]JobInfo, len(s.jobs))
	for id, info := range s.jobs {
		jobs[id] = *info
	}
	return jobs
}

// GetJob returns a snapshot of a specific job.
func (s *Scheduler) GetJob(id string) (JobInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return JobInfo{}, false
	}
	return *job, true
}

// JobIDs returns the ids of all jobs.
func (s *Scheduler) JobIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.jobs)
}

// EnableJob enables a job.
func (s *Scheduler) EnableJob(id string) error {
	return s.setEnabled(id, true)
}

// DisableJob disables a job. A disabled job keeps its schedule but skips its runs.
func (s *Scheduler) DisableJob(id string) error {
	return s.setEnabled(id, false)
}

func (s *Scheduler) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobInfo, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}
	jobInfo.Enabled = enabled
	if nextRun, err := jobInfo.gocronJob.NextRun(); err == nil {
		jobInfo.NextRun = nextRun
	}
	log.Info("Changed job state", "id", id, "enabled", enabled)
	return nil
}

// wrapJobFunc wraps a job function to update job statistics.
func (s *Scheduler) wrapJobFunc(id string, jobFunc JobFunc) func() {
	return func() {
		s.mu.Lock()
		jobInfo := s.jobs[id]
		if jobInfo == nil {
			s.mu.Unlock()
			log.Error("Job info not found", "id", id)
			return
		}
		if !jobInfo.Enabled {
			s.mu.Unlock()
			log.Debug("Job is disabled, skipping", "id", id)
			return
		}
		start := s.clock.Now()
		jobInfo.Status = JobStatusRunning
		jobInfo.LastRun = start
		jobInfo.RunCount++
		name := jobInfo.Name
		s.mu.Unlock()

		log.Info("Starting job", "id", id, "name", name)
		err := jobFunc(s.ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		jobInfo.LastDuration = s.clock.Since(start)
		if nextRun, nextErr := jobInfo.gocronJob.NextRun(); nextErr == nil {
			jobInfo.NextRun = nextRun
		}
		if err != nil {
			log.Error("Job failed", "id", id, "name", name, "error", err)
			jobInfo.Status = JobStatusFailed
			jobInfo.ErrorCount++
			jobInfo.LastError = err.Error()
			return
		}
		log.Info("Job completed successfully", "id", id, "name", name, "duration", jobInfo.LastDuration)
		jobInfo.Status = JobStatusCompleted
		jobInfo.LastError = ""
	}
}

func sortedKeys(m map[string]*JobInfo) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

package scheduler

import (
	"context"
	"time"
)

// Job is one recurring task owned by a Scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Drainer is a Job whose runs hand work to goroutines that outlive Run.
// Drain blocks until that work is done.
type Drainer interface {
	Drain()
}

// Entry binds a job to its cadence.
type Entry struct {
	Job   Job
	Every time.Duration
}

// Registry tracks registered jobs in registration order.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds job on the given cadence. Nil jobs and non-positive cadences are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil || every <= 0 {
		return
	}
	r.entries = append(r.entries, Entry{Job: job, Every: every})
}

// Entries returns the registered jobs in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

package cron

import (
	"context"
	"fmt"
	"strings"

	robfig "github.com/robfig/cron/v3"
)

// Job represents a scheduled task that runs inside the worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its cron spec.
type Entry struct {
	Spec string
	Job  Job
}

// Registry tracks scheduled jobs.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates spec and adds the job. Standard five-field specs and
// descriptors such as "@every 30s" are accepted.
func (r *Registry) Register(spec string, job Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	spec = strings.TrimSpace(spec)
	if _, err := robfig.ParseStandard(spec); err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", job.Name(), spec, err)
	}
	for _, existing := range r.entries {
		if existing.Job.Name() == job.Name() {
			return fmt.Errorf("job %s already registered", job.Name())
		}
	}
	r.entries = append(r.entries, Entry{Spec: spec, Job: job})
	return nil
}

// Entries returns the registered entries in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one maintenance task run by the cron worker each cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in run order, keyed by unique name.
type Registry struct {
	jobs []Job
}

// NewRegistry registers jobs in order; nil jobs are skipped.
func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("cron job name required")
	}
	if r.lookup(name) != nil {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.jobs = append(r.jobs, job)
	return nil
}

// Select returns a registry limited to names, keeping registration order.
// An empty names list selects every job.
func (r *Registry) Select(names []string) (*Registry, error) {
	if len(names) == 0 {
		return &Registry{jobs: r.Jobs()}, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if r.lookup(name) == nil {
			return nil, fmt.Errorf("unknown cron job %q (have %s)", name, strings.Join(r.Names(), ", "))
		}
		wanted[name] = true
	}
	selected := &Registry{}
	for _, job := range r.jobs {
		if wanted[job.Name()] {
			selected.jobs = append(selected.jobs, job)
		}
	}
	return selected, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}

// Jobs returns a copy of the registered jobs in run order.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

func (r *Registry) lookup(name string) Job {
	for _, job := range r.jobs {
		if job.Name() == name {
			return job
		}
	}
	return nil
}

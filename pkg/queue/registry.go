package queue

import (
	"fmt"
	"slices"
	"sync"
)

// JobFactory builds a fresh job instance for one execution attempt
type JobFactory func() Job

// Registry maps stable job type identifiers to factories.
// Reconstruction goes through this explicit lookup table, never through reflection.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]JobFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]JobFactory)}
}

// Register adds factories keyed by the type of the job they produce
func (r *Registry) Register(factories ...JobFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range factories {
		if f == nil {
			return ErrFactoryNil
		}
		job := f()
		if job == nil {
			return fmt.Errorf("%w: factory returned nil job", ErrFactoryNil)
		}
		jobType := TypeOf(job)
		if _, exists := r.factories[jobType]; exists {
			return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, jobType)
		}
		r.factories[jobType] = f
	}
	return nil
}

// Has reports whether a factory is registered for jobType
func (r *Registry) Has(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.factories[jobType]
	return ok
}

// New builds a new job instance for jobType
func (r *Registry) New(jobType string) (Job, error) {
	r.mu.RLock()
	f, ok := r.factories[jobType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	return f(), nil
}

// Types returns the registered job types in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// TypeOf returns the identifier stored as job_type for a job
func TypeOf(job Job) string {
	return qualifiedTypeName(job)
}

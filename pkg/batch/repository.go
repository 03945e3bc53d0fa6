package batch

import (
	"context"
	"sync"
)

// Repository persists step executions between runs.
type Repository interface {
	// Load returns the latest execution of a step, or nil if there is none.
	Load(ctx context.Context, job, step string) (*StepExecution, error)
	// Save stores exec as the latest execution of its step.
	Save(ctx context.Context, exec *StepExecution) error
}

// MemoryRepository keeps executions in memory. It is safe for concurrent
// use and stores copies, so callers may keep mutating what they saved.
type MemoryRepository struct {
	mu    sync.Mutex
	execs map[string]*StepExecution
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{execs: make(map[string]*StepExecution)}
}

func repositoryKey(job, step string) string {
	return job + "\x00" + step
}

func (r *MemoryRepository) Load(_ context.Context, job, step string) (*StepExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.execs[repositoryKey(job, step)]
	if !ok {
		return nil, nil
	}
	return exec.Clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, exec *StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[repositoryKey(exec.Job, exec.Step)] = exec.Clone()
	return nil
}

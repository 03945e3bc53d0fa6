package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eunmann/batchio/internal/logctx"
	"github.com/eunmann/batchio/pkg/humanfmt"
	"github.com/google/uuid"
)

// Status is the state of a step execution.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// StepExecution is one run of a step. Context holds the restart state of
// the last committed chunk.
type StepExecution struct {
	ID          string
	Job         string
	Step        string
	Status      Status
	Context     *ExecutionContext
	ReadCount   int64
	WriteCount  int64
	FilterCount int64
	CommitCount int64
	StartTime   time.Time
	EndTime     time.Time
	ExitMessage string
}

// Clone returns a deep copy.
func (e *StepExecution) Clone() *StepExecution {
	c := *e
	c.Context = e.Context.Clone()
	return &c
}

// Processor transforms an item. Returning keep=false filters the item out
// of the chunk.
type Processor[I, O any] func(ctx context.Context, item I) (out O, keep bool, err error)

// Identity passes every item through unchanged.
func Identity[T any]() Processor[T, T] {
	return func(_ context.Context, item T) (T, bool, error) {
		return item, true, nil
	}
}

// StepOptions configures a Step.
type StepOptions struct {
	Job  string
	Name string
	// CommitInterval is the number of items read per chunk. Default: 100.
	CommitInterval int
	// Repository stores executions. Default: a new MemoryRepository.
	Repository Repository
	// Metrics is optional.
	Metrics *Metrics
}

// DefaultStepOptions returns options for step name of job.
func DefaultStepOptions(job, name string) StepOptions {
	return StepOptions{Job: job, Name: name, CommitInterval: 100}
}

// Validate fills zero values with defaults.
func (o *StepOptions) Validate() {
	if o.CommitInterval <= 0 {
		o.CommitInterval = 100
	}
	if o.Repository == nil {
		o.Repository = NewMemoryRepository()
	}
}

// WithCommitInterval returns a copy with the given chunk size.
func (o StepOptions) WithCommitInterval(n int) StepOptions {
	o.CommitInterval = n
	return o
}

// WithRepository returns a copy with the given repository.
func (o StepOptions) WithRepository(r Repository) StepOptions {
	o.Repository = r
	return o
}

// WithMetrics returns a copy with the given metrics.
func (o StepOptions) WithMetrics(m *Metrics) StepOptions {
	o.Metrics = m
	return o
}

// Step reads, processes and writes items in chunks, committing restart
// state after each chunk.
type Step[I, O any] struct {
	reader    StreamReader[I]
	processor Processor[I, O]
	writer    StreamWriter[O]
	opts      StepOptions
}

// NewStep creates a step. All collaborators are required.
func NewStep[I, O any](reader StreamReader[I], processor Processor[I, O], writer StreamWriter[O], opts StepOptions) (*Step[I, O], error) {
	switch {
	case reader == nil:
		return nil, fmt.Errorf("%w: step needs a reader", ErrMissingCollaborator)
	case processor == nil:
		return nil, fmt.Errorf("%w: step needs a processor", ErrMissingCollaborator)
	case writer == nil:
		return nil, fmt.Errorf("%w: step needs a writer", ErrMissingCollaborator)
	case opts.Job == "" || opts.Name == "":
		return nil, fmt.Errorf("%w: step needs a job and a name", ErrMissingCollaborator)
	}
	opts.Validate()
	return &Step[I, O]{reader: reader, processor: processor, writer: writer, opts: opts}, nil
}

// Name returns the step name.
func (s *Step[I, O]) Name() string {
	return s.opts.Name
}

// Run executes the step. A completed execution is returned as is. A failed
// or interrupted one is resumed from its last committed context.
func (s *Step[I, O]) Run(ctx context.Context) (*StepExecution, error) {
	ctx = logctx.WithStr(logctx.WithStr(ctx, "job", s.opts.Job), "step", s.opts.Name)
	log := logctx.FromContext(ctx)

	prev, err := s.opts.Repository.Load(ctx, s.opts.Job, s.opts.Name)
	if err != nil {
		return nil, fmt.Errorf("load execution of %s/%s: %w", s.opts.Job, s.opts.Name, err)
	}
	if prev != nil && prev.Status == StatusCompleted {
		log.Info().Str("execution", prev.ID).Msg("step already completed, skipping")
		return prev, nil
	}

	exec := &StepExecution{
		ID:        uuid.NewString(),
		Job:       s.opts.Job,
		Step:      s.opts.Name,
		Status:    StatusStarted,
		Context:   NewExecutionContext(),
		StartTime: time.Now(),
	}
	if prev != nil {
		exec.Context = prev.Context.Clone()
		exec.ReadCount = prev.ReadCount
		exec.WriteCount = prev.WriteCount
		exec.FilterCount = prev.FilterCount
		exec.CommitCount = prev.CommitCount
		log.Info().
			Str("execution", exec.ID).
			Str("previous", prev.ID).
			Str("previous_status", string(prev.Status)).
			Int64("committed", prev.WriteCount).
			Msg("restarting step")
	}
	if err := s.opts.Repository.Save(ctx, exec); err != nil {
		return nil, fmt.Errorf("save execution of %s/%s: %w", s.opts.Job, s.opts.Name, err)
	}

	runErr := s.run(ctx, exec)
	exec.EndTime = time.Now()
	if runErr != nil {
		exec.Status = StatusFailed
		exec.ExitMessage = runErr.Error()
		if err := s.opts.Repository.Save(ctx, exec); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("save failed execution: %w", err))
		}
		log.Error().Err(runErr).
			Str("execution", exec.ID).
			Int64("commits", exec.CommitCount).
			Msg("step failed")
		return exec, runErr
	}

	exec.Status = StatusCompleted
	if err := s.opts.Repository.Save(ctx, exec); err != nil {
		return exec, fmt.Errorf("save execution of %s/%s: %w", s.opts.Job, s.opts.Name, err)
	}
	elapsed := exec.EndTime.Sub(exec.StartTime)
	log.Info().
		Str("execution", exec.ID).
		Int64("read", exec.ReadCount).
		Int64("written", exec.WriteCount).
		Int64("filtered", exec.FilterCount).
		Int64("commits", exec.CommitCount).
		Str("elapsed", humanfmt.Duration(elapsed)).
		Str("rate", humanfmt.Rate(exec.WriteCount, elapsed)).
		Msg("step completed")
	return exec, nil
}

func (s *Step[I, O]) run(ctx context.Context, exec *StepExecution) (err error) {
	// Streams work on a copy so a failed chunk never leaks into the
	// committed context.
	ec := exec.Context.Clone()
	if err := s.reader.Open(ctx, ec); err != nil {
		return fmt.Errorf("open reader: %w", err)
	}
	defer func() {
		if cerr := s.reader.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close reader: %w", cerr)
		}
	}()
	if err := s.writer.Open(ctx, ec); err != nil {
		return fmt.Errorf("open writer: %w", err)
	}
	defer func() {
		if cerr := s.writer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close writer: %w", cerr)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := s.chunk(ctx, exec, ec)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// chunk processes one chunk and commits it. done is true once the reader
// is exhausted.
func (s *Step[I, O]) chunk(ctx context.Context, exec *StepExecution, ec *ExecutionContext) (done bool, err error) {
	start := time.Now()
	items := make([]O, 0, s.opts.CommitInterval)
	var read, filtered int64

	for read < int64(s.opts.CommitInterval) {
		item, err := s.reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			done = true
			break
		}
		if err != nil {
			return false, fmt.Errorf("read item %d: %w", exec.ReadCount+read, err)
		}
		read++

		out, keep, err := s.processor(ctx, item)
		if err != nil {
			return false, fmt.Errorf("process item %d: %w", exec.ReadCount+read-1, err)
		}
		if !keep {
			filtered++
			continue
		}
		items = append(items, out)
	}
	if read == 0 {
		return true, nil
	}

	if len(items) > 0 {
		if err := s.writer.Write(ctx, items); err != nil {
			return false, fmt.Errorf("write chunk %d: %w", exec.CommitCount, err)
		}
	}
	if err := s.reader.Update(ec); err != nil {
		return false, fmt.Errorf("update reader state: %w", err)
	}
	if err := s.writer.Update(ec); err != nil {
		return false, fmt.Errorf("update writer state: %w", err)
	}

	exec.Context = ec.Clone()
	exec.ReadCount += read
	exec.WriteCount += int64(len(items))
	exec.FilterCount += filtered
	exec.CommitCount++
	if err := s.opts.Repository.Save(ctx, exec); err != nil {
		return false, fmt.Errorf("commit chunk %d: %w", exec.CommitCount-1, err)
	}
	s.opts.Metrics.chunk(s.opts.Name, time.Since(start))

	log := logctx.FromContext(ctx)
	log.Debug().
		Int64("chunk", exec.CommitCount-1).
		Int64("read", read).
		Int("written", len(items)).
		Int64("filtered", filtered).
		Msg("chunk committed")
	return done, nil
}

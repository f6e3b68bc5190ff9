// Package pipeline runs a subtitle file through grouping, translation,
// reassembly and resplitting, reporting progress as a sequence of events.
package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/logging"
	"github.com/mgpai22/sublingo/internal/resplit"
	"github.com/mgpai22/sublingo/internal/subtitle"
	"github.com/mgpai22/sublingo/internal/translate"
)

// State is the lifecycle position of a job.
type State string

const (
	StateQueued       State = "queued"
	StateGrouping     State = "grouping"
	StateTranslating  State = "translating"
	StateReassembling State = "reassembling"
	StateResplitting  State = "resplitting"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Status is what an event says about its batch.
type Status string

const (
	StatusStarted  Status = "started"
	StatusPartial  Status = "partial"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusDegraded Status = "degraded"
	StatusSkipped  Status = "skipped"
	// the last event of a run; it carries the Summary
	StatusSummary Status = "summary"
)

// Event is one progress report. Batch events arrive in completion order for
// started/partial and in file order for done/failed/degraded/skipped.
type Event struct {
	JobID      string `json:"job_id"`
	BatchIndex int    `json:"batch"`
	Status     Status `json:"status"`
	// first and last subtitle numbers covered by the batch
	FirstIndex int `json:"first_index,omitempty"`
	LastIndex  int `json:"last_index,omitempty"`
	// streamed text received so far for the batch
	PartialText string `json:"partial_text,omitempty"`
	// the batch's entries once it is settled
	Entries []subtitle.Entry `json:"-"`
	Err     error            `json:"-"`
	Summary *Summary         `json:"summary,omitempty"`
}

// Summary is the outcome of a finished run.
type Summary struct {
	JobID           string          `json:"job_id"`
	Name            string          `json:"name"`
	State           State           `json:"state"`
	Format          subtitle.Format `json:"format"`
	Entries         int             `json:"entries"`
	Batches         int             `json:"batches"`
	Completed       int             `json:"completed"`
	FailedBatches   []int           `json:"failed_batches"`
	DegradedBatches []int           `json:"degraded_batches"`
	SkippedBatches  []int           `json:"skipped_batches"`
	Resplit         resplit.Report  `json:"resplit"`
	Elapsed         time.Duration   `json:"elapsed"`
	Error           string          `json:"error,omitempty"`
}

// Partial reports whether any batch did not translate cleanly.
func (s *Summary) Partial() bool {
	return len(s.FailedBatches) > 0 || len(s.DegradedBatches) > 0 || len(s.SkippedBatches) > 0
}

// Translator is the model client the pipeline drives; *translate.Client
// satisfies it.
type Translator interface {
	Translate(ctx context.Context, key string, req translate.Request) (string, error)
	Stream(ctx context.Context, key string, req translate.Request) iter.Seq2[translate.Chunk, error]
}

// Orchestrator creates jobs that share one translator.
type Orchestrator struct {
	translator Translator
	logger     *logging.Logger
	newID      func() string
}

type Option func(*Orchestrator)

func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger)
	}
}

// WithIDGenerator overrides how job IDs are made.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func New(translator Translator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		translator: translator,
		logger:     logging.NewNop(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewJob prepares a job for one file. Nothing runs until Job.Run is
// iterated.
func (o *Orchestrator) NewJob(name string, raw []byte, cfg config.Config) *Job {
	id := o.newID()
	return &Job{
		ID:     id,
		Name:   name,
		raw:    raw,
		cfg:    cfg,
		orch:   o,
		logger: o.logger.With("job", id, "file", name),
		state:  StateQueued,
	}
}

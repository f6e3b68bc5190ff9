package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/group"
	"github.com/mgpai22/sublingo/internal/logging"
	"github.com/mgpai22/sublingo/internal/reassemble"
	"github.com/mgpai22/sublingo/internal/resplit"
	"github.com/mgpai22/sublingo/internal/subtitle"
	"github.com/mgpai22/sublingo/internal/translate"
)

// Job translates one subtitle file. It is run once.
type Job struct {
	ID   string
	Name string

	raw    []byte
	cfg    config.Config
	orch   *Orchestrator
	logger *logging.Logger
	ran    atomic.Bool

	mu      sync.Mutex
	state   State
	format  subtitle.Format
	output  []subtitle.Entry
	summary *Summary
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
	j.logger.Debugw("Job state changed", "state", s)
}

// Summary is nil until the run has finished.
func (j *Job) Summary() *Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.summary
}

func (j *Job) Format() subtitle.Format {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.format
}

// Entries returns a copy of the final entry sequence.
func (j *Job) Entries() []subtitle.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]subtitle.Entry(nil), j.output...)
}

// Output serializes the final entries in the input's format and the job's
// display mode. It is empty when the input could not be parsed.
func (j *Job) Output() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.output == nil {
		return nil
	}
	return subtitle.Encode(j.format, j.output, j.cfg.DisplayMode())
}

// what a worker reports back to the orchestrating loop
type updateKind int

const (
	updateStarted updateKind = iota
	updatePartial
	updateFinished
	updateSkipped
)

type update struct {
	batch int
	kind  updateKind
	text  string
	err   error
}

// per-batch result kept until the batch can be flushed in order
type outcome struct {
	text    string
	err     error
	skipped bool
}

// Run executes the job and yields its progress. The sequence ends with a
// single StatusSummary event. Iterating a second time yields nothing.
// Stopping the iteration early cancels outstanding work.
func (j *Job) Run(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if j.ran.Swap(true) {
			return
		}
		j.run(ctx, yield)
	}
}

func (j *Job) run(parent context.Context, yield func(Event) bool) {
	started := time.Now()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	summary := &Summary{JobID: j.ID, Name: j.Name}
	finish := func(state State) {
		summary.State = state
		summary.Elapsed = time.Since(started)
		j.mu.Lock()
		j.state = state
		j.summary = summary
		j.mu.Unlock()
		j.logger.Infow("Job finished",
			"state", state,
			"batches", summary.Batches,
			"failed", len(summary.FailedBatches),
			"degraded", len(summary.DegradedBatches),
			"skipped", len(summary.SkippedBatches),
			"elapsed", summary.Elapsed.Round(time.Millisecond),
		)
	}

	entries, format, err := subtitle.Decode(j.Name, j.raw)
	if err != nil {
		summary.Error = err.Error()
		finish(StateFailed)
		yield(Event{JobID: j.ID, BatchIndex: -1, Status: StatusSummary, Err: err, Summary: summary})
		return
	}
	for i := range entries {
		entries[i].Index = i + 1
	}
	summary.Format = format
	summary.Entries = len(entries)
	j.mu.Lock()
	j.format = format
	j.mu.Unlock()

	j.setState(StateGrouping)
	batches := group.Group(entries, group.Options{
		MaxChars:      j.cfg.Batch.MaxChars,
		GapThreshold:  j.cfg.Batch.GapThreshold(),
		SceneBreakGap: j.cfg.Batch.SceneBreak(),
	})
	summary.Batches = len(batches)
	j.logger.Infow("Grouped subtitles",
		"entries", len(entries),
		"batches", len(batches),
	)

	j.setState(StateTranslating)
	updates := make(chan update)
	go j.dispatch(ctx, batches, updates)

	failed := make(map[int]bool)
	pending := make(map[int]outcome)
	next := 0
	stopped := false

	emit := func(ev Event) {
		if stopped {
			return
		}
		if !yield(ev) {
			stopped = true
			cancel()
		}
	}

	for u := range updates {
		b := batches[u.batch]
		switch u.kind {
		case updateStarted:
			emit(j.batchEvent(b, StatusStarted))
		case updatePartial:
			ev := j.batchEvent(b, StatusPartial)
			ev.PartialText = u.text
			emit(ev)
		case updateFinished, updateSkipped:
			pending[u.batch] = outcome{text: u.text, err: u.err, skipped: u.kind == updateSkipped}
			for {
				o, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				ev := j.settle(batches[next], o, summary)
				if ev.Status == StatusFailed {
					failed[next] = true
				}
				emit(ev)
				next++
			}
		}
	}
	if stopped {
		// the consumer walked away; no summary is owed
		finish(StateCancelled)
		return
	}

	j.setState(StateReassembling)
	output := j.assemble(entries, batches, failed)

	if parent.Err() == nil && j.cfg.Resplit.Enabled {
		j.setState(StateResplitting)
		output, summary.Resplit = j.resplit(ctx, output)
	}

	j.mu.Lock()
	j.output = output
	j.mu.Unlock()

	state := StateCompleted
	if parent.Err() != nil {
		state = StateCancelled
		summary.Error = parent.Err().Error()
	}
	finish(state)
	yield(Event{JobID: j.ID, BatchIndex: -1, Status: StatusSummary, Summary: summary})
}

// dispatch feeds batches to a bounded pool of workers and closes updates
// once every batch has been reported
func (j *Job) dispatch(ctx context.Context, batches []group.Batch, updates chan<- update) {
	defer close(updates)

	var g errgroup.Group
	g.SetLimit(max(1, j.cfg.Batch.Concurrency))
	for _, b := range batches {
		if ctx.Err() != nil {
			updates <- update{batch: b.Index, kind: updateSkipped}
			continue
		}
		g.Go(func() error {
			// the pool may have been full when the job was cancelled
			if ctx.Err() != nil {
				updates <- update{batch: b.Index, kind: updateSkipped}
				return nil
			}
			j.translateBatch(ctx, b, updates)
			return nil
		})
	}
	_ = g.Wait()
}

func (j *Job) translateBatch(ctx context.Context, b group.Batch, updates chan<- update) {
	updates <- update{batch: b.Index, kind: updateStarted}

	t := j.cfg.Translation
	prompt := translate.BuildBatchPrompt(translate.PromptOptions{
		SourceLanguage: t.SourceLanguage,
		TargetLanguage: t.TargetLanguage,
		Prompt:         t.Prompt,
	}, b.SourceText())
	req := translate.Request{Prompt: prompt, Tier: translate.Tier(t.ModelTier)}
	key := fmt.Sprintf("%s/batch-%d", j.ID, b.Index)

	var (
		text string
		err  error
	)
	if j.cfg.Streaming() {
		var sb strings.Builder
		for chunk, cerr := range j.orch.translator.Stream(ctx, key, req) {
			if cerr != nil {
				err = cerr
				break
			}
			if chunk.Restart {
				sb.Reset()
			}
			sb.WriteString(chunk.Text)
			updates <- update{batch: b.Index, kind: updatePartial, text: sb.String()}
		}
		text = sb.String()
	} else {
		text, err = j.orch.translator.Translate(ctx, key, req)
	}

	if err != nil && ctx.Err() != nil {
		// abandoned in flight by cancellation
		updates <- update{batch: b.Index, kind: updateSkipped}
		return
	}
	updates <- update{batch: b.Index, kind: updateFinished, text: text, err: err}
}

// settle applies one batch's result to the shared entries; only the
// orchestrating loop calls it, in batch order
func (j *Job) settle(b group.Batch, o outcome, summary *Summary) Event {
	switch {
	case o.skipped:
		summary.SkippedBatches = append(summary.SkippedBatches, b.Index)
		return j.batchEvent(b, StatusSkipped)

	case o.err != nil:
		summary.FailedBatches = append(summary.FailedBatches, b.Index)
		j.logger.Warnw("Batch translation failed",
			"batch", b.Index,
			"first", b.FirstIndex(),
			"last", b.LastIndex(),
			"error", o.err,
		)
		ev := j.batchEvent(b, StatusFailed)
		ev.Err = o.err
		return ev
	}

	segments, err := reassemble.Align(b, o.text)
	reassemble.Apply(b, segments)
	summary.Completed++

	status := StatusDone
	var alignErr *reassemble.AlignmentError
	if errors.As(err, &alignErr) {
		summary.DegradedBatches = append(summary.DegradedBatches, b.Index)
		j.logger.Warnw("Batch alignment degraded",
			"batch", b.Index,
			"error", alignErr,
		)
		status = StatusDegraded
	}

	ev := j.batchEvent(b, status)
	ev.Err = err
	ev.Entries = append([]subtitle.Entry(nil), b.Entries...)
	return ev
}

func (j *Job) batchEvent(b group.Batch, status Status) Event {
	return Event{
		JobID:      j.ID,
		BatchIndex: b.Index,
		Status:     status,
		FirstIndex: b.FirstIndex(),
		LastIndex:  b.LastIndex(),
	}
}

// applies the failure policy and renumbers the surviving entries
func (j *Job) assemble(entries []subtitle.Entry, batches []group.Batch, failed map[int]bool) []subtitle.Entry {
	omit := j.cfg.Translation.OnFailure == config.OnFailureOmit
	out := make([]subtitle.Entry, 0, len(entries))
	for _, b := range batches {
		if omit && failed[b.Index] {
			continue
		}
		out = append(out, b.Entries...)
	}
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

func (j *Job) resplit(ctx context.Context, entries []subtitle.Entry) ([]subtitle.Entry, resplit.Report) {
	rc := j.cfg.Resplit
	splitter := resplit.NewModelSplitter(
		j.orch.translator,
		translate.PromptOptions{TargetLanguage: j.cfg.Translation.TargetLanguage},
		translate.Tier(rc.ModelTier),
	)
	r := resplit.New(splitter, resplit.Thresholds{
		MaxDuration:  rc.MaxDuration(),
		MaxChars:     rc.MaxChars,
		MinUnit:      rc.MinUnit(),
		MaxLineChars: rc.MaxLineChars,
	}, j.cfg.DisplayMode(),
		resplit.WithConcurrency(j.cfg.Batch.Concurrency),
		resplit.WithKeyPrefix(j.ID+"/"),
		resplit.WithLogger(j.logger),
	)

	out, report := r.Resplit(ctx, entries)
	j.logger.Infow("Resplit long subtitles",
		"candidates", report.Candidates,
		"split", report.Split,
		"created", report.Created,
		"failed", len(report.Failed),
	)
	return out, report
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/subtitle"
	"github.com/mgpai22/sublingo/internal/translate"
)

// fakeModel answers prompts through respond and streams the answer line by
// line
type fakeModel struct {
	mu      sync.Mutex
	respond func(ctx context.Context, prompt string) (string, error)
	prompts []string
}

func (m *fakeModel) Complete(ctx context.Context, req translate.Request) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	return m.respond(ctx, req.Prompt)
}

func (m *fakeModel) Stream(ctx context.Context, req translate.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := m.Complete(ctx, req)
		if err != nil {
			yield("", err)
			return
		}
		for _, line := range strings.SplitAfter(text, "\n") {
			if !yield(line, nil) {
				return
			}
		}
	}
}

func (m *fakeModel) count(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// the "[n] text" lines a batch prompt asks to translate
func batchSource(prompt string) []string {
	start := strings.LastIndex(prompt, "Input:\n")
	end := strings.LastIndex(prompt, "\n\nOutput the translated lines only:")
	if start < 0 || end < start {
		return nil
	}
	return strings.Split(prompt[start+len("Input:\n"):end], "\n")
}

func isSplitPrompt(prompt string) bool {
	return strings.Contains(prompt, "Output the parts only:")
}

// translates by upper-casing every line, keeping its marker
func upperCase(ctx context.Context, prompt string) (string, error) {
	return strings.ToUpper(strings.Join(batchSource(prompt), "\n")), nil
}

func newClient(model translate.Backend) *translate.Client {
	return translate.NewClient(model,
		translate.WithRetryPolicy(translate.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
		}),
		translate.WithSleeper(func(time.Duration) {}),
	)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Translation.TargetLanguage = "zh"
	cfg.Translation.Mode = config.ModeUnary
	cfg.Batch.Concurrency = 2
	return cfg
}

func srt(texts ...string) []byte {
	var sb strings.Builder
	for i, text := range texts {
		start := time.Duration(i) * 20 * time.Second
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			i+1,
			subtitle.FormatTimestamp(start),
			subtitle.FormatTimestamp(start+2*time.Second),
			text,
		)
	}
	return []byte(sb.String())
}

func collect(seq iter.Seq[Event]) []Event {
	var events []Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func settled(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		switch ev.Status {
		case StatusDone, StatusDegraded, StatusFailed, StatusSkipped:
			out = append(out, ev)
		}
	}
	return out
}

func TestJobTranslatesContextBatch(t *testing.T) {
	raw := []byte("1\n00:00:01,000 --> 00:00:01,800\nHello,\n\n" +
		"2\n00:00:01,900 --> 00:00:02,700\nworld.\n\n" +
		"3\n00:00:02,800 --> 00:00:04,000\nHow are you?\n")

	for _, mode := range []string{config.ModeUnary, config.ModeStream} {
		t.Run(mode, func(t *testing.T) {
			model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
				return "[1] 你好，\n[2] 世界。\n[3] 你好吗？", nil
			}}
			cfg := testConfig()
			cfg.Translation.Mode = mode
			cfg.Batch.MaxChars = 50
			cfg.Batch.GapThresholdMS = 200

			job := New(newClient(model)).NewJob("talk.srt", raw, cfg)
			events := collect(job.Run(context.Background()))

			require.NotEmpty(t, events)
			last := events[len(events)-1]
			require.Equal(t, StatusSummary, last.Status)
			assert.Equal(t, StateCompleted, last.Summary.State)
			assert.Equal(t, 1, last.Summary.Batches)
			assert.Equal(t, 1, last.Summary.Completed)
			assert.False(t, last.Summary.Partial())
			assert.Equal(t, StateCompleted, job.State())

			entries := job.Entries()
			require.Len(t, entries, 3)
			assert.Equal(t, "你好，", entries[0].Translation)
			assert.Equal(t, "世界。", entries[1].Translation)
			assert.Equal(t, "你好吗？", entries[2].Translation)
			assert.Equal(t, time.Second, entries[0].StartTime)
			assert.Equal(t, 1800*time.Millisecond, entries[0].EndTime)
			assert.Equal(t, 1900*time.Millisecond, entries[1].StartTime)
			assert.Equal(t, 4*time.Second, entries[2].EndTime)

			done := settled(events)
			require.Len(t, done, 1)
			assert.Equal(t, StatusDone, done[0].Status)
			assert.Equal(t, 1, done[0].FirstIndex)
			assert.Equal(t, 3, done[0].LastIndex)
			assert.Len(t, done[0].Entries, 3)

			out := string(job.Output())
			assert.Contains(t, out, "00:00:01,000 --> 00:00:01,800\n你好，\n")
			assert.NotContains(t, out, "Hello,")

			if mode == config.ModeStream {
				var partial string
				for _, ev := range events {
					if ev.Status == StatusPartial {
						partial = ev.PartialText
					}
				}
				assert.Equal(t, "[1] 你好，\n[2] 世界。\n[3] 你好吗？", partial)
			}
		})
	}
}

func TestJobFailedBatchDoesNotFailJob(t *testing.T) {
	model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Broken") {
			return "", errors.New("503 service unavailable")
		}
		return upperCase(ctx, prompt)
	}}
	cfg := testConfig()

	job := New(newClient(model)).NewJob("show.srt", srt("First line.", "Broken line.", "Last line."), cfg)
	events := collect(job.Run(context.Background()))

	summary := job.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, StateCompleted, summary.State)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, []int{1}, summary.FailedBatches)
	assert.True(t, summary.Partial())
	assert.Equal(t, 3, model.count("Broken"))

	done := settled(events)
	require.Len(t, done, 3)
	assert.Equal(t, StatusFailed, done[1].Status)
	var failure *translate.TranslationFailure
	require.ErrorAs(t, done[1].Err, &failure)
	assert.Equal(t, 3, failure.Attempts)

	entries := job.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "FIRST LINE.", entries[0].Translation)
	assert.Empty(t, entries[1].Translation)
	assert.Equal(t, "LAST LINE.", entries[2].Translation)
	assert.Contains(t, string(job.Output()), "Broken line.")
}

func TestJobBlankSegmentDegradesBatch(t *testing.T) {
	raw := []byte("1\n00:00:01,000 --> 00:00:01,800\nHello,\n\n" +
		"2\n00:00:01,900 --> 00:00:02,700\nworld.\n\n" +
		"3\n00:00:02,800 --> 00:00:04,000\nHow are you?\n")
	model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
		return "[1] 你好，\n[2]\n[3] 你好吗？", nil
	}}
	cfg := testConfig()
	cfg.Batch.MaxChars = 50
	cfg.Batch.GapThresholdMS = 200

	job := New(newClient(model)).NewJob("talk.srt", raw, cfg)
	events := collect(job.Run(context.Background()))

	done := settled(events)
	require.Len(t, done, 1)
	assert.Equal(t, StatusDegraded, done[0].Status)
	summary := job.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, []int{0}, summary.DegradedBatches)
	assert.True(t, summary.Partial())
	assert.Len(t, job.Entries(), 3)
}

func TestJobOmitsFailedBatches(t *testing.T) {
	model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Broken") {
			return "", errors.New("400 bad request")
		}
		return upperCase(ctx, prompt)
	}}
	cfg := testConfig()
	cfg.Translation.OnFailure = config.OnFailureOmit

	job := New(newClient(model)).NewJob("show.srt", srt("First line.", "Broken line.", "Last line."), cfg)
	collect(job.Run(context.Background()))

	// not retryable, so a single attempt
	assert.Equal(t, 1, model.count("Broken"))
	entries := job.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Index)
	assert.Equal(t, 2, entries[1].Index)
	assert.Equal(t, "LAST LINE.", entries[1].Translation)
	assert.NotContains(t, string(job.Output()), "Broken")
}

func TestJobResplitsLongTranslation(t *testing.T) {
	first := strings.Repeat("a", 59) + "."
	second := strings.Repeat("b", 79) + "."
	model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
		if isSplitPrompt(prompt) {
			return "[1] " + first + "\n[2] " + second, nil
		}
		return "[1] " + first + " " + second, nil
	}}
	cfg := testConfig()
	cfg.Resplit.Enabled = true
	cfg.Resplit.MaxDurationMS = 4000
	cfg.Resplit.MaxChars = 80
	cfg.Resplit.MinUnitMS = 700

	raw := []byte("1\n00:00:10,000 --> 00:00:16,000\n" + strings.Repeat("x", 139) + ".\n")
	job := New(newClient(model)).NewJob("long.srt", raw, cfg)
	collect(job.Run(context.Background()))

	summary := job.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, StateCompleted, summary.State)
	assert.Equal(t, 1, summary.Resplit.Split)
	assert.Equal(t, 2, summary.Resplit.Created)

	entries := job.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 10*time.Second, entries[0].StartTime)
	assert.Equal(t, entries[0].EndTime, entries[1].StartTime)
	assert.Equal(t, 16*time.Second, entries[1].EndTime)
	assert.Equal(t, 2571*time.Millisecond, entries[0].Duration())
	assert.Equal(t, 3429*time.Millisecond, entries[1].Duration())
	assert.Equal(t, 2, entries[1].Index)
}

func TestJobSettlesBatchesInFileOrder(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Alpha"):
			// held until the second batch has been answered
			<-release
		case strings.Contains(prompt, "Beta"):
			once.Do(func() { close(release) })
		}
		return upperCase(ctx, prompt)
	}}
	cfg := testConfig()
	cfg.Batch.Concurrency = 3

	job := New(newClient(model)).NewJob("order.srt", srt("Alpha.", "Beta.", "Gamma.", "Delta.", "Epsilon."), cfg)
	events := collect(job.Run(context.Background()))

	done := settled(events)
	require.Len(t, done, 5)
	for i, ev := range done {
		assert.Equal(t, i, ev.BatchIndex)
		assert.Equal(t, StatusDone, ev.Status)
	}
	assert.Equal(t, "EPSILON.", job.Entries()[4].Translation)
}

func TestJobCancellationSkipsRemainingBatches(t *testing.T) {
	model := &fakeModel{respond: func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "First") {
			return upperCase(ctx, prompt)
		}
		<-ctx.Done()
		return "", ctx.Err()
	}}
	cfg := testConfig()
	cfg.Batch.Concurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := New(newClient(model)).NewJob("show.srt", srt("First.", "Second.", "Third."), cfg)
	var events []Event
	for ev := range job.Run(ctx) {
		events = append(events, ev)
		if ev.Status == StatusDone {
			cancel()
		}
	}

	last := events[len(events)-1]
	require.Equal(t, StatusSummary, last.Status)
	assert.Equal(t, StateCancelled, last.Summary.State)
	assert.Equal(t, []int{1, 2}, last.Summary.SkippedBatches)
	assert.Empty(t, last.Summary.FailedBatches)

	entries := job.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "FIRST.", entries[0].Translation)
	assert.Empty(t, entries[2].Translation)
}

func TestJobStopsWhenConsumerBreaks(t *testing.T) {
	model := &fakeModel{respond: upperCase}
	job := New(newClient(model)).NewJob("show.srt", srt("One.", "Two.", "Three."), testConfig())

	for range job.Run(context.Background()) {
		break
	}

	assert.Equal(t, StateCancelled, job.State())
	require.NotNil(t, job.Summary())
}

func TestJobRejectsMalformedInput(t *testing.T) {
	model := &fakeModel{respond: upperCase}
	job := New(newClient(model)).NewJob("bad.srt", []byte("1\n00:00:01 to 00:00:02\nHi\n"), testConfig())

	events := collect(job.Run(context.Background()))

	require.Len(t, events, 1)
	assert.Equal(t, StatusSummary, events[0].Status)
	var formatErr *subtitle.FormatError
	assert.ErrorAs(t, events[0].Err, &formatErr)
	assert.Equal(t, StateFailed, job.State())
	assert.NotEmpty(t, events[0].Summary.Error)
	assert.Nil(t, job.Output())
	assert.Empty(t, model.prompts)
}

func TestJobRunsOnce(t *testing.T) {
	model := &fakeModel{respond: upperCase}
	job := New(newClient(model)).NewJob("show.srt", srt("One."), testConfig())

	first := collect(job.Run(context.Background()))
	second := collect(job.Run(context.Background()))

	assert.NotEmpty(t, first)
	assert.Empty(t, second)
	assert.Equal(t, 1, model.count("[1] One."))
}

func TestJobKeepsVTTFormat(t *testing.T) {
	model := &fakeModel{respond: upperCase}
	raw := []byte("WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nGood night.\n")

	job := New(newClient(model)).NewJob("clip.vtt", raw, testConfig())
	collect(job.Run(context.Background()))

	assert.Equal(t, subtitle.FormatVTT, job.Format())
	out := string(job.Output())
	assert.True(t, strings.HasPrefix(out, "WEBVTT"))
	assert.Contains(t, out, "GOOD NIGHT.")
}

func TestJobIDsComeFromGenerator(t *testing.T) {
	n := 0
	orch := New(newClient(&fakeModel{respond: upperCase}), WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("job-%d", n)
	}))

	assert.Equal(t, "job-1", orch.NewJob("a.srt", nil, testConfig()).ID)
	assert.Equal(t, "job-2", orch.NewJob("b.srt", nil, testConfig()).ID)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateTranslating.Terminal())
	assert.False(t, StateQueued.Terminal())
}

package translate

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// one scripted backend response; chunks are used by Stream, text by Complete
type step struct {
	text   string
	chunks []string
	err    error
}

type fakeBackend struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *fakeBackend) next() step {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.steps) {
		return f.steps[len(f.steps)-1]
	}
	return f.steps[i]
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) Complete(ctx context.Context, req Request) (string, error) {
	s := f.next()
	return s.text, s.err
}

func (f *fakeBackend) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	s := f.next()
	return func(yield func(string, error) bool) {
		for _, chunk := range s.chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

// blocks every call until its context ends
type hangingBackend struct {
	started chan struct{}
	once    sync.Once
}

func (h *hangingBackend) Complete(ctx context.Context, req Request) (string, error) {
	h.once.Do(func() { close(h.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func (h *hangingBackend) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := h.Complete(ctx, req)
		yield(text, err)
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(d time.Duration) {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
}

func newTestClient(backend Backend, rec *sleepRecorder, opts ...Option) *Client {
	base := []Option{
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   5 * time.Second,
			MaxDelay:    60 * time.Second,
		}),
		WithSleeper(rec.sleep),
	}
	return NewClient(backend, append(base, opts...)...)
}

func rateLimited() error {
	return &RateLimitError{Provider: ProviderGemini, Err: errors.New("429 Too Many Requests")}
}

func TestTranslateSucceedsFirstTry(t *testing.T) {
	backend := &fakeBackend{steps: []step{{text: "[1] 你好"}}}
	rec := &sleepRecorder{}
	client := newTestClient(backend, rec)

	text, err := client.Translate(context.Background(), "batch-0", Request{Prompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, "[1] 你好", text)
	assert.Equal(t, 1, backend.Calls())
	assert.Empty(t, rec.delays)
}

func TestTranslateRetriesRateLimit(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{err: rateLimited()},
		{err: rateLimited()},
		{text: "[1] ok"},
	}}
	rec := &sleepRecorder{}
	client := newTestClient(backend, rec)

	text, err := client.Translate(context.Background(), "batch-0", Request{})

	require.NoError(t, err)
	assert.Equal(t, "[1] ok", text)
	assert.Equal(t, 3, backend.Calls())
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.delays)
}

func TestTranslateFailsAfterMaxAttempts(t *testing.T) {
	backend := &fakeBackend{steps: []step{{err: rateLimited()}}}
	rec := &sleepRecorder{}
	client := newTestClient(backend, rec)

	_, err := client.Translate(context.Background(), "batch-7", Request{})

	var failure *TranslationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "batch-7", failure.Key)
	assert.Equal(t, 3, failure.Attempts)
	var rateErr *RateLimitError
	assert.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 3, backend.Calls())
	assert.Len(t, rec.delays, 2)
}

func TestTranslateDoesNotRetryPermanentErrors(t *testing.T) {
	backend := &fakeBackend{steps: []step{{
		err: &StatusError{Provider: ProviderOpenAI, Code: 401, Err: errors.New("bad key")},
	}}}
	rec := &sleepRecorder{}
	client := newTestClient(backend, rec)

	_, err := client.Translate(context.Background(), "k", Request{})

	var failure *TranslationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Attempts)
	assert.Equal(t, 1, backend.Calls())
}

func TestTranslateRetriesEmptyResponse(t *testing.T) {
	backend := &fakeBackend{steps: []step{{text: "  \n"}, {text: "[1] done"}}}
	client := newTestClient(backend, &sleepRecorder{})

	text, err := client.Translate(context.Background(), "k", Request{})

	require.NoError(t, err)
	assert.Equal(t, "[1] done", text)
	assert.Equal(t, 2, backend.Calls())
}

func TestTranslateTimeoutIsRetried(t *testing.T) {
	backend := &hangingBackend{started: make(chan struct{})}
	client := newTestClient(backend, &sleepRecorder{},
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2}),
		WithTimeout(10*time.Millisecond),
	)

	_, err := client.Translate(context.Background(), "k", Request{})

	var failure *TranslationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.Attempts)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestTranslateCancelledIsNotAFailure(t *testing.T) {
	backend := &hangingBackend{started: make(chan struct{})}
	client := newTestClient(backend, &sleepRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-backend.started
		cancel()
	}()

	_, err := client.Translate(ctx, "k", Request{})

	require.ErrorIs(t, err, context.Canceled)
	var failure *TranslationFailure
	assert.False(t, errors.As(err, &failure))
}

func TestTranslateRejectsDuplicateKey(t *testing.T) {
	backend := &hangingBackend{started: make(chan struct{})}
	client := newTestClient(backend, &sleepRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Translate(ctx, "batch-1", Request{})
		done <- err
	}()
	<-backend.started

	_, err := client.Translate(context.Background(), "batch-1", Request{})
	assert.ErrorIs(t, err, ErrInFlight)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// the key is free again once the first call returned
	release, err := client.acquire("batch-1")
	require.NoError(t, err)
	release()
}

func collect(t *testing.T, seq iter.Seq2[Chunk, error]) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for chunk, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStreamYieldsChunksInOrder(t *testing.T) {
	backend := &fakeBackend{steps: []step{{chunks: []string{"[1] Hel", "lo\n", "[2] world"}}}}
	client := newTestClient(backend, &sleepRecorder{})

	chunks, err := collect(t, client.Stream(context.Background(), "k", Request{}))

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	var sb strings.Builder
	for _, chunk := range chunks {
		assert.Equal(t, 1, chunk.Attempt)
		assert.False(t, chunk.Restart)
		sb.WriteString(chunk.Text)
	}
	assert.Equal(t, "[1] Hello\n[2] world", sb.String())
}

func TestStreamRestartsAfterMidStreamFailure(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{chunks: []string{"[1] par"}, err: errors.New("connection reset by peer")},
		{chunks: []string{"[1] full", " answer"}},
	}}
	rec := &sleepRecorder{}
	client := newTestClient(backend, rec)

	chunks, err := collect(t, client.Stream(context.Background(), "k", Request{}))

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.False(t, chunks[0].Restart)
	assert.True(t, chunks[1].Restart)
	assert.Equal(t, 2, chunks[1].Attempt)
	assert.False(t, chunks[2].Restart)
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestStreamFailureEndsWithSingleError(t *testing.T) {
	backend := &fakeBackend{steps: []step{{err: rateLimited()}}}
	client := newTestClient(backend, &sleepRecorder{})

	var errs []error
	for _, err := range client.Stream(context.Background(), "k", Request{}) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	require.Len(t, errs, 1)
	var failure *TranslationFailure
	require.ErrorAs(t, errs[0], &failure)
	assert.Equal(t, 3, failure.Attempts)
}

func TestStreamEmptyIsRetried(t *testing.T) {
	backend := &fakeBackend{steps: []step{{chunks: nil}, {chunks: []string{"[1] x"}}}}
	client := newTestClient(backend, &sleepRecorder{})

	chunks, err := collect(t, client.Stream(context.Background(), "k", Request{}))

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Restart)
}

func TestStreamIsNotRestartable(t *testing.T) {
	backend := &fakeBackend{steps: []step{{chunks: []string{"a"}}}}
	client := newTestClient(backend, &sleepRecorder{})
	seq := client.Stream(context.Background(), "k", Request{})

	_, err := collect(t, seq)
	require.NoError(t, err)
	_, err = collect(t, seq)
	assert.ErrorIs(t, err, errStreamReused)
	assert.Equal(t, 1, backend.Calls())
}

func TestStreamEarlyBreakReleasesKey(t *testing.T) {
	backend := &fakeBackend{steps: []step{{text: "ok", chunks: []string{"a", "b", "c"}}}}
	client := newTestClient(backend, &sleepRecorder{})

	for range client.Stream(context.Background(), "k", Request{}) {
		break
	}

	_, err := client.Translate(context.Background(), "k", Request{})
	assert.NoError(t, err)
}

func TestBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	assert.Equal(t, 5*time.Second, policy.Backoff(0))
	assert.Equal(t, 5*time.Second, policy.Backoff(1))
	assert.Equal(t, 10*time.Second, policy.Backoff(2))
	assert.Equal(t, 20*time.Second, policy.Backoff(3))
	assert.Equal(t, 30*time.Second, policy.Backoff(4))
	assert.Equal(t, 30*time.Second, policy.Backoff(40))
}

func TestRetryAfterOverridesBackoff(t *testing.T) {
	backend := &fakeBackend{steps: []step{
		{err: &RateLimitError{Provider: ProviderAnthropic, RetryAfter: 90 * time.Second, Err: errors.New("slow down")}},
		{text: "ok"},
	}}
	rec := &sleepRecorder{}
	client := newTestClient(backend, rec)

	_, err := client.Translate(context.Background(), "k", Request{})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{60 * time.Second}, rec.delays, "capped at MaxDelay")
}

func TestRequestsPerMinutePacesCalls(t *testing.T) {
	backend := &fakeBackend{steps: []step{{text: "ok"}}}
	client := newTestClient(backend, &sleepRecorder{}, WithRequestsPerMinute(3000))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := client.Translate(context.Background(), "k", Request{})
		require.NoError(t, err)
	}

	// 3000 rpm is one call every 20ms; the first is free
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", rateLimited(), true},
		{"timeout", &TimeoutError{After: time.Second}, true},
		{"server error", &StatusError{Provider: ProviderGemini, Code: 503, Err: errors.New("unavailable")}, true},
		{"bad request", &StatusError{Provider: ProviderGemini, Code: 400, Err: errors.New("bad")}, false},
		{"empty", ErrEmptyResponse, true},
		{"cancelled", context.Canceled, false},
		{"in flight", ErrInFlight, false},
		{"quota text", errors.New("Error 429: RESOURCE_EXHAUSTED"), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"other", errors.New("invalid prompt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestStatusErrorClassification(t *testing.T) {
	base := errors.New("boom")

	var rateErr *RateLimitError
	assert.ErrorAs(t, statusError(ProviderOpenAI, 429, base), &rateErr)

	var statusErr *StatusError
	require.ErrorAs(t, statusError(ProviderOpenAI, 500, base), &statusErr)
	assert.Equal(t, 500, statusErr.Code)

	assert.ErrorIs(t, statusError(ProviderOpenAI, 0, base), base)
}

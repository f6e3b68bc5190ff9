// Package resplit breaks overlong translated entries into shorter units and
// shares the original screen time out between them.
package resplit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/mgpai22/sublingo/internal/logging"
	"github.com/mgpai22/sublingo/internal/reassemble"
	"github.com/mgpai22/sublingo/internal/subtitle"
	"github.com/mgpai22/sublingo/internal/translate"
)

// Thresholds decide which entries are too long to keep.
type Thresholds struct {
	MaxDuration time.Duration
	MaxChars    int
	// shortest unit the allocator aims for
	MinUnit time.Duration
	// line length used when wrapping each new unit
	MaxLineChars int
}

// NeedsSplit reports whether an entry is on screen too long or shows too
// much text.
func NeedsSplit(e subtitle.Entry, th Thresholds) bool {
	if th.MaxDuration > 0 && e.Duration() > th.MaxDuration {
		return true
	}
	return th.MaxChars > 0 && displayedChars(e) > th.MaxChars
}

// Units is how many parts to ask for: enough for both limits, and at least
// two.
func Units(e subtitle.Entry, th Thresholds) int {
	n := 2
	if th.MaxDuration > 0 {
		n = max(n, int(math.Ceil(float64(e.Duration())/float64(th.MaxDuration))))
	}
	if th.MaxChars > 0 {
		n = max(n, int(math.Ceil(float64(displayedChars(e))/float64(th.MaxChars))))
	}
	return n
}

func displayedChars(e subtitle.Entry) int {
	return utf8.RuneCountInString(subtitle.Flatten(e.Displayed()))
}

// Splitter cuts text into about n consecutive parts.
type Splitter interface {
	Split(ctx context.Context, key, text string, n int) ([]string, error)
}

// Completer runs one unary model call; *translate.Client satisfies it.
type Completer interface {
	Translate(ctx context.Context, key string, req translate.Request) (string, error)
}

// ModelSplitter asks the translation model for the cut points.
type ModelSplitter struct {
	client Completer
	prompt translate.PromptOptions
	tier   translate.Tier
}

func NewModelSplitter(
	client Completer,
	prompt translate.PromptOptions,
	tier translate.Tier,
) *ModelSplitter {
	return &ModelSplitter{client: client, prompt: prompt, tier: tier}
}

func (s *ModelSplitter) Split(ctx context.Context, key, text string, n int) ([]string, error) {
	resp, err := s.client.Translate(ctx, key, translate.Request{
		Prompt: translate.BuildSplitPrompt(s.prompt, text, n),
		Tier:   s.tier,
	})
	if err != nil {
		return nil, err
	}
	return parseUnits(resp), nil
}

// numbered parts in marker order; plain lines when the model left the
// numbers out
func parseUnits(resp string) []string {
	segments := reassemble.ParseSegments(resp)
	if len(segments) > 0 {
		keys := make([]int, 0, len(segments))
		for k := range segments {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		var units []string
		for _, k := range keys {
			if unit := strings.Join(strings.Fields(segments[k]), " "); unit != "" {
				units = append(units, unit)
			}
		}
		return units
	}

	var units []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		units = append(units, line)
	}
	return units
}

// Report summarizes one resplit pass.
type Report struct {
	// entries over a threshold
	Candidates int `json:"candidates"`
	// entries replaced by shorter units
	Split int `json:"split"`
	// units created in their place
	Created int `json:"created"`
	// indices of candidates left as they were
	Failed []int `json:"failed"`
}

type Resplitter struct {
	splitter    Splitter
	thresholds  Thresholds
	mode        subtitle.DisplayMode
	concurrency int
	keyPrefix   string
	logger      *logging.Logger
}

type Option func(*Resplitter)

func WithConcurrency(n int) Option {
	return func(r *Resplitter) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithKeyPrefix namespaces the in-flight keys of split calls, so jobs that
// share a client do not collide.
func WithKeyPrefix(prefix string) Option {
	return func(r *Resplitter) {
		r.keyPrefix = prefix
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(r *Resplitter) {
		r.logger = logging.OrNop(logger)
	}
}

func New(
	splitter Splitter,
	thresholds Thresholds,
	mode subtitle.DisplayMode,
	opts ...Option,
) *Resplitter {
	r := &Resplitter{
		splitter:    splitter,
		thresholds:  thresholds,
		mode:        mode,
		concurrency: 1,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resplit returns a new entry sequence in which every translated entry over
// a threshold is replaced by the units the splitter produced. An entry whose
// split fails, or yields fewer than two units, is kept unchanged and listed
// in the report. The result is renumbered from 1.
func (r *Resplitter) Resplit(ctx context.Context, entries []subtitle.Entry) ([]subtitle.Entry, Report) {
	var report Report
	replacements := make([][]subtitle.Entry, len(entries))
	failed := make([]bool, len(entries))

	var candidates []int
	for i, e := range entries {
		if e.Translation == "" || r.mode == subtitle.ModeOriginalOnly {
			continue
		}
		if NeedsSplit(e, r.thresholds) {
			candidates = append(candidates, i)
		}
	}
	report.Candidates = len(candidates)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, i := range candidates {
		if gctx.Err() != nil {
			mu.Lock()
			failed[i] = true
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			units, err := r.split(gctx, entries[i])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[i] = true
				r.logger.Warnw("Keeping long subtitle as is",
					"index", entries[i].Index,
					"error", err,
				)
				return nil
			}
			replacements[i] = units
			return nil
		})
	}
	_ = g.Wait()

	out := make([]subtitle.Entry, 0, len(entries))
	for i, e := range entries {
		if units := replacements[i]; units != nil {
			out = append(out, units...)
			report.Split++
			report.Created += len(units)
			continue
		}
		if failed[i] {
			report.Failed = append(report.Failed, e.Index)
		}
		out = append(out, e)
	}
	for i := range out {
		out[i].Index = i + 1
	}
	return out, report
}

func (r *Resplitter) split(ctx context.Context, e subtitle.Entry) ([]subtitle.Entry, error) {
	n := Units(e, r.thresholds)
	key := fmt.Sprintf("%sresplit-%d", r.keyPrefix, e.Index)

	parts, err := r.splitter.Split(ctx, key, subtitle.Flatten(e.Translation), n)
	if err != nil {
		return nil, err
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("model returned %d part(s), need at least 2", len(parts))
	}

	weights := make([]int, len(parts))
	for i, part := range parts {
		weights[i] = utf8.RuneCountInString(part)
	}
	timeline := Allocate(e.StartTime, e.EndTime, weights, r.thresholds.MinUnit)

	var originals []string
	if r.mode.Bilingual() {
		originals = reassemble.ProportionalSplit(subtitle.Flatten(e.Text), weights)
	}

	units := make([]subtitle.Entry, len(parts))
	for i, part := range parts {
		unit := subtitle.Entry{
			StartTime:   timeline[i].Start,
			EndTime:     timeline[i].End,
			Text:        e.Text,
			Translation: subtitle.Wrap(part, r.thresholds.MaxLineChars),
		}
		if originals != nil {
			unit.Text = subtitle.Wrap(originals[i], r.thresholds.MaxLineChars)
		}
		units[i] = unit
	}
	return units, nil
}

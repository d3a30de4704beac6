// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package autocomplete implements the user picker used when choosing a
// co-host or looking up a member.
package autocomplete

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const (
	DefaultMinLength  = 2
	DefaultMaxResults = 10
	DefaultDelay      = 300 * time.Millisecond
)

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]model.UserSummary, error)
}

// Timer is a scheduled call that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once d has passed.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Key int

const (
	KeyUp Key = iota
	KeyDown
	KeyEnter
	KeyEscape
)

type Config struct {
	MinLength  int
	MaxResults int
	Delay      time.Duration
	OnSelect   func(model.UserSummary)
}

type Option func(*Typeahead)

func WithScheduler(s Scheduler) Option {
	return func(t *Typeahead) { t.scheduler = s }
}

func WithContext(ctx context.Context) Option {
	return func(t *Typeahead) { t.ctx = ctx }
}

// Typeahead holds the state of one search box. Zero config values fall back
// to the defaults.
type Typeahead struct {
	logger    *slog.Logger
	searcher  Searcher
	scheduler Scheduler
	ctx       context.Context
	cfg       Config

	mu          sync.Mutex
	query       string
	generation  uint64
	timer       Timer
	suggestions []model.UserSummary
	visible     bool
	highlighted int
}

func New(searcher Searcher, cfg Config, opts ...Option) *Typeahead {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	t := &Typeahead{
		logger:      slog.Default().WithGroup("autocomplete"),
		searcher:    searcher,
		scheduler:   realScheduler{},
		ctx:         context.Background(),
		cfg:         cfg,
		highlighted: -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Input handles a change of the query text. The search starts once the
// text has been quiet for the configured delay.
func (t *Typeahead) Input(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.query = strings.TrimSpace(text)
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if len([]rune(t.query)) < t.cfg.MinLength {
		t.hide()
		return
	}
	gen, query := t.generation, t.query
	t.timer = t.scheduler.AfterFunc(t.cfg.Delay, func() { t.search(gen, query) })
}

func (t *Typeahead) search(gen uint64, query string) {
	var span trace.Span
	ctx := t.ctx
	ctx, span = tracer.Start(ctx, "Typeahead.search")
	defer span.End()
	span.SetAttributes(attribute.Int("search.length", len(query)))

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	results, err := t.searcher.Search(ctx, query, t.cfg.MaxResults)
	if err != nil {
		span.RecordError(err)
		t.logger.ErrorContext(ctx, "user search failed", "error", err)
		results = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		span.AddEvent("stale results dropped")
		return
	}
	t.timer = nil
	if len(results) > t.cfg.MaxResults {
		results = results[:t.cfg.MaxResults]
	}
	t.suggestions = results
	t.visible = len(results) > 0
	t.highlighted = -1
}

// Key handles keyboard navigation and reports whether the key was used.
func (t *Typeahead) Key(k Key) bool {
	t.mu.Lock()
	if !t.visible {
		t.mu.Unlock()
		return false
	}
	n := len(t.suggestions)
	switch k {
	case KeyUp:
		if t.highlighted <= 0 {
			t.highlighted = n - 1
		} else {
			t.highlighted--
		}
	case KeyDown:
		if t.highlighted >= n-1 {
			t.highlighted = 0
		} else {
			t.highlighted++
		}
	case KeyEscape:
		t.hide()
	case KeyEnter:
		if t.highlighted < 0 {
			t.mu.Unlock()
			return false
		}
		idx := t.highlighted
		t.mu.Unlock()
		return t.Select(idx)
	default:
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()
	return true
}

// Select picks a suggestion, hides the list and hands the record to the
// OnSelect callback.
func (t *Typeahead) Select(idx int) bool {
	t.mu.Lock()
	if !t.visible || idx < 0 || idx >= len(t.suggestions) {
		t.mu.Unlock()
		return false
	}
	picked := t.suggestions[idx]
	t.query = picked.Name
	t.generation++
	t.hide()
	onSelect := t.cfg.OnSelect
	t.mu.Unlock()

	if onSelect != nil {
		onSelect(picked)
	}
	return true
}

func (t *Typeahead) Blur() { t.dismiss() }

func (t *Typeahead) ClickOutside() { t.dismiss() }

func (t *Typeahead) dismiss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hide()
}

// hide expects t.mu to be held.
func (t *Typeahead) hide() {
	t.visible = false
	t.suggestions = nil
	t.highlighted = -1
}

func (t *Typeahead) Query() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.query
}

func (t *Typeahead) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Suggestions returns the visible suggestions, or nil when hidden.
func (t *Typeahead) Suggestions() []model.UserSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible {
		return nil
	}
	out := make([]model.UserSummary, len(t.suggestions))
	copy(out, t.suggestions)
	return out
}

// Highlighted is the index of the highlighted suggestion, -1 for none.
func (t *Typeahead) Highlighted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highlighted
}

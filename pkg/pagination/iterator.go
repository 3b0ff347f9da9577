package pagination

import (
	"context"
	"fmt"

	"github.com/Sternrassler/atlassian-client/pkg/client"
	"github.com/Sternrassler/atlassian-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for pagination.
var (
	paginationPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlassian_pagination_pages_total",
		Help: "Total pages fetched by pagination kind",
	}, []string{"kind"})

	paginationLoopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlassian_pagination_loops_total",
		Help: "Total pagination calls aborted because a page key repeated",
	}, []string{"kind"})
)

// Pagination kinds used as metric labels.
const (
	KindCursor = "cursor"
	KindOffset = "offset"
)

// Sequence is a finite, non-restartable stream of items.
type Sequence[T any] interface {
	// Next advances to the next item, fetching a page if needed.
	// It returns false at the end of the sequence or on error.
	Next(ctx context.Context) bool
	// Item returns the current item.
	Item() T
	// Err returns the error that ended the sequence, if any.
	Err() error
}

// Page is one fetched page: its items and where to continue.
type Page[K comparable, T any] struct {
	Items []T
	Next  K
	Done  bool
}

// FetchFunc fetches the page identified by key.
type FetchFunc[K comparable, T any] func(ctx context.Context, key K) (Page[K, T], error)

// Options configures an Iterator.
type Options struct {
	// Kind labels metrics (KindCursor, KindOffset).
	Kind string

	// Operation names the paginated operation in errors and logs.
	Operation string

	Logger *zerolog.Logger
}

// Iterator walks pages sequentially starting at an initial key.
type Iterator[K comparable, T any] struct {
	fetch  FetchFunc[K, T]
	opts   Options
	logger zerolog.Logger

	next  K
	seen  map[K]struct{}
	buf   []T
	pos   int
	item  T
	pages int
	done  bool
	err   error
}

// New creates an iterator starting at initial. The initial key counts as
// requested, so a server pointing back at it is detected as a loop.
func New[K comparable, T any](initial K, fetch FetchFunc[K, T], opts Options) *Iterator[K, T] {
	if opts.Kind == "" {
		opts.Kind = KindCursor
	}
	logger := logging.NewLogger(logging.ComponentPagination)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Iterator[K, T]{
		fetch:  fetch,
		opts:   opts,
		logger: logger,
		next:   initial,
		seen:   make(map[K]struct{}),
	}
}

// Next implements Sequence.
func (it *Iterator[K, T]) Next(ctx context.Context) bool {
	for {
		if it.err != nil {
			return false
		}
		if it.pos < len(it.buf) {
			it.item = it.buf[it.pos]
			it.pos++
			return true
		}
		if it.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}

		key := it.next
		if _, repeated := it.seen[key]; repeated {
			paginationLoopsTotal.WithLabelValues(it.opts.Kind).Inc()
			it.logger.Warn().
				Str("operation", it.opts.Operation).
				Str("kind", it.opts.Kind).
				Str("key", fmt.Sprint(key)).
				Int("pages", it.pages).
				Msg("Pagination key repeated, aborting")
			it.err = client.NewSerializationError(it.opts.Operation,
				"pagination %s %v repeated; aborting to prevent an infinite loop", it.keyName(), key)
			return false
		}
		it.seen[key] = struct{}{}

		page, err := it.fetch(ctx, key)
		if err != nil {
			it.err = err
			return false
		}
		it.pages++
		paginationPagesTotal.WithLabelValues(it.opts.Kind).Inc()

		it.logger.Debug().
			Str("operation", it.opts.Operation).
			Str("key", fmt.Sprint(key)).
			Int("items", len(page.Items)).
			Bool("last", page.Done).
			Msg("Fetched page")

		it.buf = page.Items
		it.pos = 0
		if page.Done {
			it.done = true
		} else {
			it.next = page.Next
		}
	}
}

// Item implements Sequence.
func (it *Iterator[K, T]) Item() T {
	return it.item
}

// Err implements Sequence.
func (it *Iterator[K, T]) Err() error {
	return it.err
}

// Pages returns the number of pages fetched so far.
func (it *Iterator[K, T]) Pages() int {
	return it.pages
}

func (it *Iterator[K, T]) keyName() string {
	if it.opts.Kind == KindOffset {
		return "offset"
	}
	return "cursor"
}

// mapped applies a function to every item of a sequence.
type mapped[T, U any] struct {
	src  Sequence[T]
	fn   func(context.Context, T) (U, error)
	item U
	err  error
}

// Map returns a sequence of fn applied to each item of src. fn runs when the
// item is produced, so any requests it makes are interleaved with the
// source's page fetches in order.
func Map[T, U any](src Sequence[T], fn func(context.Context, T) (U, error)) Sequence[U] {
	return &mapped[T, U]{src: src, fn: fn}
}

func (m *mapped[T, U]) Next(ctx context.Context) bool {
	if m.err != nil || !m.src.Next(ctx) {
		return false
	}
	item, err := m.fn(ctx, m.src.Item())
	if err != nil {
		m.err = err
		return false
	}
	m.item = item
	return true
}

func (m *mapped[T, U]) Item() U { return m.item }

func (m *mapped[T, U]) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.src.Err()
}

// filtered skips items of a sequence.
type filtered[T any] struct {
	src  Sequence[T]
	keep func(T) bool
}

// Filter returns a sequence of the items of src for which keep is true.
// Paging decisions are made on the unfiltered pages.
func Filter[T any](src Sequence[T], keep func(T) bool) Sequence[T] {
	return &filtered[T]{src: src, keep: keep}
}

func (f *filtered[T]) Next(ctx context.Context) bool {
	for f.src.Next(ctx) {
		if f.keep(f.src.Item()) {
			return true
		}
	}
	return false
}

func (f *filtered[T]) Item() T { return f.src.Item() }

func (f *filtered[T]) Err() error { return f.src.Err() }

// Collect drains a sequence into a slice.
func Collect[T any](ctx context.Context, seq Sequence[T]) ([]T, error) {
	var out []T
	for seq.Next(ctx) {
		out = append(out, seq.Item())
	}
	if err := seq.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

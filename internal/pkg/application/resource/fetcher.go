package resource

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/schedule"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/pkg/types"
)

// ErrSuperseded is returned by Refresh when a newer request was issued while
// the response was in flight. The response is discarded.
var ErrSuperseded = errors.New("response superseded by a newer request")

type FetchFunc[T any] func(ctx context.Context, params url.Values) (types.Envelope[T], error)

// State is a snapshot of a fetcher. Envelope and Query always describe the
// last successful fetch, Err the outcome of the most recent one.
type State[T any] struct {
	Envelope types.Envelope[T]
	Query    Query
	Loaded   bool
	Loading  bool
	Err      error
}

type Fetcher[T any] struct {
	mu        sync.Mutex
	fetch     FetchFunc[T]
	query     Query
	state     State[T]
	seq       uint64
	listeners map[int]func(State[T])
	nextID    int

	// taskMu serializes replacing and stopping the auto refresh. It is never
	// held together with mu.
	taskMu sync.Mutex
	task   *schedule.Task
}

func NewFetcher[T any](fetch FetchFunc[T], query Query) *Fetcher[T] {
	return &Fetcher[T]{
		fetch:     fetch,
		query:     query.Clone(),
		listeners: map[int]func(State[T]){},
	}
}

func (f *Fetcher[T]) Query() Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query.Clone()
}

func (f *Fetcher[T]) State() State[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

// Update applies change to the query state and fetches the result.
func (f *Fetcher[T]) Update(ctx context.Context, change func(*Query)) (State[T], error) {
	f.mu.Lock()
	change(&f.query)
	f.mu.Unlock()

	return f.Refresh(ctx)
}

// Refresh issues one collection request for the current query. On failure
// the previously loaded items are kept and the error is recorded in the state.
func (f *Fetcher[T]) Refresh(ctx context.Context) (State[T], error) {
	log := logging.GetFromContext(ctx)

	f.mu.Lock()
	f.seq++
	seq := f.seq
	query := f.query.Clone()
	f.state.Loading = true
	loading := f.snapshot()
	f.mu.Unlock()

	f.notify(loading)

	env, err := f.fetch(ctx, query.Params())

	f.mu.Lock()
	if seq != f.seq {
		current := f.snapshot()
		f.mu.Unlock()
		log.Debug().Msg("discarding superseded response")
		return current, ErrSuperseded
	}

	f.state.Loading = false
	f.state.Err = err
	if err == nil {
		f.state.Envelope = env
		f.state.Query = query
		f.state.Loaded = true
	}
	result := f.snapshot()
	f.mu.Unlock()

	if err != nil {
		log.Debug().Err(err).Msg("fetch failed, keeping previous items")
	}

	f.notify(result)

	return result, err
}

// Subscribe registers fn to be called on every state change. The returned
// function removes the listener.
func (f *Fetcher[T]) Subscribe(fn func(State[T])) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.listeners[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// AutoRefresh refreshes immediately and then every interval until Close is
// called or ctx is cancelled. A running auto refresh is replaced.
func (f *Fetcher[T]) AutoRefresh(ctx context.Context, interval time.Duration) {
	f.taskMu.Lock()
	defer f.taskMu.Unlock()

	f.stopTask()

	f.task = schedule.Start(ctx, interval, func(ctx context.Context) {
		f.Refresh(ctx)
	})
}

// Close stops any auto refresh and waits for it to finish.
func (f *Fetcher[T]) Close() {
	f.taskMu.Lock()
	defer f.taskMu.Unlock()

	f.stopTask()
}

// stopTask must be called with taskMu held.
func (f *Fetcher[T]) stopTask() {
	if f.task != nil {
		f.task.Stop()
		f.task = nil
	}
}

func (f *Fetcher[T]) snapshot() State[T] {
	s := f.state
	s.Query = s.Query.Clone()
	return s
}

func (f *Fetcher[T]) notify(s State[T]) {
	f.mu.Lock()
	listeners := make([]func(State[T]), 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

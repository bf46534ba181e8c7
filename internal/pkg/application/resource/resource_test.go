package resource

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/diwise/ecotrack/pkg/types"
	"github.com/matryer/is"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParamsOmitUnsetFilters(t *testing.T) {
	is := is.New(t)

	q := NewQuery(SortedBy("timestamp", Desc))
	q.SetFilter("type", "co2")
	q.SetFilter("zone_id", "")

	params := q.Params()
	is.Equal(params.Get("type"), "co2")
	is.Equal(params.Get("sort_by"), "timestamp")
	is.Equal(params.Get("order"), "desc")
	is.Equal(params.Get("skip"), "0")
	is.Equal(params.Get("limit"), "20")
	_, ok := params["zone_id"]
	is.True(!ok)

	q.SetFilter("type", "")
	_, ok = q.Params()["type"]
	is.True(!ok)
}

func TestChangingFilterResetsSkip(t *testing.T) {
	is := is.New(t)

	q := NewQuery()
	q.SetSkip(60)
	is.Equal(q.Page(), 3)

	q.SetFilter("type", "energy")
	is.Equal(q.Skip(), 0)

	q.SetSkip(40)
	q.SetFilter("type", "energy")
	is.Equal(q.Skip(), 40) // unchanged filter keeps the page

	q.ClearFilters()
	is.Equal(q.Skip(), 0)
}

func TestChangingSortResetsSkip(t *testing.T) {
	is := is.New(t)

	q := NewQuery()
	q.SetSkip(40)
	q.ToggleSort("value")
	is.Equal(q.Skip(), 0)

	field, order := q.Sort()
	is.Equal(field, "value")
	is.Equal(order, Asc)

	q.SetSkip(20)
	q.ToggleSort("value")
	_, order = q.Sort()
	is.Equal(order, Desc)
	is.Equal(q.Skip(), 0)
}

func TestCloneIsIndependent(t *testing.T) {
	is := is.New(t)

	q := NewQuery(Filter("type", "co2"))
	c := q.Clone()
	c.SetFilter("type", "energy")

	is.Equal(q.Filter("type"), "co2")
}

func TestFetcherLoadsEnvelope(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 57}

	f := NewFetcher(api.list, NewQuery())
	state, err := f.Refresh(context.Background())
	is.NoErr(err)
	is.True(state.Loaded)
	is.Equal(state.Envelope.Total, 57)
	is.Equal(len(state.Envelope.Items), 20)
}

func TestFetcherKeepsItemsOnFailure(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 5}

	f := NewFetcher(api.list, NewQuery())
	_, err := f.Refresh(context.Background())
	is.NoErr(err)

	api.fail(errors.New("server unavailable"))

	state, err := f.Refresh(context.Background())
	is.True(err != nil)
	is.Equal(state.Err, err)
	is.Equal(len(state.Envelope.Items), 5)
	is.True(!state.Loading)
}

func TestSupersededResponseIsDiscarded(t *testing.T) {
	is := is.New(t)

	slow := make(chan struct{})
	fetch := func(ctx context.Context, params url.Values) (types.Envelope[item], error) {
		if params.Get("type") == "co2" {
			<-slow
			return types.FromSlice([]item{{ID: 1}}), nil
		}
		return types.FromSlice([]item{{ID: 2}, {ID: 3}}), nil
	}

	f := NewFetcher(fetch, NewQuery())

	var wg sync.WaitGroup
	var staleErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, staleErr = f.Update(context.Background(), func(q *Query) { q.SetFilter("type", "co2") })
	}()

	// wait until the first request is in flight
	for !f.State().Loading {
		time.Sleep(time.Millisecond)
	}

	state, err := f.Update(context.Background(), func(q *Query) { q.SetFilter("type", "energy") })
	is.NoErr(err)
	is.Equal(len(state.Envelope.Items), 2)

	close(slow)
	wg.Wait()

	is.True(errors.Is(staleErr, ErrSuperseded))
	is.Equal(len(f.State().Envelope.Items), 2)
	is.Equal(f.State().Query.Filter("type"), "energy")
}

func TestListenersAreNotified(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 3}

	f := NewFetcher(api.list, NewQuery())

	var states []State[item]
	unsubscribe := f.Subscribe(func(s State[item]) { states = append(states, s) })

	f.Refresh(context.Background())
	is.Equal(len(states), 2)
	is.True(states[0].Loading)
	is.True(states[1].Loaded)

	unsubscribe()
	f.Refresh(context.Background())
	is.Equal(len(states), 2)
}

func TestAutoRefreshStopsOnClose(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 3}

	f := NewFetcher(api.list, NewQuery())
	f.AutoRefresh(context.Background(), 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	f.Close()

	calls := api.count()
	is.True(calls >= 2)

	time.Sleep(30 * time.Millisecond)
	is.Equal(api.count(), calls)
}

func TestConcurrentAutoRefreshKeepsOneTask(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 3}

	f := NewFetcher(api.list, NewQuery())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.AutoRefresh(context.Background(), 5*time.Millisecond)
		}()
	}
	wg.Wait()

	f.Close()

	calls := api.count()
	time.Sleep(30 * time.Millisecond)
	is.Equal(api.count(), calls) // no replaced task is left running
}

func TestDeleteRefetchesOnceWithSameQuery(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 57}

	q := NewQuery(SortedBy("timestamp", Desc))
	q.SetFilter("type", "co2")
	q.SetSkip(40)

	f := NewFetcher(api.list, q)
	f.Refresh(context.Background())
	before := api.count()

	m := NewMutator("indicator", f, api.operations(), nil)
	is.NoErr(m.Delete(context.Background(), 42))

	is.Equal(api.deleted, []int{42})
	is.Equal(api.count(), before+1)
	is.Equal(api.lastParams().Encode(), q.Params().Encode())
}

func TestDeclinedDeleteIsNotDispatched(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 3}

	f := NewFetcher(api.list, NewQuery())
	decline := ConfirmFunc(func(ctx context.Context, prompt string) (bool, error) {
		is.Equal(prompt, "Are you sure you want to delete this indicator?")
		return false, nil
	})

	m := NewMutator("indicator", f, api.operations(), decline)
	err := m.Delete(context.Background(), 1)
	is.True(errors.Is(err, ErrCancelled))
	is.Equal(len(api.deleted), 0)
	is.Equal(api.count(), 0)
}

func TestFailedMutationLeavesState(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 3}

	f := NewFetcher(api.list, NewQuery())
	f.Refresh(context.Background())
	before := api.count()

	api.mutationErr = errors.New("Zone not found")

	m := NewMutator("indicator", f, api.operations(), nil)
	_, err := m.Update(context.Background(), 1, "x")
	is.Equal(err.Error(), "Zone not found")
	is.Equal(api.count(), before)
	is.Equal(len(f.State().Envelope.Items), 3)
}

func TestCreateRefetches(t *testing.T) {
	is := is.New(t)
	api := &fakeAPI{total: 3}

	f := NewFetcher(api.list, NewQuery())
	m := NewMutator("indicator", f, api.operations(), nil)

	created, err := m.Create(context.Background(), "new")
	is.NoErr(err)
	is.Equal(created.Name, "new")
	is.Equal(api.count(), 1)
	is.True(f.State().Loaded)
}

func TestMissingOperationIsUnsupported(t *testing.T) {
	is := is.New(t)

	m := NewMutator[item, string, string]("source", nil, Operations[item, string, string]{}, nil)
	err := m.Delete(context.Background(), 1)
	is.True(errors.Is(err, ErrUnsupported))
}

type item struct {
	ID   int
	Name string
}

type fakeAPI struct {
	mu          sync.Mutex
	total       int
	err         error
	mutationErr error
	params      []url.Values
	deleted     []int
}

func (a *fakeAPI) list(ctx context.Context, params url.Values) (types.Envelope[item], error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.params = append(a.params, params)
	if a.err != nil {
		return types.Envelope[item]{}, a.err
	}

	q := NewQuery()
	q.SetSkip(atoi(params.Get("skip")))
	limit := atoi(params.Get("limit"))

	items := []item{}
	for i := q.Skip(); i < min(q.Skip()+limit, a.total); i++ {
		items = append(items, item{ID: i + 1})
	}

	return types.NewEnvelope(items, a.total, q.Skip(), limit), nil
}

func (a *fakeAPI) operations() Operations[item, string, string] {
	return Operations[item, string, string]{
		Create: func(ctx context.Context, name string) (item, error) {
			return item{ID: a.total + 1, Name: name}, a.mutationErr
		},
		Update: func(ctx context.Context, id int, name string) (item, error) {
			return item{ID: id, Name: name}, a.mutationErr
		},
		Delete: func(ctx context.Context, id int) error {
			if a.mutationErr != nil {
				return a.mutationErr
			}
			a.mu.Lock()
			defer a.mu.Unlock()
			a.deleted = append(a.deleted, id)
			return nil
		},
	}
}

func (a *fakeAPI) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeAPI) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.params)
}

func (a *fakeAPI) lastParams() url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params[len(a.params)-1]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

package resource

import (
	"net/url"
	"sort"
	"strconv"

	"github.com/samber/lo"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

const DefaultLimit = 20

// Query is the filter, sort and pagination state of a collection view.
// Changing a filter or the sort order moves the query back to the first page.
type Query struct {
	filters map[string]string
	sortBy  string
	order   Direction
	skip    int
	limit   int
}

type QueryOption func(*Query)

func SortedBy(field string, order Direction) QueryOption {
	return func(q *Query) {
		q.sortBy = field
		q.order = order
	}
}

func Limit(limit int) QueryOption {
	return func(q *Query) {
		q.limit = max(limit, 0)
	}
}

func Filter(field, value string) QueryOption {
	return func(q *Query) {
		q.filters[field] = value
	}
}

func NewQuery(opts ...QueryOption) Query {
	q := Query{
		filters: map[string]string{},
		limit:   DefaultLimit,
	}

	for _, opt := range opts {
		opt(&q)
	}

	return q
}

// SetFilter sets a filter value. An empty value unsets the filter.
func (q *Query) SetFilter(field, value string) {
	if q.filters == nil {
		q.filters = map[string]string{}
	}

	if q.filters[field] == value {
		return
	}

	if value == "" {
		delete(q.filters, field)
	} else {
		q.filters[field] = value
	}

	q.skip = 0
}

func (q *Query) ClearFilters() {
	if len(q.filters) == 0 {
		return
	}
	q.filters = map[string]string{}
	q.skip = 0
}

func (q Query) Filter(field string) string {
	return q.filters[field]
}

func (q *Query) SetSort(field string, order Direction) {
	if q.sortBy == field && q.order == order {
		return
	}
	q.sortBy = field
	q.order = order
	q.skip = 0
}

// ToggleSort sorts ascending by field, or flips to descending when the query
// is already sorted ascending by that field.
func (q *Query) ToggleSort(field string) {
	if q.sortBy == field && q.order == Asc {
		q.SetSort(field, Desc)
		return
	}
	q.SetSort(field, Asc)
}

func (q Query) Sort() (string, Direction) {
	return q.sortBy, q.order
}

func (q *Query) SetLimit(limit int) {
	q.limit = max(limit, 0)
	q.skip = 0
}

func (q *Query) SetSkip(skip int) {
	q.skip = max(skip, 0)
}

func (q Query) Skip() int {
	return q.skip
}

func (q Query) Limit() int {
	return q.limit
}

// Page returns the zero based page number of the query.
func (q Query) Page() int {
	if q.limit == 0 {
		return 0
	}
	return q.skip / q.limit
}

// Params serializes the query. Unset filters are omitted.
func (q Query) Params() url.Values {
	params := url.Values{}

	params.Set("skip", strconv.Itoa(q.skip))
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}

	if q.sortBy != "" {
		params.Set("sort_by", q.sortBy)
		if q.order != "" {
			params.Set("order", string(q.order))
		}
	}

	for _, k := range q.filterKeys() {
		if v := q.filters[k]; v != "" {
			params.Set(k, v)
		}
	}

	return params
}

func (q Query) Clone() Query {
	c := q
	c.filters = make(map[string]string, len(q.filters))
	for k, v := range q.filters {
		c.filters[k] = v
	}
	return c
}

func (q Query) filterKeys() []string {
	keys := lo.Keys(q.filters)
	sort.Strings(keys)
	return keys
}

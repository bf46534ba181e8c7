package types

// Envelope is the paginated wrapper returned by the collection endpoints.
// HasNext and HasPrev are declared by the server and are never recomputed
// by consumers.
type Envelope[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Skip    int  `json:"skip"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// NewEnvelope builds the server side envelope for a page of items.
func NewEnvelope[T any](items []T, total, skip, limit int) Envelope[T] {
	if items == nil {
		items = []T{}
	}

	total = max(total, 0)
	skip = clamp(skip, 0, total)
	limit = max(limit, 0)

	return Envelope[T]{
		Items:   items,
		Total:   total,
		Skip:    skip,
		Limit:   limit,
		HasNext: skip+limit < total,
		HasPrev: skip > 0,
	}
}

// FromSlice wraps an unpaginated list.
func FromSlice[T any](items []T) Envelope[T] {
	if items == nil {
		items = []T{}
	}

	return Envelope[T]{
		Items: items,
		Total: len(items),
		Skip:  0,
		Limit: len(items),
	}
}

// Window returns the half open range [from, to) of the envelope clamped to [0, Total].
func (e Envelope[T]) Window() (from, to int) {
	from = clamp(e.Skip, 0, e.Total)
	to = clamp(from+max(e.Limit, 0), from, e.Total)
	return
}

// Consistent reports whether the server declared HasNext agrees with the
// envelope bounds, i.e. HasNext is false exactly when skip+limit >= total.
func (e Envelope[T]) Consistent() bool {
	return e.HasNext == (e.Skip+e.Limit < e.Total)
}

func (e Envelope[T]) NextSkip() int {
	_, to := e.Window()
	return to
}

func (e Envelope[T]) PrevSkip() int {
	return max(e.Skip-e.Limit, 0)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

package types

import (
	"testing"

	"github.com/matryer/is"
)

func TestNewEnvelopeDeclaresPaging(t *testing.T) {
	is := is.New(t)

	e := NewEnvelope(make([]int, 17), 57, 40, 20)

	is.True(!e.HasNext)
	is.True(e.HasPrev)
	is.True(e.Consistent())

	from, to := e.Window()
	is.Equal(from, 40)
	is.Equal(to, 57)
}

func TestNewEnvelopeClampsSkipToTotal(t *testing.T) {
	is := is.New(t)

	e := NewEnvelope([]int{}, 10, 25, 5)
	is.Equal(e.Skip, 10)
	is.True(!e.HasNext)

	e = NewEnvelope([]int{}, 10, -3, 5)
	is.Equal(e.Skip, 0)
	is.True(!e.HasPrev)
	is.True(e.HasNext)
}

func TestConsistentDetectsServerMismatch(t *testing.T) {
	is := is.New(t)

	e := Envelope[int]{Total: 57, Skip: 40, Limit: 20, HasNext: true}
	is.True(!e.Consistent())

	e = Envelope[int]{Total: 57, Skip: 20, Limit: 20, HasNext: true}
	is.True(e.Consistent())
}

func TestWindowIsClampedForOutOfRangeBounds(t *testing.T) {
	is := is.New(t)

	e := Envelope[int]{Total: 5, Skip: 9, Limit: 20}
	from, to := e.Window()
	is.Equal(from, 5)
	is.Equal(to, 5)
	is.Equal(e.NextSkip(), 5)
}

func TestFromSliceHasNoNeighbours(t *testing.T) {
	is := is.New(t)

	e := FromSlice([]string{"a", "b"})
	is.Equal(e.Total, 2)
	is.True(!e.HasNext)
	is.True(!e.HasPrev)

	empty := FromSlice[string](nil)
	is.Equal(len(empty.Items), 0)
	is.True(empty.Items != nil)
}

func TestSeriesPoints(t *testing.T) {
	is := is.New(t)

	s := Series{Labels: []string{"2024-01", "2024-02"}, Series: []float64{1.5}}
	p := s.Points()

	is.Equal(len(p), 2)
	is.Equal(p[0], Point{Name: "2024-01", Value: 1.5})
	is.Equal(p[1].Value, 0.0)
}

func TestIndicatorTypeValid(t *testing.T) {
	is := is.New(t)

	is.True(CO2.Valid())
	is.True(!IndicatorType("noise").Valid())
}

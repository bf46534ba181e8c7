package geo

import (
	"testing"

	"github.com/matryer/is"
)

func TestParseCoordinates(t *testing.T) {
	is := is.New(t)

	c, ok := ParseCoordinates("48.8566,2.3522")
	is.True(ok)
	is.Equal(c, Coordinates{Lat: 48.8566, Lon: 2.3522})

	c, ok = ParseCoordinates(" 45.764 , 4.8357 ")
	is.True(ok)
	is.Equal(c.Lat, 45.764)

	for _, invalid := range []string{"", "abc", "48.8566", "48.8566,", ",2.3522", "1,2,3", "a,b", "48.8566;2.3522", "NaN,2.3522", "48.8566,nan", "inf,2.3522", "48.8566,-Inf"} {
		_, ok := ParseCoordinates(invalid)
		is.True(!ok) // input should be excluded
	}
}

func TestOutOfRangeCoordinatesAreAccepted(t *testing.T) {
	is := is.New(t)

	c, ok := ParseCoordinates("123.4,-500")
	is.True(ok)
	is.Equal(c.Lon, -500.0)
}

func TestCoordinatesString(t *testing.T) {
	is := is.New(t)
	is.Equal(Paris.String(), "48.8566,2.3522")
}

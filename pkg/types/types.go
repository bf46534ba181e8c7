package types

import (
	"time"
)

type IndicatorType string

const (
	AirQuality    IndicatorType = "air_quality"
	CO2           IndicatorType = "co2"
	Energy        IndicatorType = "energy"
	Temperature   IndicatorType = "temperature"
	Precipitation IndicatorType = "precipitation"
)

var IndicatorTypes = []IndicatorType{AirQuality, CO2, Energy, Temperature, Precipitation}

func (t IndicatorType) Valid() bool {
	for _, it := range IndicatorTypes {
		if it == t {
			return true
		}
	}
	return false
}

type Indicator struct {
	ID        int            `json:"id"`
	Type      IndicatorType  `json:"type"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit"`
	Timestamp time.Time      `json:"timestamp"`
	ZoneID    int            `json:"zone_id"`
	SourceID  int            `json:"source_id"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type IndicatorCreate struct {
	Type      IndicatorType  `json:"type"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit"`
	Timestamp time.Time      `json:"timestamp"`
	ZoneID    int            `json:"zone_id"`
	SourceID  int            `json:"source_id"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

type IndicatorUpdate struct {
	Type      *IndicatorType `json:"type,omitempty"`
	Value     *float64       `json:"value,omitempty"`
	Unit      *string        `json:"unit,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	ZoneID    *int           `json:"zone_id,omitempty"`
	SourceID  *int           `json:"source_id,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
}

type Zone struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	PostalCode *string   `json:"postal_code"`
	Geom       *string   `json:"geom"`
	CreatedAt  time.Time `json:"created_at"`
}

type ZoneCreate struct {
	Name       string  `json:"name"`
	PostalCode *string `json:"postal_code,omitempty"`
	Geom       *string `json:"geom,omitempty"`
}

type ZoneUpdate struct {
	Name       *string `json:"name,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	Geom       *string `json:"geom,omitempty"`
}

type Source struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	URL         *string   `json:"url"`
	Description *string   `json:"description"`
	Frequency   *string   `json:"frequency"`
	Limitations *string   `json:"limitations"`
	CreatedAt   time.Time `json:"created_at"`
}

type SourceCreate struct {
	Name        string  `json:"name"`
	URL         *string `json:"url,omitempty"`
	Description *string `json:"description,omitempty"`
	Frequency   *string `json:"frequency,omitempty"`
	Limitations *string `json:"limitations,omitempty"`
}

type SourceUpdate struct {
	Name        *string `json:"name,omitempty"`
	URL         *string `json:"url,omitempty"`
	Description *string `json:"description,omitempty"`
	Frequency   *string `json:"frequency,omitempty"`
	Limitations *string `json:"limitations,omitempty"`
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserCreate struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Username *string `json:"username,omitempty"`
	Role     *Role   `json:"role,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type SummaryStat struct {
	Type    IndicatorType `json:"type"`
	Count   int64         `json:"count"`
	Average float64       `json:"average"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
}

// Series is the chart friendly shape returned by the statistics endpoints.
type Series struct {
	Labels []string  `json:"labels"`
	Series []float64 `json:"series"`
}

type Point struct {
	Name  string
	Value float64
}

func (s Series) Points() []Point {
	points := make([]Point, 0, len(s.Labels))
	for i, l := range s.Labels {
		var v float64
		if i < len(s.Series) {
			v = s.Series[i]
		}
		points = append(points, Point{Name: l, Value: v})
	}
	return points
}

type TrendPeriod string

const (
	Daily   TrendPeriod = "daily"
	Weekly  TrendPeriod = "weekly"
	Monthly TrendPeriod = "monthly"
)

type ErrorResponse struct {
	Detail string `json:"detail"`
}

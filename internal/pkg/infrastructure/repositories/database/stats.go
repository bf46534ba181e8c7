package database

import (
	"context"
	"time"
)

type TypeSummary struct {
	Type    string
	Count   int64
	Average float64
	Min     float64
	Max     float64
}

type Observation struct {
	Timestamp time.Time
	Value     float64
}

type ZoneAverage struct {
	ZoneID   int
	ZoneName string
	Average  float64
}

// Summary aggregates count, average and extremes per indicator type.
func (r *repository) Summary(ctx context.Context, conditions ...ConditionFunc) ([]TypeSummary, error) {
	c := newCondition(conditions...)

	result := []TypeSummary{}
	err := c.FilterIndicators(r.db.WithContext(ctx).Model(&Indicator{})).
		Select("indicators.type AS type, COUNT(*) AS count, AVG(indicators.value) AS average, MIN(indicators.value) AS min, MAX(indicators.value) AS max").
		Group("indicators.type").
		Order("indicators.type ASC").
		Scan(&result).Error

	return result, err
}

// Observations returns the raw (timestamp, value) pairs matching the conditions
// ordered by time. Period bucketing happens in the caller since date functions
// differ between the supported drivers.
func (r *repository) Observations(ctx context.Context, conditions ...ConditionFunc) ([]Observation, error) {
	c := newCondition(conditions...)

	result := []Observation{}
	err := c.FilterIndicators(r.db.WithContext(ctx).Model(&Indicator{})).
		Select("indicators.timestamp AS timestamp, indicators.value AS value").
		Order("indicators.timestamp ASC").
		Scan(&result).Error

	return result, err
}

func (r *repository) ZoneAverages(ctx context.Context, conditions ...ConditionFunc) ([]ZoneAverage, error) {
	c := newCondition(conditions...)

	result := []ZoneAverage{}
	err := c.FilterIndicators(r.db.WithContext(ctx).Model(&Indicator{})).
		Joins("JOIN zones ON zones.id = indicators.zone_id").
		Select("zones.id AS zone_id, zones.name AS zone_name, AVG(indicators.value) AS average").
		Group("zones.id, zones.name").
		Order("zones.name ASC").
		Scan(&result).Error

	return result, err
}

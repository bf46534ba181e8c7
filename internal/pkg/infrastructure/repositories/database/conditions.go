package database

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"gorm.io/gorm"
)

type ConditionFunc func(*Condition) *Condition

type Condition struct {
	Type     string
	ZoneID   *int
	SourceID *int
	From     time.Time
	To       time.Time
	Name     string

	sortBy    string
	sortOrder string

	offset *int
	limit  *int
}

const DefaultLimit = 100
const MaxLimit = 1000

func newCondition(conditions ...ConditionFunc) *Condition {
	c := &Condition{}
	for _, f := range conditions {
		f(c)
	}
	return c
}

func (c Condition) Offset() int {
	if c.offset == nil || *c.offset < 0 {
		return 0
	}
	return *c.offset
}

func (c Condition) Limit() int {
	if c.limit == nil || *c.limit < 0 {
		return DefaultLimit
	}
	return min(*c.limit, MaxLimit)
}

// FilterIndicators applies the indicator filters of the condition.
func (c Condition) FilterIndicators(query *gorm.DB) *gorm.DB {
	if c.Type != "" {
		query = query.Where("indicators.type = ?", c.Type)
	}
	if c.ZoneID != nil {
		query = query.Where("indicators.zone_id = ?", *c.ZoneID)
	}
	if c.SourceID != nil {
		query = query.Where("indicators.source_id = ?", *c.SourceID)
	}
	if !c.From.IsZero() {
		query = query.Where("indicators.timestamp >= ?", c.From)
	}
	if !c.To.IsZero() {
		query = query.Where("indicators.timestamp <= ?", c.To)
	}
	return query
}

func (c Condition) FilterByName(query *gorm.DB) *gorm.DB {
	if c.Name != "" {
		query = query.Where("name = ?", c.Name)
	}
	return query
}

// OrderBy sorts on one of the allowed columns, falling back to def.
func (c Condition) OrderBy(query *gorm.DB, allowed []string, def string) *gorm.DB {
	column := def
	for _, a := range allowed {
		if a == c.sortBy {
			column = a
			break
		}
	}

	order := "ASC"
	if c.sortOrder != "" {
		order = c.sortOrder
	}

	return query.Order(column + " " + order + ", id " + order)
}

func (c Condition) Page(query *gorm.DB) *gorm.DB {
	return query.Offset(c.Offset()).Limit(c.Limit())
}

func WithType(t string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Type = strings.TrimSpace(t)
		return c
	}
}

func WithZoneID(zoneID int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.ZoneID = &zoneID
		return c
	}
}

func WithSourceID(sourceID int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.SourceID = &sourceID
		return c
	}
}

func WithFrom(from time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.From = from
		return c
	}
}

func WithTo(to time.Time) ConditionFunc {
	return func(c *Condition) *Condition {
		c.To = to
		return c
	}
}

func WithName(n string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.Name = n
		return c
	}
}

func WithSortBy(sortBy string) ConditionFunc {
	return func(c *Condition) *Condition {
		c.sortBy = strings.ToLower(strings.TrimSpace(sortBy))
		return c
	}
}

func WithSortDesc(desc bool) ConditionFunc {
	return func(c *Condition) *Condition {
		if desc {
			c.sortOrder = "DESC"
		} else {
			c.sortOrder = "ASC"
		}
		return c
	}
}

func WithOffset(offset int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.offset = &offset
		return c
	}
}

func WithLimit(limit int) ConditionFunc {
	return func(c *Condition) *Condition {
		c.limit = &limit
		return c
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func ParseTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseConditions maps collection query parameters onto conditions. Unknown
// or malformed parameters are logged and ignored.
func ParseConditions(ctx context.Context, params map[string][]string) []ConditionFunc {
	log := logging.GetFromContext(ctx)

	conditions := make([]ConditionFunc, 0)

	for k, v := range params {
		if len(v) == 0 || v[0] == "" {
			continue
		}

		switch strings.ToLower(k) {
		case "type":
			conditions = append(conditions, WithType(v[0]))
		case "zone_id":
			if id, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, WithZoneID(id))
			}
		case "source_id":
			if id, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, WithSourceID(id))
			}
		case "from":
			if t, ok := ParseTime(v[0]); ok {
				conditions = append(conditions, WithFrom(t))
			}
		case "to":
			if t, ok := ParseTime(v[0]); ok {
				conditions = append(conditions, WithTo(t))
			}
		case "skip":
			if skip, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, WithOffset(skip))
			}
		case "limit":
			if limit, err := strconv.Atoi(v[0]); err == nil {
				conditions = append(conditions, WithLimit(limit))
			}
		case "sort_by":
			conditions = append(conditions, WithSortBy(v[0]))
		case "order":
			conditions = append(conditions, WithSortDesc(strings.EqualFold(v[0], "desc")))
		case "name":
			conditions = append(conditions, WithName(v[0]))
		default:
			log.Debug().Str("param", k).Str("value", v[0]).Msg("unknown query parameter")
		}
	}

	return conditions
}

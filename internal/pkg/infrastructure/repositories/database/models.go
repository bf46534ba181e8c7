package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	ID             int    `gorm:"primarykey"`
	Email          string `gorm:"uniqueIndex"`
	Username       string `gorm:"uniqueIndex"`
	HashedPassword string
	Role           string `gorm:"default:user"`
	IsActive       bool   `gorm:"default:true"`
	CreatedAt      time.Time
}

type Zone struct {
	ID         int     `gorm:"primarykey"`
	Name       string  `gorm:"index"`
	PostalCode *string `gorm:"index"`
	Geom       *string
	CreatedAt  time.Time
}

type Source struct {
	ID          int    `gorm:"primarykey"`
	Name        string `gorm:"uniqueIndex"`
	URL         *string
	Description *string
	Frequency   *string
	Limitations *string
	CreatedAt   time.Time
}

type Indicator struct {
	ID        int    `gorm:"primarykey"`
	Type      string `gorm:"index"`
	Value     float64
	Unit      string
	Timestamp time.Time `gorm:"index"`
	ExtraData JSONMap
	ZoneID    int `gorm:"index"`
	Zone      Zone
	SourceID  int `gorm:"index"`
	Source    Source
	CreatedAt time.Time
}

// JSONMap stores free form key/value data as a JSON text column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for JSONMap", value)
	}

	if len(b) == 0 {
		*m = nil
		return nil
	}

	return json.Unmarshal(b, m)
}

func (JSONMap) GormDataType() string {
	return "text"
}

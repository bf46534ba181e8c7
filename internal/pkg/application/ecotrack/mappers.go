package ecotrack

import (
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
)

func toUser(u database.User) types.User {
	return types.User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      types.Role(u.Role),
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

func toZone(z database.Zone) types.Zone {
	return types.Zone{
		ID:         z.ID,
		Name:       z.Name,
		PostalCode: z.PostalCode,
		Geom:       z.Geom,
		CreatedAt:  z.CreatedAt,
	}
}

func toSource(s database.Source) types.Source {
	return types.Source{
		ID:          s.ID,
		Name:        s.Name,
		URL:         s.URL,
		Description: s.Description,
		Frequency:   s.Frequency,
		Limitations: s.Limitations,
		CreatedAt:   s.CreatedAt,
	}
}

func toIndicator(i database.Indicator) types.Indicator {
	return types.Indicator{
		ID:        i.ID,
		Type:      types.IndicatorType(i.Type),
		Value:     i.Value,
		Unit:      i.Unit,
		Timestamp: i.Timestamp,
		ZoneID:    i.ZoneID,
		SourceID:  i.SourceID,
		ExtraData: i.ExtraData,
		CreatedAt: i.CreatedAt,
	}
}

func toEnvelope[T, R any](c database.Collection[T], mapper func(T) R) types.Envelope[R] {
	items := lo.Map(c.Data, func(item T, _ int) R {
		return mapper(item)
	})
	return types.NewEnvelope(items, c.TotalCount, c.Offset, c.Limit)
}

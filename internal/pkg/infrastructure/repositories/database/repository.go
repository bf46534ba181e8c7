package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:generate moq -rm -out repository_mock.go . Datastore

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrZoneInUse     = errors.New("zone has indicators")
	ErrSourceInUse   = errors.New("source has indicators")
)

type Collection[T any] struct {
	Data       []T
	Offset     int
	Limit      int
	TotalCount int
}

type Datastore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id int) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, conditions ...ConditionFunc) ([]User, error)
	SaveUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int) error

	CreateZone(ctx context.Context, z *Zone) error
	GetZone(ctx context.Context, id int) (Zone, error)
	QueryZones(ctx context.Context, conditions ...ConditionFunc) (Collection[Zone], error)
	SaveZone(ctx context.Context, z *Zone) error
	DeleteZone(ctx context.Context, id int) error

	CreateSource(ctx context.Context, s *Source) error
	GetSource(ctx context.Context, id int) (Source, error)
	QuerySources(ctx context.Context, conditions ...ConditionFunc) (Collection[Source], error)
	SaveSource(ctx context.Context, s *Source) error
	DeleteSource(ctx context.Context, id int) error

	CreateIndicator(ctx context.Context, i *Indicator) error
	GetIndicator(ctx context.Context, id int) (Indicator, error)
	QueryIndicators(ctx context.Context, conditions ...ConditionFunc) (Collection[Indicator], error)
	IndicatorExists(ctx context.Context, zoneID, sourceID int, indicatorType, parameter string, ts time.Time) (bool, error)
	SaveIndicator(ctx context.Context, i *Indicator) error
	DeleteIndicator(ctx context.Context, id int) error

	Summary(ctx context.Context, conditions ...ConditionFunc) ([]TypeSummary, error)
	Observations(ctx context.Context, conditions ...ConditionFunc) ([]Observation, error)
	ZoneAverages(ctx context.Context, conditions ...ConditionFunc) ([]ZoneAverage, error)

	Close() error
}

type repository struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (Datastore, error) {
	impl, log, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(&User{}, &Zone{}, &Source{}, &Indicator{})
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Debug().Msg("database migrated")

	return &repository{
		db: impl,
	}, nil
}

func (r *repository) Close() error {
	sqldb, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}

func first[T any](ctx context.Context, db *gorm.DB, query any, args ...any) (T, error) {
	var t T

	err := db.WithContext(ctx).Where(query, args...).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return t, ErrNotFound
		}
		return t, err
	}

	return t, nil
}

func deleteByID[T any](ctx context.Context, db *gorm.DB, id int) error {
	var t T

	result := db.WithContext(ctx).Delete(&t, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// translate maps driver specific constraint violations onto ErrAlreadyExists.
func translate(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, err.Error())
	}
	return err
}

func (r *repository) CreateUser(ctx context.Context, u *User) error {
	return translate(r.db.WithContext(ctx).Create(u).Error)
}

func (r *repository) GetUserByID(ctx context.Context, id int) (User, error) {
	return first[User](ctx, r.db, "id = ?", id)
}

func (r *repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return first[User](ctx, r.db, "username = ?", username)
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return first[User](ctx, r.db, "email = ?", email)
}

func (r *repository) ListUsers(ctx context.Context, conditions ...ConditionFunc) ([]User, error) {
	c := newCondition(conditions...)

	users := []User{}
	err := c.Page(r.db.WithContext(ctx).Order("id ASC")).Find(&users).Error

	return users, err
}

func (r *repository) SaveUser(ctx context.Context, u *User) error {
	return translate(r.db.WithContext(ctx).Save(u).Error)
}

func (r *repository) DeleteUser(ctx context.Context, id int) error {
	return deleteByID[User](ctx, r.db, id)
}

func (r *repository) CreateZone(ctx context.Context, z *Zone) error {
	return r.db.WithContext(ctx).Create(z).Error
}

func (r *repository) GetZone(ctx context.Context, id int) (Zone, error) {
	return first[Zone](ctx, r.db, "id = ?", id)
}

func (r *repository) QueryZones(ctx context.Context, conditions ...ConditionFunc) (Collection[Zone], error) {
	c := newCondition(conditions...)
	return query[Zone](ctx, r.db, c, c.FilterByName, []string{"id", "name", "postal_code", "created_at"}, "id")
}

func (r *repository) SaveZone(ctx context.Context, z *Zone) error {
	return r.db.WithContext(ctx).Save(z).Error
}

func (r *repository) DeleteZone(ctx context.Context, id int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Indicator{}).Where("zone_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrZoneInUse
		}
		return deleteByID[Zone](ctx, tx, id)
	})
}

func (r *repository) CreateSource(ctx context.Context, s *Source) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *repository) GetSource(ctx context.Context, id int) (Source, error) {
	return first[Source](ctx, r.db, "id = ?", id)
}

func (r *repository) QuerySources(ctx context.Context, conditions ...ConditionFunc) (Collection[Source], error) {
	c := newCondition(conditions...)
	return query[Source](ctx, r.db, c, c.FilterByName, []string{"id", "name", "created_at"}, "id")
}

func (r *repository) SaveSource(ctx context.Context, s *Source) error {
	return translate(r.db.WithContext(ctx).Save(s).Error)
}

func (r *repository) DeleteSource(ctx context.Context, id int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Indicator{}).Where("source_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrSourceInUse
		}
		return deleteByID[Source](ctx, tx, id)
	})
}

func (r *repository) CreateIndicator(ctx context.Context, i *Indicator) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(i).Error
}

func (r *repository) GetIndicator(ctx context.Context, id int) (Indicator, error) {
	return first[Indicator](ctx, r.db, "id = ?", id)
}

func (r *repository) QueryIndicators(ctx context.Context, conditions ...ConditionFunc) (Collection[Indicator], error) {
	c := newCondition(conditions...)
	return query[Indicator](ctx, r.db, c, c.FilterIndicators, []string{"id", "type", "value", "unit", "timestamp", "zone_id", "source_id", "created_at"}, "timestamp")
}

// IndicatorExists reports whether the zone already has an observation of the
// type from the source at ts. A non empty parameter must also match the
// "parameter" key of the stored extra data.
func (r *repository) IndicatorExists(ctx context.Context, zoneID, sourceID int, indicatorType, parameter string, ts time.Time) (bool, error) {
	var found []Indicator

	err := r.db.WithContext(ctx).Model(&Indicator{}).
		Select("id", "extra_data").
		Where(&Indicator{ZoneID: zoneID, SourceID: sourceID, Type: indicatorType}).
		Where("timestamp = ?", ts).
		Find(&found).Error
	if err != nil {
		return false, err
	}

	if parameter == "" {
		return len(found) > 0, nil
	}

	for _, i := range found {
		if p, ok := i.ExtraData["parameter"].(string); ok && p == parameter {
			return true, nil
		}
	}

	return false, nil
}

func (r *repository) SaveIndicator(ctx context.Context, i *Indicator) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(i).Error
}

func (r *repository) DeleteIndicator(ctx context.Context, id int) error {
	return deleteByID[Indicator](ctx, r.db, id)
}

func query[T any](ctx context.Context, db *gorm.DB, c *Condition, filter func(*gorm.DB) *gorm.DB, sortable []string, defaultSort string) (Collection[T], error) {
	var total int64
	var model T

	err := filter(db.WithContext(ctx).Model(&model)).Count(&total).Error
	if err != nil {
		return Collection[T]{}, err
	}

	data := []T{}
	q := filter(db.WithContext(ctx).Model(&model))
	q = c.OrderBy(q, sortable, defaultSort)

	err = c.Page(q).Find(&data).Error
	if err != nil {
		return Collection[T]{}, err
	}

	return Collection[T]{
		Data:       data,
		Offset:     c.Offset(),
		Limit:      c.Limit(),
		TotalCount: int(total),
	}, nil
}

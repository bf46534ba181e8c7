package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestCreateAndGetUser(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	u := &User{Email: "ada@example.com", Username: "ada", HashedPassword: "x", Role: "user", IsActive: true}
	is.NoErr(r.CreateUser(ctx, u))
	is.True(u.ID > 0)

	fromDb, err := r.GetUserByUsername(ctx, "ada")
	is.NoErr(err)
	is.Equal(fromDb.Email, "ada@example.com")

	fromDb, err = r.GetUserByEmail(ctx, "ada@example.com")
	is.NoErr(err)
	is.Equal(fromDb.ID, u.ID)

	_, err = r.GetUserByID(ctx, 4711)
	is.True(errors.Is(err, ErrNotFound))
}

func TestCreateUserWithDuplicateUsernameFails(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	is.NoErr(r.CreateUser(ctx, &User{Email: "a@example.com", Username: "ada", Role: "user"}))
	err := r.CreateUser(ctx, &User{Email: "b@example.com", Username: "ada", Role: "user"})
	is.True(errors.Is(err, ErrAlreadyExists))
}

func TestSaveAndDeleteUser(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	u := &User{Email: "a@example.com", Username: "ada", Role: "user", IsActive: true}
	is.NoErr(r.CreateUser(ctx, u))

	u.Role = "admin"
	is.NoErr(r.SaveUser(ctx, u))

	users, err := r.ListUsers(ctx)
	is.NoErr(err)
	is.Equal(len(users), 1)
	is.Equal(users[0].Role, "admin")

	is.NoErr(r.DeleteUser(ctx, u.ID))
	is.True(errors.Is(r.DeleteUser(ctx, u.ID), ErrNotFound))
}

func TestQueryZonesIsPaginated(t *testing.T) {
	is, ctx, r := testSetupRepository(t)

	for _, n := range []string{"Paris", "Lyon", "Marseille", "Toulouse", "Nice"} {
		is.NoErr(r.CreateZone(ctx, &Zone{Name: n}))
	}

	page, err := r.QueryZones(ctx, WithOffset(2), WithLimit(2))
	is.NoErr(err)
	is.Equal(page.TotalCount, 5)
	is.Equal(page.Offset, 2)
	is.Equal(len(page.Data), 2)
	is.Equal(page.Data[0].Name, "Marseille")

	byName, err := r.QueryZones(ctx, WithName("Nice"))
	is.NoErr(err)
	is.Equal(byName.TotalCount, 1)
}

func TestDeleteZoneInUseIsRefused(t *testing.T) {
	is, ctx, r := testSetupRepository(t)
	z, s := seedZoneAndSource(is, ctx, r)

	i := &Indicator{Type: "co2", Value: 10, Unit: "t", Timestamp: time.Now().UTC(), ZoneID: z.ID, SourceID: s.ID}
	is.NoErr(r.CreateIndicator(ctx, i))

	err := r.DeleteZone(ctx, z.ID)
	is.True(errors.Is(err, ErrZoneInUse))

	err = r.DeleteSource(ctx, s.ID)
	is.True(errors.Is(err, ErrSourceInUse))

	is.NoErr(r.DeleteIndicator(ctx, i.ID))
	is.NoErr(r.DeleteZone(ctx, z.ID))

	_, err = r.GetZone(ctx, z.ID)
	is.True(errors.Is(err, ErrNotFound))
}

func TestQueryIndicatorsFiltersAndSorts(t *testing.T) {
	is, ctx, r := testSetupRepository(t)
	z, s := seedZoneAndSource(is, ctx, r)

	other := &Zone{Name: "Lyon"}
	is.NoErr(r.CreateZone(ctx, other))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		is.NoErr(r.CreateIndicator(ctx, &Indicator{
			Type: "air_quality", Value: float64(i * 10), Unit: "AQI",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			ZoneID:    z.ID, SourceID: s.ID,
			ExtraData: JSONMap{"station": "A"},
		}))
	}
	is.NoErr(r.CreateIndicator(ctx, &Indicator{Type: "co2", Value: 3, Unit: "t", Timestamp: base, ZoneID: other.ID, SourceID: s.ID}))

	result, err := r.QueryIndicators(ctx, WithType("air_quality"), WithSortBy("timestamp"), WithSortDesc(true), WithLimit(2))
	is.NoErr(err)
	is.Equal(result.TotalCount, 5)
	is.Equal(len(result.Data), 2)
	is.Equal(result.Data[0].Value, 40.0)
	is.Equal(result.Data[0].ExtraData["station"], "A")

	result, err = r.QueryIndicators(ctx, WithZoneID(other.ID))
	is.NoErr(err)
	is.Equal(result.TotalCount, 1)

	result, err = r.QueryIndicators(ctx, WithFrom(base.Add(3*time.Hour)))
	is.NoErr(err)
	is.Equal(result.TotalCount, 2)

	exists, err := r.IndicatorExists(ctx, z.ID, s.ID, "air_quality", "", base)
	is.NoErr(err)
	is.True(exists)

	exists, err = r.IndicatorExists(ctx, z.ID, s.ID, "co2", "", base)
	is.NoErr(err)
	is.True(!exists)
}

func TestIndicatorExistsMatchesParameter(t *testing.T) {
	is, ctx, r := testSetupRepository(t)
	z, s := seedZoneAndSource(is, ctx, r)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	is.NoErr(r.CreateIndicator(ctx, &Indicator{
		Type: "air_quality", Value: 12, Unit: "µg/m³", Timestamp: ts,
		ZoneID: z.ID, SourceID: s.ID,
		ExtraData: JSONMap{"parameter": "pm25"},
	}))

	exists, err := r.IndicatorExists(ctx, z.ID, s.ID, "air_quality", "pm25", ts)
	is.NoErr(err)
	is.True(exists)

	exists, err = r.IndicatorExists(ctx, z.ID, s.ID, "air_quality", "no2", ts)
	is.NoErr(err)
	is.True(!exists) // another pollutant at the same time
}

func TestStatistics(t *testing.T) {
	is, ctx, r := testSetupRepository(t)
	z, s := seedZoneAndSource(is, ctx, r)

	lyon := &Zone{Name: "Lyon"}
	is.NoErr(r.CreateZone(ctx, lyon))

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	create := func(t string, v float64, zoneID int) {
		is.NoErr(r.CreateIndicator(ctx, &Indicator{Type: t, Value: v, Unit: "u", Timestamp: ts, ZoneID: zoneID, SourceID: s.ID}))
	}

	create("air_quality", 20, z.ID)
	create("air_quality", 40, z.ID)
	create("air_quality", 90, lyon.ID)
	create("co2", 5, z.ID)

	summary, err := r.Summary(ctx)
	is.NoErr(err)
	is.Equal(len(summary), 2)
	is.Equal(summary[0].Type, "air_quality")
	is.Equal(summary[0].Count, int64(3))
	is.Equal(summary[0].Average, 50.0)
	is.Equal(summary[0].Min, 20.0)
	is.Equal(summary[0].Max, 90.0)

	averages, err := r.ZoneAverages(ctx, WithType("air_quality"))
	is.NoErr(err)
	is.Equal(len(averages), 2)
	is.Equal(averages[0].ZoneName, "Lyon")
	is.Equal(averages[0].Average, 90.0)
	is.Equal(averages[1].Average, 30.0)

	observations, err := r.Observations(ctx, WithType("co2"))
	is.NoErr(err)
	is.Equal(len(observations), 1)
	is.Equal(observations[0].Value, 5.0)
}

func seedZoneAndSource(is *is.I, ctx context.Context, r Datastore) (*Zone, *Source) {
	z := &Zone{Name: "Paris"}
	is.NoErr(r.CreateZone(ctx, z))

	s := &Source{Name: "Open-Meteo"}
	is.NoErr(r.CreateSource(ctx, s))

	return z, s
}

func testSetupRepository(t *testing.T) (*is.I, context.Context, Datastore) {
	is := is.New(t)
	ctx := context.Background()

	r, err := New(NewSQLiteConnector(ctx, ""))
	is.NoErr(err)

	t.Cleanup(func() { r.Close() })

	return is, ctx, r
}

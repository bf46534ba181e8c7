package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/diwise/ecotrack/internal/pkg/application/ecotrack"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/router"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/matryer/is"
)

func TestHealth(t *testing.T) {
	is, srv, _ := setupTest(t)

	resp, _ := testRequest(srv, http.MethodGet, "/health", "", nil)
	is.Equal(resp.StatusCode, http.StatusNoContent)
}

func TestLoginAndMe(t *testing.T) {
	is, srv, _ := setupTest(t)

	token := login(is, srv, "admin", "admin123")

	resp, body := testRequest(srv, http.MethodGet, "/users/me", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	me := types.User{}
	is.NoErr(json.Unmarshal(body, &me))
	is.Equal(me.Username, "admin")
	is.Equal(me.Role, types.RoleAdmin)
}

func TestLoginWithWrongPassword(t *testing.T) {
	is, srv, _ := setupTest(t)

	form := url.Values{"username": {"admin"}, "password": {"nope"}}
	resp, err := http.Post(srv.URL+"/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	is.NoErr(err)
	defer resp.Body.Close()

	is.Equal(resp.StatusCode, http.StatusUnauthorized)

	detail := types.ErrorResponse{}
	is.NoErr(json.NewDecoder(resp.Body).Decode(&detail))
	is.Equal(detail.Detail, "Incorrect username or password")
}

func TestRegisteredUserCanReadButNotWrite(t *testing.T) {
	is, srv, _ := setupTest(t)

	resp, _ := testRequest(srv, http.MethodPost, "/auth/register", "", strings.NewReader(`{"username":"ada","email":"ada@example.com","password":"secret"}`))
	is.Equal(resp.StatusCode, http.StatusCreated)

	resp, body := testRequest(srv, http.MethodPost, "/auth/register", "", strings.NewReader(`{"username":"ada","email":"ada@example.com","password":"secret"}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)
	is.True(strings.Contains(string(body), "already registered"))

	token := login(is, srv, "ada", "secret")

	resp, _ = testRequest(srv, http.MethodGet, "/zones/", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	resp, body = testRequest(srv, http.MethodPost, "/zones/", token, strings.NewReader(`{"name":"Paris"}`))
	is.Equal(resp.StatusCode, http.StatusForbidden)
	is.True(strings.Contains(string(body), "Not enough permissions"))

	resp, _ = testRequest(srv, http.MethodGet, "/users/", token, nil)
	is.Equal(resp.StatusCode, http.StatusForbidden)
}

func TestZonesCrudAndEnvelope(t *testing.T) {
	is, srv, _ := setupTest(t)
	token := login(is, srv, "admin", "admin123")

	for _, name := range []string{"Paris", "Lyon", "Marseille"} {
		resp, _ := testRequest(srv, http.MethodPost, "/zones/", token, strings.NewReader(`{"name":"`+name+`","geom":"48.8566,2.3522"}`))
		is.Equal(resp.StatusCode, http.StatusCreated)
	}

	resp, body := testRequest(srv, http.MethodGet, "/zones/?skip=1&limit=1", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	page := types.Envelope[types.Zone]{}
	is.NoErr(json.Unmarshal(body, &page))
	is.Equal(page.Total, 3)
	is.Equal(len(page.Items), 1)
	is.True(page.HasNext)
	is.True(page.HasPrev)

	resp, _ = testRequest(srv, http.MethodPut, "/zones/1", token, strings.NewReader(`{"postal_code":"75001"}`))
	is.Equal(resp.StatusCode, http.StatusOK)

	resp, body = testRequest(srv, http.MethodGet, "/zones/1", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	zone := types.Zone{}
	is.NoErr(json.Unmarshal(body, &zone))
	is.Equal(*zone.PostalCode, "75001")

	resp, _ = testRequest(srv, http.MethodDelete, "/zones/3", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	resp, body = testRequest(srv, http.MethodGet, "/zones/3", token, nil)
	is.Equal(resp.StatusCode, http.StatusNotFound)
	is.True(strings.Contains(string(body), "Zone not found"))
}

func TestIndicatorsAndStats(t *testing.T) {
	is, srv, svc := setupTest(t)
	token := login(is, srv, "admin", "admin123")

	ctx := context.Background()
	zone, err := svc.CreateZone(ctx, types.ZoneCreate{Name: "Paris"})
	is.NoErr(err)
	source, err := svc.CreateSource(ctx, types.SourceCreate{Name: "Open-Meteo"})
	is.NoErr(err)

	payload := `{"type":"co2","value":12.5,"unit":"t","timestamp":"2024-03-01T10:00:00Z","zone_id":1,"source_id":1}`
	resp, body := testRequest(srv, http.MethodPost, "/indicators/", token, strings.NewReader(payload))
	is.Equal(resp.StatusCode, http.StatusCreated)

	created := types.Indicator{}
	is.NoErr(json.Unmarshal(body, &created))
	is.Equal(created.ZoneID, zone.ID)
	is.Equal(created.SourceID, source.ID)

	resp, _ = testRequest(srv, http.MethodPost, "/indicators/", token, strings.NewReader(`{"type":"noise","value":1,"zone_id":1,"source_id":1}`))
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, body = testRequest(srv, http.MethodGet, "/indicators/?type=co2&zone_id=1", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	page := types.Envelope[types.Indicator]{}
	is.NoErr(json.Unmarshal(body, &page))
	is.Equal(page.Total, 1)

	resp, body = testRequest(srv, http.MethodGet, "/stats/co2/trend?period=monthly", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)
	series := types.Series{}
	is.NoErr(json.Unmarshal(body, &series))
	is.Equal(series.Labels, []string{"2024-03"})

	resp, _ = testRequest(srv, http.MethodGet, "/stats/co2/trend?period=hourly", token, nil)
	is.Equal(resp.StatusCode, http.StatusBadRequest)

	resp, _ = testRequest(srv, http.MethodDelete, "/zones/1", token, nil)
	is.Equal(resp.StatusCode, http.StatusConflict)
}

func TestUsersIsBareArray(t *testing.T) {
	is, srv, _ := setupTest(t)
	token := login(is, srv, "admin", "admin123")

	resp, body := testRequest(srv, http.MethodGet, "/users/", token, nil)
	is.Equal(resp.StatusCode, http.StatusOK)

	users := []types.User{}
	is.NoErr(json.Unmarshal(body, &users))
	is.Equal(len(users), 1)
}

func login(is *is.I, srv *httptest.Server, username, password string) string {
	form := url.Values{"username": {username}, "password": {password}}
	resp, err := http.Post(srv.URL+"/auth/login", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	is.NoErr(err)
	defer resp.Body.Close()

	is.Equal(resp.StatusCode, http.StatusOK)

	token := types.Token{}
	is.NoErr(json.NewDecoder(resp.Body).Decode(&token))
	is.Equal(token.TokenType, "bearer")

	return token.AccessToken
}

func setupTest(t *testing.T) (*is.I, *httptest.Server, ecotrack.EcoTrack) {
	is := is.New(t)
	ctx := context.Background()

	db, err := database.New(database.NewSQLiteConnector(ctx, ""))
	is.NoErr(err)
	t.Cleanup(func() { db.Close() })

	svc := ecotrack.New(db, nil)
	is.NoErr(svc.EnsureAdmin(ctx, "admin", "admin@ecotrack.local", "admin123"))

	r, err := RegisterHandlers(ctx, router.New("ecotrack-test"), nil, "test-secret", svc)
	is.NoErr(err)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return is, srv, svc
}

func testRequest(srv *httptest.Server, method, path, token string, body io.Reader) (*http.Response, []byte) {
	req, _ := http.NewRequest(method, srv.URL+path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, _ := http.DefaultClient.Do(req)
	respBody, _ := io.ReadAll(resp.Body)
	defer resp.Body.Close()

	return resp, respBody
}

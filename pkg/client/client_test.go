package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/diwise/ecotrack/pkg/types"
	"github.com/matryer/is"
	"golang.org/x/oauth2"
)

func TestLoginPostsForm(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/auth/login")
		is.Equal(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
		is.NoErr(r.ParseForm())
		is.Equal(r.PostForm.Get("username"), "admin")
		is.Equal(r.PostForm.Get("password"), "admin123")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"abc","token_type":"bearer"}`))
	}))
	defer srv.Close()

	token, err := New(srv.URL).Login(context.Background(), "admin", "admin123")
	is.NoErr(err)
	is.Equal(token.AccessToken, "abc")
}

func TestBearerTokenIsAttached(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Header.Get("Authorization"), "Bearer abc")
		w.Write([]byte(`{"id":1,"username":"admin","role":"admin","is_active":true}`))
	}))
	defer srv.Close()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "abc", TokenType: "bearer"})
	me, err := New(srv.URL, WithTokenSource(ts)).Me(context.Background())
	is.NoErr(err)
	is.Equal(me.Role, types.RoleAdmin)
}

func TestErrorDetailIsSurfaced(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"zone is referenced by indicators"}`))
	}))
	defer srv.Close()

	err := New(srv.URL).DeleteZone(context.Background(), 1)

	apiErr := &APIError{}
	is.True(errors.As(err, &apiErr))
	is.Equal(apiErr.StatusCode, http.StatusConflict)
	is.Equal(err.Error(), "zone is referenced by indicators")
}

func TestUnauthorizedInvokesHook(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}))
	defer srv.Close()

	calls := 0
	c := New(srv.URL, WithOnUnauthorized(func() { calls++ }))

	_, err := c.ListZones(context.Background(), nil)
	is.True(errors.Is(err, ErrUnauthorized))
	is.Equal(calls, 1)

	_, err = c.Login(context.Background(), "admin", "wrong")
	is.True(err != nil)
	is.Equal(calls, 1) // login failures are not session failures
}

func TestMissingTokenInvokesHook(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not have been sent")
	}))
	defer srv.Close()

	calls := 0
	c := New(srv.URL, WithTokenSource(noToken{}), WithOnUnauthorized(func() { calls++ }))

	_, err := c.Me(context.Background())
	is.True(errors.Is(err, ErrUnauthorized))
	is.Equal(calls, 1)
}

func TestListIndicatorsSendsParams(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/indicators/")
		is.Equal(r.URL.Query().Get("type"), "co2")
		is.Equal(r.URL.Query().Get("skip"), "20")
		w.Write([]byte(`{"items":[{"id":21,"type":"co2"}],"total":57,"skip":20,"limit":20,"has_next":true,"has_prev":true}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListIndicators(context.Background(), url.Values{"type": {"co2"}, "skip": {"20"}})
	is.NoErr(err)
	is.Equal(page.Total, 57)
	is.Equal(page.Items[0].ID, 21)
	is.True(page.HasNext)
}

func TestCO2TrendAddsPeriod(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Query().Get("period"), "daily")
		is.Equal(r.URL.Query().Get("zone_id"), "3")
		w.Write([]byte(`{"labels":["2024-03-01"],"series":[12.5]}`))
	}))
	defer srv.Close()

	params := url.Values{"zone_id": {"3"}}
	series, err := New(srv.URL).CO2Trend(context.Background(), types.Daily, params)
	is.NoErr(err)
	is.Equal(series.Labels, []string{"2024-03-01"})
	is.Equal(params.Get("period"), "") // caller params are not modified
}

func TestCreateZoneSendsJSON(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Method, http.MethodPost)
		is.Equal(r.Header.Get("Content-Type"), "application/json")
		b, _ := io.ReadAll(r.Body)
		is.Equal(string(b), `{"name":"Paris"}`)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1,"name":"Paris"}`))
	}))
	defer srv.Close()

	zone, err := New(srv.URL).CreateZone(context.Background(), types.ZoneCreate{Name: "Paris"})
	is.NoErr(err)
	is.Equal(zone.ID, 1)
}

func TestDecodeCollection(t *testing.T) {
	is := is.New(t)

	bare, err := DecodeCollection[types.Zone]([]byte(` [{"id":1}]`))
	is.NoErr(err)
	is.Equal(len(bare.Items), 1)
	is.Equal(bare.Total, 1)
	is.True(!bare.HasNext)
	is.True(!bare.HasPrev)

	env, err := DecodeCollection[types.Zone]([]byte(`{"items":null,"total":0,"skip":0,"limit":20}`))
	is.NoErr(err)
	is.True(env.Items != nil)

	_, err = DecodeCollection[types.Zone]([]byte(`"nope"`))
	is.True(err != nil)
}

type noToken struct{}

func (noToken) Token() (*oauth2.Token, error) {
	return nil, ErrNoToken
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diwise/ecotrack/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/matryer/is"
)

func TestPolicy(t *testing.T) {
	is, a := setupTest(t)

	admin := types.User{Username: "admin", Role: types.RoleAdmin, IsActive: true}
	user := types.User{Username: "ada", Role: types.RoleUser, IsActive: true}

	cases := []struct {
		user   types.User
		method string
		path   string
		status int
	}{
		{user, http.MethodGet, "/zones/", http.StatusOK},
		{user, http.MethodGet, "/stats/summary", http.StatusOK},
		{user, http.MethodGet, "/users/me", http.StatusOK},
		{user, http.MethodPost, "/zones/", http.StatusForbidden},
		{user, http.MethodDelete, "/indicators/1", http.StatusForbidden},
		{user, http.MethodGet, "/users/", http.StatusForbidden},
		{admin, http.MethodGet, "/users/", http.StatusOK},
		{admin, http.MethodDelete, "/indicators/1", http.StatusOK},
		{types.User{Username: "old", Role: types.RoleAdmin}, http.MethodGet, "/zones/", http.StatusBadRequest},
	}

	h := a.Authorize(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		req = req.WithContext(WithUser(req.Context(), c.user))
		w := httptest.NewRecorder()

		h.ServeHTTP(w, req)
		is.Equal(w.Code, c.status) // unexpected status for method and path
	}
}

func TestIssuedTokenIsAccepted(t *testing.T) {
	is, a := setupTest(t)

	token, err := a.IssueToken(types.User{Username: "ada", Role: types.RoleUser, IsActive: true})
	is.NoErr(err)

	r := chi.NewRouter()
	r.Use(a.Verifier(), a.RequireUser, a.Authorize)
	r.Get("/users/me", func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok || u.Username != "ada" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	is.Equal(w.Code, http.StatusOK)

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	is.Equal(w.Code, http.StatusUnauthorized)
	is.Equal(w.Header().Get("WWW-Authenticate"), "Bearer")

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestTokenForUnknownUserIsRejected(t *testing.T) {
	is, a := setupTest(t)

	token, err := a.IssueToken(types.User{Username: "ghost", Role: types.RoleAdmin})
	is.NoErr(err)

	r := chi.NewRouter()
	r.Use(a.Verifier(), a.RequireUser)
	r.Get("/zones", func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/zones", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestSecretIsRequired(t *testing.T) {
	is := is.New(t)

	_, err := NewAuthenticator(context.Background(), "", nil, nil)
	is.True(err != nil)
}

func TestIssuedTokenClaims(t *testing.T) {
	is, a := setupTest(t)

	signed, err := a.IssueToken(types.User{Username: "ada", Role: types.RoleUser})
	is.NoErr(err)

	token, err := jwt.ParseString(signed, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	is.NoErr(err)

	is.Equal(token.Subject(), "ada")
	role, _ := token.Get("role")
	is.Equal(role, "user")
	is.Equal(token.Expiration().Sub(token.IssuedAt()), TokenTTL)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	is, a := setupTest(t)
	a.ttl = -time.Minute

	token, err := a.IssueToken(types.User{Username: "ada", Role: types.RoleUser, IsActive: true})
	is.NoErr(err)

	r := chi.NewRouter()
	r.Use(a.Verifier(), a.RequireUser)
	r.Get("/zones", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/zones", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	is.Equal(w.Code, http.StatusUnauthorized)
}

func setupTest(t *testing.T) (*is.I, *Authenticator) {
	is := is.New(t)

	lookup := func(ctx context.Context, username string) (types.User, error) {
		if username == "ada" {
			return types.User{ID: 1, Username: "ada", Role: types.RoleUser, IsActive: true}, nil
		}
		return types.User{}, errors.New("not found")
	}

	a, err := NewAuthenticator(context.Background(), "test-secret", nil, lookup)
	is.NoErr(err)

	return is, a
}

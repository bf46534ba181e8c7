package session

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/matryer/is"
)

func TestInitWithoutTokenIsUnauthenticated(t *testing.T) {
	is, srv, _ := setupTest(t)

	s, _ := Connect(srv.URL, &MemoryTokenStore{})
	is.NoErr(s.Init(context.Background()))
	is.True(!s.Authenticated())

	_, err := s.Token()
	is.True(err != nil)
}

func TestInitValidatesStoredToken(t *testing.T) {
	is, srv, _ := setupTest(t)

	store := &MemoryTokenStore{}
	store.Save("good")

	s, _ := Connect(srv.URL, store)
	is.NoErr(s.Init(context.Background()))
	is.True(s.Authenticated())

	u, ok := s.User()
	is.True(ok)
	is.Equal(u.Username, "admin")
	is.True(s.IsAdmin())
}

func TestInitClearsRejectedTokenSilently(t *testing.T) {
	is, srv, _ := setupTest(t)

	store := &MemoryTokenStore{}
	store.Save("expired")

	s, _ := Connect(srv.URL, store)
	is.NoErr(s.Init(context.Background()))
	is.True(!s.Authenticated())

	token, _ := store.Load()
	is.Equal(token, "")
}

func TestLoginStoresToken(t *testing.T) {
	is, srv, _ := setupTest(t)

	store := NewFileTokenStore(filepath.Join(t.TempDir(), "ecotrack", "token"))
	s, _ := Connect(srv.URL, store)

	u, err := s.Login(context.Background(), "admin", "admin123")
	is.NoErr(err)
	is.Equal(u.Role, types.RoleAdmin)
	is.True(s.Authenticated())

	token, err := store.Load()
	is.NoErr(err)
	is.Equal(token, "good")

	is.NoErr(s.Logout())
	is.True(!s.Authenticated())

	token, err = store.Load()
	is.NoErr(err)
	is.Equal(token, "")
}

func TestFailedLoginLeavesSessionUnauthenticated(t *testing.T) {
	is, srv, _ := setupTest(t)

	s, _ := Connect(srv.URL, &MemoryTokenStore{})
	_, err := s.Login(context.Background(), "admin", "wrong")
	is.True(err != nil)
	is.Equal(err.Error(), "Incorrect username or password")
	is.True(!s.Authenticated())
}

func TestUnauthorizedResponseClearsSession(t *testing.T) {
	is, srv, revoked := setupTest(t)

	store := &MemoryTokenStore{}
	s, c := Connect(srv.URL, store)

	_, err := s.Login(context.Background(), "admin", "admin123")
	is.NoErr(err)

	revoked.Store(true)

	_, err = c.ListZones(context.Background(), nil)
	is.True(err != nil)
	is.True(!s.Authenticated())

	token, _ := store.Load()
	is.Equal(token, "")
}

func TestInitReportsTokenThatCannotBeCleared(t *testing.T) {
	is, srv, _ := setupTest(t)

	out := &bytes.Buffer{}
	ctx, _ := logging.NewConsoleLogger(context.Background(), out, false)

	store := &stuckTokenStore{token: "expired"}
	s, _ := Connect(srv.URL, store)

	err := s.Init(ctx)
	is.True(errors.Is(err, errReadOnly))
	is.True(!s.Authenticated())
	is.True(bytes.Contains(out.Bytes(), []byte("failed to clear stored token")))
}

func TestLoginReportsTokenThatCannotBeCleared(t *testing.T) {
	is, srv, revoked := setupTest(t)

	revoked.Store(true)

	s, _ := Connect(srv.URL, &stuckTokenStore{})
	_, err := s.Login(context.Background(), "admin", "admin123")
	is.True(err != nil)
	is.True(errors.Is(err, errReadOnly))
	is.True(!s.Authenticated())
}

func TestFileTokenStoreMissingFile(t *testing.T) {
	is := is.New(t)

	store := NewFileTokenStore(filepath.Join(t.TempDir(), "missing"))
	token, err := store.Load()
	is.NoErr(err)
	is.Equal(token, "")
	is.NoErr(store.Clear())
}

func setupTest(t *testing.T) (*is.I, *httptest.Server, *atomic.Bool) {
	is := is.New(t)
	revoked := &atomic.Bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("password") != "admin123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Incorrect username or password"}`))
			return
		}
		w.Write([]byte(`{"access_token":"good","token_type":"bearer"}`))
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, revoked) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":1,"username":"admin","role":"admin","is_active":true}`))
	})
	mux.HandleFunc("/zones/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, revoked) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return is, srv, revoked
}

func authorized(r *http.Request, revoked *atomic.Bool) bool {
	return !revoked.Load() && r.Header.Get("Authorization") == "Bearer good"
}

var errReadOnly = errors.New("read-only token store")

// stuckTokenStore holds a token it is unable to remove.
type stuckTokenStore struct {
	token string
}

func (s *stuckTokenStore) Load() (string, error) { return s.token, nil }
func (s *stuckTokenStore) Save(token string) error {
	s.token = token
	return nil
}
func (s *stuckTokenStore) Clear() error { return errReadOnly }

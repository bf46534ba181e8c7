package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/pkg/client"
	"github.com/diwise/ecotrack/pkg/types"
	"golang.org/x/oauth2"
)

var ErrNotAuthenticated = errors.New("not authenticated")

type API interface {
	Login(ctx context.Context, username, password string) (types.Token, error)
	Register(ctx context.Context, u types.UserCreate) (types.User, error)
	Me(ctx context.Context) (types.User, error)
}

// Session holds the bearer token and the user it belongs to. It is the
// oauth2.TokenSource of the REST client and is cleared whenever the server
// rejects the token.
type Session struct {
	mu    sync.RWMutex
	store TokenStore
	api   API
	token string
	user  *types.User
}

func New(store TokenStore) *Session {
	if store == nil {
		store = &MemoryTokenStore{}
	}
	return &Session{store: store}
}

// Connect creates a session together with a REST client that authenticates
// through it.
func Connect(baseURL string, store TokenStore) (*Session, *client.EcoTrackClient) {
	s := New(store)
	c := client.New(baseURL, client.WithTokenSource(s), client.WithOnUnauthorized(func() {
		s.expire(context.Background())
	}))
	s.Use(c)
	return s, c
}

func (s *Session) Use(api API) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = api
}

// Init hydrates the session from the token store and validates the token
// against the server. An invalid token is cleared without reporting an error,
// unless the token store fails to forget it.
func (s *Session) Init(ctx context.Context) error {
	log := logging.GetFromContext(ctx)

	token, err := s.store.Load()
	if err != nil {
		return err
	}

	if token == "" {
		s.reset()
		return nil
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	user, err := s.api.Me(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("stored token rejected, clearing session")
		return s.expire(ctx)
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()

	return nil
}

func (s *Session) Login(ctx context.Context, username, password string) (types.User, error) {
	token, err := s.api.Login(ctx, username, password)
	if err != nil {
		return types.User{}, err
	}

	s.mu.Lock()
	s.token = token.AccessToken
	s.user = nil
	s.mu.Unlock()

	user, err := s.api.Me(ctx)
	if err != nil {
		err = fmt.Errorf("failed to fetch current user: %w", err)
		return types.User{}, errors.Join(err, s.expire(ctx))
	}

	if err = s.store.Save(token.AccessToken); err != nil {
		return types.User{}, err
	}

	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()

	return user, nil
}

// Register creates an account. It does not log in.
func (s *Session) Register(ctx context.Context, u types.UserCreate) (types.User, error) {
	return s.api.Register(ctx, u)
}

func (s *Session) Logout() error {
	s.reset()
	return s.store.Clear()
}

func (s *Session) User() (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return types.User{}, false
	}
	return *s.user, true
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

func (s *Session) IsAdmin() bool {
	u, ok := s.User()
	return ok && u.Role == types.RoleAdmin
}

// Token implements oauth2.TokenSource.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return nil, client.ErrNoToken
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

func (s *Session) expire(ctx context.Context) error {
	s.reset()

	if err := s.store.Clear(); err != nil {
		log := logging.GetFromContext(ctx)
		log.Error().Err(err).Msg("failed to clear stored token")
		return fmt.Errorf("failed to clear stored token: %w", err)
	}

	return nil
}

func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
}

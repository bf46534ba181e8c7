package auth

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel"
)

//go:embed authz.rego
var DefaultPolicies string

const TokenTTL = 30 * time.Minute

type userContextKey struct{ name string }

var userCtxKey = &userContextKey{"user"}

var tracer = otel.Tracer("ecotrack/authz")

// UserLookup resolves the subject of a verified token.
type UserLookup func(ctx context.Context, username string) (types.User, error)

type Authenticator struct {
	tokenAuth *jwtauth.JWTAuth
	secret    []byte
	query     rego.PreparedEvalQuery
	users     UserLookup
	ttl       time.Duration
}

func NewAuthenticator(ctx context.Context, secret string, policies io.Reader, users UserLookup) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("a token signing secret is required")
	}

	module := DefaultPolicies
	if policies != nil {
		b, err := io.ReadAll(policies)
		if err != nil {
			return nil, fmt.Errorf("unable to read authz policies: %s", err.Error())
		}
		module = string(b)
	}

	query, err := rego.New(
		rego.Query("x = data.ecotrack.authz.allow"),
		rego.Module("ecotrack.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		tokenAuth: jwtauth.New(string(jwa.HS256), []byte(secret), nil),
		secret:    []byte(secret),
		query:     query,
		users:     users,
		ttl:       TokenTTL,
	}, nil
}

// IssueToken creates a signed access token for the user.
func (a *Authenticator) IssueToken(u types.User) (string, error) {
	now := time.Now().UTC()

	token, err := jwt.NewBuilder().
		Subject(u.Username).
		IssuedAt(now).
		Expiration(now.Add(a.ttl)).
		Claim("role", string(u.Role)).
		Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, a.secret))
	return string(signed), err
}

// Verifier extracts and verifies the bearer token of a request.
func (a *Authenticator) Verifier() func(http.Handler) http.Handler {
	return jwtauth.Verify(a.tokenAuth, jwtauth.TokenFromHeader)
}

// RequireUser rejects requests without a valid token and stores the
// token's user in the request context.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.GetFromContext(r.Context())

		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			logger.Debug().Err(err).Msg("invalid or missing token")
			unauthorized(w)
			return
		}

		sub := token.Subject()
		if sub == "" {
			unauthorized(w)
			return
		}

		user, err := a.users(r.Context(), sub)
		if err != nil {
			logger.Debug().Err(err).Str("sub", sub).Msg("token subject not found")
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Authorize evaluates the authorization policy for the current user and request.
func (a *Authenticator) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		logger := logging.GetFromContext(r.Context())

		ctx, span := tracer.Start(r.Context(), "check-auth")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		user, ok := UserFromContext(ctx)
		if !ok {
			err = errors.New("no user in context")
			unauthorized(w)
			return
		}

		if !user.IsActive {
			err = errors.New("inactive user")
			writeDetail(w, http.StatusBadRequest, "Inactive user")
			return
		}

		input := map[string]any{
			"method": r.Method,
			"path":   strings.TrimSuffix(r.URL.Path, "/"),
			"user": map[string]any{
				"role":      string(user.Role),
				"is_active": user.IsActive,
			},
		}

		results, err := a.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			logger.Error().Err(err).Msg("opa eval failed")
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}

		if len(results) == 0 {
			err = errors.New("opa query could not be satisfied")
			logger.Error().Err(err).Msg("auth failed")
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}

		allowed, ok := results[0].Bindings["x"].(bool)
		if !ok || !allowed {
			err = errors.New("authorization failed")
			logger.Info().Str("user", user.Username).Str("path", r.URL.Path).Msg(err.Error())
			writeDetail(w, http.StatusForbidden, "Not enough permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func WithUser(ctx context.Context, u types.User) context.Context {
	return context.WithValue(ctx, userCtxKey, u)
}

func UserFromContext(ctx context.Context) (types.User, bool) {
	u, ok := ctx.Value(userCtxKey).(types.User)
	return u, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	b, _ := json.Marshal(types.ErrorResponse{Detail: detail})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

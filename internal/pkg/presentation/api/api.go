package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/diwise/ecotrack/internal/pkg/application/ecotrack"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/metrics"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/tracing"
	"github.com/diwise/ecotrack/internal/pkg/presentation/api/auth"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ecotrack/api")

func RegisterHandlers(ctx context.Context, router *chi.Mux, policies io.Reader, secret string, svc ecotrack.EcoTrack) (*chi.Mux, error) {

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/metrics", metrics.Handler())

	log := logging.GetFromContext(ctx)

	authenticator, err := auth.NewAuthenticator(ctx, secret, policies, svc.GetUserByUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to create api authenticator: %w", err)
	}

	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", loginHandler(log, svc, authenticator))
		r.Post("/register", createHandler(log, "register", svc.Register))
	})

	router.Group(func(r chi.Router) {
		r.Use(authenticator.Verifier(), authenticator.RequireUser, authenticator.Authorize)

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", meHandler())
			r.Get("/", listUsersHandler(log, svc))
			r.Get("/{id}", getHandler(log, "user", svc.GetUser))
			r.Put("/{id}", updateHandler(log, "user", svc.UpdateUser))
			r.Delete("/{id}", deleteHandler(log, "user", svc.DeleteUser))
		})

		r.Route("/zones", func(r chi.Router) {
			r.Get("/", queryHandler(log, "zones", svc.QueryZones))
			r.Get("/{id}", getHandler(log, "zone", svc.GetZone))
			r.Post("/", createHandler(log, "zone", svc.CreateZone))
			r.Put("/{id}", updateHandler(log, "zone", svc.UpdateZone))
			r.Delete("/{id}", deleteHandler(log, "zone", svc.DeleteZone))
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", queryHandler(log, "sources", svc.QuerySources))
			r.Get("/{id}", getHandler(log, "source", svc.GetSource))
			r.Post("/", createHandler(log, "source", svc.CreateSource))
			r.Put("/{id}", updateHandler(log, "source", svc.UpdateSource))
			r.Delete("/{id}", deleteHandler(log, "source", svc.DeleteSource))
		})

		r.Route("/indicators", func(r chi.Router) {
			r.Get("/", queryHandler(log, "indicators", svc.QueryIndicators))
			r.Get("/{id}", getHandler(log, "indicator", svc.GetIndicator))
			r.Post("/", createHandler(log, "indicator", svc.CreateIndicator))
			r.Put("/{id}", updateHandler(log, "indicator", svc.UpdateIndicator))
			r.Delete("/{id}", deleteHandler(log, "indicator", svc.DeleteIndicator))
		})

		r.Route("/stats", func(r chi.Router) {
			r.Get("/summary", queryHandler(log, "summary", svc.Summary))
			r.Get("/co2/trend", queryHandler(log, "co2-trend", func(ctx context.Context, params map[string][]string) (types.Series, error) {
				return svc.CO2Trend(ctx, types.TrendPeriod(firstValue(params, "period")), withoutKey(params, "period"))
			}))
			r.Get("/air/averages", queryHandler(log, "air-averages", svc.AirAverages))
		})
	})

	return router, nil
}

func loginHandler(log zerolog.Logger, svc ecotrack.EcoTrack, authenticator *auth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "login")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		if err = r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "unable to parse login form")
			return
		}

		username := r.PostForm.Get("username")
		user, err := svc.Authenticate(ctx, username, r.PostForm.Get("password"))
		if err != nil {
			requestLogger.Info().Err(err).Str("username", username).Msg("login failed")
			if errors.Is(err, ecotrack.ErrInvalidCredentials) {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeServiceError(w, err)
			return
		}

		token, err := authenticator.IssueToken(user)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to issue token")
			writeError(w, http.StatusInternalServerError, "unable to issue token")
			return
		}

		writeJSON(w, http.StatusOK, types.Token{AccessToken: token, TokenType: "bearer"})
	}
}

func meHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

// listUsersHandler responds with a bare array rather than an envelope.
func listUsersHandler(log zerolog.Logger, svc ecotrack.EcoTrack) http.HandlerFunc {
	return queryHandler(log, "users", svc.ListUsers)
}

func queryHandler[T any](log zerolog.Logger, name string, query func(context.Context, map[string][]string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-"+name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		result, err := query(ctx, r.URL.Query())
		if err != nil {
			requestLogger.Error().Err(err).Msgf("unable to query %s", name)
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func getHandler[T any](log zerolog.Logger, name string, get func(context.Context, int) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "get-"+name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id, err := idParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := get(ctx, id)
		if err != nil {
			requestLogger.Debug().Err(err).Int("id", id).Msgf("unable to get %s", name)
			writeServiceErrorFor(w, name, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func createHandler[C, T any](log zerolog.Logger, name string, create func(context.Context, C) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "create-"+name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		var payload C
		if err = json.NewDecoder(r.Body).Decode(&payload); err != nil {
			requestLogger.Debug().Err(err).Msg("unable to unmarshal body")
			writeError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		result, err := create(ctx, payload)
		if err != nil {
			requestLogger.Info().Err(err).Msgf("unable to create %s", name)
			writeServiceErrorFor(w, name, err)
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

func updateHandler[U, T any](log zerolog.Logger, name string, update func(context.Context, int, U) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "update-"+name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id, err := idParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var payload U
		if err = json.NewDecoder(r.Body).Decode(&payload); err != nil {
			requestLogger.Debug().Err(err).Msg("unable to unmarshal body")
			writeError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		result, err := update(ctx, id, payload)
		if err != nil {
			requestLogger.Info().Err(err).Int("id", id).Msgf("unable to update %s", name)
			writeServiceErrorFor(w, name, err)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func deleteHandler(log zerolog.Logger, name string, del func(context.Context, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "delete-"+name)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := logging.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		id, err := idParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err = del(ctx, id); err != nil {
			requestLogger.Info().Err(err).Int("id", id).Msgf("unable to delete %s", name)
			writeServiceErrorFor(w, name, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": capitalize(name) + " deleted successfully"})
	}
}

func idParam(r *http.Request) (int, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func firstValue(params map[string][]string, key string) string {
	if v, ok := params[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func withoutKey(params map[string][]string, key string) map[string][]string {
	result := make(map[string][]string, len(params))
	for k, v := range params {
		if k != key {
			result[k] = v
		}
	}
	return result
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

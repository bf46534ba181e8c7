package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ecotrack"

var (
	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Number of handled http requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	ingested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_indicators_total",
		Help:      "Number of indicators created by the ingestion jobs.",
	}, []string{"source"})
)

// Middleware counts requests by their chi route pattern. Unmatched requests
// are reported with an empty route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

func Ingested(source string, count int) {
	if count > 0 {
		ingested.WithLabelValues(source).Add(float64(count))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

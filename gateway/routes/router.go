package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdpchain/core"
	"cdpchain/gateway/middleware"
	"cdpchain/native/oracle"
)

// Rate limit keys for the route groups.
const (
	LimitRead  = "read"
	LimitWrite = "write"
	LimitAdmin = "admin"
)

type Config struct {
	Node *core.Node
	// Manual enables POST /v1/oracle/quotes when quotes are operator supplied.
	Manual        *oracle.ManualOracle
	History       EventHistory
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	Clock         func() time.Time
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, errors.New("routes: node is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "routes"))
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	ops := &cdpRoutes{node: cfg.Node, manual: cfg.Manual, logger: logger, now: now}
	evts := &eventRoutes{node: cfg.Node, history: cfg.History, logger: logger}

	obs := cfg.Observability
	group := func(r chi.Router, module, limitKey string) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware(limitKey))
		}
		if obs != nil {
			r.Use(obs.Middleware(module))
		}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Group(func(pub chi.Router) {
			group(pub, "query", LimitRead)
			ops.mountQueries(pub)
			pub.Get("/events", evts.listEvents)
			pub.Get("/events/stream", evts.streamEvents)
		})
		v.Group(func(user chi.Router) {
			user.Use(cfg.Authenticator.Middleware())
			group(user, "cdp", LimitWrite)
			ops.mountUser(user)
		})
		v.Group(func(admin chi.Router) {
			admin.Use(cfg.Authenticator.Middleware(middleware.ScopeAdmin))
			group(admin, "admin", LimitAdmin)
			ops.mountAdmin(admin)
		})
	})

	if obs != nil {
		return obs.Wrap(r), nil
	}
	return r, nil
}

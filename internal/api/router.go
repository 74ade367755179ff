package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/Harshitk-cp/agentd/internal/api/handlers"
	mw "github.com/Harshitk-cp/agentd/internal/api/middleware"
	"github.com/Harshitk-cp/agentd/internal/buildconfig"
	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/config"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/loop"
	"github.com/Harshitk-cp/agentd/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the running agent's components behind the HTTP surface.
type Deps struct {
	Agent      domain.Agent
	Loop       *loop.Loop
	Beliefs    *service.BeliefService
	Goals      *service.GoalService
	Intentions *service.IntentionStack
	Registry   *capability.Registry
	Procedures domain.ProcedureStore
	Store      Pinger
}

// App holds the router and the request counters behind /metrics.
type App struct {
	Router    *chi.Mux
	deps      Deps
	startTime time.Time
	counters  mw.Counters
}

func NewApp(deps Deps, logger *zap.Logger) *App {
	loopHandler := handlers.NewLoopHandler(deps.Loop)
	beliefHandler := handlers.NewBeliefHandler(deps.Beliefs, deps.Loop)
	goalHandler := handlers.NewGoalHandler(deps.Goals, deps.Loop)
	intentionHandler := handlers.NewIntentionHandler(deps.Intentions)
	capabilityHandler := handlers.NewCapabilityHandler(deps.Registry)
	procedureHandler := handlers.NewProcedureHandler(deps.Agent.ID, deps.Procedures)

	r := chi.NewRouter()
	app := &App{
		Router:    r,
		deps:      deps,
		startTime: time.Now(),
	}

	// Order matters: the request ID must exist before logging reads it.
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics(&app.counters))
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler())
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/agent", app.agentHandler)
		r.Get("/status", loopHandler.Status)
		r.Get("/cycles", loopHandler.Cycles)
		r.Post("/wake", loopHandler.Wake)

		r.Route("/beliefs", func(r chi.Router) {
			r.Get("/", beliefHandler.List)
			r.Post("/", beliefHandler.Tell)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Get("/", goalHandler.List)
			r.Post("/", goalHandler.Create)
			r.Get("/{id}", goalHandler.Get)
			r.Delete("/{id}", goalHandler.Delete)
		})

		r.Route("/intentions", func(r chi.Router) {
			r.Get("/", intentionHandler.List)
			r.Get("/{id}", intentionHandler.Get)
		})

		r.Route("/capabilities", func(r chi.Router) {
			r.Get("/", capabilityHandler.List)
			r.Post("/{name}/enable", capabilityHandler.Enable)
			r.Post("/{name}/disable", capabilityHandler.Disable)
		})

		r.Get("/procedures", procedureHandler.List)
	})

	return app
}

// NewRouter returns just the chi.Mux.
func NewRouter(deps Deps, logger *zap.Logger) *chi.Mux {
	return NewApp(deps, logger).Router
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := app.deps.Store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "ok",
			"state":  string(app.deps.Loop.State()),
		})
	}
}

func (app *App) agentHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(app.deps.Agent)
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		st := app.deps.Loop.Status()

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"agent_id":       app.deps.Agent.ID,
			"http": map[string]any{
				"request_count": app.counters.Requests.Load(),
				"error_count":   app.counters.Errors(),
				"server_errors": app.counters.ServerErrors.Load(),
				"in_flight":     app.counters.InFlight.Load(),
			},
			"agent": map[string]any{
				"state":              st.State,
				"cycles":             st.Cycles,
				"consecutive_errors": st.ConsecutiveErrors,
				"pending_outcomes":   st.PendingOutcomes,
				"beliefs":            app.deps.Beliefs.Count(),
				"pending_beliefs":    app.deps.Beliefs.Pending(),
				"goals":              len(app.deps.Goals.List()),
				"active_goals":       len(app.deps.Goals.GetActive()),
				"intentions":         app.deps.Intentions.Counts(),
			},
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"build": buildconfig.Get(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

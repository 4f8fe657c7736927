package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medisim/internal/core"
	"medisim/internal/events"
	"medisim/pkg"
)

// Store is the persistence the handlers need.  *db.Repository satisfies it.
type Store interface {
	Register(ctx context.Context, username, password string, role pkg.Role) (*pkg.User, error)
	Authenticate(ctx context.Context, username, password string) (*pkg.User, error)

	CreateCase(ctx context.Context, c *pkg.CaseProfile) error
	GetCase(ctx context.Context, id string) (*pkg.CaseProfile, error)
	ListCases(ctx context.Context) ([]*pkg.CaseProfile, error)
	DeleteCase(ctx context.Context, id string) error

	GetSimulation(ctx context.Context, id string) (*pkg.SimulationRecord, error)
	ListSimulations(ctx context.Context, limit int) ([]*pkg.SimulationRecord, error)
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to an http.Server.
type Server struct {
	store  Store
	sims   *core.Registry
	feed   *events.Broker
	router chi.Router

	// origins also gates websocket upgrades.
	origins []string
}

// NewServer builds the router.  feed may be nil, in which case the
// instructor stream is not mounted.
func NewServer(store Store, sims *core.Registry, feed *events.Broker, corsOrigins []string) *Server {
	s := &Server{store: store, sims: sims, feed: feed, origins: corsOrigins}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors(corsOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Route("/cases", func(r chi.Router) {
			r.Get("/", s.handleListCases)
			r.Post("/", s.handleCreateCase)
			r.Get("/{caseID}", s.handleGetCase)
			r.Delete("/{caseID}", s.handleDeleteCase)
		})

		r.Route("/simulations", func(r chi.Router) {
			r.Post("/", s.handleStartSimulation)
			r.Route("/{simID}", func(r chi.Router) {
				r.Delete("/", s.handleAbandonSimulation)
				r.Post("/questions", s.handleAsk)
				r.Get("/transcript", s.handleTranscript)
				r.Post("/reset", s.handleReset)
				r.Post("/complete", s.handleComplete)
				r.Get("/ws", s.handleChatSocket)
			})
		})

		r.Route("/instructor", func(r chi.Router) {
			r.Get("/simulations", s.handleListRecords)
			r.Get("/simulations/{simID}", s.handleGetRecord)
			r.Get("/live", s.handleListLive)
			if feed != nil {
				r.Get("/stream", s.handleStream)
			}
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         "medisim",
		"active_sessions": s.sims.Len(),
	})
}

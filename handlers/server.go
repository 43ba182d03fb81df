package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"skymaintain.app/licensing/billing"
	"skymaintain.app/licensing/internal/ratelimit"
	"skymaintain.app/licensing/license"
	"skymaintain.app/licensing/storage"
)

// validate is the only unauthenticated guessing surface, so it gets a
// per-address rate limit.
const (
	validateMaxRequests = 30
	validateWindow      = time.Minute
)

type Server struct {
	Router  chi.Router
	Engine  *license.Engine
	Storage storage.Store
	Events  *billing.Dispatcher

	limiter ratelimit.RateLimit
	version string
}

func NewHTTPServer(engine *license.Engine, store storage.Store, version string, allowedOrigins []string) *Server {
	s := &Server{
		Engine:  engine,
		Storage: store,
		Events:  billing.NewDispatcher(engine),
		limiter: ratelimit.New(validateMaxRequests, validateWindow),
		version: version,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.rateLimited).Post("/licenses/validate", s.ValidateLicense)
		r.Get("/licenses", s.GetLicenses)
		r.Post("/licenses", s.IssueLicense)
		r.Post("/billing/events", s.BillingEvent)
	})

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: time.Now(),
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.RemoteAddr) {
			writeErrorResponse(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

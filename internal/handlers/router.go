package handlers

import (
	"net/http"
	"time"

	"couple-sync-backend/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the HTTP surface settings
type RouterConfig struct {
	CORSOrigins []string
	// JoinRateLimit is the number of join attempts allowed per IP per minute
	JoinRateLimit int
	// RequestLogging enables the chi request logger
	RequestLogging bool
}

// Handlers groups the HTTP handlers served by the router
type Handlers struct {
	Users     *UserHandler
	Pairs     *PairHandler
	Photos    *PhotoHandler
	WebSocket *WebSocketHandler
	Auth      middleware.TokenValidator
}

// NewRouter builds the API router
func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithMetrics)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	joinLimit := cfg.JoinRateLimit
	if joinLimit <= 0 {
		joinLimit = 10
	}

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", h.Users.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(h.Auth))

			r.Get("/users/me", h.Users.GetMe)
			r.Patch("/users/me", h.Users.UpdateMe)

			r.Post("/invites", h.Pairs.CreateInvite)
			r.Delete("/invites/waiting", h.Pairs.CancelWaiting)
			r.With(httprate.LimitByIP(joinLimit, time.Minute)).Post("/invites/join", h.Pairs.JoinWithCode)

			r.Get("/couples/me", h.Pairs.GetCouple)
			r.Delete("/couples/me", h.Pairs.Disconnect)

			r.Get("/photos", h.Photos.GetPhotos)
			r.Post("/photos", h.Photos.UploadPhoto)
			r.Get("/photos/{photo_id}", h.Photos.GetPhoto)
			r.Delete("/photos/{photo_id}", h.Photos.DeletePhoto)
			r.Put("/photos/{photo_id}/reaction", h.Photos.SetReaction)
			r.Delete("/photos/{photo_id}/reaction", h.Photos.ClearReaction)
			r.Post("/photos/{photo_id}/view", h.Photos.MarkViewed)

			r.Post("/sync-moments", h.Photos.StartSyncMoment)
		})
	})

	// WebSocket route
	r.Get("/ws", h.WebSocket.HandleWebSocket)

	return r
}

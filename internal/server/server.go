package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/streamtube/streamtube/internal/auth"
	"github.com/streamtube/streamtube/internal/database"
	"github.com/streamtube/streamtube/internal/geoip"
	"github.com/streamtube/streamtube/internal/ratelimit"
	"github.com/streamtube/streamtube/internal/video"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	DB      database.DBTX
	Pinger  Pinger
	Storage MediaStorage
	Geo     *geoip.Resolver
	Auth    auth.Config
	BaseURL string
}

// MediaStorage is the union of what the auth and video handlers require.
type MediaStorage interface {
	auth.MediaStorage
	video.MediaStorage
}

type Server struct {
	router       chi.Router
	pinger       Pinger
	authHandler  *auth.Handler
	videoHandler *video.Handler
}

func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger("/api/health"))
	r.Use(securityHeaders(cfg.BaseURL))

	s := &Server{router: r, pinger: cfg.Pinger}
	s.authHandler = auth.NewHandler(cfg.DB, cfg.Storage, cfg.Auth)
	s.videoHandler = video.NewHandler(cfg.DB, cfg.Storage, cfg.Geo)

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	authLimiter := ratelimit.NewLimiter(0.5, 5)
	s.router.Route("/api/users", func(r chi.Router) {
		r.Use(authLimiter.Middleware)
		r.Post("/register", s.authHandler.Register)
		r.Post("/login", s.authHandler.Login)
		r.Post("/refresh-token", s.authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authHandler.RequireAuth)
			r.Post("/logout", s.authHandler.Logout)
			r.Post("/change-password", s.authHandler.ChangePassword)
			r.Get("/current-user", s.authHandler.CurrentUser)
			r.Patch("/update-account", s.authHandler.UpdateAccount)
			r.Patch("/avatar", s.authHandler.UpdateAvatar)
			r.Patch("/cover-image", s.authHandler.UpdateCoverImage)
			r.Post("/subscribe/{channelId}", s.videoHandler.Subscribe)
		})
	})

	videoLimiter := ratelimit.NewLimiter(2, 10)
	s.router.Route("/api/videos", func(r chi.Router) {
		r.Use(videoLimiter.Middleware)

		r.With(s.authHandler.OptionalAuth).Get("/get-video/{videoId}", s.videoHandler.GetByID)

		r.Group(func(r chi.Router) {
			r.Use(s.authHandler.RequireAuth)
			r.Post("/upload", s.videoHandler.Upload)
			r.Get("/my-videos", s.videoHandler.MyVideos)
			r.Patch("/update-video-details/{videoId}", s.videoHandler.UpdateDetails)
			r.Get("/{videoId}/analytics", s.videoHandler.Analytics)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

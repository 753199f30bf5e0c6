package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pagevoice/pagevoice/internal/api/handlers"
	"github.com/pagevoice/pagevoice/internal/api/middleware"
	"github.com/pagevoice/pagevoice/internal/audio"
	"github.com/pagevoice/pagevoice/internal/audit"
	"github.com/pagevoice/pagevoice/internal/auth"
	"github.com/pagevoice/pagevoice/internal/cache"
	"github.com/pagevoice/pagevoice/internal/config"
	"github.com/pagevoice/pagevoice/internal/document"
	"github.com/pagevoice/pagevoice/internal/queue"
	"github.com/pagevoice/pagevoice/internal/settings"
	"github.com/pagevoice/pagevoice/internal/sharing"
	"github.com/pagevoice/pagevoice/internal/storage"
	"github.com/pagevoice/pagevoice/internal/tts"
)

type Router struct {
	mux      *chi.Mux
	db       *pgxpool.Pool
	redis    *redis.Client
	cfg      *config.Config
	gateway  storage.Gateway
	provider tts.Provider
	queue    *queue.Client
	jwt      *auth.JWTMiddleware
}

// NewRouter wires the API surface. The storage gateway, speech provider and
// queue client are built by the caller: all of them hold external connections
// whose lifecycle the router should not own.
func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config,
	gateway storage.Gateway, provider tts.Provider, queueClient *queue.Client) *Router {
	return &Router{
		mux:      chi.NewRouter(),
		db:       db,
		redis:    rdb,
		cfg:      cfg,
		gateway:  gateway,
		provider: provider,
		queue:    queueClient,
		jwt:      auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Services
	docSvc := document.NewService(rt.db)
	sharingSvc := sharing.NewService(rt.db)
	settingsSvc := settings.NewService(rt.db, cache.NewCache(rt.redis))
	auditSvc := audit.NewService(rt.db, rt.gateway)
	store := audio.NewPostgresStore(rt.db)

	audioSvc := audio.NewService(store, docSvc, sharingSvc, settingsSvc,
		rt.gateway, rt.queue, auditSvc, rt.provider.Voices())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		audioH := handlers.NewAudioHandler(audioSvc)
		r.Route("/pages/{id}/audios", func(r chi.Router) {
			r.Post("/", audioH.Generate)
			r.Get("/", audioH.List)
		})
		r.Route("/audios/{id}", func(r chi.Router) {
			r.Get("/status", audioH.Status)
			r.Post("/play", audioH.Play)
			r.Get("/download", audioH.Download)
			r.Delete("/", audioH.Delete)
		})
		r.Get("/voices", audioH.Voices)

		auditH := handlers.NewAuditHandler(auditSvc)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", auditH.Logs)
			r.Post("/audit/export", auditH.Export)
		})
	})

	return r
}

package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jlahut/chirp/internal/api/handlers"
	"github.com/jlahut/chirp/internal/api/ws"
	"github.com/jlahut/chirp/internal/auth"
	"github.com/jlahut/chirp/internal/gallery"
	"github.com/jlahut/chirp/internal/queue"
	"github.com/jlahut/chirp/internal/storage"
)

type RouterConfig struct {
	APIKey       string
	DB           *storage.PostgresStore
	Archive      *storage.ArchiveStore
	Producer     *queue.Producer
	Hub          *ws.Hub
	Engine       *gallery.Engine
	Ingester     handlers.Ingester
	DefaultLimit int
	MaxLimit     int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.Archive, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Images & faces
	imageH := handlers.NewImageHandler(cfg.Engine, cfg.DB, cfg.Archive, cfg.Ingester, cfg.DefaultLimit, cfg.MaxLimit)
	v1.POST("/images", imageH.Create)
	v1.GET("/images", imageH.List)
	v1.GET("/images/:id", imageH.Get)
	v1.GET("/images/:id/original", imageH.Original)
	v1.DELETE("/images/:id", imageH.Delete)
	v1.PATCH("/faces/:id/person", imageH.AssignFacePerson)

	// Persons
	personH := handlers.NewPersonHandler(cfg.DB)
	v1.POST("/persons", personH.Create)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.DELETE("/persons/:id", personH.Delete)

	// Scrape jobs
	jobH := handlers.NewScrapeJobHandler(cfg.DB, cfg.Producer)
	v1.POST("/scrape-jobs", jobH.Create)
	v1.GET("/scrape-jobs", jobH.List)
	v1.GET("/scrape-jobs/:id", jobH.Get)
	v1.POST("/scrape-jobs/:id/retry", jobH.Retry)
	v1.DELETE("/scrape-jobs/:id", jobH.Delete)

	return r
}

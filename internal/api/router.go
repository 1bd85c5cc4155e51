package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/gtm/internal/api/handlers"
	"github.com/your-org/gtm/internal/api/ws"
	"github.com/your-org/gtm/internal/auth"
	"github.com/your-org/gtm/internal/queue"
	"github.com/your-org/gtm/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	// EmbedFn extracts an appearance embedding from image bytes (from vision pipeline).
	EmbedFn func(imageData []byte) ([]float32, float32, error)
	// GTMWorkerURL is the base URL of a worker's metrics/query listener
	// (e.g. "http://vision-worker:8082"), which owns the reid.Manager
	// instance. Leave empty to disable the /v1 GTM query routes.
	GTMWorkerURL string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Collections
	colH := handlers.NewCollectionHandler(cfg.DB)
	v1.POST("/collections", colH.Create)
	v1.GET("/collections", colH.List)

	// Known-identity gallery
	identityH := handlers.NewIdentityHandler(cfg.DB, cfg.MinIO)
	identityH.EmbedFn = cfg.EmbedFn
	v1.POST("/identities", identityH.Create)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)
	v1.POST("/identities/:id/embeddings", identityH.AddEmbedding)
	v1.GET("/identities/:id/embeddings", identityH.ListEmbeddings)
	v1.DELETE("/identities/:id/embeddings/:embeddingId", identityH.DeleteEmbedding)
	v1.POST("/gallery/search", identityH.Search)

	// Global Track Manager read-only queries, proxied to the worker that
	// owns the reid.Manager instance.
	if cfg.GTMWorkerURL != "" {
		gtmH, err := handlers.NewGTMProxyHandler(cfg.GTMWorkerURL)
		if err == nil {
			v1.GET("/stats", gtmH.ServeHTTP)
			v1.GET("/snapshot", gtmH.ServeHTTP)
			v1.GET("/tracks/:id", gtmH.ServeHTTP)
			v1.GET("/cameras/:id/tracks", gtmH.ServeHTTP)
		}
	} else {
		v1.GET("/stats", handlers.Unavailable)
		v1.GET("/snapshot", handlers.Unavailable)
		v1.GET("/tracks/:id", handlers.Unavailable)
		v1.GET("/cameras/:id/tracks", handlers.Unavailable)
	}

	// Streams
	streamH := handlers.NewStreamHandler(cfg.DB, cfg.Producer)
	v1.POST("/streams", streamH.Create)
	v1.GET("/streams", streamH.List)
	v1.GET("/streams/:id", streamH.Get)
	v1.POST("/streams/:id/start", streamH.Start)
	v1.POST("/streams/:id/stop", streamH.Stop)
	v1.DELETE("/streams/:id", streamH.Delete)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB, cfg.MinIO)
	eventH.EmbedFn = cfg.EmbedFn
	v1.GET("/streams/:id/events", eventH.List)
	v1.GET("/events/:id/snapshot", eventH.Snapshot)
	v1.GET("/events/:id/frame", eventH.Frame)
	v1.GET("/events/similar", eventH.SimilarByTrack)
	v1.POST("/search/events", eventH.SearchEvents)

	return r
}

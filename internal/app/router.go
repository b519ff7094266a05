package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/handlers"
	"messenger/internal/middleware"
	"messenger/internal/observability"
	"messenger/internal/telemetry"
	"messenger/internal/ws"
)

// RouterParams collects everything mounted on the HTTP router.
type RouterParams struct {
	fx.In

	Config        *config.Config
	Logger        *zap.Logger
	Verifier      auth.Verifier
	Audit         *telemetry.AuditEmitter
	Users         *handlers.UserHandler
	Conversations *handlers.ConversationHandler
	Uploads       *handlers.UploadHandler
	Sessions      *ws.SessionHandler
}

// NewRouter builds the gin engine with middlewares and routes.
func NewRouter(p RouterParams) *gin.Engine {
	if !p.Config.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(p.Logger.Named("http")))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware(p.Config.Telemetry.ServiceName))
	router.Use(cors.New(corsConfig(p.Config.Server.CORSOrigins)))

	authMiddleware := middleware.AuthMiddleware(p.Verifier, p.Audit)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/users", authMiddleware, p.Users.ListUsers)
	router.POST("/conversations/find-or-create", authMiddleware, p.Conversations.FindOrCreate)
	router.GET("/conversations/:id/messages", authMiddleware, p.Conversations.GetMessages)
	router.POST("/uploads", authMiddleware, p.Uploads.Upload)
	router.StaticFS("/uploads", http.Dir(p.Config.Uploads.Dir))

	router.GET("/ws", p.Sessions.Handle)

	handlers.RegisterDebugRoutes(router, p.Audit, p.Config.Server.Debug)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id", "X-Device-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		MaxAge:           12 * time.Hour,
		AllowWebSockets:  true,
		AllowCredentials: false,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

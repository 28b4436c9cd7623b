package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "tempinbox/backend/internal/auth/jwt"
	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/health"
	"tempinbox/backend/internal/middleware"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/websocket"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes    *service.MailboxService
	emails       *service.EmailService
	attachments  *service.AttachmentService
	inbound      *service.InboundService
	outbound     *service.OutboundService
	retention    *service.RetentionService
	hub          *websocket.Hub
	inboundToken string
	log          *zap.Logger
}

// RouterDependencies 路由器依赖项，Hub、JWT、Metrics、Health 可以为 nil。
type RouterDependencies struct {
	Config      *config.Config
	Mailboxes   *service.MailboxService
	Emails      *service.EmailService
	Attachments *service.AttachmentService
	Inbound     *service.InboundService
	Outbound    *service.OutboundService
	Retention   *service.RetentionService
	Hub         *websocket.Hub
	JWT         *jwtpkg.Manager
	Metrics     *monitoring.Metrics
	Health      *health.Checker
	Logger      *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RecoveryHandler(log))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))
	router.Use(gincors.New(corsConfig(deps.Config.CORS)))

	handler := &Handler{
		mailboxes:    deps.Mailboxes,
		emails:       deps.Emails,
		attachments:  deps.Attachments,
		inbound:      deps.Inbound,
		outbound:     deps.Outbound,
		retention:    deps.Retention,
		hub:          deps.Hub,
		inboundToken: deps.Config.Inbound.Token,
		log:          log,
	}
	jwtAuth := middleware.NewJWTAuth(deps.JWT, log)

	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/v1")
	{
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.POST("", handler.createMailbox)
			mailboxRoutes.GET("", handler.listMailboxes)
			mailboxRoutes.GET("/:address", handler.getMailbox)
			mailboxRoutes.DELETE("/:address", handler.deleteMailbox)

			mailboxRoutes.GET("/:address/emails", handler.listEmails)
			mailboxRoutes.GET("/:address/emails/:id", handler.getEmail)
			mailboxRoutes.DELETE("/:address/emails/:id", handler.deleteEmail)

			mailboxRoutes.GET("/:address/emails/:id/attachments", handler.listAttachments)
			mailboxRoutes.GET("/:address/emails/:id/attachments/:attachmentId", handler.getAttachment)
			mailboxRoutes.GET("/:address/emails/:id/attachments/:attachmentId/download", handler.downloadAttachment)

			mailboxRoutes.POST("/:address/send", handler.sendEmail)

			if deps.Hub != nil {
				mailboxRoutes.GET("/:address/ws", handler.subscribe)
			}
		}

		// 入站接口只在配置了共享密钥时开放
		if handler.inboundToken != "" {
			v1.POST("/inbound", handler.receiveInbound)
		}

		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(jwtAuth.RequireAdmin())
		{
			adminRoutes.POST("/sweeps/:kind", handler.runSweep)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "route not found")
	})

	return router
}

func corsConfig(cfg config.CORSConfig) gincors.Config {
	corsCfg := gincors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = []string{"*"}
	}
	for _, origin := range corsCfg.AllowOrigins {
		if origin == "*" {
			corsCfg.AllowAllOrigins = true
			corsCfg.AllowOrigins = nil
			corsCfg.AllowCredentials = false
			break
		}
	}
	return corsCfg
}

package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"section-swap/backend/config"
	"section-swap/backend/internal/api/handler"
	"section-swap/backend/internal/api/middleware"
	"section-swap/backend/internal/model"
	"section-swap/backend/pkg/jwt"
)

const maxBodyBytes = 1 << 20

// Setup 初始化并返回 Gin 路由引擎
// limiter 为 nil 时不限流（Redis 不可用时的降级）
func Setup(cfg *config.Config, h *handler.Handler, jwtMgr *jwt.Manager, limiter middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 公开接口
		v1.GET("/branches", h.Swap.ListBranches)
		v1.GET("/section-swaps/recent", h.Swap.Recent)

		// 需要认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(jwtMgr))
		{
			// 换班模块
			swaps := authorized.Group("/section-swaps")
			{
				swaps.POST("", middleware.RateLimit(limiter, 10, time.Minute), h.Swap.Create)
				swaps.GET("/me", h.Swap.ListMine)
				swaps.POST("/:id/accept", h.Swap.Accept)
				swaps.POST("/:id/decline", h.Swap.Decline)
				swaps.POST("/:id/cancel", h.Swap.Cancel)
				swaps.GET("/:id/deadline.ics", h.Swap.Deadline)
			}

			// 通知模块
			notifications := authorized.Group("/notifications")
			{
				notifications.GET("", h.Notification.List)
				notifications.PUT("/:id/read", h.Notification.MarkRead)
			}

			// 换班管理（管理员）
			admin := authorized.Group("/admin/section-swaps")
			admin.Use(middleware.RoleAuth(model.RoleAdmin))
			{
				admin.POST("/run-matcher", middleware.RateLimit(limiter, 5, time.Minute), h.AdminSwap.RunMatcher)
				admin.GET("", h.AdminSwap.List)
				admin.GET("/stats", h.AdminSwap.Stats)
				admin.GET("/export", h.AdminSwap.Export)
			}
		}
	}

	return r
}

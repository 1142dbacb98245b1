package server

import (
	"net/http"

	"github.com/discovicke/DucklordChatking/internal/auth"
	"github.com/discovicke/DucklordChatking/internal/config"
	"github.com/discovicke/DucklordChatking/internal/metrics"
	"github.com/discovicke/DucklordChatking/internal/mw"
	"github.com/discovicke/DucklordChatking/internal/service"
	"github.com/discovicke/DucklordChatking/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及事件流端点。limiter 为 nil 时不限速。
func SetupRouter(cfg config.Config, userSvc *service.UserService, msgSvc *service.MessageService, issuer *auth.Issuer, hub *ws.Hub, limiter *mw.Limiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(userSvc, msgSvc, cfg.LongPollMax)
	api := r.Group("/api/v1")

	// 登录注册按 IP 限速，防止暴力破解。
	public := api.Group("/auth", limiter.Middleware(mw.ByIP))
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)

	// 需要 Bearer Token 的业务接口，按账号限速。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(issuer, userSvc), limiter.Middleware(mw.ByAccount))

	authed.POST("/auth/logout", h.Logout)
	authed.GET("/users", h.ListUsers)
	authed.GET("/users/status", h.ListStatuses)
	authed.PUT("/users", h.UpdateUser)
	authed.DELETE("/users/:username", h.DeleteUser)

	authed.POST("/messages", h.PostMessage)
	authed.GET("/messages/history", h.History)
	authed.GET("/messages/updates", h.Updates)
	authed.DELETE("/messages/:id", h.DeleteMessage)
	authed.DELETE("/messages", h.ClearMessages)

	if hub != nil {
		r.GET("/ws/events", auth.AuthMiddleware(issuer, userSvc), ws.Serve(hub))
	}
	return r
}

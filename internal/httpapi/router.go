package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-analytics/internal/common"
	"github.com/suPer8Hu/ai-analytics/internal/config"
	"github.com/suPer8Hu/ai-analytics/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-analytics/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, svc handlers.Analytics) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(svc)

	r.GET("/ping", h.Ping)

	// analytics (JWT + paid plan required)
	g := r.Group("/aiAnalytics")
	g.Use(middleware.AuthRequired(cfg.JWTSecret), middleware.RequirePaidPlan())
	g.POST("", h.Ask)
	g.POST("/jobs", h.EnqueueJob)
	g.GET("/jobs/:jobId", h.GetJob)
	g.GET("/:sessionId", h.History)
	return r
}

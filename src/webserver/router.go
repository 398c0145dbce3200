package webserver

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func attachRoutes(r *gin.Engine, s *Server) {
	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", tokenHeader, "If-None-Match"},
		ExposeHeaders: []string{"Content-Length", "ETag"},
	}
	if allowAll(s.opts.AllowOrigins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.opts.AllowOrigins
	}
	r.Use(cors.New(corsCfg))

	page := mustPage()
	r.GET("/", s.index(page))
	r.GET("/assets/*file", gin.WrapH(assetHandler()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/rooms", s.rooms)
	r.GET("/ws", s.subscribe)

	if s.opts.BackendSecret != "" {
		zap.L().Named("webserver").Info("ingestion endpoint enabled", zap.String("path", "/party"))
		r.POST("/party", RateLimitMiddleware(s.limiter), BackendAuth([]byte(s.opts.BackendSecret)), s.party)
	}
}

func allowAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

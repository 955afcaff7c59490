package devserver

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.handleHealth)

	api := r.Group("/api")
	api.POST("/auth/login", s.handleLogin)

	authed := api.Group("", s.requireUser())
	authed.GET("/auth/me", s.handleMe)
	authed.GET("/auth/search-users", s.handleSearchUsers)
	authed.GET("/messages", s.handleListMessages)
	authed.POST("/messages", s.handlePostMessage)
	authed.PATCH("/messages/:id", s.handlePatchMessage)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

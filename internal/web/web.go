// Package web is the management API: rule CRUD, dry runs, execution logs,
// device state reads and the websocket state-push feed.
package web

import (
	"github.com/gin-gonic/gin"

	"github.com/IvanSnezhok/ecoflow-dashboard/internal/cache"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/engine"
	"github.com/IvanSnezhok/ecoflow-dashboard/internal/store"
)

// Server hosts the HTTP API.
type Server struct {
	router    *gin.Engine
	store     *store.Store
	cache     *cache.Cache
	processor *engine.Processor
	auth      *Auth
}

func NewServer(st *store.Store, c *cache.Cache, processor *engine.Processor, auth *Auth) *Server {
	s := &Server{
		router:    gin.Default(),
		store:     st,
		cache:     c,
		processor: processor,
		auth:      auth,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.POST("/auth/login", s.handleLogin)

	authed := s.router.Group("/", s.auth.RequireAuth())
	{
		rules := authed.Group("/automations/rules")
		rules.GET("", s.handleListRules)
		rules.POST("", s.handleCreateRule)
		rules.GET("/:id", s.handleGetRule)
		rules.PUT("/:id", s.handleUpdateRule)
		rules.DELETE("/:id", s.handleDeleteRule)
		rules.POST("/:id/test", s.handleTestRule)
		rules.POST("/:id/clear-cooldown", s.handleClearCooldown)

		authed.GET("/automations/logs", s.handleListLogs)
		authed.GET("/devices/:sn/state", s.handleDeviceState)
		authed.GET("/ws/state", s.handleStateFeed)
	}
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}

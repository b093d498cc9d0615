// routes.go wires the handlers onto the gin engine.
package webapi

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the API routes.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		api.POST("/generate", h.GenerateHandler)
		api.GET("/providers", h.ProvidersHandler)
		api.GET("/history", h.HistoryHandler)
		api.GET("/healthz", h.HealthzHandler)
	}
}

// NewEngine builds a gin engine with the API routes mounted. Release
// mode unless development is requested.
func NewEngine(h *Handler, development bool) *gin.Engine {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, h)
	return r
}

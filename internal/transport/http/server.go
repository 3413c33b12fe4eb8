package http

import (
	"github.com/gin-gonic/gin"

	"investigraph/internal/bootstrap"
	"investigraph/internal/metrics"
	"investigraph/internal/transport/http/handler"
	"investigraph/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), middleware.Metrics(app.Metrics))

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	documentHandler := handler.NewDocumentHandler(app.Ingest)
	queryHandler := handler.NewQueryHandler(app.Query)
	graphHandler := handler.NewGraphHandler(app.Graphs)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	v1.POST("/documents", documentHandler.Create)
	v1.POST("/documents/upload", documentHandler.Upload)
	v1.GET("/documents", documentHandler.List)
	v1.GET("/documents/:id", documentHandler.Get)
	v1.POST("/documents/:id/reprocess", documentHandler.Reprocess)
	v1.DELETE("/documents/:id", documentHandler.Delete)
	v1.GET("/documents/:id/graph", graphHandler.View)
	v1.POST("/query", queryHandler.Ask)

	return router
}

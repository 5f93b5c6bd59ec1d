package http

import (
	"github.com/gin-gonic/gin"

	"healthq/internal/bootstrap"
	"healthq/internal/platform/logger"
	"healthq/internal/transport/http/handler"
	"healthq/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(logger.GinMiddleware(app.Logger.Named("http")), gin.Recovery(), middleware.CORS())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/ping", healthHandler.Ping)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(app.Metrics.Handler()))

	hackrxHandler := handler.NewHackRxHandler(app.QA, app.Logger.Named("hackrx"))
	kbHandler := handler.NewKnowledgeBaseHandler(app.QA)
	sessionHandler := handler.NewSessionHandler(app.QA)
	var archive handler.TurnArchive
	if app.Archive != nil {
		archive = app.Archive
	}
	archiveHandler := handler.NewArchiveHandler(archive)

	v1 := router.Group("/api/v1")
	v1.POST("/hackrx/run", hackrxHandler.Run)

	guarded := v1.Group("")
	guarded.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	guarded.POST("/knowledge-base", kbHandler.Build)
	guarded.DELETE("/knowledge-base", kbHandler.Reset)
	guarded.POST("/sessions/:id/turns", sessionHandler.Ask)
	guarded.GET("/sessions/:id/turns", sessionHandler.Transcript)
	guarded.DELETE("/sessions/:id", sessionHandler.Reset)
	guarded.GET("/sessions/:id/archive", archiveHandler.List)

	return router
}

package server

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/server/handler"
	"github.com/runninghub-studio/studio/internal/utils"
	"go.uber.org/zap"
)

const (
	stackPreviewLines = 6
	shutdownGrace     = 5 * time.Second
)

// Start serves until ctx is cancelled, then drains in-flight requests for up to
// shutdownGrace.
func Start(ctx context.Context, cfg config.ServerConfig, h *handler.Handler) error {
	router := InitRouter(cfg, h)
	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("server is listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("server is shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// SetReleaseMode silences gin's debug route dump.
func SetReleaseMode() {
	gin.SetMode(gin.ReleaseMode)
}

// PermissionCheckMiddleware rejects requests whose API-KEY header does not
// match apiKey.
func PermissionCheckMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestKey := c.GetHeader("API-KEY")
		if requestKey != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API key",
			})
			return
		}
		c.Next()
	}
}

// RecoveryMiddleware turns a panic into a worker-exception response with a
// short stack preview.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				msg := utils.PanicMessage(r)
				stack := utils.StackPreview(debug.Stack(), stackPreviewLines)
				logger.Error("request panicked",
					zap.String("path", c.Request.URL.Path),
					zap.String("message", msg),
					zap.String("stackPreview", stack),
				)
				e := runninghub.WorkerExceptionError(msg, stack)
				c.AbortWithStatusJSON(e.HTTPStatus(), e.Payload())
			}
		}()
		c.Next()
	}
}

// BodyLimitMiddleware caps request bodies at limit bytes. A declared length
// over the limit is refused before the handler runs.
func BodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			e := runninghub.PayloadTooLargeError(limit)
			c.AbortWithStatusJSON(e.HTTPStatus(), e.Payload())
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func InitRouter(cfg config.ServerConfig, h *handler.Handler) *gin.Engine {
	router := gin.New()
	router.Use(ginzap.RecoveryWithZap(logger.ZapLogger, true))
	router.Use(ginzap.Ginzap(logger.ZapLogger, time.RFC3339Nano, true))
	router.Use(RecoveryMiddleware())
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("API-KEY")
	router.Use(cors.New(corsConfig))
	if cfg.Pprof {
		pprof.Register(router)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	apiGroup := router.Group("/api", BodyLimitMiddleware(cfg.BodyLimitMB<<20))
	if cfg.APIKey != "" {
		apiGroup.Use(PermissionCheckMiddleware(cfg.APIKey))
	}
	apiGroup.POST("/analyze", h.Analyze)
	apiGroup.POST("/generate", h.Generate)

	rh := apiGroup.Group("/runninghub")
	rh.POST("/ping", h.Ping)
	rh.POST("/upload", h.Upload)
	rh.POST("/run", h.Run)
	rh.POST("/query", h.Query)
	rh.GET("/image", h.Image)
	return router
}

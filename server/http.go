package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/HershNagpal/lbms/library"
)

// RequestIDHeader carries the ID assigned to each HTTP request.
const RequestIDHeader = "X-Request-ID"

// maxCommandBytes bounds a command body.
const maxCommandBytes = 64 << 10

// NewRouter exposes the dispatcher over HTTP. Each client first POSTs to
// /clients and then sends raw commands to /clients/:id/commands. Browsers
// from allowOrigins may call it cross-origin.
func NewRouter(d *library.Dispatcher, logger *slog.Logger, allowOrigins ...string) *gin.Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	if len(allowOrigins) > 0 {
		useCORS(r, allowOrigins)
	}

	r.GET("/healthz", func(c *gin.Context) {
		clock := d.Library().Clock()
		c.JSON(http.StatusOK, gin.H{"ok": true, "state": clock.State().String(), "clock": clock.Now()})
	})

	clients := r.Group("/clients")
	{
		clients.POST("", func(c *gin.Context) {
			c.JSON(http.StatusCreated, gin.H{"client_id": d.Connect()})
		})

		clients.POST("/:id/commands", func(c *gin.Context) {
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBytes))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
				return
			}
			c.String(http.StatusOK, d.Execute(c.Param("id"), string(body)))
		})

		clients.DELETE("/:id", func(c *gin.Context) {
			id := c.Param("id")
			resp := d.Execute(id, "disconnect;")
			if strings.Contains(resp, library.ErrInvalidClientID.Code) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": library.ErrInvalidClientID.Code})
				return
			}
			c.Status(http.StatusNoContent)
		})
	}
	return r
}

func useCORS(r *gin.Engine, origins []string) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// Serve runs handler on addr until ctx is cancelled, then drains in-flight requests.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("http listening", "addr", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

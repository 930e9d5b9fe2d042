package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wakeassist/internal/domain"
	"wakeassist/internal/ports"
	"wakeassist/internal/usecase"
)

// Assistant is the control surface the router drives.
type Assistant interface {
	Start(ctx context.Context) error
	Stop()
	Status() domain.Status
}

type Options struct {
	// Mode is the gin mode: debug, release or test.
	Mode      string
	Assistant Assistant
	Hub       *Hub
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  ports.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewRouter(opts Options) *gin.Engine {
	switch opts.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(opts.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(opts.Logger))

	h := &handlers{assistant: opts.Assistant, hub: opts.Hub, logger: opts.Logger}
	v1 := r.Group("/v1")
	v1.POST("/start", h.start)
	v1.POST("/stop", h.stop)
	v1.GET("/status", h.status)
	v1.GET("/events", h.events)

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}

type handlers struct {
	assistant Assistant
	hub       *Hub
	logger    ports.Logger
}

func (h *handlers) start(c *gin.Context) {
	err := h.assistant.Start(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.assistant.Status())
	case errors.Is(err, usecase.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, usecase.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (h *handlers) stop(c *gin.Context) {
	h.assistant.Stop()
	c.JSON(http.StatusOK, h.assistant.Status())
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.assistant.Status())
}

func (h *handlers) events(c *gin.Context) {
	conn, err := upgrade(c.Writer, c.Request)
	if err != nil {
		h.logger.Errorf("failed to upgrade event stream: %v", err)
		return
	}
	h.logger.Infof("event client %s connected", c.ClientIP())
	h.hub.serve(conn)
	h.logger.Infof("event client %s disconnected", c.ClientIP())
}

func requestLogger(logger ports.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

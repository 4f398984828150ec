package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"logrelay/internal/api/handlers"
	"logrelay/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	server *http.Server
	logger *pterm.Logger
	port   int
}

// Config holds server configuration
type Config struct {
	Host       string
	Port       int
	Production bool
}

// NewControllerServer creates the HTTP server dispatchers talk to
func NewControllerServer(cfg *Config, controllerHandler *handlers.ControllerHandler, streamHandler *handlers.StreamHandler, logger *pterm.Logger) *Server {
	router := newRouter(cfg)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "LogRelay controller",
			"summary": "/summary",
			"health":  "/health",
		})
	})

	// Dispatcher routes
	router.GET("/config/:hostname", controllerHandler.GetConfigurations)
	router.GET("/checkpoints/:hostname", controllerHandler.GetCheckpoints)
	router.POST("/checkpoints/:hostname", controllerHandler.PostCheckpoints)
	router.POST("/metrics/:hostname", controllerHandler.PostMetrics)
	router.POST("/events/:hostname", controllerHandler.PostEvents)

	// Dashboard data
	router.GET("/metrics", controllerHandler.GetMetrics)
	router.GET("/summary", controllerHandler.GetSummary)
	router.GET("/summary/stream", streamHandler.StreamSummary)

	return newServer(cfg, router, logger)
}

// NewReceiverServer creates a server that logs whatever is posted to it
func NewReceiverServer(cfg *Config, receiverHandler *handlers.ReceiverHandler, logger *pterm.Logger) *Server {
	router := newRouter(cfg)
	router.POST("/", receiverHandler.Receive)
	return newServer(cfg, router, logger)
}

func newRouter(cfg *Config) *gin.Engine {
	// Set Gin mode
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(tracingMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	return router
}

func newServer(cfg *Config, router *gin.Engine, logger *pterm.Logger) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		router: router,
		server: &http.Server{
			Addr:           addr,
			Handler:        router,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   300 * time.Second, // Long timeout for SSE streams
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger,
		port:   cfg.Port,
	}
}

// Handler returns the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.logger.Info("Starting web server", s.logger.Args("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithCaller().Error("Web server failed", s.logger.Args("error", err))
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down web server...")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// tracingMiddleware wraps every routed request in a span
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := observability.StartSpan(c.Request.Context(), "logrelay/api", c.Request.Method+" "+route)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.String("node", c.Param("hostname")),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

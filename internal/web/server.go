package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/katieblackabee/fastchecks/internal/checker"
	"github.com/katieblackabee/fastchecks/internal/config"
	"github.com/katieblackabee/fastchecks/internal/storage"
)

type Server struct {
	echo   *echo.Echo
	config *config.ServerConfig
	runner *checker.Runner
	limits storage.Limits
	auth   *AuthManager
	logger *zap.Logger
}

func NewServer(cfg *config.ServerConfig, runner *checker.Runner, limits storage.Limits, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("http_request", fields...)
			return nil
		},
	}))

	var auth *AuthManager
	if len(cfg.Users) > 0 {
		auth = NewAuthManager(cfg.Users)
	}

	server := &Server{
		echo:   e,
		config: cfg,
		runner: runner,
		limits: limits,
		auth:   auth,
		logger: logger,
	}

	server.registerRoutes()

	return server
}

func (s *Server) registerRoutes() {
	// Health check (public)
	s.echo.GET("/api/health", s.HandleHealth)

	api := s.echo.Group("/api")
	if s.auth != nil {
		api.Use(s.auth.RequireAuth())
	}
	api.GET("/checks", s.HandleListChecks)
	api.PUT("/checks", s.HandleUpsertCheck)
	api.DELETE("/checks", s.HandleDeleteCheck)
	api.DELETE("/checks/all", s.HandleDeleteAllChecks)
	api.POST("/checks/run", s.HandleRunCheck)
	api.GET("/results", s.HandleListResults)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http_listening", zap.String("addr", addr))

	server := &http.Server{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s.echo.StartServer(server)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Package status は実行中の統計を公開する読み取り専用HTTPサーバ
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"refiner/internal/stats"
	"refiner/internal/version"
)

// Server は統計スナップショットを返すHTTPサーバ
type Server struct {
	e    *echo.Echo
	addr string
}

// New は新しいServerを作成
func New(addr string, run *stats.Stats) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})
	e.GET("/stats", func(c echo.Context) error {
		return c.JSON(http.StatusOK, run.Snapshot())
	})

	return &Server{e: e, addr: addr}
}

// Start はサーバをバックグラウンドで起動する
func (s *Server) Start() {
	go func() {
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server stopped", "error", err)
		}
	}()
	slog.Info("status server listening", "addr", s.addr)
}

// Shutdown はサーバを停止する
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

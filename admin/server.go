// admin/server.go
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tierbot/logs"
	"tierbot/monitor"
	"tierbot/position"
	"tierbot/profit"
	"tierbot/risk"
)

// EquitySource reports the last known account equity.
type EquitySource interface {
	Equity() float64
}

// Deps are the live components the control surface reads and steers.
type Deps struct {
	Guard      *risk.Guard
	Book       *position.Book
	Accountant *profit.Accountant
	Session    *monitor.Session
	Equity     EquitySource
	LastCycle  func() monitor.Summary
	Gatherer   prometheus.Gatherer
}

// Server is the operator HTTP surface.
type Server struct {
	echo *echo.Echo
	addr string
	deps Deps
	now  func() time.Time
}

func NewServer(addr string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(recoverPanics(), requestLogging())

	s := &Server{echo: e, addr: addr, deps: deps, now: time.Now}
	e.GET("/status", s.status)
	e.POST("/kill-switch", s.killSwitch)
	e.POST("/reset-day", s.resetDay)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		logs.Infof("[Admin] Listening on %s", s.addr)
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("[Admin] Server error: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	logs.Infof("[Admin] Stopped")
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func recoverPanics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			defer func() {
				if r := recover(); r != nil {
					logs.Errorf("[Admin] PANIC: %v\n%s", r, debug.Stack())
					_ = c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
				}
			}()
			return next(c)
		}
	}
}

func requestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logs.Debugf("[Admin] %s %s - %d (%s)", c.Request().Method, c.Request().RequestURI, c.Response().Status, time.Since(start))
			return err
		}
	}
}

package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/recurring-orders/internal/checkout"
	"github.com/jmehdipour/recurring-orders/internal/config"
	"github.com/jmehdipour/recurring-orders/internal/http/middleware"
	"github.com/jmehdipour/recurring-orders/internal/metrics"
	"github.com/jmehdipour/recurring-orders/internal/repository"
	"github.com/jmehdipour/recurring-orders/internal/service/recurrences"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are built by the serve command; tests pass in-memory ones.
type Deps struct {
	Customers   repository.CustomersRepository
	Runs        repository.RunLogRepository
	Checkouts   *checkout.Registry
	Poller      *checkout.Poller
	Recurrences *recurrences.Service
	Redis       *redis.Client
	Log         *zap.Logger
}

type Server struct {
	e      *echo.Echo
	log    *zap.Logger
	poller *checkout.Poller

	// base outlives requests; settlement watches hang off it.
	base   context.Context
	cancel context.CancelFunc
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Server{log: d.Log, poller: d.Poller, base: base, cancel: cancel}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(d.Customers)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:cust:",
		Window:         time.Second,
		RetryAfterHint: true,
	})
	sessMW := middleware.SessionMiddleware()

	// routes
	v1 := e.Group("/v1", authMW, rlMW, sessMW)

	v1.GET("/cart", getCartHandler(d.Checkouts))
	v1.POST("/cart/items", addItemHandler(d.Checkouts))
	v1.PATCH("/cart/items/:id", updateItemHandler(d.Checkouts))
	v1.DELETE("/cart/items/:id", removeItemHandler(d.Checkouts))
	v1.DELETE("/cart/items", clearCartHandler(d.Checkouts))

	v1.POST("/checkout", checkoutHandler(d.Checkouts))
	v1.POST("/checkout/watch", s.watchHandler(d.Checkouts))
	v1.DELETE("/checkout/watch/:cart_id", s.unwatchHandler(d.Checkouts))

	v1.GET("/pending-payments", listPendingHandler(d.Checkouts))
	v1.DELETE("/pending-payments/:id", discardPendingHandler(d.Checkouts))

	v1.GET("/recurrences", listRecurrencesHandler(d.Recurrences))
	v1.POST("/recurrences", createRecurrenceHandler(d.Recurrences))
	v1.POST("/recurrences/:id/pause", pauseRecurrenceHandler(d.Recurrences))
	v1.POST("/recurrences/:id/resume", resumeRecurrenceHandler(d.Recurrences))
	v1.DELETE("/recurrences/:id", deleteRecurrenceHandler(d.Recurrences))

	v1.GET("/reports/runs", listRunsHandler(d.Runs))

	s.e = e
	return s
}

// ServeHTTP lets tests drive the router with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

// Shutdown stops accepting requests, then cancels settlement watches.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.e.Shutdown(ctx)
	s.cancel()
	if s.poller != nil {
		s.poller.Close()
	}
	return err
}

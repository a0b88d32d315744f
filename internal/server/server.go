package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	obsmetrics "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/metrics"
	obstracing "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/tracing"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/scheduler"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// NewEngine builds the shared gin engine with the ambient middleware
// chain; route owners register on top of it.
func NewEngine(log *zap.Logger, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// JobScheduler is the slice of the cron scheduler the ops endpoints use.
type JobScheduler interface {
	Status() []scheduler.JobStatus
	Trigger(ctx context.Context, name string) error
}

type Server struct {
	engine     *gin.Engine
	log        *zap.Logger
	webhookSvc paymentdomain.WebhookService
	scheduler  JobScheduler
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	WebhookSvc paymentdomain.WebhookService
	Scheduler  *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("server"),
		webhookSvc: p.WebhookSvc,
	}
	if p.Scheduler != nil {
		s.scheduler = p.Scheduler
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)

	ops := s.engine.Group("/ops")
	ops.GET("/jobs", s.HandleListJobs)
	ops.POST("/jobs/:name/trigger", s.HandleTriggerJob)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

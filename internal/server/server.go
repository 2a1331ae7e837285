package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/settlement/internal/audit/domain"
	"github.com/smallbiznis/settlement/internal/authorization"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/observability"
	obslogger "github.com/smallbiznis/settlement/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/settlement/internal/observability/metrics"
	obstracing "github.com/smallbiznis/settlement/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/settlement/internal/payout/domain"
	revenuedomain "github.com/smallbiznis/settlement/internal/revenue/domain"
	"github.com/smallbiznis/settlement/internal/scheduler"
	"github.com/smallbiznis/settlement/internal/statement"
	vendordomain "github.com/smallbiznis/settlement/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(HTTPMetrics(obsmetrics.Settlement()))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type sweeper interface {
	RunOnce(ctx context.Context) (scheduler.RunSummary, error)
}

type statementGenerator interface {
	Generate(ctx context.Context, batchID string) (statement.Document, error)
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	authzSvc     authorization.Service
	auditSvc     auditdomain.Service
	revenueSvc   revenuedomain.Service
	vendorSvc    vendordomain.Service
	manualSvc    payoutdomain.ManualService
	lifecycleSvc payoutdomain.LifecycleService
	statementSvc statementGenerator
	sweeper      sweeper
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Log          *zap.Logger
	AuthzSvc     authorization.Service
	AuditSvc     auditdomain.Service
	RevenueSvc   revenuedomain.Service
	VendorSvc    vendordomain.Service
	ManualSvc    payoutdomain.ManualService
	LifecycleSvc payoutdomain.LifecycleService
	StatementSvc *statement.Service   `optional:"true"`
	Scheduler    *scheduler.Scheduler `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		log:          p.Log.Named("http.server"),
		authzSvc:     p.AuthzSvc,
		auditSvc:     p.AuditSvc,
		revenueSvc:   p.RevenueSvc,
		vendorSvc:    p.VendorSvc,
		manualSvc:    p.ManualSvc,
		lifecycleSvc: p.LifecycleSvc,
	}
	if p.StatementSvc != nil {
		svc.statementSvc = p.StatementSvc
	}
	if p.Scheduler != nil {
		svc.sweeper = p.Scheduler
	}

	svc.registerInternalRoutes()
	svc.registerAdminRoutes()
	svc.registerVendorRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerInternalRoutes serves the booking and profile services upstream of settlement.
func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")
	internal.Use(ActorFromHeaders(), RequireActorType(authorization.ActorTypeSystem))

	internal.POST("/revenue-events", s.authorize(authorization.ObjectRevenue, authorization.ActionRevenueIngest), s.RecordRevenueEvent)
	internal.POST("/revenue-events/:ref/refund", s.authorize(authorization.ObjectRevenue, authorization.ActionRevenueRefund), s.RefundRevenueEvent)

	internal.PUT("/vendors/:id", s.authorize(authorization.ObjectVendor, authorization.ActionVendorSync), s.UpsertVendor)
	internal.PUT("/cabins/:id", s.authorize(authorization.ObjectCabin, authorization.ActionCabinSync), s.UpsertCabin)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(ActorFromHeaders(), RequireActorType(authorization.ActorTypeAdmin))

	// -------- Payouts --------
	admin.GET("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.ListPayouts)
	admin.GET("/payouts/:id", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.GetPayout)
	admin.POST("/payouts/:id/transition", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutTransition), s.TransitionPayout)
	admin.POST("/payouts/:id/reconcile", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutReconcile), s.ReconcilePayout)
	admin.GET("/payouts/:id/statement.pdf", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutStatement), s.DownloadPayoutStatement)

	// -------- Settlement --------
	admin.POST("/settlements/sweep", s.authorize(authorization.ObjectSettlement, authorization.ActionSettlementSweep), s.RunSettlementSweep)

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerVendorRoutes() {
	vendor := s.engine.Group("/vendor")
	vendor.Use(ActorFromHeaders(), RequireActorType(authorization.ActorTypeVendor))

	vendor.GET("/payouts/balance", s.authorize(authorization.ObjectBalance, authorization.ActionBalanceView), s.GetVendorBalance)
	vendor.POST("/payouts/preview", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutPreview), s.PreviewVendorPayout)
	vendor.POST("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutRequest), s.RequestVendorPayout)
	vendor.GET("/payouts", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutView), s.ListVendorPayouts)
	vendor.GET("/payouts/:id/statement.pdf", s.authorize(authorization.ObjectPayout, authorization.ActionPayoutStatement), s.DownloadVendorPayoutStatement)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

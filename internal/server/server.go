package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/pawtrack/internal/auth"
	"github.com/smallbiznis/pawtrack/internal/authorization"
	"github.com/smallbiznis/pawtrack/internal/clock"
	"github.com/smallbiznis/pawtrack/internal/config"
	"github.com/smallbiznis/pawtrack/internal/entitlement"
	"github.com/smallbiznis/pawtrack/internal/healthlog"
	healthlogdomain "github.com/smallbiznis/pawtrack/internal/healthlog/domain"
	healthlogservice "github.com/smallbiznis/pawtrack/internal/healthlog/service"
	"github.com/smallbiznis/pawtrack/internal/ledger"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/internal/metering"
	"github.com/smallbiznis/pawtrack/internal/observability"
	obsmiddleware "github.com/smallbiznis/pawtrack/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pawtrack/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pawtrack/internal/observability/tracing"
	"github.com/smallbiznis/pawtrack/internal/pet"
	petdomain "github.com/smallbiznis/pawtrack/internal/pet/domain"
	"github.com/smallbiznis/pawtrack/internal/ratelimit"
	"github.com/smallbiznis/pawtrack/internal/tokenaccount"
	tokenaccountdomain "github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	auth.Module,
	authorization.Module,
	entitlement.Module,
	tokenaccount.Module,
	ledger.Module,
	ratelimit.Module,
	metering.Module,
	pet.Module,
	healthlog.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		ContextKeys:     []string{contextLedgerKey},
		QuietRoutes:     []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
		SkipRoutes:      []string{"/health", "/metrics"},
	}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	clock      clock.Clock
	tokens     *auth.Manager
	authzSvc   authorization.Service
	petSvc     petdomain.Service
	recordSvc  *healthlogservice.Service
	meter      *metering.Engine
	balanceSvc tokenaccountdomain.Service
	ledgerSvc  ledgerdomain.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock `optional:"true"`
	Tokens     *auth.Manager
	AuthzSvc   authorization.Service
	PetSvc     petdomain.Service
	RecordSvc  *healthlogservice.Service
	Meter      *metering.Engine
	BalanceSvc tokenaccountdomain.Service
	LedgerSvc  ledgerdomain.Service
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		clock:      clk,
		tokens:     p.Tokens,
		authzSvc:   p.AuthzSvc,
		petSvc:     p.PetSvc,
		recordSvc:  p.RecordSvc,
		meter:      p.Meter,
		balanceSvc: p.BalanceSvc,
		ledgerSvc:  p.LedgerSvc,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Pets --------
	api.POST("/pets", s.authorize(authorization.ObjectPet, authorization.ActionCreate), s.CreatePet)
	api.GET("/pets", s.authorize(authorization.ObjectPet, authorization.ActionView), s.ListPets)
	api.GET("/pets/:petID", s.authorize(authorization.ObjectPet, authorization.ActionView), s.GetPet)

	// -------- Health records --------
	registerRecordRoutes[healthlogdomain.Feeding](s, api)
	registerRecordRoutes[healthlogdomain.PainScore](s, api)
	registerRecordRoutes[healthlogdomain.Water](s, api)
	registerRecordRoutes[healthlogdomain.Medication](s, api)
	registerRecordRoutes[healthlogdomain.Seizure](s, api)
	registerRecordRoutes[healthlogdomain.VitalSign](s, api)
	registerRecordRoutes[healthlogdomain.Movement](s, api)
	registerRecordRoutes[healthlogdomain.Walk](s, api)

	// -------- Tokens --------
	api.GET("/me/tokens", s.authorize(authorization.ObjectTokens, authorization.ActionView), s.GetMyTokens)
	api.GET("/me/ledger", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.ListMyLedger)
	api.GET("/me/ledger/statement", s.authorize(authorization.ObjectLedger, authorization.ActionView), s.DownloadMyStatement)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AuthRequired())

	admin.POST("/users/:userID/tokens", s.authorize(authorization.ObjectUserTokens, authorization.ActionGrant), s.GrantTokens)
	admin.GET("/users/:userID/tokens", s.authorize(authorization.ObjectUserTokens, authorization.ActionView), s.GetUserTokens)
	admin.GET("/users/:userID/ledger", s.authorize(authorization.ObjectUserLedger, authorization.ActionView), s.ListUserLedger)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

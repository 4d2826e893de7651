package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/api"
	"github.com/customeros/mailsync/api/handlers"
	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/connectivity"
	"github.com/customeros/mailsync/internal/cron"
	"github.com/customeros/mailsync/internal/listeners"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services"
	"github.com/customeros/mailsync/services/events"
)

type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Server, error) {
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, log)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize jaeger tracer")
	}
	opentracing.SetGlobalTracer(tracer)

	svcs, err := services.InitServices(cfg, log, repos, nil)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          log,
		router:       router,
		services:     svcs,
		repositories: repos,
		tracerCloser: closer,
		cronManager:  cron.NewCronManager(nil, log, nil, repos, svcs.SyncService, svcs.Connectivity),
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

func (s *Server) Initialize(ctx context.Context) error {
	apiHandlers := handlers.InitHandlers(
		s.repositories,
		s.services.Credentials,
		s.services.SyncService,
		s.services.Queue,
		s.services.Connectivity,
		s.log,
	)
	api.RegisterRoutes(s.router, apiHandlers, s.config.AppConfig.APIKey)

	if subscriber := s.services.EventsService.Subscriber; subscriber != nil {
		subscriber.RegisterListener(listeners.NewOperationRequestedListener(s.log, s.services.Queue, s.services.Connectivity))
		if err := subscriber.ListenQueue(events.QueueOperations); err != nil {
			return errors.Wrap(err, "listening for operation requests")
		}
	}

	return nil
}

// resumeAccounts starts a sync task for every enabled account.
func (s *Server) resumeAccounts(ctx context.Context) {
	accounts, err := s.repositories.AccountRepository.ListSyncEnabled(ctx)
	if err != nil {
		s.log.Errorf("Failed to list accounts to sync: %v", err)
		return
	}
	for _, account := range accounts {
		if err := s.services.SyncService.StartSync(ctx, account.ID); err != nil {
			s.log.Warnf("[%s] Sync did not start: %v", account.ID, err)
		}
	}
	s.log.Infof("Started sync for %d accounts", len(accounts))
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	s.services.Connectivity.Start(ctx)
	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		connectivity.Forward(ctx, s.services.Connectivity, s.services.SyncService)
	}()

	s.resumeAccounts(ctx)

	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = "local"
	}
	if err := s.cronManager.Start(podName, os.Getenv("POD_NAMESPACE")); err != nil {
		s.log.Errorf("Cron manager did not start: %v", err)
	}

	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP server error: %v", err)
		}
	}()
	s.log.Info("mailsync is running")

	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	defer tracing.RecoverAndLogToJaeger(s.log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	s.log.Info("Shutting down...")

	timeout := s.config.AppConfig.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("HTTP server shutdown error: %v", err)
	}

	s.bounded("cron manager", timeout, s.cronManager.Stop)
	s.bounded("sync tasks", timeout, s.services.SyncService.StopAll)
	s.bounded("connectivity monitor", timeout, s.services.Connectivity.Stop)
	cancel()

	if err := s.services.EventsService.Close(); err != nil {
		s.log.Errorf("Events service shutdown error: %v", err)
	}
	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}

	s.log.Info("Shutdown complete")
	return nil
}

func (s *Server) bounded(name string, timeout time.Duration, fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer tracing.RecoverAndLogToJaeger(s.log)
		fn()
	}()

	select {
	case <-done:
		s.log.Infof("Stopped %s", name)
	case <-time.After(timeout):
		s.log.Warnf("Stopping %s timed out after %s", name, timeout)
	}
}

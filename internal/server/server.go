package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"settlement-service/internal/config"
	"settlement-service/internal/domain"
	"settlement-service/internal/handler"
	"settlement-service/internal/ledger"
	authmw "settlement-service/internal/middleware"
	"settlement-service/internal/provider"
	"settlement-service/internal/provider/chainworker"
	"settlement-service/internal/provider/simulated"
	"settlement-service/internal/pub"
	"settlement-service/internal/queue"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/repository/postgres"
	"settlement-service/internal/router"
	"settlement-service/internal/service"
	"settlement-service/internal/usecase"
	"settlement-service/internal/worker"
	"settlement-service/pkg/cache"
	"settlement-service/pkg/utils"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// eventBus is what both the Redis publisher and the local broker offer.
type eventBus interface {
	usecase.EventPublisher
	handler.IntentEventSubscriber
}

// Server owns every long-lived component of the settlement service.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pool  *pgxpool.Pool
	rdb   redis.UniversalClient
	queue queue.Queue

	httpSrv    *http.Server
	grpcSrv    *grpc.Server
	health     *healthReporter
	dispatcher *worker.Dispatcher
	monitor    *worker.StuckIntentMonitor
	seeder     *service.SystemSeeder

	closeOnce sync.Once
}

// New connects the backing stores and wires usecases, workers and
// transports. Nothing is served until Run.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	// --- Store ---
	var store repository.Store
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := config.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		s.pool = pool
		store = postgres.NewStore(pool)
	default:
		logger.Warn("using in-memory store, state is lost on restart")
		store = memory.NewStore()
	}

	// --- Redis: intent cache and event fan-out ---
	var bus eventBus = pub.NewLocalBroker()
	var intentCache usecase.IntentCache
	if cfg.Redis.Enabled {
		s.rdb = cache.NewClient(cfg.Redis.Addrs, cfg.Redis.Password, cfg.Redis.UseCluster)
		c := cache.New(s.rdb)
		if err := c.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		bus = pub.NewIntentEventPublisher(s.rdb, logger)
		intentCache = cache.NewIntentCache(c, cfg.Redis.CacheTTL)
	} else {
		logger.Warn("redis disabled, intent events stay in process and reads are uncached")
	}

	// --- Execution queue ---
	switch cfg.Worker.QueueDriver {
	case config.DriverKafka:
		s.queue = queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.ExecutionTopic,
			GroupID:     cfg.Kafka.GroupID,
			Concurrency: cfg.Worker.Concurrency,
		}, logger)
	default:
		logger.Warn("using in-memory execution queue, pending jobs are lost on restart")
		s.queue = queue.NewMemoryQueue(cfg.Worker.QueueBuffer, cfg.Worker.Concurrency, logger)
	}

	// --- Settlement worker ---
	var settlementWorker provider.SettlementWorker
	switch cfg.SettlementWorker.Kind {
	case config.WorkerSimulated:
		settlementWorker = simulated.NewWorker(logger)
	default:
		settlementWorker = chainworker.NewClient(chainworker.Config{
			BaseURL:   cfg.SettlementWorker.BaseURL,
			APIKey:    cfg.SettlementWorker.APIKey,
			APISecret: cfg.SettlementWorker.APISecret,
			Timeout:   cfg.SettlementWorker.Timeout,
		}, logger)
	}
	logger.Info("settlement worker selected", zap.String("worker", settlementWorker.Name()))

	registry, err := domain.NewServiceWalletRegistry(cfg.ServiceWallets.Addresses)
	if err != nil {
		s.Close()
		return nil, err
	}

	// --- Usecases ---
	ids := utils.NewIDGenerator()
	l := ledger.New(store, ids, logger)

	intentUC := usecase.NewIntentUsecase(store, l, s.queue, registry, ids, bus, intentCache, logger)
	executionUC := usecase.NewExecutionUsecase(store, l, settlementWorker, bus, intentCache, usecase.ExecutionConfig{
		Lease:           cfg.Worker.Lease,
		TransferTimeout: cfg.SettlementWorker.Timeout,
	}, logger)
	adminUC := usecase.NewAdminUsecase(store, l, bus, intentCache, cfg.Worker.Lease, logger)
	walletUC := usecase.NewWalletUsecase(store, l, logger)

	s.seeder = service.NewSystemSeeder(l, registry, cfg.ServiceWallets.Currency, logger)

	// --- Workers ---
	s.dispatcher = worker.NewDispatcher(s.queue, executionUC, cfg.Worker.Backoff, logger)
	s.monitor = worker.NewStuckIntentMonitor(executionUC, s.queue, cfg.Worker.MonitorInterval, cfg.Worker.MonitorBatch, logger)

	// --- HTTP ---
	auth := authmw.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	routes := router.SetupRoutes(router.Handlers{
		Payments: handler.NewPaymentHandler(intentUC, logger),
		Admin:    handler.NewAdminHandler(adminUC, logger),
		Wallets:  handler.NewWalletHandler(walletUC, logger),
		Streams:  handler.NewIntentStreamHandler(intentUC, bus, logger),
	}, auth, func(r *http.Request) error { return s.checkHealth(r.Context()) }, logger)

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           routes,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC (health + reflection) ---
	s.grpcSrv, s.health = newGRPCServer(s.checkHealth, logger)

	return s, nil
}

// checkHealth pings the external dependencies in use.
func (s *Server) checkHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run seeds service wallets, then serves HTTP and gRPC and runs the
// workers until ctx is cancelled or one of them fails. It shuts
// everything down before returning.
func (s *Server) Run(ctx context.Context) error {
	if err := s.seeder.SeedSystem(ctx); err != nil {
		return fmt.Errorf("seed system: %w", err)
	}

	lis, err := net.Listen("tcp", s.cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.GRPCAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Server.HTTPAddr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Info("grpc server listening", zap.String("addr", s.cfg.Server.GRPCAddr))
		if err := s.grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.dispatcher.Start(runCtx); err != nil {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.monitor.Start(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.health.Watch(runCtx, 10*time.Second)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case runErr = <-errCh:
		s.logger.Error("component failed, shutting down", zap.Error(runErr))
	}

	s.shutdown(cancel)
	wg.Wait()
	s.Close()
	return runErr
}

func (s *Server) shutdown(stopWorkers context.CancelFunc) {
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http server forced to shutdown", zap.Error(err))
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}

	stopWorkers()
}

// Close releases the connections opened by New. It is safe to call more
// than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.queue != nil {
			if err := s.queue.Close(); err != nil {
				s.logger.Warn("failed to close queue", zap.Error(err))
			}
		}
		if s.rdb != nil {
			if err := s.rdb.Close(); err != nil {
				s.logger.Warn("failed to close redis", zap.Error(err))
			}
		}
		if s.pool != nil {
			s.pool.Close()
		}
	})
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/careloop/assessflow/internal/config"
	"github.com/careloop/assessflow/internal/graph"
	"github.com/careloop/assessflow/internal/handler"
	"github.com/careloop/assessflow/internal/interpreter"
	"github.com/careloop/assessflow/internal/repository/postgres"
	"github.com/careloop/assessflow/internal/service"
	"github.com/careloop/assessflow/pkg/database"
	"github.com/careloop/assessflow/pkg/logger"
	"github.com/careloop/assessflow/pkg/metrics"
	"github.com/careloop/assessflow/pkg/tracer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		zlog.Fatal("initializing tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			zlog.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		zlog.Fatal("connecting to database", zap.Error(err))
	}
	if err := database.Migrate(db, zlog); err != nil {
		zlog.Fatal("migrating database", zap.Error(err))
	}

	flow, err := loadFlow(cfg.Assessment.FlowPath)
	if err != nil {
		zlog.Fatal("loading assessment flow", zap.Error(err))
	}
	zlog.Info("assessment flow loaded",
		zap.Int("version", flow.Version),
		zap.Int("total_questions", flow.TotalQuestions()),
	)

	collector := metrics.NewCollector("assessflow")
	if sqlDB, err := db.DB(); err == nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					collector.DBConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}()
	}

	interp := interpreter.New(
		interpreter.NewOpenAIClient(cfg.LLM),
		interpreter.Config{
			ThresholdLow:  cfg.Assessment.ConfidenceThresholdLow,
			ThresholdHigh: cfg.Assessment.ConfidenceThresholdHigh,
			Timeout:       cfg.LLM.Timeout,
		},
		zlog,
	)

	store := postgres.NewStore(db)
	aggregator := service.NewAggregator(flow, zlog)
	engine := service.NewEngine(store, flow, interp, aggregator, cfg.Assessment, collector, zlog)

	router := handler.NewRouter(cfg, engine, flow, collector, zlog)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	zlog.Info("server starting",
		zap.String("address", srv.Addr),
		zap.String("environment", cfg.App.Environment),
	)
	if err := runServer(ctx, srv, cfg, zlog); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
	zlog.Info("server stopped")
}

func loadFlow(path string) (*graph.Flow, error) {
	if path != "" {
		return graph.LoadFile(path)
	}
	return graph.LoadDefault()
}

func runServer(ctx context.Context, srv *http.Server, cfg *config.Config, zlog *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		zlog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/mvpay/bml-connect/internal/api"
	"github.com/mvpay/bml-connect/internal/bml"
	appconfig "github.com/mvpay/bml-connect/internal/config"
	"github.com/mvpay/bml-connect/internal/events"
	"github.com/mvpay/bml-connect/internal/gateway"
	"github.com/mvpay/bml-connect/internal/reconcile"
	"github.com/mvpay/bml-connect/internal/secrets"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
	"github.com/mvpay/bml-connect/internal/telemetry"
)

func newLogger(cfg appconfig.Config) *log.Logger {
	prefix := ""
	if cfg.ServiceName != "" {
		prefix = fmt.Sprintf("[%s] ", cfg.ServiceName)
	}
	logger := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(os.Stdout)
	log.SetFlags(logger.Flags())
	log.SetPrefix(prefix)
	return logger
}

func newSQLDB(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) (*sql.DB, error) {
	logger.Printf("Connecting to PostgreSQL database %s@%s:%d", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)
	db, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newStores(db *sql.DB, logger *log.Logger) (*postgres.TransactionStore, *postgres.OrderStore, error) {
	txns := postgres.NewTransactionStore(db)
	orderStore := postgres.NewOrderStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := txns.InitSchema(ctx); err != nil {
		return nil, nil, err
	}
	if err := orderStore.InitSchema(ctx); err != nil {
		return nil, nil, err
	}
	logger.Printf("[DB] schema ready")
	return txns, orderStore, nil
}

func newProducer(lc fx.Lifecycle, cfg appconfig.Config) *events.Producer {
	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PaymentsTopic)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return producer.Close()
		},
	})
	return producer
}

func newBMLClient(cfg appconfig.Config, logger *log.Logger) *bml.Client {
	return bml.NewClient(bml.Config{
		MerchantID: cfg.Gateway.MerchantID,
		APIKey:     cfg.Gateway.APIKey,
		TestMode:   cfg.Gateway.TestMode,
	}, logger)
}

func newEngine(orderStore *postgres.OrderStore, txns *postgres.TransactionStore, client *bml.Client, producer *events.Producer, logger *log.Logger) *reconcile.Engine {
	return reconcile.NewEngine(orderStore, txns, client, producer, logger)
}

func newGateway(cfg appconfig.Config, client *bml.Client, txns *postgres.TransactionStore, orderStore *postgres.OrderStore, logger *log.Logger) *gateway.Gateway {
	return gateway.New(cfg.Gateway, client, txns, orderStore, logger)
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) {
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, cfg.ServiceName)
			if err != nil {
				// Tracing is best-effort; the gateway must run without a collector.
				logger.Printf("telemetry init failed: %v", err)
				return nil
			}
			logger.Printf("OpenTelemetry initialized for service: %s", cfg.ServiceName)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown != nil {
				return shutdown(ctx)
			}
			return nil
		},
	})
}

func registerHTTPServer(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, shutdowner fx.Shutdowner,
	gw *gateway.Gateway, client *bml.Client, engine *reconcile.Engine,
	txns *postgres.TransactionStore, orderStore *postgres.OrderStore) {

	srv := api.NewServer(cfg, api.Deps{
		Gateway:  gw,
		Verifier: client,
		Engine:   engine,
		Txns:     txns,
		Orders:   orderStore,
		Logger:   logger,
	})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Printf("HTTP server listening on %s", cfg.HTTP.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("HTTP server error: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

func registerSweeper(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, engine *reconcile.Engine) {
	sweeper := reconcile.NewSweeper(engine, cfg.Sweep.Interval, cfg.Sweep.Staleness, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sweeper.Run(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func main() {
	_ = godotenv.Load()

	if err := secrets.Bootstrap(context.Background()); err != nil {
		log.Fatalf("secrets bootstrap failed: %v", err)
	}

	app := fx.New(
		fx.Provide(
			appconfig.Load,
			newLogger,
			newSQLDB,
			newStores,
			newProducer,
			newBMLClient,
			newEngine,
			newGateway,
		),
		fx.Invoke(
			func(logger *log.Logger, cfg appconfig.Config) {
				mode := "live"
				if cfg.Gateway.TestMode {
					mode = "test"
				}
				logger.Printf("Starting %s (%s mode)...", cfg.ServiceName, mode)
			},
			setupTelemetry,
			registerHTTPServer,
			registerSweeper,
		),
	)

	app.Run()
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"newsletter/internal/email"
	"newsletter/internal/outbox"
	"newsletter/internal/platform/config"
	"newsletter/internal/platform/database"
	"newsletter/internal/platform/httpserver"
	"newsletter/internal/platform/lock"
	"newsletter/internal/platform/logger"
	"newsletter/internal/platform/metrics"
	"newsletter/internal/platform/redis"
	subscriptionhandler "newsletter/internal/subscription/handler"
	subscriptionservice "newsletter/internal/subscription/service"
	subscriptionstore "newsletter/internal/subscription/store"
	httptransport "newsletter/internal/transport/http"
	"newsletter/migrations"
)

const relayLockKey = "newsletter:outbox-relay"

// main wires high-level dependencies, exposes the HTTP router and runs the
// outbox relay. Business logic lives in internal services packages.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults to $APP_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("newsletter exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}

// storage bundles the persistence adapters chosen by the database driver.
type storage struct {
	db          *sql.DB
	subscribers subscriptionservice.Store
	tx          subscriptionservice.StoreTx
	outbox      *outboxAdapters
}

type outboxAdapters struct {
	writer subscriptionservice.EventRecorder
	reader outbox.Store
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Log)
	slog.SetDefault(log)
	m := metrics.New()

	store, err := openStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if store.db != nil {
		defer store.db.Close()
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sender, err := email.New(ctx, cfg.Email, log)
	if err != nil {
		return err
	}

	serviceOpts := []subscriptionservice.Option{
		subscriptionservice.WithLogger(log),
		subscriptionservice.WithMetrics(m),
	}
	if cfg.Outbox.Enabled {
		serviceOpts = append(serviceOpts, subscriptionservice.WithEvents(store.outbox.writer))
	}
	service := subscriptionservice.New(store.subscribers, store.tx, sender, cfg.Application.BaseURL, serviceOpts...)

	handler := subscriptionhandler.New(service, log, m,
		subscriptionhandler.WithRequestTimeout(cfg.Application.RequestTimeout))
	router := httptransport.NewRouter(log, prometheus.DefaultGatherer, handler)
	srv := httpserver.New(cfg.Application, router)

	var relay *outbox.Relay
	if cfg.Outbox.Enabled {
		publisher, closePublisher, err := newPublisher(ctx, cfg.Outbox.Kafka, log)
		if err != nil {
			return err
		}
		defer closePublisher()

		var rc *goredis.Client
		if redisClient != nil {
			rc = redisClient.Client
		}
		relay = outbox.NewRelay(store.outbox.reader, publisher,
			lock.New(rc, store.db, relayLockKey, cfg.Outbox.LockTTL),
			outbox.WithInterval(cfg.Outbox.Interval),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithLogger(log),
			outbox.WithMetrics(m),
		)
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, ln, cfg.Application.ShutdownTimeout, log)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	log.Info("newsletter started",
		"addr", srv.Addr,
		"database_driver", cfg.Database.Driver,
		"email_provider", cfg.Email.Provider,
		"outbox_enabled", cfg.Outbox.Enabled,
	)
	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*storage, error) {
	if cfg.Driver == config.DriverMemory {
		subscribers := subscriptionstore.NewMemory()
		events := outbox.NewMemory()
		return &storage{
			subscribers: subscribers,
			tx:          subscriptionstore.NewMemoryTx(subscribers, events),
			outbox:      &outboxAdapters{writer: events, reader: events},
		}, nil
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx, db, migrations.Files, log); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	events := outbox.NewPostgres(db)
	return &storage{
		db:          db,
		subscribers: subscriptionstore.NewPostgres(db),
		tx:          subscriptionstore.NewPostgresTx(db),
		outbox:      &outboxAdapters{writer: events, reader: events},
	}, nil
}

func newPublisher(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger) (outbox.Publisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		return outbox.NewLogPublisher(log), func() {}, nil
	}
	publisher, err := outbox.NewKafkaPublisher(ctx, cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, nil, err
	}
	return publisher, publisher.Close, nil
}

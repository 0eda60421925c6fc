package main

import (
	"reslock/internal/locks/events"
	"reslock/internal/locks/handler"
	"reslock/internal/locks/repository"
	"reslock/internal/locks/service"
	"reslock/internal/locks/sweeper"
	"reslock/internal/locks/validator"
	"reslock/pkg/app"
	"reslock/pkg/config"
	"reslock/pkg/contracts"
	"reslock/pkg/kafka"
	kafka_config "reslock/pkg/kafka/config"
	kafka_middleware "reslock/pkg/kafka/middleware"

	"github.com/benbjohnson/clock"
)

const ServiceName = "locks"

func main() {
	// Load validates and logs the configuration, exiting on error.
	cfg := config.Load(ServiceName)

	cfg.Log.Info("Starting Locks service")
	defer cfg.GracefulShutdown()

	repo := initRepository(cfg)
	cfg.SetRedis()

	publisher, publishWorker, closePublisher := initPublisher(cfg)
	defer closePublisher()

	clk := clock.New()
	manager := service.NewLockManager(repo, clk, cfg, service.WithPublisher(publisher))
	lockSweeper := sweeper.New(manager, clk, cfg.SweepInterval, cfg.SweepBatchSize, cfg.Log.With("component", "sweeper"))
	lockValidator := validator.NewLockValidator(cfg.Log)

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(
		handler.NewLockHandler(manager, lockValidator, cfg.Log),
		handler.NewHealthHandler(repo, lockSweeper, cfg.Log),
		func(holderID string) error { return lockValidator.ValidateIdentifier("holder_id", holderID) },
	)
	// Stopped in order: the sweeper first, then the publisher drains what is left.
	serverApp.AddWorker(lockSweeper)
	if publishWorker != nil {
		serverApp.AddWorker(publishWorker)
	}
	serverApp.Run()
}

func initRepository(cfg *config.Config) repository.LockRepository {
	switch cfg.LockStore {
	case config.StoreMongo:
		cfg.SetMongo()
		cfg.Log.Info("Lock store initialized", "store", cfg.LockStore, "database", cfg.MongoDatabaseName)
		return repository.NewMongoLockRepository(cfg)
	case config.StorePostgres:
		cfg.SetPostgres()
		cfg.Log.Info("Lock store initialized", "store", cfg.LockStore)
		return repository.NewPostgresLockRepository(cfg.Client.Postgres)
	default:
		cfg.Log.Warn("Using in-memory lock store; holds do not survive a restart or span replicas")
		return repository.NewMemoryLockRepository()
	}
}

func initPublisher(cfg *config.Config) (events.Publisher, contracts.Worker, func()) {
	if !cfg.KafkaEnabled {
		cfg.Log.Info("Lock events disabled")
		return events.NoopPublisher{}, nil, func() {}
	}

	kafkaCfg, err := kafka_config.Load(cfg.KafkaBrokers)
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log.Info)

	producer, err := kafka.NewProducer(kafkaCfg, cfg.LockEventsTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	}

	publisher := events.NewAsyncPublisher(
		events.NewKafkaPublisher(producer, cfg.Log),
		cfg.EventQueueSize,
		cfg.Log.With("component", "event-publisher"),
		events.WithEventTimeout(cfg.EventPublishTimeout),
	)
	cfg.Log.Info("Lock events enabled", "topic", cfg.LockEventsTopic)
	return publisher, publisher, func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka producer", "error", err)
		}
	}
}

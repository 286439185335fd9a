package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/voice-campaign-dispatcher/internal/config"
	"github.com/acme/voice-campaign-dispatcher/internal/dispatch"
	"github.com/acme/voice-campaign-dispatcher/internal/infra/db"
	"github.com/acme/voice-campaign-dispatcher/internal/infra/redis"
	"github.com/acme/voice-campaign-dispatcher/internal/ledger"
	"github.com/acme/voice-campaign-dispatcher/internal/queue"
	"github.com/acme/voice-campaign-dispatcher/internal/repository"
	pgrepo "github.com/acme/voice-campaign-dispatcher/internal/repository/postgres"
	scyllarepo "github.com/acme/voice-campaign-dispatcher/internal/repository/scylla"
	"github.com/acme/voice-campaign-dispatcher/internal/retry"
	campaignsvc "github.com/acme/voice-campaign-dispatcher/internal/service/campaign"
	"github.com/acme/voice-campaign-dispatcher/internal/statussync"
	"github.com/acme/voice-campaign-dispatcher/internal/telephony"
	telephonymock "github.com/acme/voice-campaign-dispatcher/internal/telephony/mock"
	"github.com/acme/voice-campaign-dispatcher/internal/throttle"
	"github.com/acme/voice-campaign-dispatcher/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publishers   *publishers
		dispatch     *dispatchComponents
		sync         *syncComponents
		providers    *providers
	}
}

type repositories struct {
	Campaign       repository.CampaignRepository
	CallingWindows repository.CallingWindowRepository
	Queue          repository.QueueRepository
	Leads          repository.LeadRepository
	Clients        repository.ClientRepository
	Agents         repository.AgentRepository
	Stats          repository.CampaignStatisticsRepository
	CallStore      repository.CallStore
}

type services struct {
	Campaign *campaignsvc.Service
}

type publishers struct {
	Status     *queue.StatusPublisher
	DeadLetter *queue.DeadLetterPublisher
}

type dispatchComponents struct {
	Admission  *dispatch.AdmissionController
	Dispatcher *dispatch.Dispatcher
	Processor  *dispatch.Processor
	Retries    *retry.Scheduler
	Throttle   *throttle.Limiter
	Credits    ledger.CreditLedger
}

type syncComponents struct {
	Synchronizer *statussync.Synchronizer
}

type providers struct {
	Telephony telephony.Provider
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	return &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		cfg := c.Config

		repos := &repositories{
			Campaign:       pgrepo.NewCampaignRepository(c.Postgres.DB()),
			CallingWindows: pgrepo.NewCallingWindowRepository(c.Postgres.DB()),
			Queue:          pgrepo.NewQueueRepository(c.Postgres.DB()),
			Leads:          pgrepo.NewLeadRepository(c.Postgres.DB()),
			Clients:        pgrepo.NewClientRepository(c.Postgres.DB()),
			Agents:         pgrepo.NewAgentRepository(c.Postgres.DB()),
			Stats:          pgrepo.NewCampaignStatisticsRepository(c.Postgres.DB()),
			CallStore:      scyllarepo.NewCallStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Status:     queue.NewStatusPublisher(c.Kafka, cfg.Kafka.StatusTopic),
			DeadLetter: queue.NewDeadLetterPublisher(c.Kafka, cfg.Kafka.DeadLetterTopic),
		}

		svcs := &services{
			Campaign: campaignsvc.NewService(
				repos.Campaign,
				repos.CallingWindows,
				repos.Queue,
				repos.Leads,
				repos.Stats,
				cfg.Dispatch.DefaultConcurrency,
			),
		}

		prov := &providers{
			Telephony: telephonymock.NewProvider(),
		}

		retries := retry.NewScheduler(repos.Queue, repos.Leads, repos.Stats, c.Logger.Named("retry"))
		credits := ledger.NewRedisLedger(c.Redis.Inner(), cfg.Ledger.KeyPrefix)
		placementThrottle := throttle.NewLimiter(c.Redis.Inner(), cfg.Throttle.GlobalConcurrency, cfg.Throttle.SlotTTL)

		admission := dispatch.NewAdmissionController(repos.Queue, cfg.Dispatch.DefaultConcurrency)
		dispatcher := dispatch.NewDispatcher(
			repos.Queue,
			repos.Leads,
			repos.Clients,
			repos.Agents,
			repos.CallStore,
			repos.Stats,
			credits,
			prov.Telephony,
			placementThrottle,
			retries,
			c.Logger.Named("dispatcher"),
		)
		processor := dispatch.NewProcessor(
			repos.Campaign,
			repos.CallingWindows,
			admission,
			dispatcher,
			cfg.Dispatch.CampaignFetchLimit,
			c.Logger.Named("dispatch"),
		)

		synchronizer := statussync.NewSynchronizer(
			prov.Telephony,
			repos.CallStore,
			repos.Queue,
			repos.Campaign,
			repos.Leads,
			repos.Stats,
			retries,
			cfg.Sync.ConnectedThreshold,
			c.Logger.Named("sync"),
		)

		c.components.repositories = repos
		c.components.services = svcs
		c.components.publishers = pubs
		c.components.providers = prov
		c.components.dispatch = &dispatchComponents{
			Admission:  admission,
			Dispatcher: dispatcher,
			Processor:  processor,
			Retries:    retries,
			Throttle:   placementThrottle,
			Credits:    credits,
		}
		c.components.sync = &syncComponents{Synchronizer: synchronizer}
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Dispatch exposes dispatch-side components.
func (c *Container) Dispatch() *dispatchComponents {
	c.initComponents()
	return c.components.dispatch
}

// Sync exposes the status synchronizer.
func (c *Container) Sync() *syncComponents {
	c.initComponents()
	return c.components.sync
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// EnsureTopics ensures the status and dead-letter topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.StatusTopic}
	if err := c.Kafka.EnsureTopics(ctx, topics, 12, 1); err != nil {
		return err
	}
	if c.Config.Kafka.DeadLetterTopic != "" {
		if err := c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.DeadLetterTopic}, 3, 1); err != nil {
			return err
		}
	}
	return nil
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if err := p.Status.Close(); err != nil {
			errs = append(errs, fmt.Errorf("status publisher close: %w", err))
		}
		if err := p.DeadLetter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dead letter publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

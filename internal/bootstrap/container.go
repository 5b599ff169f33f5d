package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"trip-planner-be/internal/config"
	"trip-planner-be/internal/controller"
	"trip-planner-be/internal/pkg/logger"
	"trip-planner-be/internal/pkg/metrics"
	"trip-planner-be/internal/repository/memory"
	"trip-planner-be/internal/repository/unitofwork"
	"trip-planner-be/internal/service"
	"trip-planner-be/internal/websocket"
	"trip-planner-be/pkg/ai/pipeline"
	"trip-planner-be/pkg/events"
	"trip-planner-be/pkg/llm/factory"
	"trip-planner-be/pkg/planner/orchestrator"

	pktNats "trip-planner-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	PlannerController controller.IPlannerController
	NluController     controller.INluController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	WebSocketHub    *websocket.Hub

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Logger   logger.ILogger

	cfg          *config.Config
	db           *gorm.DB
	sessions     *memory.SessionRepository
	natsConn     *pktNats.Conn
	natsSub      *pktNats.Subscriber
	rdb          redis.UniversalClient
	pubSub       *gochannel.GoChannel
	closeGateway func() error
}

func NewContainer(db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	streamLogger := logger.NewIsolatedLogger(cfg.App.StreamLogFilePath)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	plannerMetrics := metrics.New(registry)

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. Infrastructure
	// Redis
	var rdb redis.UniversalClient
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		client := redis.NewClient(opt)
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
			_ = client.Close()
		} else {
			rdb = client
		}
	}

	// NATS
	var (
		natsConn       *pktNats.Conn
		natsSub        *pktNats.Subscriber
		eventPublisher service.EventPublisher
	)
	if cfg.App.NatsURL != "" {
		conn, err := pktNats.Connect(context.Background(), cfg.App.NatsURL, cfg.App.EventRetention)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS: %v", err)
		} else {
			natsConn = conn
			natsSub = pktNats.NewSubscriber(conn, sysLogger)
			eventPublisher = pktNats.NewPublisher(conn)
		}
	}

	// 4. AI Providers
	llmProvider, err := factory.New(factory.Config{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  cfg.Ai.LLMBaseURL,
		APIKey:   cfg.Keys.HuggingFace,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	gateway, closeGateway, err := NewGateway(cfg, db, rdb, sysLogger)
	if err != nil {
		return nil, fmt.Errorf("init retrieval: %w", err)
	}

	// 5. Pipeline
	sessions := memory.NewSessionRepository(
		cfg.Planner.SessionCapacity,
		memory.WithBusyPolicy(memory.ParseBusyPolicy(cfg.Planner.SessionBusyPolicy)),
		memory.WithEvictHook(plannerMetrics.SessionEvicted),
	)
	plannerMetrics.TrackSessions(sessions.Len)

	primary, err := NewPipeline(llmProvider, gateway, sessions, cfg.Planner, cfg.Retrieval.TopK, sysLogger)
	if err != nil {
		_ = closeGateway()
		return nil, err
	}

	fallback := pipeline.NewLLMFallback(llmProvider, pipeline.FallbackConfig{
		SystemPrompt:  cfg.Fallback.SystemPrompt,
		ModelOverride: cfg.Fallback.Model,
		Temperature:   cfg.Fallback.Temperature,
		MaxTokens:     cfg.Fallback.MaxTokens,
	}, sysLogger)

	orch := orchestrator.New(
		primary,
		fallback,
		service.NewTurnRecorder(uowFactory),
		orchestrator.Config{FallbackTimeout: cfg.Fallback.Timeout},
		sysLogger,
		orchestrator.WithMetrics(plannerMetrics),
	)

	// 6. Services
	publisherService := service.NewPublisherService(pubSub, cfg.App.TurnTopic)
	consumerService := service.NewConsumerService(pubSub, cfg.App.TurnTopic, uowFactory, eventPublisher, sysLogger)
	plannerService := service.NewPlannerService(
		uowFactory,
		orch,
		publisherService,
		sessions,
		eventPublisher,
		service.PlannerServiceConfig{HistoryLimit: cfg.Planner.HistoryLimit},
		sysLogger,
	)

	// WebSocket Hub
	wsHub := websocket.NewHub(rdb, streamLogger)

	// 7. Controllers
	return &Container{
		PlannerController: controller.NewPlannerController(plannerService, wsHub, streamLogger),
		NluController:     controller.NewNluController(primary, sessions, streamLogger),

		ConsumerService: consumerService,
		WebSocketHub:    wsHub,

		Registry: registry,
		Metrics:  plannerMetrics,
		Logger:   sysLogger,

		cfg:          cfg,
		db:           db,
		sessions:     sessions,
		natsConn:     natsConn,
		natsSub:      natsSub,
		rdb:          rdb,
		pubSub:       pubSub,
		closeGateway: closeGateway,
	}, nil
}

// Start launches the background workers. They stop when ctx is cancelled.
func (c *Container) Start(ctx context.Context) error {
	if err := c.ConsumerService.Consume(ctx); err != nil {
		return fmt.Errorf("start turn consumer: %w", err)
	}

	if err := c.WebSocketHub.Start(ctx); err != nil {
		return fmt.Errorf("start websocket hub: %w", err)
	}

	if c.natsSub != nil {
		resetHandler := service.NewSessionResetHandler(c.sessions, c.Logger)
		durable := "planner-reset-" + c.cfg.App.InstanceID
		if err := c.natsSub.Subscribe(ctx, events.TypeSessionReset, durable, resetHandler.Handle); err != nil {
			log.Printf("[WARN] Failed to subscribe to session resets: %v", err)
		}
	}
	return nil
}

// Health probes every backing service. ok is false when a required one
// (the database) is down; redis and nats only degrade cluster delivery.
func (c *Container) Health(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	report := map[string]string{
		"instance":        c.cfg.App.InstanceID,
		"active_sessions": strconv.Itoa(c.sessions.Len()),
		"redis":           "disabled",
		"nats":            "disabled",
	}

	ok := true
	report["database"] = "up"
	if sqlDB, err := c.db.DB(); err != nil {
		report["database"], ok = err.Error(), false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		report["database"], ok = err.Error(), false
	}

	if c.rdb != nil {
		report["redis"] = "up"
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			report["redis"] = err.Error()
		}
	}
	if c.natsConn != nil {
		report["nats"] = strings.ToLower(c.natsConn.Status())
	}
	return report, ok
}

func (c *Container) Close() {
	if c.natsSub != nil {
		c.natsSub.Stop()
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
	_ = c.pubSub.Close()
	if err := c.closeGateway(); err != nil {
		c.Logger.Warn("BOOTSTRAP", "Failed to close retrieval gateway", map[string]interface{}{"error": err.Error()})
	}
	_ = c.Logger.Sync()
}

// Package app wires the process together: config, store, repositories,
// services, broker, pipeline, gateway and HTTP surface, with one
// lifecycle for startup and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/broker"
	"github.com/parleychat/parley/internal/cache"
	"github.com/parleychat/parley/internal/chat"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/gateway"
	"github.com/parleychat/parley/internal/httpapi"
	"github.com/parleychat/parley/internal/pipeline"
	"github.com/parleychat/parley/internal/presence"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/repo"
	"github.com/parleychat/parley/internal/store"
	"github.com/parleychat/parley/internal/token"
)

// App is the assembled process.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	store    *store.Redis
	mongo    *repo.Mongo
	producer *broker.KafkaProducer
	consumer *broker.Consumer
	gateway  *gateway.Gateway
	server   *http.Server
}

// New constructs every component and wires the dependency graph.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	st, err := store.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	mongo, err := repo.NewMongo(ctx, cfg.MongoURI, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	limiter := ratelimit.New(st, logger)
	denylist := token.NewDenylist(st, logger)
	tokens := token.NewManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	recent := cache.New(st, logger)
	reg := presence.New(st, logger)

	producer, err := broker.NewProducer(cfg.Brokers(), logger)
	if err != nil {
		st.Close()
		mongo.Close(ctx)
		return nil, fmt.Errorf("create producer: %w", err)
	}

	authSvc := auth.New(mongo.Users, tokens, denylist, logger)
	roomSvc := chat.NewRoomService(mongo.Rooms, mongo.Memberships, mongo.Users, limiter, logger)
	msgSvc := chat.NewMessageService(mongo.Messages, mongo.Memberships, mongo.Rooms, limiter, recent, producer, nil, logger)

	gw := gateway.New(gateway.Config{
		MaxConnections:     cfg.MaxConnections,
		MaxGoroutines:      cfg.MaxGoroutines,
		CPURejectThreshold: cfg.CPURejectThreshold,
	}, authSvc, roomSvc, msgSvc, reg, limiter, logger)
	// The service and the pipeline both fan out through the gateway;
	// bound late to keep construction acyclic.
	msgSvc.SetEvents(gw)

	analyzer := pipeline.NewHTTPAnalyzer(cfg.AnalyzerURL, cfg.ServiceSecret, cfg.AnalyzerTimeout)
	processor := pipeline.New(analyzer, producer, mongo.Messages, gw, logger)

	consumer, err := broker.NewConsumer(broker.ConsumerConfig{
		Brokers:  cfg.Brokers(),
		Group:    cfg.ConsumerGroup,
		Handlers: processor.Handlers(),
		Logger:   logger,
	})
	if err != nil {
		producer.Close()
		st.Close()
		mongo.Close(ctx)
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	api := httpapi.New(httpapi.Config{
		Origins:   cfg.Origins(),
		WSHandler: gw.HandleWS,
	}, authSvc, roomSvc, msgSvc, limiter, logger)

	server := &http.Server{
		Addr:           cfg.Addr(),
		Handler:        api.Router(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		mongo:    mongo,
		producer: producer,
		consumer: consumer,
		gateway:  gw,
		server:   server,
	}, nil
}

// Start launches the consumer, the gateway monitor and the HTTP server.
// Blocks until the server stops.
func (a *App) Start() error {
	a.consumer.Start()
	a.gateway.Start()

	a.logger.Info().Str("addr", a.cfg.Addr()).Msg("Server listening")
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the process in dependency order: stop accepting HTTP,
// close sockets, stop the consumer, flush the producer, release stores.
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info().Msg("Shutting down")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	a.gateway.Shutdown(ctx)
	a.consumer.Close()
	a.producer.Close()

	if err := a.mongo.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Mongo close failed")
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Redis close failed")
	}
	a.logger.Info().Msg("Shutdown complete")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/supplytrace/go-supplytrace/internal/audit"
	"github.com/supplytrace/go-supplytrace/internal/config"
	"github.com/supplytrace/go-supplytrace/internal/events"
	kafkax "github.com/supplytrace/go-supplytrace/internal/kafka"
	"github.com/supplytrace/go-supplytrace/internal/postgres"
	"github.com/supplytrace/go-supplytrace/internal/redisx"
	pgstore "github.com/supplytrace/go-supplytrace/internal/store/postgres"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &audit.Service{
		Store:       pgstore.New(db),
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-auditor",
	}

	// one consumer per aggregate topic, shared handler
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range events.Topics() {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, topic, cfg.ConsumerWorkers)
		log.Info().Str("topic", topic).Str("group", cfg.ConsumerGroup).
			Int("workers", cfg.ConsumerWorkers).Msg("consumer started")
		g.Go(func() error { return cons.Start(gctx, svc.HandleEvent) })
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("shutting down consumers")
		cancel()
	}()

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("consumer exit")
	}
}

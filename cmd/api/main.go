package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supplytrace/go-supplytrace/internal/authsig"
	"github.com/supplytrace/go-supplytrace/internal/catalog"
	"github.com/supplytrace/go-supplytrace/internal/checkout"
	"github.com/supplytrace/go-supplytrace/internal/config"
	"github.com/supplytrace/go-supplytrace/internal/events"
	"github.com/supplytrace/go-supplytrace/internal/httpx"
	"github.com/supplytrace/go-supplytrace/internal/inventory"
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

	// schema first, then the pool
	if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// one producer per aggregate topic
	producers := map[string]*kafkax.Producer{}
	for _, topic := range events.Topics() {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024)
		p.Start(ctx)
		producers[topic] = p
	}
	publisher := events.NewKafkaPublisher(cfg.ServiceName, producers)

	store := pgstore.New(db)
	signer := authsig.New(cfg.SigningSecret)

	ledger := &inventory.Service{Store: store, Signer: signer, Events: publisher}
	engine := &checkout.Engine{Store: store, Events: publisher}
	cat := &catalog.Service{Store: store}

	router := httpx.NewRouter()
	h := &httpx.EngineHandler{
		Catalog: cat,
		Ledger:  ledger,
		Engine:  engine,
		Signer:  signer,
		Redis:   rdb,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	cancel() // stop producer loops, flush their inboxes
	for _, p := range producers {
		p.WaitClosed()
	}
}

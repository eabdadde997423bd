package main

import (
	"net/http"
	"os"
	"time"

	"merchant_backend/internal/cards"
	"merchant_backend/internal/config"
	httpd "merchant_backend/internal/delivery/http"
	"merchant_backend/internal/event"
	"merchant_backend/internal/repository"
	"merchant_backend/internal/usecase"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()

	repo, err := repository.NewSQLiteRepo(cfg.SQLiteDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer repo.Close()

	bus := event.NewBus()

	dispatcher := usecase.NewWebhookDispatcher(
		repo,
		time.Duration(cfg.WebhookTimeoutSecs)*time.Second,
		cfg.WebhookMaxConcurrent,
	)
	bus.Subscribe(dispatcher.Handle)

	// The broker is optional: without it only webhook delivery runs.
	if cfg.AMQPURL != "" {
		conn, err := amqp.DialConfig(cfg.AMQPURL, amqp.Config{
			Properties: amqp.Table{"connection_name": "merchant_backend"},
		})
		if err != nil {
			log.Warn().Err(err).Msg("broker unreachable, event forwarding disabled")
		} else {
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				log.Fatal().Err(err).Msg("open broker channel")
			}
			defer ch.Close()

			forwarder, err := event.NewAMQPForwarder(ch)
			if err != nil {
				log.Fatal().Err(err).Msg("declare broker exchange")
			}
			bus.Subscribe(forwarder.Handle)
			log.Info().Str("exchange", event.Exchange).Msg("broker event forwarding enabled")
		}
	}

	var cardValidator cards.Validator = cards.AllowAll{}
	if cfg.CardServiceURL != "" {
		cardValidator = cards.NewHTTPValidator(cfg.CardServiceURL)
	} else {
		log.Warn().Msg("CARD_SERVICE_URL not set, card validation disabled")
	}

	uc := usecase.NewTransactionUsecase(repo, cardValidator, bus, cfg.HMACSecret)
	h := httpd.NewHandler(uc)

	r := h.Routes(httpd.SigConfig{
		Secret:        cfg.HMACSecret,
		MaxAgeSeconds: cfg.SigMaxAgeSeconds,
	})

	addr := ":" + cfg.AppPort
	log.Info().Str("addr", addr).Msg("server listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}

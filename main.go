package main

import (
	"log"
	"net/http"
	"time"

	"donation-service/internal/api"
	"donation-service/internal/config"
	"donation-service/internal/db"
	"donation-service/internal/kafka"
	"donation-service/internal/logging"
	"donation-service/internal/metrics"
	"donation-service/internal/notify"
	"donation-service/internal/pagou"
	"donation-service/internal/session"
	"donation-service/internal/webhook"
)

func main() {
	cfg := config.MustLoadConfig("config")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.GetConnStr(cfg.Database)
	db.RunMigrations(connStr, "migrations")

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	repo := db.NewChargeRepository(dbpool)

	gateway := pagou.NewClient(cfg.Gateway, logger)

	eventWriter := kafka.NewWriter(cfg.Kafka)
	defer eventWriter.Close()

	publisher := notify.NewPublisher(eventWriter, logger)

	manager := session.NewManager(gateway, repo, publisher, session.Options{
		PollInterval:       time.Duration(cfg.Reconciler.PollIntervalMs) * time.Millisecond,
		HardTimeout:        time.Duration(cfg.Reconciler.HardTimeoutMs) * time.Millisecond,
		ExpirationSeconds:  cfg.Gateway.ExpirationSeconds,
		DefaultDescription: cfg.Donation.DefaultDescription,
		AllowFallback:      cfg.Donation.AllowFallback,
	}, logger)

	sender := notify.NewSender(cfg.Notify, logger)
	processor := notify.NewProcessor(repo, sender, cfg.Notify, logger)

	eventReader := kafka.NewReader(cfg.Kafka.Broker.URL, cfg.Kafka.Topic.DonationEvents, cfg.Kafka.Reader.GroupID)
	defer eventReader.Close()

	kafka.ReadDonationEvents(eventReader, processor, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	api.NewHandler(manager, repo, logger).Register(mux)
	mux.Handle("/webhooks/pagou", webhook.NewHandler(repo, manager, cfg.Webhook, logger))

	logger.Info("Starting donation service", "port", cfg.Server.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Server.Port, mux))
}

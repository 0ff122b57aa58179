package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proctor/internal/api"
	"proctor/internal/broker"
	"proctor/internal/config"
	"proctor/internal/consumer"
	"proctor/internal/history"
	"proctor/internal/metrics"
	"proctor/internal/pipeline"
	"proctor/internal/policy"
	"proctor/internal/producer"
	"proctor/internal/rooms"
	"proctor/internal/router"
	"proctor/internal/ws"
)

func main() {
	// Parse command-line flags with environment variable fallbacks
	cfg := &config.Config{}
	flag.StringVar(&cfg.HTTPPort, "http-port", config.GetEnvOrDefault("HTTP_PORT", "8080"), "HTTP listen port")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", config.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.ClassificationsTopic, "classifications-topic", config.GetEnvOrDefault("CLASSIFICATIONS_TOPIC", "behavior.classifications"), "Kafka topic for incoming classification results")
	flag.StringVar(&cfg.AlertsTopic, "alerts-topic", config.GetEnvOrDefault("ALERTS_TOPIC", "behavior.alerts"), "Kafka topic for fired alerts")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", config.GetEnvOrDefault("CONSUMER_GROUP_ID", "proctor-group"), "Kafka consumer group ID")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", config.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.Parse()

	// Set up structured logging
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("Starting proctor service",
		"http_port", cfg.HTTPPort,
		"kafka_brokers", cfg.KafkaBrokers,
		"classifications_topic", cfg.ClassificationsTopic,
		"alerts_topic", cfg.AlertsTopic,
		"consumer_group_id", cfg.ConsumerGroupID,
		"redis_addr", cfg.RedisAddr,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// Initialize Redis client for metrics
	slog.Info("Connecting to Redis", "addr", cfg.RedisAddr)
	redisClient, err := metrics.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		slog.Info("Tip: Start Redis with 'docker compose up -d redis'")
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize metrics collector
	collector := metrics.NewCollector("proctor", redisClient)
	collector.Start(ctx)
	defer collector.Stop()

	// Initialize Kafka producer for fired alerts
	slog.Info("Connecting to Kafka producer", "topic", cfg.AlertsTopic)
	alertProducer, err := producer.NewProducer(cfg.KafkaBrokers, cfg.AlertsTopic)
	if err != nil {
		slog.Error("Failed to create Kafka producer", "error", err)
		os.Exit(1)
	}
	defer alertProducer.Close()

	// Initialize Kafka consumer for classification results
	slog.Info("Connecting to Kafka consumer", "topic", cfg.ClassificationsTopic)
	classConsumer, err := consumer.NewConsumer(cfg.KafkaBrokers, cfg.ClassificationsTopic, cfg.ConsumerGroupID)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
		os.Exit(1)
	}
	defer classConsumer.Close()

	// Core components
	registry := rooms.NewRegistry()
	channelBroker := broker.New()
	pipe := pipeline.New(history.NewStore(), policy.New(), channelBroker, alertProducer, collector)

	// Liveness sweep for observer connections
	go channelBroker.Run(ctx)

	// Classification consume loop
	go func() {
		if err := classConsumer.Run(ctx, pipe); err != nil {
			slog.Error("Classification consume loop failed", "error", err)
		}
	}()

	// HTTP server
	handlers := api.NewHandlers(registry, pipe, channelBroker)
	observer := ws.NewHandler(pipe, channelBroker)
	server := router.NewServer(cfg.HTTPPort, handlers, observer)

	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	slog.Info("Proctor service stopped")
}

// Command ingress runs the HTTP API (C4): task submission, status, cancel,
// and per-language lookup.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/config"
	"github.com/tgscan/transpipe/internal/ingress"
	"github.com/tgscan/transpipe/internal/observability"
	"github.com/tgscan/transpipe/internal/store"
)

const version = "0.1.0"

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests to finish during a graceful shutdown.
const shutdownGrace = 10 * time.Second

func main() {
	logger := observability.InitLogger()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracer(ctx, "transpipe-ingress", version)
	if err != nil {
		logger.Warn("tracer init failed, continuing without tracing", "error", err)
	} else {
		defer tp.Shutdown(ctx)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	if cfg.SecretPrefix != "" {
		go config.LoadSecrets(ctx, awsCfg, cfg.SecretPrefix, logger)
	}

	taskStore := store.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBTable)
	br := broker.New(sqs.NewFromConfig(awsCfg), broker.Config{
		AudioQueueURL:       cfg.AudioQueueURL,
		TranslationQueueURL: cfg.TranslationQueueURL,
		PackageQueueURL:     cfg.PackageQueueURL,
	})

	handler := ingress.New(taskStore, br, logger)
	instrumented := otelhttp.NewHandler(handler.Routes(), "ingress")

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: instrumented,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("ingress listening", "addr", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("ingress server error: %v", err)
	}
}

// Command worker launches one or more of the three consumer-side pipeline
// stages (audio, translation, packaging). It takes one positional argument
// selecting the role(s) to run, defaulting to "all".
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"golang.org/x/sync/errgroup"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/config"
	"github.com/tgscan/transpipe/internal/engine"
	"github.com/tgscan/transpipe/internal/observability"
	"github.com/tgscan/transpipe/internal/store"
	"github.com/tgscan/transpipe/internal/worker"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:       "worker [all|audio|translation|packaging]",
	Short:     "Run one or more translation pipeline worker roles",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"all", "audio", "translation", "packaging"},
	RunE:      runWorker,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	role := "all"
	if len(args) == 1 {
		role = args[0]
	}

	logger := observability.InitLogger()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracer(ctx, "transpipe-worker-"+role, version)
	if err != nil {
		logger.Warn("tracer init failed, continuing without tracing", "error", err)
	} else {
		defer tp.Shutdown(ctx)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
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

	transcriber := engine.NewOpenAITranscriber(cfg.OpenAIAPIKey)
	scorer := engine.NewAnthropicScorer(cfg.AnthropicAPIKey)
	translator := engine.NewAnthropicTranslator(cfg.AnthropicAPIKey)

	roles := map[string]func(context.Context) error{
		"audio": func(c context.Context) error {
			return worker.NewAudioWorker(taskStore, br, logger, transcriber, scorer, translator).Run(c)
		},
		"translation": func(c context.Context) error {
			return worker.NewTranslationWorker(taskStore, br, logger, translator).Run(c)
		},
		"packaging": func(c context.Context) error {
			return worker.NewPackagingWorker(taskStore, br, logger, cfg.PackageDir).Run(c)
		},
	}

	var selected []string
	switch role {
	case "all":
		selected = []string{"audio", "translation", "packaging"}
	case "audio", "translation", "packaging":
		selected = []string{role}
	default:
		return fmt.Errorf("unknown worker role %q", role)
	}

	// errgroup.WithContext cancels every sibling's context as soon as one
	// role's Run returns an error, satisfying the "cancelling siblings on
	// fatal error" requirement of the worker launcher.
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range selected {
		run := roles[r]
		logger.Info("starting worker role", "role", r)
		g.Go(func() error { return run(gctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker role failed: %w", err)
	}
	return nil
}

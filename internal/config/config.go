// Package config centralizes environment-variable driven configuration for
// every process in the pipeline (ingress server and the three worker
// roles), following the same envOr/DefaultConfig shape the teacher uses for
// its own server configuration.
package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Config holds every environment-derived setting used across the pipeline.
// Not every process reads every field; e.g. the audio worker never reads
// PackageDir and the packaging worker never reads AnthropicAPIKey.
type Config struct {
	AWSRegion string

	DynamoDBTable string

	BrokerBootstrapServers string
	TopicAudio             string
	TopicTranslation       string
	TopicPackage           string
	GroupWhisper           string
	GroupTranslation       string
	GroupPackaging         string

	// SQS queue URLs backing each topic. BrokerBootstrapServers is carried
	// for parity with the Configuration table in the project's interface
	// spec, but SQS addresses queues by URL, not bootstrap host:port, so the
	// broker is wired from these instead.
	AudioQueueURL       string
	TranslationQueueURL string
	PackageQueueURL     string

	PackageDir string
	UploadsDir string

	AnthropicAPIKey string
	OpenAIAPIKey    string

	SecretPrefix string

	HTTPAddr string

	PackagingBatchBase int
}

// Load builds a Config from the environment, applying the same defaults the
// original service shipped with (see the Configuration table in the
// project's interface spec).
func Load() Config {
	return Config{
		AWSRegion: envOr("AWS_REGION", "us-east-1"),

		DynamoDBTable: envOr("DYNAMODB_TABLE", "translation-tasks"),

		BrokerBootstrapServers: envOr("BROKER_BOOTSTRAP_SERVERS", "localhost:9092"),
		TopicAudio:             envOr("TOPIC_AUDIO", "audio_processing"),
		TopicTranslation:       envOr("TOPIC_TRANSLATION", "text_translation"),
		TopicPackage:           envOr("TOPIC_PACKAGE", "text_packaging"),
		GroupWhisper:           envOr("GROUP_WHISPER", "whisper_processing_group"),
		GroupTranslation:       envOr("GROUP_TRANSLATION", "translation_processing_group"),
		GroupPackaging:         envOr("GROUP_PACKAGING", "text_packaging_group"),

		AudioQueueURL:       os.Getenv("SQS_AUDIO_QUEUE_URL"),
		TranslationQueueURL: os.Getenv("SQS_TRANSLATION_QUEUE_URL"),
		PackageQueueURL:     os.Getenv("SQS_PACKAGE_QUEUE_URL"),

		PackageDir: envOr("PACKAGE_DIR", "packs"),
		UploadsDir: envOr("UPLOADS", "uploads"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),

		SecretPrefix: envOr("SECRET_PREFIX", ""),

		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		PackagingBatchBase: envOrInt("PACKAGING_BATCH_BASE", 50),
	}
}

// LoadSecrets fetches any configured secrets from AWS Secrets Manager into
// environment variables, mirroring the fire-and-forget, env-var-wins
// hydration the teacher's MCP server performs at startup. Call this in a
// goroutine so process startup is never blocked on Secrets Manager latency.
func LoadSecrets(ctx context.Context, awsCfg aws.Config, prefix string, logger *slog.Logger) {
	if prefix == "" {
		return
	}
	client := secretsmanager.NewFromConfig(awsCfg)

	names := map[string]string{
		"ANTHROPIC_API_KEY": prefix + "ANTHROPIC_API_KEY",
		"OPENAI_API_KEY":    prefix + "OPENAI_API_KEY",
	}

	for envVar, secretID := range names {
		if os.Getenv(envVar) != "" {
			continue
		}
		id := secretID
		result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
		if err != nil {
			logger.InfoContext(ctx, "secret not found, keeping env var", "secret_id", id, "error", err)
			continue
		}
		if result.SecretString != nil {
			os.Setenv(envVar, *result.SecretString)
			logger.InfoContext(ctx, "loaded secret", "secret_id", id)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

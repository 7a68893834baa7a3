package engine

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAITranscriber implements Transcriber via the OpenAI audio
// transcription endpoint.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

// NewOpenAITranscriber returns a Transcriber backed by the OpenAI API.
func NewOpenAITranscriber(apiKey string) *OpenAITranscriber {
	return &OpenAITranscriber{
		client: openai.NewClient(apiKey),
		model:  openai.Whisper1,
	}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, sourceFile string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: sourceFile,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	return resp.Text, nil
}

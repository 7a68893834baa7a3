package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tgscan/transpipe/internal/domain"
)

const (
	anthropicModel     = "claude-sonnet-4-5-20250929"
	anthropicMaxTokens = int64(4096)
	anthropicTemp      = 0.3 // lower than the script generator's — fidelity matters more than variety here
)

// AnthropicTranslator implements Translator via a single Messages.New call
// asking for a structured JSON translation list.
type AnthropicTranslator struct {
	apiKey string // optional override; empty uses ANTHROPIC_API_KEY from the environment
}

// NewAnthropicTranslator returns a Translator backed by the Anthropic API.
func NewAnthropicTranslator(apiKey string) *AnthropicTranslator {
	return &AnthropicTranslator{apiKey: apiKey}
}

func (t *AnthropicTranslator) client() anthropic.Client {
	if t.apiKey != "" {
		return anthropic.NewClient(option.WithAPIKey(t.apiKey))
	}
	return anthropic.NewClient()
}

type translationResponse struct {
	Translations []Translation `json:"translations"`
}

func (t *AnthropicTranslator) Translate(ctx context.Context, text string, targets []domain.LanguageCode) ([]Translation, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	langList := make([]string, len(targets))
	for i, l := range targets {
		langList[i] = string(l)
	}

	sysPrompt := "You are a professional multilingual translator. Translate the user's text " +
		"into every requested target language, preserving tone, cultural nuance, formality, and " +
		"honorifics where the target language has them. Respond with ONLY a JSON object of the " +
		`shape {"translations":[{"lang":"<code>","text":"<translation>"}, ...]}, one entry per ` +
		"requested language, in the order requested. Do not include any commentary outside the JSON."
	userPrompt := fmt.Sprintf("Target languages: %s\n\nText:\n%s", strings.Join(langList, ", "), text)

	message, err := t.client().Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(anthropicModel),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(anthropicTemp),
		System: []anthropic.TextBlockParam{
			{Text: sysPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic translate: %w", err)
	}

	var resp translationResponse
	if err := decodeJSONObject(extractText(message), &resp); err != nil {
		return nil, fmt.Errorf("parse translation response: %w", err)
	}
	return resp.Translations, nil
}

// AnthropicScorer implements Scorer, grading a transcript against its
// reference text and returning the weighted domain.STTScore shape.
type AnthropicScorer struct {
	apiKey string
}

// NewAnthropicScorer returns a Scorer backed by the Anthropic API.
func NewAnthropicScorer(apiKey string) *AnthropicScorer {
	return &AnthropicScorer{apiKey: apiKey}
}

func (s *AnthropicScorer) client() anthropic.Client {
	if s.apiKey != "" {
		return anthropic.NewClient(option.WithAPIKey(s.apiKey))
	}
	return anthropic.NewClient()
}

func (s *AnthropicScorer) Score(ctx context.Context, transcript, reference string) (*domain.STTScore, error) {
	sysPrompt := "You grade speech-to-text transcription quality against a reference transcript. " +
		"Score three dimensions on a 0.0-1.0 scale: semantic_accuracy (does the meaning match), " +
		"completeness (is anything missing or added), and grammar (is the transcript well-formed). " +
		"Compute total_score as 0.6*semantic_accuracy + 0.3*completeness + 0.1*grammar, and set " +
		"acceptable to true iff total_score >= 0.80. Respond with ONLY a JSON object of the shape " +
		`{"semantic_accuracy":0.0,"completeness":0.0,"grammar":0.0,"total_score":0.0,"acceptable":false,"comments":"..."}.`
	userPrompt := fmt.Sprintf("Reference:\n%s\n\nTranscript:\n%s", reference, transcript)

	message, err := s.client().Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(anthropicModel),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(anthropicTemp),
		System: []anthropic.TextBlockParam{
			{Text: sysPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic score: %w", err)
	}

	var score domain.STTScore
	if err := decodeJSONObject(extractText(message), &score); err != nil {
		return nil, fmt.Errorf("parse score response: %w", err)
	}
	return &score, nil
}

func extractText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}

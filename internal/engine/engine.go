// Package engine defines the external collaborators the pipeline calls out
// to — speech-to-text, multilingual translation, and transcript quality
// scoring — and provides JSON-extraction helpers shared by the LLM-backed
// implementations, following the markdown-fence/JSON-substring parsing the
// project already uses for structured LLM output elsewhere.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tgscan/transpipe/internal/domain"
)

// Transcriber converts an audio file into a plain-text transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, sourceFile string) (string, error)
}

// Translation is one entry of the translator's wire response: the external
// engine returns an ordered list rather than a map (see Translator docs),
// which callers normalize into domain.Translations immediately.
type Translation struct {
	Lang domain.LanguageCode `json:"lang"`
	Text string              `json:"text"`
}

// Translator produces a structured multilingual translation of text into
// every language in targets. It returns the engine's native list shape;
// callers are responsible for normalizing to domain.Translations — this
// package never does that normalization itself, so the wire shape stays
// visible exactly where it's produced.
type Translator interface {
	Translate(ctx context.Context, text string, targets []domain.LanguageCode) ([]Translation, error)
}

// Scorer grades a speech-to-text transcript against its reference text.
type Scorer interface {
	Score(ctx context.Context, transcript, reference string) (*domain.STTScore, error)
}

var markdownFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")

// extractJSONObject pulls the JSON object out of raw LLM text: it strips a
// surrounding markdown code fence if present, then slices from the first
// '{' to the last '}'.
func extractJSONObject(text string) string {
	if matches := markdownFenceRe.FindStringSubmatch(text); len(matches) > 1 {
		text = matches[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// extractJSONArray is extractJSONObject's counterpart for a top-level array.
func extractJSONArray(text string) string {
	if matches := markdownFenceRe.FindStringSubmatch(text); len(matches) > 1 {
		text = matches[1]
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func decodeJSONObject(text string, out any) error {
	extracted := extractJSONObject(text)
	if extracted == "" {
		return fmt.Errorf("no JSON object found in engine response")
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("invalid JSON in engine response: %w", err)
	}
	return nil
}

func decodeJSONArray(text string, out any) error {
	extracted := extractJSONArray(text)
	if extracted == "" {
		return fmt.Errorf("no JSON array found in engine response")
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("invalid JSON in engine response: %w", err)
	}
	return nil
}

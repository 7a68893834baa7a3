package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
	"github.com/tgscan/transpipe/internal/engine"
)

// TranslationWorker consumes the translation topic: plain-text tasks that
// need no transcription or scoring, only a translation call.
type TranslationWorker struct {
	stage *stage
}

// NewTranslationWorker wires a TranslationWorker against its store, broker,
// and translation engine.
func NewTranslationWorker(st taskStore, br messageBroker, log *slog.Logger, translator engine.Translator) *TranslationWorker {
	w := &TranslationWorker{}
	w.stage = &stage{
		store:        st,
		broker:       br,
		log:          log,
		consumeTopic: broker.TopicTranslation,
		publishTopic: broker.TopicPackage,
		work:         translationWork(translator),
	}
	return w
}

// Run blocks, processing the translation topic sequentially until ctx is
// cancelled.
func (w *TranslationWorker) Run(ctx context.Context) error {
	return w.stage.Run(ctx)
}

func translationWork(translator engine.Translator) externalWork {
	return func(ctx context.Context, task *domain.TranslationTask) error {
		translations, err := translator.Translate(ctx, task.Text, task.TargetLanguages)
		if err != nil {
			return fmt.Errorf("translate: %w", err)
		}
		task.Translations = normalizeTranslations(task.Translations, translations)
		return nil
	}
}

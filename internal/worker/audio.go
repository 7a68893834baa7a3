package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
	"github.com/tgscan/transpipe/internal/engine"
)

// AudioWorker consumes the audio topic: it transcribes the source file,
// then runs scoring and translation concurrently before handing the task
// to packaging.
type AudioWorker struct {
	stage *stage
}

// NewAudioWorker wires an AudioWorker against its store, broker, and
// external engines.
func NewAudioWorker(st taskStore, br messageBroker, log *slog.Logger,
	transcriber engine.Transcriber, scorer engine.Scorer, translator engine.Translator) *AudioWorker {
	w := &AudioWorker{}
	w.stage = &stage{
		store:        st,
		broker:       br,
		log:          log,
		consumeTopic: broker.TopicAudio,
		publishTopic: broker.TopicPackage,
		work:         audioWork(transcriber, scorer, translator),
	}
	return w
}

// Run blocks, processing the audio topic sequentially until ctx is
// cancelled.
func (w *AudioWorker) Run(ctx context.Context) error {
	return w.stage.Run(ctx)
}

// audioWork runs STT, then joins concurrent scoring and translation calls
// before returning — the fan-out/fan-in barrier required of the audio
// stage, with no shared mutable state between the two branches.
func audioWork(transcriber engine.Transcriber, scorer engine.Scorer, translator engine.Translator) externalWork {
	return func(ctx context.Context, task *domain.TranslationTask) error {
		transcript, err := transcriber.Transcribe(ctx, task.SourceFile)
		if err != nil {
			return fmt.Errorf("transcribe: %w", err)
		}

		var score *domain.STTScore
		var translations []engine.Translation

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			s, err := scorer.Score(gctx, transcript, task.ReferenceText)
			if err != nil {
				return fmt.Errorf("score: %w", err)
			}
			score = s
			return nil
		})
		g.Go(func() error {
			t, err := translator.Translate(gctx, transcript, task.TargetLanguages)
			if err != nil {
				return fmt.Errorf("translate: %w", err)
			}
			translations = t
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		task.STTResult = transcript
		task.STTScore = score
		task.Translations = normalizeTranslations(task.Translations, translations)
		return nil
	}
}

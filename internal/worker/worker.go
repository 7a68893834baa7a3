package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
	"github.com/tgscan/transpipe/internal/engine"
)

// pollWait is how long a sequential (C5/C6) consumer blocks per poll waiting
// for a message before looping again.
const pollWait = int32(20)

// taskStore is the slice of *store.Store the workers depend on, narrowed to
// an interface so stage logic can be exercised against a fake in tests.
type taskStore interface {
	Get(ctx context.Context, taskID string) (*domain.TranslationTask, error)
	Update(ctx context.Context, t *domain.TranslationTask) error
}

// messageBroker is the slice of *broker.Broker the workers depend on.
type messageBroker interface {
	Receive(ctx context.Context, topic broker.Topic, maxMessages, waitSeconds int32) ([]broker.Message, error)
	Publish(ctx context.Context, topic broker.Topic, groupID string, payload any) error
	Delete(ctx context.Context, topic broker.Topic, msg broker.Message) error
	DeleteBatch(ctx context.Context, topic broker.Topic, msgs []broker.Message) error
}

// externalWork performs the stage-specific call(s) against the external
// engines and mutates task in place (STTResult/STTScore/Translations); it
// never touches the store or the broker itself.
type externalWork func(ctx context.Context, task *domain.TranslationTask) error

// stage bundles the dependencies and behaviour shared by the audio and
// translation workers: both consume one topic sequentially, reload the task,
// run stage-specific external work, transition PENDING->TO_PACKING, publish
// to the package topic, and commit.
type stage struct {
	store        taskStore
	broker       messageBroker
	log          *slog.Logger
	consumeTopic broker.Topic
	publishTopic broker.Topic
	work         externalWork
}

// Run consumes consumeTopic sequentially until ctx is cancelled. Each
// message is fully processed (including retry) before the next is polled,
// matching the "process strictly sequentially per consumer" ordering
// required of C5/C6.
func (s *stage) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := s.broker.Receive(ctx, s.consumeTopic, 1, pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("receive failed", "topic", s.consumeTopic, "error", err)
			continue
		}
		for _, msg := range msgs {
			s.processOne(ctx, msg)
		}
	}
}

// processOne runs the full validate->load->process->persist->publish->commit
// pipeline for a single message. The process->persist->publish unit
// (s.process) is retried up to MaxAttempts times with no delay; decoding
// and the reload are attempted once. A decode failure, a missing task, or a
// task no longer in PENDING status is dropped and committed immediately — it
// is never retried, since retrying would not change the outcome. Any other
// reload error leaves the message uncommitted for redelivery.
func (s *stage) processOne(ctx context.Context, msg broker.Message) {
	var queued domain.QueuedTask
	if err := json.Unmarshal(msg.Body, &queued); err != nil {
		s.log.Warn("dropping malformed message", "topic", s.consumeTopic, "error", err)
		s.commit(ctx, msg)
		return
	}

	task, err := s.store.Get(ctx, queued.TaskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		s.log.Warn("dropping message for unknown task", "topic", s.consumeTopic, "task_id", queued.TaskID)
		s.commit(ctx, msg)
		return
	}
	if err != nil {
		s.log.Error("reload task failed", "topic", s.consumeTopic, "task_id", queued.TaskID, "error", err)
		// Not a decode/guard failure — leave uncommitted for redelivery.
		return
	}
	if task.Status != domain.StatusPending {
		s.log.Warn("dropping message for task not in PENDING",
			"topic", s.consumeTopic, "task_id", queued.TaskID, "status", task.Status)
		s.commit(ctx, msg)
		return
	}

	err = Retry(ctx, func() error { return s.process(ctx, task) })
	if err != nil {
		s.log.Error("stage processing exhausted retries, leaving for redelivery",
			"topic", s.consumeTopic, "task_id", task.TaskID, "error", err)
		return
	}
	s.commit(ctx, msg)
}

// process performs one attempt of the external work plus the persist and
// publish steps. It is the unit Retry wraps. A prior attempt's partial
// mutation of the task's in-memory fields does not leak into the store: the
// store write only happens after work succeeds, and if the publish that
// follows it fails the original record is written back, so a failed attempt
// leaves the task in PENDING for the next attempt or delivery.
func (s *stage) process(ctx context.Context, task *domain.TranslationTask) error {
	working := *task
	if err := s.work(ctx, &working); err != nil {
		return fmt.Errorf("external work: %w", err)
	}
	working.Status = domain.StatusToPacking

	if err := s.store.Update(ctx, &working); err != nil {
		return fmt.Errorf("persist TO_PACKING: %w", err)
	}

	queued := domain.QueuedTaskFrom(&working)
	if err := s.broker.Publish(ctx, s.publishTopic, working.TaskID, queued); err != nil {
		original := *task
		if rbErr := s.store.Update(ctx, &original); rbErr != nil {
			return fmt.Errorf("publish to %s: %w (revert to %s failed: %v)", s.publishTopic, err, task.Status, rbErr)
		}
		return fmt.Errorf("publish to %s: %w", s.publishTopic, err)
	}

	*task = working
	return nil
}

func (s *stage) commit(ctx context.Context, msg broker.Message) {
	if err := s.broker.Delete(ctx, s.consumeTopic, msg); err != nil {
		s.log.Error("commit failed", "topic", s.consumeTopic, "error", err)
	}
}

// normalizeTranslations converts the engine's ordered list response into
// the canonical mapping representation, the one place in the system the
// list shape is unpacked.
func normalizeTranslations(existing domain.Translations, list []engine.Translation) domain.Translations {
	out := make(domain.Translations, len(existing)+len(list))
	for lang, text := range existing {
		out[lang] = text
	}
	for _, tr := range list {
		out[tr.Lang] = tr.Text
	}
	return out
}

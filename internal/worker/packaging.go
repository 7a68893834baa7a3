package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
	"github.com/tgscan/transpipe/internal/packagefile"
)

// resampleInterval is how often the packaging worker recomputes its batch
// size from memory utilization (spec: 60s).
const resampleInterval = 60 * time.Second

// idleSleep is how long the consume loop waits before repolling an empty
// batch.
const idleSleep = 100 * time.Millisecond

// pollTimeout is the broker long-poll wait per batch attempt (spec: 1s).
const pollTimeout = int32(1)

// PackagingWorker consumes the package topic in adaptive batches, writes
// one package file per task, and transitions TO_PACKING -> COMPLETED. Unlike
// the audio/translation workers it processes a batch's messages
// concurrently per partition, then commits the longest all-succeeded
// prefix of each partition.
type PackagingWorker struct {
	store      taskStore
	broker     messageBroker
	log        *slog.Logger
	packageDir string
	sampler    *MemSampler
}

// NewPackagingWorker wires a PackagingWorker against its store, broker, and
// the directory package files are written under.
func NewPackagingWorker(st taskStore, br messageBroker, log *slog.Logger, packageDir string) *PackagingWorker {
	return &PackagingWorker{
		store:      st,
		broker:     br,
		log:        log,
		packageDir: packageDir,
		sampler:    NewMemSampler(resampleInterval),
	}
}

// Run blocks, consuming the package topic in adaptive batches until ctx is
// cancelled.
func (w *PackagingWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pct, err := w.sampler.UsedPercent()
		if err != nil {
			w.log.Warn("memory sample failed, falling back to base batch size", "error", err)
			pct = 70 // lands on the BASE band
		}
		batchSize := int32(BatchSizeForMemory(pct))

		msgs, err := w.broker.Receive(ctx, broker.TopicPackage, batchSize, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("receive failed", "topic", broker.TopicPackage, "error", err)
			continue
		}
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleSleep):
			}
			continue
		}

		w.processBatch(ctx, msgs)
	}
}

// processBatch groups msgs by partition (broker group id) and processes
// each partition's messages concurrently, committing the longest
// all-succeeded prefix per partition.
func (w *PackagingWorker) processBatch(ctx context.Context, msgs []broker.Message) {
	partitions := make(map[string][]broker.Message)
	var order []string
	for _, m := range msgs {
		if _, ok := partitions[m.GroupID]; !ok {
			order = append(order, m.GroupID)
		}
		partitions[m.GroupID] = append(partitions[m.GroupID], m)
	}

	var g errgroup.Group
	for _, groupID := range order {
		groupID := groupID
		group := partitions[groupID]
		g.Go(func() error {
			w.processPartition(ctx, group)
			return nil
		})
	}
	_ = g.Wait() // processPartition never returns an error; failures are per-message
}

func (w *PackagingWorker) processPartition(ctx context.Context, msgs []broker.Message) {
	results := make([]broker.PartitionResult, len(msgs))
	var g errgroup.Group
	for i, msg := range msgs {
		i, msg := i, msg
		g.Go(func() error {
			results[i] = broker.PartitionResult{Message: msg, Success: w.processOne(ctx, msg)}
			return nil
		})
	}
	_ = g.Wait()

	committable := broker.CommittablePrefix(results)
	if len(committable) == 0 {
		return
	}
	const maxBatchDelete = 10
	for start := 0; start < len(committable); start += maxBatchDelete {
		end := start + maxBatchDelete
		if end > len(committable) {
			end = len(committable)
		}
		if err := w.broker.DeleteBatch(ctx, broker.TopicPackage, committable[start:end]); err != nil {
			w.log.Error("commit batch failed", "topic", broker.TopicPackage, "error", err)
		}
	}
}

// processOne performs one message's validate->reload->package->persist
// pipeline. The package->persist unit (packageTask) is retried up to
// MaxAttempts times with no delay; decoding and the reload are attempted
// once. It reports whether the message is safe to commit: true for both a
// successful packaging and a drop-and-commit decision, false when the
// reload fails with an error other than "not found" or when every retry
// attempt failed, so the message must be redelivered.
func (w *PackagingWorker) processOne(ctx context.Context, msg broker.Message) bool {
	var queued domain.QueuedTask
	if err := json.Unmarshal(msg.Body, &queued); err != nil {
		w.log.Warn("dropping malformed message", "topic", broker.TopicPackage, "error", err)
		return true
	}

	task, err := w.store.Get(ctx, queued.TaskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		w.log.Warn("dropping message for unknown task", "topic", broker.TopicPackage, "task_id", queued.TaskID)
		return true
	}
	if err != nil {
		w.log.Error("reload task failed", "topic", broker.TopicPackage, "task_id", queued.TaskID, "error", err)
		return false
	}
	if task.Status != domain.StatusToPacking {
		w.log.Warn("dropping message for task not in TO_PACKING",
			"topic", broker.TopicPackage, "task_id", queued.TaskID, "status", task.Status)
		return true
	}

	err = Retry(ctx, func() error { return w.packageTask(ctx, task) })
	if err != nil {
		w.log.Error("packaging exhausted retries, leaving for redelivery",
			"task_id", task.TaskID, "error", err)
		return false
	}
	return true
}

// packageTask builds and writes the package file for task and transitions
// it to COMPLETED. It is the unit Retry wraps.
func (w *PackagingWorker) packageTask(ctx context.Context, task *domain.TranslationTask) error {
	data := packagefile.NewTaskData(task.TaskID)
	for lang, text := range task.Translations {
		data.AddTranslation(packagefile.SourceText, lang, text)
	}
	if task.STTResult != "" {
		for _, lang := range task.TargetLanguages {
			data.AddTranslation(packagefile.SourceAudio, lang, task.STTResult)
		}
	}

	path := filepath.Join(w.packageDir, task.TaskID+".bin")
	if err := packagefile.Write(path, []*packagefile.TaskData{data}); err != nil {
		return fmt.Errorf("write package file: %w", err)
	}

	now := time.Now().UTC()
	working := *task
	working.Status = domain.StatusCompleted
	working.PackedFile = path
	working.CompletedAt = &now

	if err := w.store.Update(ctx, &working); err != nil {
		return fmt.Errorf("persist COMPLETED: %w", err)
	}
	*task = working
	return nil
}

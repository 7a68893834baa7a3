package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
	"github.com/tgscan/transpipe/internal/packagefile"
)

func TestPackagingWorkerWritesFileAndCompletes(t *testing.T) {
	dir := t.TempDir()
	task := &domain.TranslationTask{
		TaskID:          "p1",
		Type:            domain.TaskTypeAudio,
		Status:          domain.StatusToPacking,
		STTResult:       "hello",
		TargetLanguages: []domain.LanguageCode{domain.LangZhCN},
		Translations:    domain.Translations{domain.LangZhCN: "你好"},
	}
	st := newFakeStore(task)
	br := &fakeBroker{}
	w := &PackagingWorker{store: st, broker: br, log: testLogger(), packageDir: dir, sampler: NewMemSampler(0)}

	ok := w.processOne(context.Background(), queuedMessage(task))
	require.True(t, ok)

	got, err := st.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, filepath.Join(dir, "p1.bin"), got.PackedFile)

	pkg, err := packagefile.Open(got.PackedFile)
	require.NoError(t, err)
	defer pkg.Close()
	text, ok, err := pkg.Query("p1", packagefile.SourceText, domain.LangZhCN)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "你好", text)

	audioText, ok, err := pkg.Query("p1", packagefile.SourceAudio, domain.LangZhCN)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", audioText)
}

func TestPackagingWorkerDropsWrongStatus(t *testing.T) {
	task := &domain.TranslationTask{TaskID: "p2", Status: domain.StatusPending, TargetLanguages: []domain.LanguageCode{domain.LangEnUS}}
	st := newFakeStore(task)
	br := &fakeBroker{}
	w := &PackagingWorker{store: st, broker: br, log: testLogger(), packageDir: t.TempDir(), sampler: NewMemSampler(0)}

	ok := w.processOne(context.Background(), queuedMessage(task))
	assert.True(t, ok) // drop-and-commit: the message itself is still "committable"

	got, _ := st.Get(context.Background(), "p2")
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestPackagingWorkerDroppedUnknownTaskIsCommittable(t *testing.T) {
	good := &domain.TranslationTask{TaskID: "g1", Status: domain.StatusToPacking, TargetLanguages: []domain.LanguageCode{domain.LangEnUS}, Translations: domain.Translations{domain.LangEnUS: "hi"}}
	st := newFakeStore(good)
	br := &fakeBroker{}
	w := &PackagingWorker{store: st, broker: br, log: testLogger(), packageDir: t.TempDir(), sampler: NewMemSampler(0)}

	goodMsg := queuedMessage(good)
	missingTask := &domain.TranslationTask{TaskID: "missing-task", TargetLanguages: []domain.LanguageCode{domain.LangEnUS}}
	missingMsg := queuedMessage(missingTask) // unknown to the store: still drop-and-commit (counts as committable)

	results := []broker.PartitionResult{
		{Message: goodMsg, Success: w.processOne(context.Background(), goodMsg)},
		{Message: missingMsg, Success: w.processOne(context.Background(), missingMsg)},
	}
	committable := broker.CommittablePrefix(results)
	assert.Len(t, committable, 2)
}

package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
	"github.com/tgscan/transpipe/internal/engine"
)

type fakeStore struct {
	mu     sync.Mutex
	tasks  map[string]*domain.TranslationTask
	updates []domain.TranslationTask
}

func newFakeStore(tasks ...*domain.TranslationTask) *fakeStore {
	m := make(map[string]*domain.TranslationTask, len(tasks))
	for _, t := range tasks {
		m[t.TaskID] = t
	}
	return &fakeStore{tasks: m}
}

func (f *fakeStore) Get(ctx context.Context, taskID string) (*domain.TranslationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) Update(ctx context.Context, t *domain.TranslationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.TaskID] = &cp
	f.updates = append(f.updates, cp)
	return nil
}

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMsg
	deleted   []broker.Message
}

type publishedMsg struct {
	topic   broker.Topic
	groupID string
	payload any
}

func (f *fakeBroker) Receive(ctx context.Context, topic broker.Topic, maxMessages, waitSeconds int32) ([]broker.Message, error) {
	return nil, nil
}

func (f *fakeBroker) Publish(ctx context.Context, topic broker.Topic, groupID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, groupID: groupID, payload: payload})
	return nil
}

func (f *fakeBroker) Delete(ctx context.Context, topic broker.Topic, msg broker.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msg)
	return nil
}

func (f *fakeBroker) DeleteBatch(ctx context.Context, topic broker.Topic, msgs []broker.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, msgs...)
	return nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, sourceFile string) (string, error) {
	return f.text, f.err
}

type fakeScorer struct {
	score *domain.STTScore
	err   error
}

func (f fakeScorer) Score(ctx context.Context, transcript, reference string) (*domain.STTScore, error) {
	return f.score, f.err
}

type fakeTranslator struct {
	translations []engine.Translation
	err          error
	failTimes    int
	calls        int
}

func (f *fakeTranslator) Translate(ctx context.Context, text string, targets []domain.LanguageCode) ([]engine.Translation, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, errors.New("engine unavailable")
	}
	return f.translations, f.err
}

package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]*domain.TranslationTask
}

func newFakeStore(tasks ...*domain.TranslationTask) *fakeStore {
	m := make(map[string]*domain.TranslationTask, len(tasks))
	for _, t := range tasks {
		m[t.TaskID] = t
	}
	return &fakeStore{tasks: m}
}

func (f *fakeStore) Create(ctx context.Context, t *domain.TranslationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.TaskID] = &cp
	return nil
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

func (f *fakeStore) Cancel(ctx context.Context, taskID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}
	t.Status = domain.StatusCancelled
	return true, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		topic   broker.Topic
		groupID string
	}
	err error
}

func (f *fakePublisher) Publish(ctx context.Context, topic broker.Topic, groupID string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, struct {
		topic   broker.Topic
		groupID string
	}{topic, groupID})
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCreateTextTaskPublishesToTranslationTopic(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := New(st, pub, testLogger())

	body := `{"type":"text","text":"hello","target_languages":["zh-CN","ja-JP"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp taskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "pending", resp.Status)

	require.Len(t, pub.published, 1)
	assert.Equal(t, broker.TopicTranslation, pub.published[0].topic)
}

func TestCreateAudioTaskPublishesToAudioTopic(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := New(st, pub, testLogger())

	body := `{"type":"audio","source_file":"a.mp3","reference_text":"hi","target_languages":["en-US"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, pub.published, 1)
	assert.Equal(t, broker.TopicAudio, pub.published[0].topic)
}

func TestCreateRejectsEmptyTargetLanguages(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := New(st, pub, testLogger())

	body := `{"type":"text","text":"hello","target_languages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pub.published)
}

func TestCreateRejectsUnknownLanguageCode(t *testing.T) {
	st := newFakeStore()
	pub := &fakePublisher{}
	h := New(st, pub, testLogger())

	body := `{"type":"text","text":"hello","target_languages":["xx-XX"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownTaskReturns404(t *testing.T) {
	h := New(newFakeStore(), &fakePublisher{}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/unknown-id", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTranslationNotReadyReturns400(t *testing.T) {
	task := &domain.TranslationTask{TaskID: "t1", Status: domain.StatusPending, TargetLanguages: []domain.LanguageCode{domain.LangFrFR}}
	h := New(newFakeStore(task), &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/t1/translations/fr-FR", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTranslationReturnsTextWhenCompleted(t *testing.T) {
	task := &domain.TranslationTask{
		TaskID: "t2", Status: domain.StatusCompleted,
		TargetLanguages: []domain.LanguageCode{domain.LangFrFR},
		Translations:    domain.Translations{domain.LangFrFR: "bonjour"},
	}
	h := New(newFakeStore(task), &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/t2/translations/fr-FR", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "bonjour", out["text"])
}

func TestCancelPendingTaskReturns204(t *testing.T) {
	task := &domain.TranslationTask{TaskID: "t3", Status: domain.StatusPending, TargetLanguages: []domain.LanguageCode{domain.LangEnUS}}
	h := New(newFakeStore(task), &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/v1/tasks/t3", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCancelCompletedTaskReturns404(t *testing.T) {
	task := &domain.TranslationTask{TaskID: "t4", Status: domain.StatusCompleted, TargetLanguages: []domain.LanguageCode{domain.LangEnUS}}
	h := New(newFakeStore(task), &fakePublisher{}, testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/v1/tasks/t4", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

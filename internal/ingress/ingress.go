// Package ingress is the HTTP surface (C4): it accepts new translation
// tasks, assigns their identity, persists the PENDING record, and publishes
// the QueuedTask to the stage topic appropriate for its type. It also
// serves status/cancel/per-language lookups against the task store.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tgscan/transpipe/internal/broker"
	"github.com/tgscan/transpipe/internal/domain"
)

// taskStore is the slice of *store.Store the ingress handlers depend on.
type taskStore interface {
	Create(ctx context.Context, t *domain.TranslationTask) error
	Get(ctx context.Context, taskID string) (*domain.TranslationTask, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
}

// publisher is the slice of *broker.Broker the ingress handlers depend on.
type publisher interface {
	Publish(ctx context.Context, topic broker.Topic, groupID string, payload any) error
}

// Handler serves the /v1/tasks surface.
type Handler struct {
	store     taskStore
	publisher publisher
	log       *slog.Logger
}

// New returns a Handler wired against store and publisher.
func New(store taskStore, pub publisher, log *slog.Logger) *Handler {
	return &Handler{store: store, publisher: pub, log: log}
}

// Routes returns a ServeMux with every ingress endpoint registered, using
// Go's method-and-path pattern matching rather than a third-party router —
// no router library is in reach of this project, and the route set is
// small and flat enough that the standard mux's pattern matching is a
// complete fit.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", h.handleCreate)
	mux.HandleFunc("GET /v1/tasks/{task_id}", h.handleGet)
	mux.HandleFunc("DELETE /v1/tasks/{task_id}", h.handleCancel)
	mux.HandleFunc("GET /v1/tasks/{task_id}/translations/{lang}", h.handleGetTranslation)
	return mux
}

type createTaskRequest struct {
	Type            string   `json:"type"`
	SourceFile      string   `json:"source_file,omitempty"`
	ReferenceText   string   `json:"reference_text,omitempty"`
	Text            string   `json:"text,omitempty"`
	TargetLanguages []string `json:"target_languages"`
}

// taskResponse is the wire shape of §6's TaskResponse example: status
// rendered lower-case, the score surfaced under "stt_accuracy".
type taskResponse struct {
	TaskID       string             `json:"task_id"`
	Status       string             `json:"status"`
	STTResult    string             `json:"stt_result,omitempty"`
	STTAccuracy  *domain.STTScore   `json:"stt_accuracy,omitempty"`
	Translations domain.Translations `json:"translations,omitempty"`
	PackedFile   string             `json:"packed_file,omitempty"`
}

func toResponse(t *domain.TranslationTask) taskResponse {
	return taskResponse{
		TaskID:       t.TaskID,
		Status:       strings.ToLower(string(t.Status)),
		STTResult:    t.STTResult,
		STTAccuracy:  t.STTScore,
		Translations: t.Translations,
		PackedFile:   t.PackedFile,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	langs := make([]domain.LanguageCode, len(req.TargetLanguages))
	for i, l := range req.TargetLanguages {
		langs[i] = domain.LanguageCode(l)
	}
	task := &domain.TranslationTask{
		TaskID:          uuid.NewString(),
		Type:            domain.TaskType(strings.ToUpper(req.Type)),
		Status:          domain.StatusPending,
		SourceFile:      req.SourceFile,
		ReferenceText:   req.ReferenceText,
		Text:            req.Text,
		TargetLanguages: langs,
	}
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.store.Create(r.Context(), task); err != nil {
		h.log.Error("create task failed", "task_id", task.TaskID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	topic := broker.TopicTranslation
	if task.Type == domain.TaskTypeAudio {
		topic = broker.TopicAudio
	}
	queued := domain.QueuedTaskFrom(task)
	if err := h.publisher.Publish(r.Context(), topic, task.TaskID, queued); err != nil {
		// The DB insert already committed (read-your-writes holds for the
		// GET that follows); the task is left in PENDING for a client retry
		// or out-of-core reconciler to republish. See design notes on the
		// ingress commit-then-publish ordering.
		h.log.Error("publish queued task failed", "task_id", task.TaskID, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(task))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	task, err := h.store.Get(r.Context(), taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrTaskNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(task))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	ok, err := h.store.Cancel(r.Context(), taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrTaskNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		// Already terminal: spec treats this the same as "unknown" on the wire.
		writeError(w, http.StatusNotFound, domain.ErrAlreadyTerminal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetTranslation(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	lang := domain.LanguageCode(r.PathValue("lang"))

	task, err := h.store.Get(r.Context(), taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrTaskNotFound)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if task.Status != domain.StatusCompleted {
		writeError(w, http.StatusBadRequest, domain.ErrTranslationNotReady)
		return
	}
	text, ok := task.Translations[lang]
	if !ok {
		writeError(w, http.StatusNotFound, domain.ErrLanguageMissing)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

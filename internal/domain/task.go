// Package domain holds the core task types shared across every stage of
// the translation pipeline: the language enum, the task state machine, the
// persisted task record, and the wire message passed between brokers.
package domain

import (
	"fmt"
	"time"
)

// LanguageCode is a closed set of supported BCP-47-like tags. Unknown tags
// are rejected at ingress, never at a downstream stage.
type LanguageCode string

const (
	LangZhCN LanguageCode = "zh-CN"
	LangZhTW LanguageCode = "zh-TW"
	LangEnUS LanguageCode = "en-US"
	LangJaJP LanguageCode = "ja-JP"
	LangKoKR LanguageCode = "ko-KR"
	LangFrFR LanguageCode = "fr-FR"
	LangDeDE LanguageCode = "de-DE"
	LangEsES LanguageCode = "es-ES"
	LangRuRU LanguageCode = "ru-RU"
	LangViVN LanguageCode = "vi-VN"
)

var validLanguages = map[LanguageCode]bool{
	LangZhCN: true, LangZhTW: true, LangEnUS: true, LangJaJP: true,
	LangKoKR: true, LangFrFR: true, LangDeDE: true, LangEsES: true,
	LangRuRU: true, LangViVN: true,
}

// ValidLanguage reports whether code is one of the supported tags.
func ValidLanguage(code LanguageCode) bool {
	return validLanguages[code]
}

// TaskType distinguishes an audio submission (transcribe + score + translate)
// from a plain text submission (translate only).
type TaskType string

const (
	TaskTypeAudio TaskType = "AUDIO"
	TaskTypeText  TaskType = "TEXT"
)

// TaskStatus is a node in the task's finite state machine. Transitions are
// only ever taken forward (PENDING -> TO_PACKING -> COMPLETED, with FAILED
// and CANCELLED reachable from either non-terminal status); terminal states
// never transition again.
type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusToPacking  TaskStatus = "TO_PACKING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// Terminal reports whether no further transition out of status is allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// STTScore is the structured quality score produced by the scoring engine
// when an audio task's transcript is checked against its reference text.
// The weighting (0.6 semantic + 0.3 completeness + 0.1 grammar) is computed
// by the engine itself; the pipeline only ever reads TotalScore/Acceptable.
type STTScore struct {
	SemanticAccuracy float64 `json:"semantic_accuracy"`
	Completeness     float64 `json:"completeness"`
	Grammar          float64 `json:"grammar"`
	TotalScore       float64 `json:"total_score"`
	Acceptable       bool    `json:"acceptable"`
	Comments         string  `json:"comments,omitempty"`
}

// Translations is the canonical in-memory shape for a task's translated
// text: one entry per requested target language. The external translation
// engine returns an ordered list; workers normalize it into this map the
// moment the engine call returns, so no other layer of the system ever has
// to deal with the list form.
type Translations map[LanguageCode]string

// TranslationTask is the persisted record for one unit of work, keyed by
// task_id. Optional string fields are omitted on the wire when empty; the
// score and completion time are pointers so that nil marks them as unset.
type TranslationTask struct {
	TaskID          string       `json:"task_id"`
	Type            TaskType     `json:"type"`
	Status          TaskStatus   `json:"status"`
	SourceFile      string       `json:"source_file,omitempty"`
	ReferenceText   string       `json:"reference_text,omitempty"`
	Text            string       `json:"text,omitempty"`
	TargetLanguages []LanguageCode `json:"target_languages"`
	STTResult       string       `json:"stt_result,omitempty"`
	STTScore        *STTScore    `json:"stt_score,omitempty"`
	Translations    Translations `json:"translations,omitempty"`
	PackedFile      string       `json:"packed_file,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// ReadyForPackaging reports whether every requested target language has a
// translation recorded, the precondition for TO_PACKING.
func (t *TranslationTask) ReadyForPackaging() bool {
	if t.Translations == nil {
		return false
	}
	for _, lang := range t.TargetLanguages {
		if _, ok := t.Translations[lang]; !ok {
			return false
		}
	}
	return true
}

// QueuedTask is the wire message published to every stage topic. It carries
// enough of the task's inputs that a worker never has to re-read them from
// the store, but workers MUST still re-read the store record to check
// status before acting — this field set is not authoritative for status.
type QueuedTask struct {
	TaskID          string         `json:"task_id"`
	Type            TaskType       `json:"type"`
	SourceFile      string         `json:"source_file,omitempty"`
	ReferenceText   string         `json:"reference_text,omitempty"`
	Text            string         `json:"text,omitempty"`
	TargetLanguages []LanguageCode `json:"target_languages"`
}

// QueuedTaskFrom builds the wire message for a task.
func QueuedTaskFrom(t *TranslationTask) QueuedTask {
	return QueuedTask{
		TaskID:          t.TaskID,
		Type:            t.Type,
		SourceFile:      t.SourceFile,
		ReferenceText:   t.ReferenceText,
		Text:            t.Text,
		TargetLanguages: t.TargetLanguages,
	}
}

// Validate checks the creation-time invariants of a new task request and
// normalizes TargetLanguages (dedup, preserving first-seen order).
func (t *TranslationTask) Validate() error {
	if t.Type != TaskTypeAudio && t.Type != TaskTypeText {
		return fmt.Errorf("%w: unknown task type %q", ErrInvalidRequest, t.Type)
	}
	if len(t.TargetLanguages) == 0 {
		return fmt.Errorf("%w: target_languages must be non-empty", ErrInvalidRequest)
	}
	seen := make(map[LanguageCode]bool, len(t.TargetLanguages))
	deduped := make([]LanguageCode, 0, len(t.TargetLanguages))
	for _, lang := range t.TargetLanguages {
		if !ValidLanguage(lang) {
			return fmt.Errorf("%w: unknown language code %q", ErrInvalidRequest, lang)
		}
		if seen[lang] {
			continue
		}
		seen[lang] = true
		deduped = append(deduped, lang)
	}
	t.TargetLanguages = deduped

	switch t.Type {
	case TaskTypeAudio:
		if t.SourceFile == "" {
			return fmt.Errorf("%w: source_file required for audio task", ErrInvalidRequest)
		}
		if t.Text != "" {
			return fmt.Errorf("%w: text must be empty for audio task", ErrInvalidRequest)
		}
	case TaskTypeText:
		if t.Text == "" {
			return fmt.Errorf("%w: text required for text task", ErrInvalidRequest)
		}
		if t.SourceFile != "" || t.ReferenceText != "" {
			return fmt.Errorf("%w: source_file/reference_text must be empty for text task", ErrInvalidRequest)
		}
	}
	return nil
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgscan/transpipe/internal/domain"
)

func TestItemRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	completed := now.Add(time.Minute)
	task := &domain.TranslationTask{
		TaskID:          "11111111-1111-1111-1111-111111111111",
		Type:            domain.TaskTypeAudio,
		Status:          domain.StatusToPacking,
		SourceFile:      "1.mp3",
		ReferenceText:   "hello world",
		TargetLanguages: []domain.LanguageCode{domain.LangZhCN, domain.LangJaJP},
		STTResult:       "hello world",
		STTScore: &domain.STTScore{
			SemanticAccuracy: 0.9,
			Completeness:     0.95,
			Grammar:          1.0,
			TotalScore:       0.91,
			Acceptable:       true,
		},
		Translations: domain.Translations{
			domain.LangZhCN: "你好世界",
			domain.LangJaJP: "こんにちは世界",
		},
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &completed,
	}

	it := toItem(task)
	assert.Equal(t, "TASK#"+task.TaskID, it.PK)
	assert.Equal(t, taskSK, it.SK)

	back, err := fromItem(it)
	require.NoError(t, err)
	assert.Equal(t, task.TaskID, back.TaskID)
	assert.Equal(t, task.Type, back.Type)
	assert.Equal(t, task.Status, back.Status)
	assert.Equal(t, task.TargetLanguages, back.TargetLanguages)
	assert.Equal(t, task.Translations, back.Translations)
	assert.Equal(t, task.STTScore, back.STTScore)
	assert.True(t, task.CreatedAt.Equal(back.CreatedAt))
	require.NotNil(t, back.CompletedAt)
	assert.True(t, task.CompletedAt.Equal(*back.CompletedAt))
}

func TestItemRoundTripWithoutOptionalFields(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &domain.TranslationTask{
		TaskID:          "22222222-2222-2222-2222-222222222222",
		Type:            domain.TaskTypeText,
		Status:          domain.StatusPending,
		Text:            "hello",
		TargetLanguages: []domain.LanguageCode{domain.LangEnUS},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	back, err := fromItem(toItem(task))
	require.NoError(t, err)
	assert.Nil(t, back.CompletedAt)
	assert.Nil(t, back.STTScore)
	assert.Nil(t, back.Translations)
}

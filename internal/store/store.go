// Package store persists TranslationTask records in DynamoDB: creation,
// full-record updates, and an atomic compare-and-set cancellation, following
// the single-table item layout and ConditionExpression-based CAS pattern
// used by the project's other DynamoDB-backed store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tgscan/transpipe/internal/domain"
)

// item is the DynamoDB representation of a TranslationTask. PK/SK follow a
// single-table design so the table can later host related entities without
// a migration; today every item is a task record.
type item struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`

	TaskID          string              `dynamodbav:"taskId"`
	Type            string              `dynamodbav:"type"`
	Status          string              `dynamodbav:"status"`
	SourceFile      string              `dynamodbav:"sourceFile,omitempty"`
	ReferenceText   string              `dynamodbav:"referenceText,omitempty"`
	Text            string              `dynamodbav:"text,omitempty"`
	TargetLanguages []string            `dynamodbav:"targetLanguages"`
	STTResult       string              `dynamodbav:"sttResult,omitempty"`
	STTScore        *domain.STTScore    `dynamodbav:"sttScore,omitempty"`
	Translations    map[string]string   `dynamodbav:"translations,omitempty"`
	PackedFile      string              `dynamodbav:"packedFile,omitempty"`
	CreatedAt       string              `dynamodbav:"createdAt"`
	UpdatedAt       string              `dynamodbav:"updatedAt"`
	CompletedAt     string              `dynamodbav:"completedAt,omitempty"`
}

func taskPK(taskID string) string { return "TASK#" + taskID }
const taskSK = "METADATA"

func toItem(t *domain.TranslationTask) item {
	langs := make([]string, len(t.TargetLanguages))
	for i, l := range t.TargetLanguages {
		langs[i] = string(l)
	}
	var translations map[string]string
	if t.Translations != nil {
		translations = make(map[string]string, len(t.Translations))
		for lang, text := range t.Translations {
			translations[string(lang)] = text
		}
	}
	var completedAt string
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return item{
		PK:              taskPK(t.TaskID),
		SK:              taskSK,
		TaskID:          t.TaskID,
		Type:            string(t.Type),
		Status:          string(t.Status),
		SourceFile:      t.SourceFile,
		ReferenceText:   t.ReferenceText,
		Text:            t.Text,
		TargetLanguages: langs,
		STTResult:       t.STTResult,
		STTScore:        t.STTScore,
		Translations:    translations,
		PackedFile:      t.PackedFile,
		CreatedAt:       t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		CompletedAt:     completedAt,
	}
}

func fromItem(it item) (*domain.TranslationTask, error) {
	langs := make([]domain.LanguageCode, len(it.TargetLanguages))
	for i, l := range it.TargetLanguages {
		langs[i] = domain.LanguageCode(l)
	}
	var translations domain.Translations
	if it.Translations != nil {
		translations = make(domain.Translations, len(it.Translations))
		for lang, text := range it.Translations {
			translations[domain.LanguageCode(lang)] = text
		}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse createdAt: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updatedAt: %w", err)
	}
	var completedAt *time.Time
	if it.CompletedAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, it.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completedAt: %w", err)
		}
		completedAt = &ts
	}
	return &domain.TranslationTask{
		TaskID:          it.TaskID,
		Type:            domain.TaskType(it.Type),
		Status:          domain.TaskStatus(it.Status),
		SourceFile:      it.SourceFile,
		ReferenceText:   it.ReferenceText,
		Text:            it.Text,
		TargetLanguages: langs,
		STTResult:       it.STTResult,
		STTScore:        it.STTScore,
		Translations:    translations,
		PackedFile:      it.PackedFile,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		CompletedAt:     completedAt,
	}, nil
}

// Store wraps a DynamoDB client for task persistence.
type Store struct {
	client    *dynamodb.Client
	tableName string
}

// New returns a Store backed by client, reading and writing tableName.
func New(client *dynamodb.Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Create inserts a new task record. It fails if task_id already exists —
// ids are generated by the caller (UUIDv4) so a collision indicates a bug,
// not a race to be retried.
func (s *Store) Create(ctx context.Context, t *domain.TranslationTask) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	av, err := attributevalue.MarshalMap(toItem(t))
	if err != nil {
		return fmt.Errorf("marshal task item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("put task item: %w", err)
	}
	return nil
}

// Get fetches a task by id. Returns domain.ErrTaskNotFound if absent.
func (s *Store) Get(ctx context.Context, taskID string) (*domain.TranslationTask, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: taskPK(taskID)},
			"SK": &types.AttributeValueMemberS{Value: taskSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get task item: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrTaskNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal task item: %w", err)
	}
	return fromItem(it)
}

// Update overwrites the task record, bumping updated_at. Callers pass the
// full record (read-modify-write at the application layer); the underlying
// PutItem is serialised per task_id by DynamoDB's per-item consistency.
func (s *Store) Update(ctx context.Context, t *domain.TranslationTask) error {
	t.UpdatedAt = time.Now().UTC()
	av, err := attributevalue.MarshalMap(toItem(t))
	if err != nil {
		return fmt.Errorf("marshal task item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("update task item: %w", err)
	}
	return nil
}

// Cancel performs the compare-and-set cancellation required by the task
// contract: the status flips to CANCELLED iff it is not already one of the
// terminal statuses. Returns (true, nil) if this call performed the
// transition, (false, nil) if the task was already terminal (no-op), and
// (false, domain.ErrTaskNotFound) if the task doesn't exist.
func (s *Store) Cancel(ctx context.Context, taskID string) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: taskPK(taskID)},
			"SK": &types.AttributeValueMemberS{Value: taskSK},
		},
		UpdateExpression: aws.String("SET #status = :cancelled, updatedAt = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(PK) AND #status <> :completed AND #status <> :failed AND #status <> :cancelled",
		),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cancelled": &types.AttributeValueMemberS{Value: string(domain.StatusCancelled)},
			":completed": &types.AttributeValueMemberS{Value: string(domain.StatusCompleted)},
			":failed":    &types.AttributeValueMemberS{Value: string(domain.StatusFailed)},
			":now":       &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err == nil {
		return true, nil
	}

	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		// Either the item doesn't exist or it's already terminal. Distinguish
		// the two with a plain Get — cancel() itself doesn't need to, but the
		// caller's 404-vs-204 decision does.
		if _, getErr := s.Get(ctx, taskID); errors.Is(getErr, domain.ErrTaskNotFound) {
			return false, domain.ErrTaskNotFound
		}
		return false, nil
	}
	return false, fmt.Errorf("cancel task: %w", err)
}

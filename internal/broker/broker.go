// Package broker is the typed publish/consume client used to hand work off
// between pipeline stages. It is built on SQS FIFO queues: one queue per
// named topic, MessageGroupId standing in for a Kafka-style partition so
// that per-task ordering is preserved, and manual acknowledgement via
// DeleteMessage (never auto-delete-on-receive) so every stage controls
// exactly when a message is considered durably processed.
package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Topic names the three stage hand-off queues.
type Topic string

const (
	TopicAudio       Topic = "audio"
	TopicTranslation Topic = "translation"
	TopicPackage     Topic = "package"
)

// Message is one delivered, not-yet-acknowledged item.
type Message struct {
	Body          []byte
	GroupID       string // the task_id: every message for a task lands in the same group, preserving order
	ReceiptHandle string
	SequenceNumber string
}

// sqsAPI is the subset of *sqs.Client the broker calls, so tests can supply
// a fake without standing up real SQS.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Broker publishes and consumes JSON-encoded messages against a fixed set
// of named topics, each backed by one SQS FIFO queue URL.
type Broker struct {
	client    sqsAPI
	queueURLs map[Topic]string
}

// Config maps each topic name to the SQS queue URL that backs it.
type Config struct {
	AudioQueueURL       string
	TranslationQueueURL string
	PackageQueueURL     string
}

// New builds a Broker from a live SQS client and the topic->queue mapping.
func New(client *sqs.Client, cfg Config) *Broker {
	return &Broker{
		client: client,
		queueURLs: map[Topic]string{
			TopicAudio:       cfg.AudioQueueURL,
			TopicTranslation: cfg.TranslationQueueURL,
			TopicPackage:     cfg.PackageQueueURL,
		},
	}
}

func (b *Broker) queueURL(topic Topic) (string, error) {
	url, ok := b.queueURLs[topic]
	if !ok || url == "" {
		return "", fmt.Errorf("broker: no queue configured for topic %q", topic)
	}
	return url, nil
}

// Publish JSON-encodes payload and sends it to topic, grouped by groupID so
// every message belonging to the same task is delivered in order relative
// to the others in that group.
func (b *Broker) Publish(ctx context.Context, topic Topic, groupID string, payload any) error {
	url, err := b.queueURL(topic)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	dedupe := dedupeID(groupID, body)
	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               &url,
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(groupID),
		MessageDeduplicationId: aws.String(dedupe),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func dedupeID(groupID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(groupID))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Receive polls topic for up to maxMessages, waiting waitSeconds for
// messages to arrive (long polling). Messages are not removed from the
// queue; callers must call Delete/DeleteBatch once processing succeeds, or
// let the visibility timeout expire to trigger redelivery.
func (b *Broker) Receive(ctx context.Context, topic Topic, maxMessages, waitSeconds int32) ([]Message, error) {
	url, err := b.queueURL(topic)
	if err != nil {
		return nil, err
	}
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              &url,
		MaxNumberOfMessages:   maxMessages,
		WaitTimeSeconds:       waitSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameMessageGroupId,
			types.MessageSystemAttributeNameSequenceNumber,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", topic, err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		var body string
		if m.Body != nil {
			body = *m.Body
		}
		msgs = append(msgs, Message{
			Body:           []byte(body),
			GroupID:        m.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
			ReceiptHandle:  aws.ToString(m.ReceiptHandle),
			SequenceNumber: m.Attributes[string(types.MessageSystemAttributeNameSequenceNumber)],
		})
	}
	return msgs, nil
}

// Delete acknowledges a single message.
func (b *Broker) Delete(ctx context.Context, topic Topic, msg Message) error {
	url, err := b.queueURL(topic)
	if err != nil {
		return err
	}
	_, err = b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &url,
		ReceiptHandle: &msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", topic, err)
	}
	return nil
}

// DeleteBatch acknowledges up to 10 messages in one call (the SQS batch
// limit); callers with more than 10 to ack chunk themselves.
func (b *Broker) DeleteBatch(ctx context.Context, topic Topic, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	url, err := b.queueURL(topic)
	if err != nil {
		return err
	}
	entries := make([]types.DeleteMessageBatchRequestEntry, len(msgs))
	for i, m := range msgs {
		id := fmt.Sprintf("%d", i)
		entries[i] = types.DeleteMessageBatchRequestEntry{
			Id:            &id,
			ReceiptHandle: &m.ReceiptHandle,
		}
	}
	_, err = b.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: &url,
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("delete batch from %s: %w", topic, err)
	}
	return nil
}

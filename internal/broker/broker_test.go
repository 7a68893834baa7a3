package broker

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []sqs.SendMessageInput
	toReturn []types.Message
	deleted  []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, *in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.toReturn}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	for _, e := range in.Entries {
		f.deleted = append(f.deleted, *e.ReceiptHandle)
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func newTestBroker(fake *fakeSQS) *Broker {
	return &Broker{
		client: fake,
		queueURLs: map[Topic]string{
			TopicAudio:       "https://sqs.example/audio",
			TopicTranslation: "https://sqs.example/translation",
			TopicPackage:     "https://sqs.example/package",
		},
	}
}

func TestPublishSendsGroupedJSON(t *testing.T) {
	fake := &fakeSQS{}
	b := newTestBroker(fake)

	err := b.Publish(context.Background(), TopicAudio, "task-1", map[string]string{"task_id": "task-1"})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	sent := fake.sent[0]
	assert.Equal(t, "task-1", aws.ToString(sent.MessageGroupId))
	assert.JSONEq(t, `{"task_id":"task-1"}`, aws.ToString(sent.MessageBody))
	assert.NotEmpty(t, aws.ToString(sent.MessageDeduplicationId))
}

func TestPublishUnknownTopic(t *testing.T) {
	b := &Broker{client: &fakeSQS{}, queueURLs: map[Topic]string{}}
	err := b.Publish(context.Background(), TopicAudio, "g", map[string]string{})
	assert.Error(t, err)
}

func TestReceiveMapsAttributes(t *testing.T) {
	fake := &fakeSQS{
		toReturn: []types.Message{
			{
				Body:          aws.String(`{"task_id":"t1"}`),
				ReceiptHandle: aws.String("rh-1"),
				Attributes: map[string]string{
					string(types.MessageSystemAttributeNameMessageGroupId):  "t1",
					string(types.MessageSystemAttributeNameSequenceNumber): "100",
				},
			},
		},
	}
	b := newTestBroker(fake)

	msgs, err := b.Receive(context.Background(), TopicAudio, 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "t1", msgs[0].GroupID)
	assert.Equal(t, "100", msgs[0].SequenceNumber)
	assert.Equal(t, "rh-1", msgs[0].ReceiptHandle)
}

func TestDeleteBatch(t *testing.T) {
	fake := &fakeSQS{}
	b := newTestBroker(fake)

	err := b.DeleteBatch(context.Background(), TopicPackage, []Message{
		{ReceiptHandle: "a"},
		{ReceiptHandle: "b"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, fake.deleted)
}

func TestDeleteBatchEmptyIsNoop(t *testing.T) {
	fake := &fakeSQS{}
	b := newTestBroker(fake)
	require.NoError(t, b.DeleteBatch(context.Background(), TopicPackage, nil))
	assert.Empty(t, fake.deleted)
}

package sqssink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamdynS/leech/sink"
)

type fakeSQS struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func record() sink.Record {
	return sink.Record{
		ID:             "Fungus/f-1/genome/3",
		IdentifierStem: "Fungus",
		RemoteID:       "f-1",
		ChangeType:     "genome",
		ChangeID:       3,
		Action:         "update",
		Fields:         map[string]any{"name": "g3"},
		EmittedAt:      time.Unix(100, 0).UTC(),
	}
}

func TestEmit_Standard(t *testing.T) {
	client := &fakeSQS{}
	s := NewFromClient(client, Config{QueueURL: "https://sqs/q", DelaySeconds: 5})
	require.NoError(t, s.Emit(context.Background(), record()))

	require.Len(t, client.sent, 1)
	in := client.sent[0]
	assert.Equal(t, "https://sqs/q", aws.ToString(in.QueueUrl))
	assert.Nil(t, in.MessageGroupId)
	assert.Nil(t, in.MessageDeduplicationId)
	assert.Equal(t, int32(5), in.DelaySeconds)
	assert.Equal(t, "3", aws.ToString(in.MessageAttributes["ChangeID"].StringValue))
	assert.Equal(t, "update", aws.ToString(in.MessageAttributes["Action"].StringValue))

	var got sink.Record
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, record().ID, got.ID)
	assert.Equal(t, record().Fields, got.Fields)
	assert.True(t, record().EmittedAt.Equal(got.EmittedAt))
}

func TestEmit_FIFO(t *testing.T) {
	client := &fakeSQS{}
	s := NewFromClient(client, Config{QueueURL: "q.fifo", FIFO: true, DelaySeconds: 5})
	require.NoError(t, s.Emit(context.Background(), record()))

	in := client.sent[0]
	assert.Equal(t, "Fungus/f-1", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "Fungus/f-1/genome/3", aws.ToString(in.MessageDeduplicationId))
	assert.Zero(t, in.DelaySeconds)

	s = NewFromClient(client, Config{QueueURL: "q.fifo", FIFO: true, MessageGroupID: "all"})
	require.NoError(t, s.Emit(context.Background(), record()))
	assert.Equal(t, "all", aws.ToString(client.sent[1].MessageGroupId))
}

func TestEmit_Error(t *testing.T) {
	s := NewFromClient(&fakeSQS{err: errors.New("throttled")}, Config{QueueURL: "q"})
	err := s.Emit(context.Background(), record())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Fungus/f-1/genome/3")
}

func TestNew_RequiresQueueURL(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

// Package sqssink hands emitted change records to an SQS queue.
package sqssink

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	json "github.com/goccy/go-json"

	"github.com/KamdynS/leech/sink"
)

// Ensure Sink implements sink.Sink
var _ sink.Sink = (*Sink)(nil)

// API is the part of the SQS client the sink uses.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Sink implements sink.Sink backed by AWS SQS.
type Sink struct {
	client API
	cfg    Config
}

// New constructs a new SQS sink using the default AWS config chain.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := sqs.NewFromConfig(awscfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg), nil
}

// NewFromClient constructs the sink from an existing SQS client.
func NewFromClient(client API, cfg Config) *Sink {
	return &Sink{client: client, cfg: cfg}
}

// Emit sends a record to SQS. Standard queues may deliver a record more
// than once; consumers deduplicate on the record id.
func (s *Sink) Emit(ctx context.Context, rec sink.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"IdentifierStem": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.IdentifierStem),
			},
			"ChangeType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.ChangeType),
			},
			"ChangeID": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(rec.ChangeID, 10)),
			},
		},
	}
	if rec.Action != "" {
		input.MessageAttributes["Action"] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(rec.Action),
		}
	}
	if s.cfg.FIFO {
		groupID := s.cfg.MessageGroupID
		if groupID == "" {
			groupID = rec.IdentifierStem + "/" + rec.RemoteID
		}
		input.MessageGroupId = aws.String(groupID)
		// Deduplication window is 5 minutes for FIFO standard dedup
		input.MessageDeduplicationId = aws.String(rec.ID)
	} else if s.cfg.DelaySeconds > 0 {
		input.DelaySeconds = s.cfg.DelaySeconds
	}
	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs SendMessage %s: %w", rec.ID, err)
	}
	return nil
}

// Package dynamostore is a DynamoDB-backed graph store. Vertices are items
// keyed by (sid, identifier stem); exactly-once writes and progress stages use
// conditional updates.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/KamdynS/leech/graph"
)

// Ensure Store implements graph.Store
var _ graph.Store = (*Store)(nil)

// API is the part of the DynamoDB client the store uses.
type API interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Store implements graph.Store on a DynamoDB table.
type Store struct {
	client API
	cfg    Config
	now    func() time.Time
}

// New constructs a Store using the default AWS config chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awscfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg), nil
}

// NewFromClient constructs the store from an existing client.
func NewFromClient(client API, cfg Config) *Store {
	return &Store{client: client, cfg: cfg.withDefaults(), now: time.Now}
}

func (s *Store) key(k graph.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.cfg.PartitionKey: &types.AttributeValueMemberS{Value: k.SID},
		s.cfg.SortKey:      &types.AttributeValueMemberS{Value: k.Stem},
	}
}

func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// IDs queries the stem index for every vertex of a stem.
func (s *Store) IDs(ctx context.Context, stem string) ([]string, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.cfg.Table),
		IndexName:                aws.String(s.cfg.IndexName),
		KeyConditionExpression:   aws.String("#stem = :stem"),
		ProjectionExpression:     aws.String("#sid"),
		ExpressionAttributeNames: map[string]string{"#stem": s.cfg.SortKey, "#sid": s.cfg.PartitionKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stem": &types.AttributeValueMemberS{Value: stem},
		},
	})
	var ids []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb query %s: %w", stem, err)
		}
		for _, item := range page.Items {
			if v, ok := item[s.cfg.PartitionKey].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("stem %s: %w", stem, graph.ErrEmptyIndex)
	}
	sort.Strings(ids)
	return ids, nil
}

// Put writes the vertex unless an item with its key exists.
func (s *Store) Put(ctx context.Context, k graph.Key) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.cfg.Table),
		Key:                      s.key(k),
		UpdateExpression:         aws.String("SET linked = :f, created_at = :now, progress = if_not_exists(progress, :empty)"),
		ConditionExpression:      aws.String("attribute_not_exists(#pk) OR attribute_not_exists(created_at)"),
		ExpressionAttributeNames: map[string]string{"#pk": s.cfg.PartitionKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f":     &types.AttributeValueMemberBOOL{Value: false},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Unix(), 10)},
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dynamodb put %s/%s: %w", k.Stem, k.SID, err)
	}
	return true, nil
}

func (s *Store) SetLinked(ctx context.Context, k graph.Key, linked bool) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.cfg.Table),
		Key:                      s.key(k),
		UpdateExpression:         aws.String("SET linked = :l"),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": s.cfg.PartitionKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":l": &types.AttributeValueMemberBOOL{Value: linked},
		},
	})
	if conditionFailed(err) {
		return fmt.Errorf("vertex %s/%s not found", k.Stem, k.SID)
	}
	if err != nil {
		return fmt.Errorf("dynamodb set linked %s/%s: %w", k.Stem, k.SID, err)
	}
	return nil
}

func (s *Store) Progress(ctx context.Context, k graph.Key, stage string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.cfg.Table),
		Key:                      s.key(k),
		ProjectionExpression:     aws.String("progress.#stage"),
		ExpressionAttributeNames: map[string]string{"#stage": stage},
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamodb get progress %s/%s: %w", k.Stem, k.SID, err)
	}
	progress, ok := out.Item["progress"].(*types.AttributeValueMemberM)
	if !ok {
		return 0, nil
	}
	v, ok := progress.Value[stage].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("progress %s of %s/%s: %w", stage, k.Stem, k.SID, err)
	}
	return n, nil
}

// Advance raises progress.<stage>. The progress map is created first since
// a nested path cannot be set on a missing map.
func (s *Store) Advance(ctx context.Context, k graph.Key, stage string, value int64) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.cfg.Table),
		Key:              s.key(k),
		UpdateExpression: aws.String("SET progress = if_not_exists(progress, :empty)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
		},
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb init progress %s/%s: %w", k.Stem, k.SID, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.cfg.Table),
		Key:                      s.key(k),
		UpdateExpression:         aws.String("SET progress.#stage = :v"),
		ConditionExpression:      aws.String("attribute_not_exists(progress.#stage) OR progress.#stage < :v"),
		ExpressionAttributeNames: map[string]string{"#stage": stage},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(value, 10)},
		},
	})
	if conditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dynamodb advance %s of %s/%s: %w", stage, k.Stem, k.SID, err)
	}
	return true, nil
}

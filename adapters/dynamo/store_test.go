package dynamostore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamdynS/leech/graph"
)

// fakeDynamo answers from canned responses and records update requests.
type fakeDynamo struct {
	pages   []*dynamodb.QueryOutput
	queries []*dynamodb.QueryInput
	item    map[string]types.AttributeValue
	updates []*dynamodb.UpdateItemInput
	// updateErr is returned by the update at the same position, if any.
	updateErr []error
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	if len(f.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	n := len(f.updates)
	f.updates = append(f.updates, in)
	if n < len(f.updateErr) && f.updateErr[n] != nil {
		return nil, f.updateErr[n]
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func sid(v string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"sid_value": &types.AttributeValueMemberS{Value: v}}
}

var conditionFailedErr = &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}

func TestIDs_Paginates(t *testing.T) {
	f := &fakeDynamo{pages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{sid("c"), sid("a")}, LastEvaluatedKey: sid("a")},
		{Items: []map[string]types.AttributeValue{sid("b")}},
	}}
	s := NewFromClient(f, Config{})

	ids, err := s.IDs(context.Background(), "Fungus")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	require.Len(t, f.queries, 2)
	assert.Equal(t, "stems", aws.ToString(f.queries[0].IndexName))
	assert.Equal(t, "GraphObjects", aws.ToString(f.queries[0].TableName))
	assert.NotNil(t, f.queries[1].ExclusiveStartKey)
}

func TestIDs_EmptyIndex(t *testing.T) {
	s := NewFromClient(&fakeDynamo{}, Config{})
	_, err := s.IDs(context.Background(), "Fungus")
	assert.ErrorIs(t, err, graph.ErrEmptyIndex)
}

func TestPut(t *testing.T) {
	f := &fakeDynamo{updateErr: []error{nil, conditionFailedErr, errors.New("throttled")}}
	s := NewFromClient(f, Config{Table: "T", PartitionKey: "pk", SortKey: "sk"})
	ctx := context.Background()
	k := graph.Key{SID: "f-1", Stem: "Fungus"}

	created, err := s.Put(ctx, k)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Put(ctx, k)
	require.NoError(t, err)
	assert.False(t, created, "a failed condition means the vertex exists")

	_, err = s.Put(ctx, k)
	assert.Error(t, err)

	in := f.updates[0]
	assert.Equal(t, "T", aws.ToString(in.TableName))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "f-1"}, in.Key["pk"])
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Fungus"}, in.Key["sk"])
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_not_exists(#pk)")
	assert.Equal(t, "pk", in.ExpressionAttributeNames["#pk"])
}

func TestSetLinked_Missing(t *testing.T) {
	f := &fakeDynamo{updateErr: []error{conditionFailedErr}}
	s := NewFromClient(f, Config{})
	err := s.SetLinked(context.Background(), graph.Key{SID: "f-1", Stem: "Fungus"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProgress(t *testing.T) {
	f := &fakeDynamo{}
	s := NewFromClient(f, Config{})
	ctx := context.Background()
	k := graph.Key{SID: "f-1", Stem: "Fungus"}

	v, err := s.Progress(ctx, k, "change:genome")
	require.NoError(t, err)
	assert.Zero(t, v)

	f.item = map[string]types.AttributeValue{
		"progress": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"change:genome": &types.AttributeValueMemberN{Value: "42"},
		}},
	}
	v, err = s.Progress(ctx, k, "change:genome")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestAdvance(t *testing.T) {
	f := &fakeDynamo{updateErr: []error{nil, nil, nil, conditionFailedErr}}
	s := NewFromClient(f, Config{})
	ctx := context.Background()
	k := graph.Key{SID: "f-1", Stem: "Fungus"}

	changed, err := s.Advance(ctx, k, "change:genome", 7)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Advance(ctx, k, "change:genome", 3)
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, f.updates, 4)
	raise := f.updates[1]
	assert.Equal(t, "SET progress.#stage = :v", aws.ToString(raise.UpdateExpression))
	assert.Equal(t, "change:genome", raise.ExpressionAttributeNames["#stage"])
	assert.Equal(t, &types.AttributeValueMemberN{Value: "7"}, raise.ExpressionAttributeValues[":v"])
}

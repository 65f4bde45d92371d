package dynamostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KamdynS/leech/graph"
)

func newLocalstackStore(t *testing.T) *Store {
	t.Helper()
	endpoint := os.Getenv("LOCALSTACK_URL")
	if endpoint == "" {
		t.Skip("LOCALSTACK_URL not set; skipping DynamoDB integration tests")
	}
	ctx := context.Background()
	awscfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
	require.NoError(t, err)
	client := dynamodb.NewFromConfig(awscfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cfg := DefaultConfig()
	cfg.Table = "leech-test-" + time.Now().UTC().Format("20060102150405")
	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(cfg.Table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(cfg.PartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(cfg.SortKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(cfg.PartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(cfg.SortKey), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(cfg.IndexName),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(cfg.SortKey), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(cfg.Table)})
	})
	return NewFromClient(client, cfg)
}

func TestStoreLifecycle(t *testing.T) {
	s := newLocalstackStore(t)
	ctx := context.Background()
	k := graph.Key{SID: "f-1", Stem: "Fungus"}

	created, err := s.Put(ctx, k)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.Put(ctx, k)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, s.SetLinked(ctx, k, true))
	assert.Error(t, s.SetLinked(ctx, graph.Key{SID: "missing", Stem: "Fungus"}, true))

	changed, err := s.Advance(ctx, k, "change:genome", 5)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.Advance(ctx, k, "change:genome", 2)
	require.NoError(t, err)
	assert.False(t, changed)

	v, err := s.Progress(ctx, k, "change:genome")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	require.Eventually(t, func() bool {
		ids, err := s.IDs(ctx, "Fungus")
		return err == nil && len(ids) == 1 && ids[0] == "f-1"
	}, 5*time.Second, 100*time.Millisecond, "index is eventually consistent")
}

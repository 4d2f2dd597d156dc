package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore implements CounterStore on a DynamoDB table with a string
// partition key named "key". Counters use atomic ADD updates and expire
// through the table's TTL attribute "expires_at".
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// counterItem represents a counter in DynamoDB
type counterItem struct {
	Key       string `dynamodbav:"key"`
	Count     int64  `dynamodbav:"count"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"` // epoch seconds
}

// NewDynamoDBStore creates a DynamoDB-backed counter store
func NewDynamoDBStore(ctx context.Context, tableName, region string) (*DynamoDBStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewDynamoDBStoreWithClient(dynamodb.NewFromConfig(cfg), tableName), nil
}

// NewDynamoDBStoreWithClient creates a store on an existing client.
func NewDynamoDBStoreWithClient(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func (d *DynamoDBStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

// Incr atomically adds one to the counter
func (d *DynamoDBStore) Incr(ctx context.Context, key string) (int64, error) {
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              d.itemKey(key),
		UpdateExpression: aws.String("ADD #count :one"),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update item in DynamoDB: %w", err)
	}

	var item counterItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("failed to unmarshal DynamoDB item: %w", err)
	}

	return item.Count, nil
}

// Expire sets the item's expires_at. Missing items are left alone.
func (d *DynamoDBStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	expiresAt := d.now().Add(ttl).Unix()

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 d.itemKey(key),
		UpdateExpression:    aws.String("SET #expires_at = :expires_at"),
		ConditionExpression: aws.String("attribute_exists(#key)"),
		ExpressionAttributeNames: map[string]string{
			"#expires_at": "expires_at",
			"#key":        "key",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("failed to set expiry in DynamoDB: %w", err)
	}

	return nil
}

// Get reads the counter. Items past expires_at count as missing because
// DynamoDB deletes expired items lazily.
func (d *DynamoDBStore) Get(ctx context.Context, key string) (int64, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}

	if out.Item == nil {
		return 0, false, nil
	}

	var item counterItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return 0, false, fmt.Errorf("failed to unmarshal DynamoDB item: %w", err)
	}

	if item.ExpiresAt > 0 && item.ExpiresAt <= d.now().Unix() {
		return 0, false, nil
	}

	return item.Count, true, nil
}

// Close is a no-op; the DynamoDB client holds no connections to release.
func (d *DynamoDBStore) Close() error {
	return nil
}

// Ping checks if DynamoDB is accessible
func (d *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return fmt.Errorf("DynamoDB health check failed: %w", err)
	}
	return nil
}

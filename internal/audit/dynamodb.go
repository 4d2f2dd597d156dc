package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoDBPutter is the subset of the DynamoDB client used by DynamoDBSink.
type DynamoDBPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDBSink stores audit records in a DynamoDB table keyed by id.
// Items carry an expires_at attribute for the table's TTL.
type DynamoDBSink struct {
	client    DynamoDBPutter
	tableName string
	retention time.Duration
}

type dynamoDBAuditItem struct {
	Record
	ExpiresAt int64 `dynamodbav:"expires_at,omitempty"`
}

// NewDynamoDBSink creates a sink using the default AWS credential chain.
func NewDynamoDBSink(ctx context.Context, tableName, region string, retention time.Duration) (*DynamoDBSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewDynamoDBSinkWithClient(dynamodb.NewFromConfig(cfg), tableName, retention), nil
}

// NewDynamoDBSinkWithClient creates a sink on an existing client.
func NewDynamoDBSinkWithClient(client DynamoDBPutter, tableName string, retention time.Duration) *DynamoDBSink {
	return &DynamoDBSink{
		client:    client,
		tableName: tableName,
		retention: retention,
	}
}

// Write stores rec.
func (s *DynamoDBSink) Write(ctx context.Context, rec Record) error {
	item := dynamoDBAuditItem{Record: rec}
	if s.retention > 0 {
		item.ExpiresAt = rec.OccurredAt.Add(s.retention).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put audit record to DynamoDB: %w", err)
	}

	return nil
}

package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

// dynamoItem is the item layout of one journal record
type dynamoItem struct {
	ID                string  `dynamodbav:"id"`
	LastCompletedFile *string `dynamodbav:"last_completed_file"`
	CurrentFile       *string `dynamodbav:"current_file"`
	CurrentLine       int64   `dynamodbav:"current_line"`
	UpdatedAt         string  `dynamodbav:"updated_at"`
}

// DynamoDBStore implements Store using AWS DynamoDB. PutItem replaces the
// whole item in one request.
type DynamoDBStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB journal store
func NewDynamoDBStore(cfg config.JournalConfig) (*DynamoDBStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.DynamoDBRegion),
	}

	// For local testing with DynamoDB Local
	if cfg.DynamoDBEndpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.DynamoDBEndpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := NewDynamoDBStoreWithAPI(dynamodb.New(sess), cfg.DynamoDBTable)

	// Create table if it doesn't exist (for local testing)
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}

	return store, nil
}

// NewDynamoDBStoreWithAPI wraps an existing DynamoDB API implementation
func NewDynamoDBStoreWithAPI(api dynamodbiface.DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: api, tableName: tableName}
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBStore) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

func (d *DynamoDBStore) Load(ctx context.Context, key string) (models.JournalState, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"id": {S: aws.String(key)},
		},
	})
	if err != nil {
		return models.JournalState{}, fmt.Errorf("failed to get journal item: %w", err)
	}

	if result.Item == nil {
		return models.IdleState(), nil
	}

	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return models.JournalState{}, fmt.Errorf("failed to unmarshal journal item: %w", err)
	}

	return models.JournalState{
		LastCompletedFile: item.LastCompletedFile,
		CurrentFile:       item.CurrentFile,
		CurrentLine:       item.CurrentLine,
	}, nil
}

func (d *DynamoDBStore) Save(ctx context.Context, key string, state models.JournalState) error {
	item, err := dynamodbattribute.MarshalMap(dynamoItem{
		ID:                key,
		LastCompletedFile: state.LastCompletedFile,
		CurrentFile:       state.CurrentFile,
		CurrentLine:       state.CurrentLine,
		UpdatedAt:         time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal journal item: %w", err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put journal item: %w", err)
	}
	return nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStore) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}

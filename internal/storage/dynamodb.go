package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/models"
)

// DynamoDBStatusStore implements StatusStore using AWS DynamoDB
type DynamoDBStatusStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoDBStatusStore creates a new DynamoDB status store
func NewDynamoDBStatusStore(cfg config.StorageConfig) (*DynamoDBStatusStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.DynamoDBEndpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.DynamoDBEndpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := &DynamoDBStatusStore{
		client:    dynamodb.New(sess),
		tableName: cfg.StatusTable,
	}

	// Create table if it doesn't exist (for local testing)
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}

	return store, nil
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBStatusStore) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("wiki"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("wiki"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

// UpdateStatus replaces the status record for status.Wiki
func (d *DynamoDBStatusStore) UpdateStatus(ctx context.Context, status models.RunStatus) error {
	item, err := dynamodbattribute.MarshalMap(status)
	if err != nil {
		return fmt.Errorf("failed to marshal run status: %w", err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to store run status for %s: %w", status.Wiki, err)
	}
	return nil
}

// GetStatus retrieves the status record of one wiki
func (d *DynamoDBStatusStore) GetStatus(ctx context.Context, wiki string) (*models.RunStatus, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]*dynamodb.AttributeValue{
			"wiki": {S: aws.String(wiki)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get run status for %s: %w", wiki, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var status models.RunStatus
	if err := dynamodbattribute.UnmarshalMap(result.Item, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run status: %w", err)
	}
	return &status, nil
}

// ListStatuses scans every status record
func (d *DynamoDBStatusStore) ListStatuses(ctx context.Context) ([]models.RunStatus, error) {
	var statuses []models.RunStatus
	var unmarshalErr error

	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.tableName),
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var batch []models.RunStatus
		if err := dynamodbattribute.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			unmarshalErr = err
			return false
		}
		statuses = append(statuses, batch...)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan run statuses: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal run statuses: %w", unmarshalErr)
	}

	return statuses, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStatusStore) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}

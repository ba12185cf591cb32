package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/swapgo/refcount"
)

const (
	attrPath    = "path"
	attrRefs    = "refs"
	attrOwner   = "owner"
	attrExpires = "expires"
)

// Client is the subset of the DynamoDB API used by this package.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store keeps reference counts in a DynamoDB table.
type Store struct {
	client Client
	table  string
}

// NewStore returns a Store on table.
func NewStore(client Client, table string) *Store {
	return &Store{client: client, table: table}
}

func key(path string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPath: &types.AttributeValueMemberS{Value: path},
	}
}

// Get returns the count of path, or 0 when no item exists.
func (s *Store) Get(ctx context.Context, path string) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(path),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("dynamo: get %s: %w", path, err)
	}
	if out.Item == nil {
		return 0, nil
	}
	attr, ok := out.Item[attrRefs].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamo: item %s has no numeric %q attribute", path, attrRefs)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dynamo: parse refs of %s: %w", path, err)
	}
	return n, nil
}

// Set stores the count of path.
func (s *Store) Set(ctx context.Context, path string, n int64) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrPath: &types.AttributeValueMemberS{Value: path},
			attrRefs: &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo: put %s: %w", path, err)
	}
	return nil
}

// Delete removes the count item of path.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(path),
	})
	if err != nil {
		return fmt.Errorf("dynamo: delete %s: %w", path, err)
	}
	return nil
}

// NewTracker returns a refcount.Tracker whose counts and locks live in table.
func NewTracker(client Client, table string, lockOpts []LockerOption, opts ...refcount.Option) *refcount.Tracker {
	return refcount.NewTracker(NewStore(client, table), NewLocker(client, table, lockOpts...), opts...)
}

var _ refcount.Store = (*Store)(nil)

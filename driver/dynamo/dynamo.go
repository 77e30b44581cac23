// Package dynamo adapts DynamoDB to the odm.Store contract.
//
// Each collection path maps to one table, with path separators replaced by
// dots, keyed by a string "id" partition key. Queries scan the table and
// evaluate constraints client-side, which suits small and medium datasets;
// larger deployments should front hot predicates with their own indexes.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/internal/docfilter"
	"github.com/jacentio/arbor/odm"
)

const (
	// TransactWriteItems caps at 100 actions per call.
	maxBatchOps = 100
	maxInValues = 100

	keyAttr = "id"
)

// Store wraps a DynamoDB client. The caller owns the client's lifecycle.
type Store struct {
	client *dynamodb.Client
}

// New returns a Store over an existing client.
func New(client *dynamodb.Client) *Store {
	return &Store{client: client}
}

func tableName(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

func keyOf(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: id},
	}
}

func (s *Store) GetDocument(ctx context.Context, path, id string) (map[string]any, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName(path)),
		Key:       keyOf(id),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, odm.ErrDocNotFound
	}
	return unmarshalItem(out.Item)
}

func (s *Store) AddDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.SetDocument(ctx, path, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetDocument(ctx context.Context, path, id string, fields map[string]any) error {
	item, err := marshalItem(id, fields)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName(path)),
		Item:      item,
	})
	return err
}

func (s *Store) UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error {
	expr, err := newUpdateExpression(fields)
	if err != nil {
		return err
	}
	if expr == nil {
		return nil
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(tableName(path)),
		Key:                       keyOf(id),
		UpdateExpression:          aws.String(expr.update),
		ConditionExpression:       aws.String("attribute_exists(#key)"),
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return odm.ErrDocNotFound
		}
		return err
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, path, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName(path)),
		Key:       keyOf(id),
	})
	return err
}

func (s *Store) RunQuery(ctx context.Context, path string, constraints []odm.Constraint) ([]odm.Document, error) {
	var docs []odm.Document

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(tableName(path)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			fields, err := unmarshalItem(item)
			if err != nil {
				return nil, err
			}
			id, _ := fields[keyAttr].(string)
			delete(fields, keyAttr)
			docs = append(docs, odm.Document{ID: id, Fields: fields})
		}
	}

	return docfilter.Apply(docs, constraints), nil
}

func (s *Store) MaxBatchOps() int { return maxBatchOps }
func (s *Store) MaxInValues() int { return maxInValues }

// updateExpression is a built SET expression with its attribute maps.
type updateExpression struct {
	update string
	names  map[string]string
	values map[string]types.AttributeValue
}

func newUpdateExpression(fields map[string]any) (*updateExpression, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	names := map[string]string{"#key": keyAttr}
	values := map[string]types.AttributeValue{}
	var setClauses []string

	i := 0
	for k, v := range fields {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("dynamo: marshal field %q: %w", k, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = k
		values[valueKey] = av
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		i++
	}

	return &updateExpression{
		update: "SET " + strings.Join(setClauses, ", "),
		names:  names,
		values: values,
	}, nil
}

func marshalItem(id string, fields map[string]any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, err
	}
	item[keyAttr] = &types.AttributeValueMemberS{Value: id}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue) (map[string]any, error) {
	var fields map[string]any
	if err := attributevalue.UnmarshalMap(item, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

type batch struct {
	store *Store
	items []types.TransactWriteItem
	err   error
}

// NewBatch opens a batch backed by TransactWriteItems, so the whole batch
// commits or none of it does.
func (s *Store) NewBatch() odm.Batch {
	return &batch{store: s}
}

func (b *batch) Update(path, id string, fields map[string]any) {
	expr, err := newUpdateExpression(fields)
	if err != nil {
		// accumulation is not fallible in the Batch contract; surface at Commit
		b.err = err
		return
	}
	if expr == nil {
		return
	}
	b.items = append(b.items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 aws.String(tableName(path)),
			Key:                       keyOf(id),
			UpdateExpression:          aws.String(expr.update),
			ConditionExpression:       aws.String("attribute_exists(#key)"),
			ExpressionAttributeNames:  expr.names,
			ExpressionAttributeValues: expr.values,
		},
	})
}

func (b *batch) Delete(path, id string) {
	b.items = append(b.items, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(tableName(path)),
			Key:       keyOf(id),
		},
	})
}

func (b *batch) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.items) == 0 {
		return nil
	}
	_, err := b.store.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: b.items,
	})
	return err
}

// Package dynamo implements store.Backend on a single DynamoDB table.
//
// Layout:
//
//	entity   pk = world#<w>#parent#<p>#<shard> (or #root#<shard>), sk = <id>
//	locator  pk = world#<w>#locator#<id>, sk = "locator"
//	world    pk = world#<w>, sk = "world"
//
// Children are read through the local secondary index by_name (pk, sort_name),
// entities of a world through the global index by_world (world_id, id) and
// worlds of an owner through by_owner (world_owner, id). Soft-deleted records
// carry a ttl attribute so the table's TTL sweep purges them.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/store"
)

// Index names.
const (
	IndexByName  = "by_name"
	IndexByWorld = "by_world"
	IndexByOwner = "by_owner"
)

// API is the subset of *dynamodb.Client used by the backend.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Backend stores arbor documents in one DynamoDB table.
type Backend struct {
	client API
	table  string
	logger *slog.Logger
}

var _ store.Backend = (*Backend)(nil)

// New creates a Backend over table. A nil logger uses slog.Default().
func New(client API, table string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{client: client, table: table, logger: logger}
}

// Table returns the table name.
func (b *Backend) Table() string {
	return b.table
}

func keyAttr(k store.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: k.PK},
		"sk": &types.AttributeValueMemberS{Value: k.SK},
	}
}

func versionValue(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

// Get implements store.Backend with a strongly consistent read.
func (b *Backend) Get(ctx context.Context, key store.Key) (*store.Document, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(err)
	}
	if out.Item == nil {
		return nil, store.ErrNoDocument
	}
	return unmarshalDocument(out.Item)
}

// writeCondition renders the version or existence guard of cond.
func writeCondition(cond store.Condition) (string, map[string]string, map[string]types.AttributeValue) {
	if cond.MustNotExist {
		return "attribute_not_exists(pk)", nil, nil
	}
	return "#version = :expected",
		map[string]string{"#version": "version"},
		map[string]types.AttributeValue{":expected": versionValue(cond.Version)}
}

// maxTransactItems is DynamoDB's limit on actions per transaction.
const maxTransactItems = 100

// parentCheck requires an active document under key, carrying version when
// one is given. A failed check returns the stored item so a version mismatch
// can be told apart from a missing parent.
func (b *Backend) parentCheck(key store.Key, version *int64) types.TransactWriteItem {
	expr, names, values := ParentActiveCondition(), map[string]string{}, map[string]types.AttributeValue{}
	_, activeNames, activeValues := ActiveFilter()
	names = merge(names, activeNames)
	values = merge(values, activeValues)
	if version != nil {
		expr += " AND #version = :expected"
		names["#version"] = "version"
		values[":expected"] = versionValue(*version)
	}
	return types.TransactWriteItem{
		ConditionCheck: &types.ConditionCheck{
			TableName:                           aws.String(b.table),
			Key:                                 keyAttr(key),
			ConditionExpression:                 aws.String(expr),
			ExpressionAttributeNames:            names,
			ExpressionAttributeValues:           values,
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}
}

// guardChecks returns the condition checks of cond that precede the write:
// the parent check first, then one version check per other ancestor. The
// returned index is that of the parent check, -1 without one.
func (b *Backend) guardChecks(cond store.Condition) ([]types.TransactWriteItem, int) {
	var (
		items         []types.TransactWriteItem
		parentVersion *int64
	)
	for _, g := range cond.Ancestors {
		if cond.Parent != nil && g.Key == *cond.Parent {
			parentVersion = &g.Version
		}
	}
	parentCheckIndex := -1
	if cond.Parent != nil {
		parentCheckIndex = len(items)
		items = append(items, b.parentCheck(*cond.Parent, parentVersion))
	}
	for _, g := range cond.Ancestors {
		if cond.Parent != nil && g.Key == *cond.Parent {
			continue
		}
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(b.table),
				Key:                       keyAttr(g.Key),
				ConditionExpression:       aws.String("#version = :expected"),
				ExpressionAttributeNames:  map[string]string{"#version": "version"},
				ExpressionAttributeValues: map[string]types.AttributeValue{":expected": versionValue(g.Version)},
			},
		})
	}
	return items, parentCheckIndex
}

func (b *Backend) locatorPut(d *store.Document) types.TransactWriteItem {
	k := shard.LocatorKey(d.WorldID, d.ID)
	item := keyAttr(k)
	item["kind"] = &types.AttributeValueMemberS{Value: kindLocator}
	item["parent_id"] = &types.AttributeValueMemberS{Value: d.ParentID}
	return types.TransactWriteItem{
		Put: &types.Put{TableName: aws.String(b.table), Item: item},
	}
}

// Put implements store.Backend. Entity creation and parent-guarded writes
// run as a transaction; everything else is a single conditional PutItem.
func (b *Backend) Put(ctx context.Context, doc *store.Document, cond store.Condition) error {
	item, err := marshalDocument(doc)
	if err != nil {
		return err
	}
	expr, names, values := writeCondition(cond)

	createsEntity := cond.MustNotExist && doc.Kind == store.KindEntity
	if !createsEntity && cond.Parent == nil && len(cond.Ancestors) == 0 {
		_, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(b.table),
			Item:                      item,
			ConditionExpression:       aws.String(expr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.ErrConditionFailed
		}
		return classify(err)
	}

	items, parentCheckIndex := b.guardChecks(cond)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(b.table),
			Item:                      item,
			ConditionExpression:       aws.String(expr),
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	})
	if createsEntity {
		items = append(items, b.locatorPut(doc))
	}

	_, err = b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, parentCheckIndex)
}

// Relocate implements store.Backend: the old record is deleted, the new one
// written and the locator repointed in one transaction.
func (b *Backend) Relocate(ctx context.Context, from store.Key, to *store.Document, cond store.Condition) error {
	item, err := marshalDocument(to)
	if err != nil {
		return err
	}

	items, parentCheckIndex := b.guardChecks(cond)
	if len(items)+3 > maxTransactItems {
		return fmt.Errorf("%w: %d ancestors exceed the transaction limit of a move", store.ErrInvalidInput, len(cond.Ancestors))
	}
	versionNames := map[string]string{"#version": "version"}
	versionValues := map[string]types.AttributeValue{":expected": versionValue(cond.Version)}
	if from == to.Key {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:                 aws.String(b.table),
				Item:                      item,
				ConditionExpression:       aws.String("#version = :expected"),
				ExpressionAttributeNames:  versionNames,
				ExpressionAttributeValues: versionValues,
			},
		})
	} else {
		items = append(items,
			types.TransactWriteItem{
				Delete: &types.Delete{
					TableName:                 aws.String(b.table),
					Key:                       keyAttr(from),
					ConditionExpression:       aws.String("#version = :expected"),
					ExpressionAttributeNames:  versionNames,
					ExpressionAttributeValues: versionValues,
				},
			},
			types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(b.table),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(pk)"),
				},
			})
	}
	items = append(items, b.locatorPut(to))

	_, err = b.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, parentCheckIndex)
}

// Locate implements store.Backend.
func (b *Backend) Locate(ctx context.Context, worldID, id string) (string, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(b.table),
		Key:                  keyAttr(shard.LocatorKey(worldID, id)),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("parent_id"),
	})
	if err != nil {
		return "", classify(err)
	}
	if out.Item == nil {
		return "", store.ErrNoDocument
	}
	var loc struct {
		ParentID string `dynamodbav:"parent_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &loc); err != nil {
		return "", err
	}
	return loc.ParentID, nil
}

// PurgeLocator removes the locator of a purged entity. Removing a locator
// that is already gone succeeds. Locators pointing at a live record of a
// different parent are left alone.
func (b *Backend) PurgeLocator(ctx context.Context, worldID, id, parentID string) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(b.table),
		Key:                       keyAttr(shard.LocatorKey(worldID, id)),
		ConditionExpression:       aws.String("attribute_not_exists(pk) OR parent_id = :parent"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":parent": &types.AttributeValueMemberS{Value: parentID}},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		b.logger.InfoContext(ctx, "locator moved since purge, keeping it",
			"world_id", worldID, "entity_id", id, "parent_id", parentID)
		return nil
	}
	return classify(err)
}

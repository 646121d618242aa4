package dynamo

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// rangeQuery builds an index query for hash = :hash AND range > :after.
func (b *Backend) rangeQuery(index, hashAttr, hash, rangeAttr, after string, limit int, includeDeleted bool, now time.Time) *dynamodb.QueryInput {
	keyCond := "#hash = :hash"
	names := map[string]string{"#hash": hashAttr}
	values := map[string]types.AttributeValue{":hash": &types.AttributeValueMemberS{Value: hash}}
	if after != "" {
		keyCond += " AND #range > :after"
		names["#range"] = rangeAttr
		values[":after"] = &types.AttributeValueMemberS{Value: after}
	}

	filter, fnames, fvalues := visibilityFilter(includeDeleted, now)
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(b.table),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String(keyCond),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  merge(names, fnames),
		ExpressionAttributeValues: merge(values, fvalues),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	return in
}

// collect pages through in until limit visible documents are read.
// Filters apply after DynamoDB's per-page limit, so short pages are normal.
func (b *Backend) collect(ctx context.Context, in *dynamodb.QueryInput, limit int, includeDeleted bool, now time.Time) ([]*store.Document, error) {
	opts := store.ReadOptions{IncludeDeleted: includeDeleted}
	var docs []*store.Document
	paginator := dynamodb.NewQueryPaginator(b.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, raw := range page.Items {
			doc, err := unmarshalDocument(raw)
			if err != nil {
				return nil, err
			}
			// The TTL filter has second precision.
			if !store.Visible(doc, now, opts) {
				continue
			}
			docs = append(docs, doc)
			if limit > 0 && len(docs) == limit {
				return docs, nil
			}
		}
	}
	return docs, nil
}

// QueryPartition implements store.Backend over the by_name index.
// Local secondary indexes support strongly consistent reads.
func (b *Backend) QueryPartition(ctx context.Context, q store.PartitionQuery) ([]*store.Document, error) {
	in := b.rangeQuery(IndexByName, "pk", q.PK, "sort_name", q.After, q.Limit, q.IncludeDeleted, q.Now)
	in.ConsistentRead = aws.Bool(true)
	return b.collect(ctx, in, q.Limit, q.IncludeDeleted, q.Now)
}

// CountPartition implements store.Backend.
func (b *Backend) CountPartition(ctx context.Context, pk string) (int, error) {
	filter, names, values := ActiveFilter()
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(b.table),
		IndexName:                 aws.String(IndexByName),
		KeyConditionExpression:    aws.String("pk = :pk"),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: merge(values, map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: pk}}),
		Select:                    types.SelectCount,
		ConsistentRead:            aws.Bool(true),
	}

	total := 0
	paginator := dynamodb.NewQueryPaginator(b.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, classify(err)
		}
		total += int(page.Count)
	}
	return total, nil
}

// ScanWorld implements store.Backend over the by_world index. Global
// indexes are eventually consistent, so recent writes may be missing.
func (b *Backend) ScanWorld(ctx context.Context, q store.WorldScan) ([]*store.Document, error) {
	in := b.rangeQuery(IndexByWorld, "world_id", q.WorldID, "id", q.After, q.Limit, q.IncludeDeleted, q.Now)
	return b.collect(ctx, in, q.Limit, q.IncludeDeleted, q.Now)
}

// ListWorlds implements store.Backend over the sparse by_owner index.
func (b *Backend) ListWorlds(ctx context.Context, q store.OwnerQuery) ([]*store.Document, error) {
	in := b.rangeQuery(IndexByOwner, "world_owner", q.OwnerID, "id", q.After, q.Limit, q.IncludeDeleted, q.Now)
	return b.collect(ctx, in, q.Limit, q.IncludeDeleted, q.Now)
}

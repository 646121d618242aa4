package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ParentActiveCondition returns the condition expression for parent validation.
// Use with the names and values of ActiveFilter.
func ParentActiveCondition() string {
	return "attribute_exists(pk) AND #deleted = :false"
}

// ActiveFilter returns the filter expression that excludes soft-deleted items.
func ActiveFilter() (string, map[string]string, map[string]types.AttributeValue) {
	return "#deleted = :false",
		map[string]string{"#deleted": "is_deleted"},
		map[string]types.AttributeValue{":false": &types.AttributeValueMemberBOOL{Value: false}}
}

// TTLFilter returns the filter expression that excludes items past their
// purge deadline, for reads that include soft-deleted items. The table's TTL
// sweep runs lazily, so expired items may still be returned by DynamoDB.
func TTLFilter(now time.Time) (string, map[string]string, map[string]types.AttributeValue) {
	return "attribute_not_exists(#ttl) OR #ttl > :now",
		map[string]string{"#ttl": "ttl"},
		map[string]types.AttributeValue{":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}}
}

func visibilityFilter(includeDeleted bool, now time.Time) (string, map[string]string, map[string]types.AttributeValue) {
	if includeDeleted {
		return TTLFilter(now)
	}
	return ActiveFilter()
}

// merge adds src to dst, allocating dst when nil.
func merge[V any](dst, src map[string]V) map[string]V {
	if dst == nil {
		dst = make(map[string]V, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

package dynamo

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/jacentio/arbor/store"
)

// transientCodes are service error codes worth retrying.
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionInProgressException":         true,
	"TransactionConflict":                    true,
}

// classify marks throttling and server-side failures as store.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

// mapTransactionError maps DynamoDB transaction errors.
// parentCheckIndex is the index of the parent check item (-1 if none).
func mapTransactionError(err error, parentCheckIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch code := *reason.Code; {
			case code == "ConditionalCheckFailed" && i == parentCheckIndex:
				if isActive(reason.Item) {
					// The parent is there but changed since it was read.
					return store.ErrConditionFailed
				}
				return store.ErrParentNotFound
			case code == "ConditionalCheckFailed":
				return store.ErrConditionFailed
			case transientCodes[code]:
				return fmt.Errorf("%w: %w", store.ErrTransient, err)
			}
		}
	}

	return classify(err)
}

// isActive reports whether item is a stored document that is not soft-deleted.
func isActive(item map[string]types.AttributeValue) bool {
	if item == nil {
		return false
	}
	deleted, ok := item["is_deleted"].(*types.AttributeValueMemberBOOL)
	return ok && !deleted.Value
}

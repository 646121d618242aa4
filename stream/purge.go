// Package stream handles DynamoDB Streams records emitted by the arbor table.
//
// When the table's TTL sweep removes a soft-deleted world or entity past its
// retention window, the stream carries a REMOVE record with the old image.
// The purge handler turns those records into cleanup calls: the entity's
// locator record is dropped and the external asset service is told to release
// whatever it holds for the purged scope.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/store"
)

// TTLPrincipal is the user identity DynamoDB attaches to TTL deletions.
const TTLPrincipal = "dynamodb.amazonaws.com"

// LocatorPurger removes the locator record of a purged entity.
type LocatorPurger interface {
	PurgeLocator(ctx context.Context, worldID, id, parentID string) error
}

// AssetPurger releases external assets scoped to a purged world or entity.
type AssetPurger interface {
	PurgeWorld(ctx context.Context, worldID string) error
	PurgeEntity(ctx context.Context, worldID, entityID string) error
}

// Purged describes a record removed by the TTL sweep.
type Purged struct {
	Key      store.Key
	Kind     store.Kind
	ID       string
	WorldID  string
	ParentID string
	Path     []string
	TTL      int64
}

// Handler processes DynamoDB stream events for purged records.
type Handler struct {
	locators LocatorPurger
	assets   AssetPurger
	logger   *slog.Logger
}

// NewHandler creates a new stream handler. Either purger may be nil.
func NewHandler(locators LocatorPurger, assets AssetPurger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		locators: locators,
		assets:   assets,
		logger:   logger,
	}
}

// HandlePurge processes the TTL removals of a stream batch. It is used as an
// AWS Lambda handler; a returned error makes Lambda retry the batch.
func (h *Handler) HandlePurge(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, &record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// IsTTLRemoval reports whether record was produced by the TTL sweep rather
// than by an explicit delete.
func IsTTLRemoval(record *events.DynamoDBEventRecord) bool {
	return record.EventName == string(events.DynamoDBOperationTypeRemove) &&
		record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" &&
		record.UserIdentity.PrincipalID == TTLPrincipal
}

func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	if !IsTTLRemoval(record) {
		return nil
	}

	p := DecodePurged(record.Change.Keys, record.Change.OldImage)
	switch p.Kind {
	case store.KindWorld:
		h.logger.Info("world purged", "worldID", p.ID, "ttl", p.TTL)
		if h.assets != nil {
			if err := h.assets.PurgeWorld(ctx, p.ID); err != nil {
				return fmt.Errorf("purge assets of world %s: %w", p.ID, err)
			}
		}

	case store.KindEntity:
		h.logger.Info("entity purged",
			"worldID", p.WorldID,
			"entityID", p.ID,
			"parentID", p.ParentID,
			"depth", len(p.Path)-1,
			"ttl", p.TTL,
		)
		if h.locators != nil {
			if err := h.locators.PurgeLocator(ctx, p.WorldID, p.ID, p.ParentID); err != nil {
				return fmt.Errorf("purge locator of %s: %w", p.ID, err)
			}
		}
		if h.assets != nil {
			if err := h.assets.PurgeEntity(ctx, p.WorldID, p.ID); err != nil {
				return fmt.Errorf("purge assets of entity %s: %w", p.ID, err)
			}
		}

	default:
		h.logger.Debug("ignoring purged record", "key", p.Key.String(), "kind", p.Kind)
	}
	return nil
}

// DecodePurged reads a purged record from its stream keys and old image.
func DecodePurged(keys, image map[string]events.DynamoDBAttributeValue) Purged {
	return Purged{
		Key:      ConvertStreamKey(keys),
		Kind:     store.Kind(getStringAttr(image, "kind")),
		ID:       getStringAttr(image, "id"),
		WorldID:  getStringAttr(image, "world_id"),
		ParentID: getStringAttr(image, "parent_id"),
		Path:     getStringListAttr(image, "path"),
		TTL:      getNumberAttr(image, "ttl"),
	}
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getStringListAttr extracts a string list attribute from a DynamoDB stream image.
func getStringListAttr(image map[string]events.DynamoDBAttributeValue, key string) []string {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeList {
			var result []string
			for _, item := range v.List() {
				if item.DataType() == events.DataTypeString {
					result = append(result, item.String())
				}
			}
			return result
		}
	}
	return nil
}

// ConvertStreamKey converts the keys of a stream record to a store.Key.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) store.Key {
	return store.Key{
		PK: getStringAttr(streamKey, "pk"),
		SK: getStringAttr(streamKey, "sk"),
	}
}

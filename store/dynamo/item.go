package dynamo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

const kindLocator = "locator"

// item is the table representation of a store.Document.
type item struct {
	PK   string `dynamodbav:"pk"`
	SK   string `dynamodbav:"sk"`
	Kind string `dynamodbav:"kind"`

	ID       string `dynamodbav:"id"`
	WorldID  string `dynamodbav:"world_id,omitempty"`
	ParentID string `dynamodbav:"parent_id,omitempty"`
	OwnerID  string `dynamodbav:"owner_id"`

	// WorldOwner keys the sparse by_owner index and is set on worlds only.
	WorldOwner string `dynamodbav:"world_owner,omitempty"`

	EntityType    string   `dynamodbav:"entity_type,omitempty"`
	SchemaID      string   `dynamodbav:"schema_id,omitempty"`
	SchemaVersion int      `dynamodbav:"schema_version,omitempty"`
	Name          string   `dynamodbav:"name"`
	SortName      string   `dynamodbav:"sort_name,omitempty"`
	Description   string   `dynamodbav:"description,omitempty"`
	Tags          []string `dynamodbav:"tags,omitempty"`
	Depth         int      `dynamodbav:"depth"`
	Path          []string `dynamodbav:"path,omitempty"`
	Properties    string   `dynamodbav:"properties,omitempty"`

	CreatedAt  string `dynamodbav:"created_at"`
	ModifiedAt string `dynamodbav:"modified_at"`

	IsDeleted  bool   `dynamodbav:"is_deleted"`
	DeletedAt  string `dynamodbav:"deleted_at,omitempty"`
	DeletedBy  string `dynamodbav:"deleted_by,omitempty"`
	PurgeAfter string `dynamodbav:"purge_after,omitempty"`
	TTL        int64  `dynamodbav:"ttl,omitempty"`

	Version int64 `dynamodbav:"version"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return t, nil
}

func toItem(d *store.Document) item {
	it := item{
		PK:            d.Key.PK,
		SK:            d.Key.SK,
		Kind:          string(d.Kind),
		ID:            d.ID,
		WorldID:       d.WorldID,
		ParentID:      d.ParentID,
		OwnerID:       d.OwnerID,
		EntityType:    d.EntityType,
		SchemaID:      d.SchemaID,
		SchemaVersion: d.SchemaVersion,
		Name:          d.Name,
		SortName:      d.SortName,
		Description:   d.Description,
		Tags:          d.Tags,
		Depth:         d.Depth,
		Path:          d.Path,
		Properties:    string(d.Properties),
		CreatedAt:     formatTime(d.CreatedAt),
		ModifiedAt:    formatTime(d.ModifiedAt),
		IsDeleted:     d.IsDeleted,
		DeletedAt:     formatTime(d.DeletedAt),
		DeletedBy:     d.DeletedBy,
		PurgeAfter:    formatTime(d.PurgeAfter),
		TTL:           store.ExpiresAt(d),
		Version:       d.Version,
	}
	if d.Kind == store.KindWorld {
		it.WorldOwner = d.OwnerID
	}
	return it
}

func (it item) document() (*store.Document, error) {
	d := &store.Document{
		Key:           store.Key{PK: it.PK, SK: it.SK},
		Kind:          store.Kind(it.Kind),
		ID:            it.ID,
		WorldID:       it.WorldID,
		ParentID:      it.ParentID,
		OwnerID:       it.OwnerID,
		EntityType:    it.EntityType,
		SchemaID:      it.SchemaID,
		SchemaVersion: it.SchemaVersion,
		Name:          it.Name,
		SortName:      it.SortName,
		Description:   it.Description,
		Tags:          it.Tags,
		Depth:         it.Depth,
		Path:          it.Path,
		IsDeleted:     it.IsDeleted,
		DeletedBy:     it.DeletedBy,
		Version:       it.Version,
	}
	if it.Properties != "" {
		d.Properties = json.RawMessage(it.Properties)
	}
	var err error
	for _, f := range []struct {
		name string
		src  string
		dst  *time.Time
	}{
		{"created_at", it.CreatedAt, &d.CreatedAt},
		{"modified_at", it.ModifiedAt, &d.ModifiedAt},
		{"deleted_at", it.DeletedAt, &d.DeletedAt},
		{"purge_after", it.PurgeAfter, &d.PurgeAfter},
	} {
		if *f.dst, err = parseTime(f.name, f.src); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func marshalDocument(d *store.Document) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(toItem(d))
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s: %w", d.Kind, d.ID, err)
	}
	return av, nil
}

func unmarshalDocument(raw map[string]types.AttributeValue) (*store.Document, error) {
	var it item
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return it.document()
}

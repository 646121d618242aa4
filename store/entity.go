package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/jacentio/arbor/internal/shard"
)

// Key is the physical key of a stored document.
type Key = shard.Key

// Kind distinguishes world documents from entity documents.
type Kind string

const (
	KindWorld  Kind = "world"
	KindEntity Kind = "entity"
)

// Token is an opaque optimistic-concurrency marker returned with every read.
type Token string

// World is a tenant root owning a tree of entities.
type World struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"ownerId"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ModifiedAt   time.Time  `json:"modifiedAt"`
	IsDeleted    bool       `json:"isDeleted"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
	DeletedBy    string     `json:"deletedBy,omitempty"`
	PurgeAfter   *time.Time `json:"purgeAfter,omitempty"`
	VersionToken Token      `json:"versionToken"`
}

// Entity is a node in a world's tree.
type Entity struct {
	ID            string          `json:"id"`
	WorldID       string          `json:"worldId"`
	ParentID      string          `json:"parentId,omitempty"`
	EntityType    string          `json:"entityType"`
	SchemaID      string          `json:"schemaId,omitempty"`
	SchemaVersion int             `json:"schemaVersion"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Tags          []string        `json:"tags"`
	Depth         int             `json:"depth"`
	Path          []string        `json:"path"`
	OwnerID       string          `json:"ownerId"`
	Properties    json.RawMessage `json:"properties,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ModifiedAt    time.Time       `json:"modifiedAt"`
	IsDeleted     bool            `json:"isDeleted"`
	DeletedAt     *time.Time      `json:"deletedAt,omitempty"`
	DeletedBy     string          `json:"deletedBy,omitempty"`
	PurgeAfter    *time.Time      `json:"purgeAfter,omitempty"`
	VersionToken  Token           `json:"versionToken"`
}

// WorldDraft holds the caller-supplied fields of a new world.
type WorldDraft struct {
	Name        string
	Description string
}

// WorldPatch holds optional world changes. Nil fields are left unchanged.
type WorldPatch struct {
	Name        *string
	Description *string
}

// EntityDraft holds the caller-supplied fields of a new entity.
type EntityDraft struct {
	EntityType    string
	SchemaID      string
	SchemaVersion int
	Name          string
	Description   string
	Tags          []string
	Properties    json.RawMessage
}

// EntityPatch holds optional entity changes. Nil fields are left unchanged.
type EntityPatch struct {
	Name          *string
	Description   *string
	Tags          *[]string
	Properties    json.RawMessage
	SchemaVersion *int
}

// ReadOptions controls visibility of soft-deleted records.
type ReadOptions struct {
	// IncludeDeleted returns soft-deleted records that are still inside their
	// retention window. Administrative use only.
	IncludeDeleted bool
}

// Document is the persisted form shared by worlds and entities.
// Backends store it as-is; the repository owns every field.
type Document struct {
	Key  Key
	Kind Kind

	ID       string
	WorldID  string
	ParentID string
	OwnerID  string

	EntityType    string
	SchemaID      string
	SchemaVersion int
	Name          string
	SortName      string
	Description   string
	Tags          []string
	Depth         int
	Path          []string
	Properties    json.RawMessage

	CreatedAt  time.Time
	ModifiedAt time.Time

	IsDeleted  bool
	DeletedAt  time.Time
	DeletedBy  string
	PurgeAfter time.Time

	Version int64
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	c.Path = slices.Clone(d.Path)
	c.Properties = slices.Clone(d.Properties)
	return &c
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func (d *Document) world() *World {
	return &World{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		Name:         d.Name,
		Description:  d.Description,
		CreatedAt:    d.CreatedAt.UTC(),
		ModifiedAt:   d.ModifiedAt.UTC(),
		IsDeleted:    d.IsDeleted,
		DeletedAt:    optionalTime(d.DeletedAt),
		DeletedBy:    d.DeletedBy,
		PurgeAfter:   optionalTime(d.PurgeAfter),
		VersionToken: tokenOf(d.Version),
	}
}

func (d *Document) entity() *Entity {
	tags := slices.Clone(d.Tags)
	if tags == nil {
		tags = []string{}
	}
	return &Entity{
		ID:            d.ID,
		WorldID:       d.WorldID,
		ParentID:      d.ParentID,
		EntityType:    d.EntityType,
		SchemaID:      d.SchemaID,
		SchemaVersion: d.SchemaVersion,
		Name:          d.Name,
		Description:   d.Description,
		Tags:          tags,
		Depth:         d.Depth,
		Path:          slices.Clone(d.Path),
		OwnerID:       d.OwnerID,
		Properties:    slices.Clone(d.Properties),
		CreatedAt:     d.CreatedAt.UTC(),
		ModifiedAt:    d.ModifiedAt.UTC(),
		IsDeleted:     d.IsDeleted,
		DeletedAt:     optionalTime(d.DeletedAt),
		DeletedBy:     d.DeletedBy,
		PurgeAfter:    optionalTime(d.PurgeAfter),
		VersionToken:  tokenOf(d.Version),
	}
}

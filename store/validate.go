package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Input limits.
const (
	MaxNameLength        = 200
	MaxDescriptionLength = 4000
	MaxTags              = 50
	MaxTagLength         = 64
	MaxEntityTypeLength  = 64
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("name must not be empty")
	}
	if !utf8.ValidString(name) {
		return invalid("name must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return invalid("name has %d characters, max %d", n, MaxNameLength)
	}
	if strings.ContainsFunc(name, unicode.IsControl) {
		return invalid("name must not contain control characters")
	}
	return nil
}

func validateDescription(desc string) error {
	if n := utf8.RuneCountInString(desc); n > MaxDescriptionLength {
		return invalid("description has %d characters, max %d", n, MaxDescriptionLength)
	}
	return nil
}

// normalizeTags validates tags and returns them trimmed and de-duplicated in
// first-seen order.
func normalizeTags(tags []string) ([]string, error) {
	if len(tags) > MaxTags {
		return nil, invalid("%d tags, max %d", len(tags), MaxTags)
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, invalid("tags must not be empty")
		}
		if n := utf8.RuneCountInString(t); n > MaxTagLength {
			return nil, invalid("tag %q has %d characters, max %d", t, n, MaxTagLength)
		}
		if strings.ContainsFunc(t, unicode.IsControl) {
			return nil, invalid("tag %q contains control characters", t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// normalizeProperties requires a JSON object; empty input stays empty.
func normalizeProperties(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, invalid("properties must be a JSON object")
	}
	return json.RawMessage(bytes.Clone(trimmed)), nil
}

func validateEntityDraft(d EntityDraft) (EntityDraft, error) {
	if strings.TrimSpace(d.EntityType) == "" {
		return d, invalid("entity type must not be empty")
	}
	if len(d.EntityType) > MaxEntityTypeLength {
		return d, invalid("entity type longer than %d bytes", MaxEntityTypeLength)
	}
	if err := validateName(d.Name); err != nil {
		return d, err
	}
	if err := validateDescription(d.Description); err != nil {
		return d, err
	}
	tags, err := normalizeTags(d.Tags)
	if err != nil {
		return d, err
	}
	props, err := normalizeProperties(d.Properties)
	if err != nil {
		return d, err
	}
	d.Tags = tags
	d.Properties = props
	return d, nil
}

package stream

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

// --- getStringAttr Tests ---

func TestGetStringAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"name":    events.NewStringAttribute("Paris"),
		"empty":   events.NewStringAttribute(""),
		"unicode": events.NewStringAttribute("日本語テスト"),
		"number":  events.NewNumberAttribute("42"),
	}

	tests := []struct {
		key  string
		want string
	}{
		{"name", "Paris"},
		{"empty", ""},
		{"unicode", "日本語テスト"},
		{"number", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := getStringAttr(image, tt.key); got != tt.want {
			t.Errorf("getStringAttr(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestGetStringAttr_NilImage(t *testing.T) {
	var image map[string]events.DynamoDBAttributeValue

	if result := getStringAttr(image, "name"); result != "" {
		t.Errorf("expected empty string for nil image, got %q", result)
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"ttl":      events.NewNumberAttribute("1234567890"),
		"zero":     events.NewNumberAttribute("0"),
		"negative": events.NewNumberAttribute("-5"),
		"max":      events.NewNumberAttribute("9223372036854775807"),
		"string":   events.NewStringAttribute("12"),
	}

	tests := []struct {
		key  string
		want int64
	}{
		{"ttl", 1234567890},
		{"zero", 0},
		{"negative", -5},
		{"max", 9223372036854775807},
		{"string", 0},
		{"missing", 0},
	}
	for _, tt := range tests {
		if got := getNumberAttr(image, tt.key); got != tt.want {
			t.Errorf("getNumberAttr(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
}

// --- getStringListAttr Tests ---

func TestGetStringListAttr_ValidList(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"path": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("Europe"),
			events.NewStringAttribute("France"),
			events.NewStringAttribute("Paris"),
		}),
	}

	result := getStringListAttr(image, "path")
	if !slices.Equal(result, []string{"Europe", "France", "Paris"}) {
		t.Errorf("unexpected list %v", result)
	}
}

func TestGetStringListAttr_MixedTypes(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"path": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("a"),
			events.NewNumberAttribute("1"),
			events.NewStringAttribute("b"),
		}),
	}

	result := getStringListAttr(image, "path")
	if !slices.Equal(result, []string{"a", "b"}) {
		t.Errorf("expected non-strings to be skipped, got %v", result)
	}
}

func TestGetStringListAttr_NotAList(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"path": events.NewStringAttribute("a"),
	}

	if result := getStringListAttr(image, "path"); result != nil {
		t.Errorf("expected nil for non-list attribute, got %v", result)
	}
	if result := getStringListAttr(nil, "path"); result != nil {
		t.Errorf("expected nil for nil image, got %v", result)
	}
}

// --- processRecord Tests ---

type recordingLocators struct {
	calls [][3]string
	err   error
}

func (r *recordingLocators) PurgeLocator(_ context.Context, worldID, id, parentID string) error {
	r.calls = append(r.calls, [3]string{worldID, id, parentID})
	return r.err
}

func ttlIdentity() *events.DynamoDBUserIdentity {
	return &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: TTLPrincipal}
}

func TestProcessRecord_SkipsNonTTLEvents(t *testing.T) {
	entity := map[string]events.DynamoDBAttributeValue{
		"kind": events.NewStringAttribute("entity"),
		"id":   events.NewStringAttribute("e1"),
	}
	tests := []struct {
		name     string
		event    string
		identity *events.DynamoDBUserIdentity
	}{
		{"insert", "INSERT", nil},
		{"modify", "MODIFY", ttlIdentity()},
		{"manual remove", "REMOVE", nil},
		{"other principal", "REMOVE", &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "lambda.amazonaws.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locators := &recordingLocators{}
			h := NewHandler(locators, nil, nil)
			record := &events.DynamoDBEventRecord{
				EventName:    tt.event,
				UserIdentity: tt.identity,
				Change:       events.DynamoDBStreamRecord{OldImage: entity},
			}

			if err := h.processRecord(context.Background(), record); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if len(locators.calls) != 0 {
				t.Errorf("expected no purge for %s, got %v", tt.name, locators.calls)
			}
		})
	}
}

func TestProcessRecord_IgnoresLocatorRecords(t *testing.T) {
	locators := &recordingLocators{}
	h := NewHandler(locators, nil, nil)
	record := &events.DynamoDBEventRecord{
		EventName:    "REMOVE",
		UserIdentity: ttlIdentity(),
		Change: events.DynamoDBStreamRecord{OldImage: map[string]events.DynamoDBAttributeValue{
			"kind":      events.NewStringAttribute("locator"),
			"parent_id": events.NewStringAttribute("p1"),
		}},
	}

	if err := h.processRecord(context.Background(), record); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if len(locators.calls) != 0 {
		t.Errorf("expected locator record to be ignored, got %v", locators.calls)
	}
}

func TestProcessRecord_LocatorFailure(t *testing.T) {
	locators := &recordingLocators{err: errors.New("throttled")}
	h := NewHandler(locators, nil, nil)
	record := &events.DynamoDBEventRecord{
		EventName:    "REMOVE",
		UserIdentity: ttlIdentity(),
		Change: events.DynamoDBStreamRecord{OldImage: map[string]events.DynamoDBAttributeValue{
			"kind":     events.NewStringAttribute("entity"),
			"id":       events.NewStringAttribute("e1"),
			"world_id": events.NewStringAttribute("w1"),
		}},
	}

	if err := h.processRecord(context.Background(), record); !errors.Is(err, locators.err) {
		t.Errorf("expected locator error, got %v", err)
	}
}

// --- Benchmark Tests ---

func BenchmarkGetStringAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"world_id": events.NewStringAttribute("12345678-1234-1234-1234-123456789012"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringAttr(image, "world_id")
	}
}

func BenchmarkGetStringListAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"path": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("a"),
			events.NewStringAttribute("b"),
			events.NewStringAttribute("c"),
		}),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringListAttr(image, "path")
	}
}

package extract

import (
	"context"
	"strings"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// FieldSelector keeps only the configured fields.
// A dotted field keeps its top-level parent.
type FieldSelector struct {
	keep map[string]bool
}

// Verify interface compliance
var _ Processor = (*FieldSelector)(nil)

// NewFieldSelector creates a field selector. No fields keeps everything.
func NewFieldSelector(fields []string) *FieldSelector {
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		top, _, _ := strings.Cut(f, ".")
		if top != "" {
			keep[top] = true
		}
	}
	return &FieldSelector{keep: keep}
}

func (s *FieldSelector) Process(ctx context.Context, record domain.IndexRecord) (domain.IndexRecord, error) {
	if len(s.keep) == 0 {
		return record, nil
	}
	for k := range record {
		if !s.keep[k] {
			delete(record, k)
		}
	}
	return record, nil
}

func (s *FieldSelector) Name() string { return "field-selector" }

// Order returns 0 - selection runs first.
func (s *FieldSelector) Order() int { return 0 }

// ValueNormalizer converts values the search index cannot store natively:
// times become unix millis and geo points ({_latitude, _longitude})
// become {lat, lng}. Nested maps and slices are copied, never modified.
type ValueNormalizer struct{}

// Verify interface compliance
var _ Processor = (*ValueNormalizer)(nil)

func NewValueNormalizer() *ValueNormalizer {
	return &ValueNormalizer{}
}

func (n *ValueNormalizer) Process(ctx context.Context, record domain.IndexRecord) (domain.IndexRecord, error) {
	for k, v := range record {
		record[k] = normalizeValue(v)
	}
	return record, nil
}

func (n *ValueNormalizer) Name() string { return "value-normalizer" }

func (n *ValueNormalizer) Order() int { return 5 }

func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UnixMilli()
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UnixMilli()
	case map[string]any:
		if geo, ok := geoPoint(val); ok {
			return geo
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func geoPoint(m map[string]any) (map[string]any, bool) {
	if len(m) != 2 {
		return nil, false
	}
	lat, latOK := m["_latitude"].(float64)
	lng, lngOK := m["_longitude"].(float64)
	if !latOK || !lngOK {
		return nil, false
	}
	return map[string]any{"lat": lat, "lng": lng}, true
}

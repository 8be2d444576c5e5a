package domain

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// FieldsUpdated reports whether any tracked field differs between the two
// snapshots. An empty tracked list means every field is tracked.
// Values are compared structurally, so nested maps and slices with equal
// contents are considered unchanged.
func FieldsUpdated(tracked []string, before, after *Snapshot) bool {
	if len(tracked) == 0 {
		return !valuesEqual(snapshotData(before), snapshotData(after))
	}

	for _, field := range tracked {
		bv, _ := before.Get(field)
		av, _ := after.Get(field)
		if !valuesEqual(bv, av) {
			return true
		}
	}
	return false
}

// RemovedFields returns the top-level keys of before that have no value in
// after (missing or explicit null). A partial merge cannot clear these
// fields, so a non-empty result forces a full save.
func RemovedFields(before map[string]any, after *Snapshot) []string {
	var removed []string
	for key := range before {
		if _, ok := after.Get(key); !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)
	return removed
}

func snapshotData(s *Snapshot) map[string]any {
	if s == nil || s.Data == nil {
		return map[string]any{}
	}
	return s.Data
}

func valuesEqual(a, b any) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}

package domain

import "time"

const (
	// ObjectIDField is the record key holding the document identifier
	ObjectIDField = "objectID"

	// UpdatedAtField is the record key holding the event time in unix millis
	UpdatedAtField = "_updatedAt"

	// PathField is the record key holding the full document path.
	// It is reserved: the extractor overwrites any document field of that name.
	PathField = "path"
)

// IndexRecord is a flat-or-nested field map written to the search index
type IndexRecord map[string]any

// NewIndexRecord creates a record for the given document id.
// A zero timestamp omits the _updatedAt field.
func NewIndexRecord(objectID string, timestamp time.Time) IndexRecord {
	rec := IndexRecord{ObjectIDField: objectID}
	if !timestamp.IsZero() {
		rec[UpdatedAtField] = timestamp.UnixMilli()
	}
	return rec
}

// ObjectID returns the record identifier, or "" if absent.
func (r IndexRecord) ObjectID() string {
	id, _ := r[ObjectIDField].(string)
	return id
}

// HasObjectID reports whether the record carries a non-empty identifier.
func (r IndexRecord) HasObjectID() bool {
	return r.ObjectID() != ""
}

// Without removes the given keys in place and returns the record.
// The objectID and path keys are never removed.
func (r IndexRecord) Without(keys ...string) IndexRecord {
	for _, k := range keys {
		if k == ObjectIDField || k == PathField {
			continue
		}
		delete(r, k)
	}
	return r
}

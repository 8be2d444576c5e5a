package domain

import (
	"strings"
	"time"
)

// ChangeType classifies a document write event
type ChangeType string

const (
	ChangeTypeCreate  ChangeType = "create"
	ChangeTypeUpdate  ChangeType = "update"
	ChangeTypeDelete  ChangeType = "delete"
	ChangeTypeInvalid ChangeType = "invalid"
)

// ClassifyChange determines the change type from the presence of the
// before and after snapshots.
func ClassifyChange(beforeExists, afterExists bool) ChangeType {
	switch {
	case !beforeExists && afterExists:
		return ChangeTypeCreate
	case beforeExists && !afterExists:
		return ChangeTypeDelete
	case beforeExists && afterExists:
		return ChangeTypeUpdate
	default:
		return ChangeTypeInvalid
	}
}

// Snapshot is a read-only view of a document at a point in time
type Snapshot struct {
	// ID is the document identifier within its collection
	ID string `json:"id"`

	// Path is the full document path (e.g. "users/alice/posts/p1").
	// Optional; used for collection pattern matching.
	Path string `json:"path,omitempty"`

	// Exists is false for tombstone snapshots
	Exists bool `json:"exists"`

	// Data holds the document fields, possibly nested
	Data map[string]any `json:"data"`
}

// DocumentRef identifies a document for a direct re-read
type DocumentRef struct {
	ID string
	// Path is the full document path; empty when the event carried none
	Path string
}

// Ref returns the reference of the snapshot's document.
func (s *Snapshot) Ref() DocumentRef {
	return DocumentRef{ID: s.ID, Path: s.Path}
}

// present reports whether the snapshot carries a live document.
func (s *Snapshot) present() bool {
	return s != nil && s.Exists
}

// Get resolves a dot-separated field path against the snapshot data.
// A missing key and an explicit null both yield ok == false.
func (s *Snapshot) Get(path string) (any, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}

	var current any = s.Data
	for _, part := range strings.Split(path, ".") {
		m, isMap := current.(map[string]any)
		if !isMap {
			return nil, false
		}
		v, found := m[part]
		if !found || v == nil {
			return nil, false
		}
		current = v
	}
	return current, true
}

// ChangeEvent is a single document write notification
type ChangeEvent struct {
	Before    *Snapshot `json:"before,omitempty"`
	After     *Snapshot `json:"after,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type classifies the event.
func (e *ChangeEvent) Type() ChangeType {
	return ClassifyChange(e.Before.present(), e.After.present())
}

// DocumentPath returns the path of whichever snapshot is present.
func (e *ChangeEvent) DocumentPath() string {
	if e.After.present() && e.After.Path != "" {
		return e.After.Path
	}
	if e.Before != nil {
		return e.Before.Path
	}
	return ""
}

// MatchCollectionPath reports whether a document path matches a collection
// pattern such as "users/{uid}/posts". Wildcard segments in braces match any
// single segment. The document path must have exactly one more segment
// than the pattern (the document id). An empty pattern matches everything.
func MatchCollectionPath(pattern, docPath string) bool {
	if pattern == "" {
		return true
	}
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	docParts := strings.Split(strings.Trim(docPath, "/"), "/")

	// Patterns may also name the document segment ("users/{uid}").
	if len(docParts) != len(patternParts)+1 && len(docParts) != len(patternParts) {
		return false
	}
	if len(docParts) == len(patternParts) {
		last := patternParts[len(patternParts)-1]
		if !isWildcard(last) {
			return false
		}
	}

	for i, p := range patternParts {
		if isWildcard(p) {
			continue
		}
		if p != docParts[i] {
			return false
		}
	}
	return true
}

func isWildcard(segment string) bool {
	return strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentSource = (*DocumentSource)(nil)

// DocumentSource reads documents from the documents table, optionally
// restricted to collections matching a pattern such as "users/{uid}/posts".
type DocumentSource struct {
	db *DB
	// collectionRe is the POSIX regex for the collection column; empty
	// matches every collection
	collectionRe string
}

// NewDocumentSource creates a DocumentSource for the given collection pattern.
func NewDocumentSource(db *DB, collectionPattern string) *DocumentSource {
	return &DocumentSource{db: db, collectionRe: CollectionRegex(collectionPattern)}
}

// CollectionRegex converts a collection pattern into a regex over the parent
// path of a document. Brace segments match a single path segment. When the
// pattern ends in a wildcard it may also name the document segment, so the
// pattern without it matches too.
func CollectionRegex(pattern string) string {
	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		return ""
	}

	segments := strings.Split(pattern, "/")
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			parts[i] = "[^/]+"
		} else {
			parts[i] = regexp.QuoteMeta(seg)
		}
	}

	full := strings.Join(parts, "/")
	if parts[len(parts)-1] != "[^/]+" || len(parts) == 1 {
		return "^" + full + "$"
	}
	parent := strings.Join(parts[:len(parts)-1], "/")
	return "^(" + full + "|" + parent + ")$"
}

// Get re-reads a document by path, or by id within the watched collections
// when the reference has no path.
func (s *DocumentSource) Get(ctx context.Context, ref domain.DocumentRef) (*domain.Snapshot, error) {
	var row *sql.Row
	switch {
	case ref.Path != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT id, path, data FROM documents WHERE path = $1`, ref.Path)
	case s.collectionRe != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT id, path, data FROM documents WHERE id = $1 AND collection ~ $2 ORDER BY path LIMIT 1`,
			ref.ID, s.collectionRe)
	default:
		row = s.db.QueryRowContext(ctx,
			`SELECT id, path, data FROM documents WHERE id = $1 ORDER BY path LIMIT 1`, ref.ID)
	}

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.Snapshot{ID: ref.ID, Path: ref.Path, Exists: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", ref.ID, err)
	}
	return snap, nil
}

// List returns a page of documents ordered by id.
func (s *DocumentSource) List(ctx context.Context, offset, limit int) ([]*domain.Snapshot, error) {
	query := `SELECT id, path, data FROM documents`
	args := []any{}
	if s.collectionRe != "" {
		query += ` WHERE collection ~ $1`
		args = append(args, s.collectionRe)
	}
	query += fmt.Sprintf(` ORDER BY id, path OFFSET $%d LIMIT $%d`, len(args)+1, len(args)+2)
	args = append(args, offset, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*domain.Snapshot, 0, limit)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}

// Ping checks the database is reachable
func (s *DocumentSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	var data []byte
	if err := row.Scan(&snap.ID, &snap.Path, &data); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &snap.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	snap.Exists = true
	return &snap, nil
}

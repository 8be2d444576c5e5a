package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driving"
)

// ChangeChannel is the NOTIFY channel the documents trigger publishes on
const ChangeChannel = "document_changes"

// ChangeFeedConfig holds configuration for ChangeFeed.
type ChangeFeedConfig struct {
	// URL is the connection string for the dedicated LISTEN connection
	URL string

	// PollInterval drains the outbox even without notifications (default: 30s)
	PollInterval time.Duration

	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration

	Logger *slog.Logger
}

// ChangeFeed delivers rows of the document_changes outbox to a ChangeHandler.
//
// The documents trigger writes one outbox row per write and notifies
// ChangeChannel. The feed drains the outbox on every notification, on
// reconnect, and on a timer, so notifications lost while disconnected are
// picked up later. Each row is claimed with SKIP LOCKED and deleted in the
// same transaction once handled.
type ChangeFeed struct {
	db      *DB
	handler driving.ChangeHandler
	config  ChangeFeedConfig
	logger  *slog.Logger
}

// NewChangeFeed creates a change feed dispatching to handler.
func NewChangeFeed(db *DB, handler driving.ChangeHandler, cfg ChangeFeedConfig) *ChangeFeed {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MinReconnectInterval <= 0 {
		cfg.MinReconnectInterval = time.Second
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = time.Minute
	}

	return &ChangeFeed{
		db:      db,
		handler: handler,
		config:  cfg,
		logger:  logger.With("component", "change_feed"),
	}
}

// Run listens for changes until ctx is cancelled.
func (f *ChangeFeed) Run(ctx context.Context) error {
	listener := pq.NewListener(f.config.URL, f.config.MinReconnectInterval, f.config.MaxReconnectInterval, f.onListenerEvent)
	defer listener.Close()

	if err := listener.Listen(ChangeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	f.logger.Info("change feed started", "channel", ChangeChannel)

	// Catch up on changes written while nothing was listening.
	f.drain(ctx)

	ticker := time.NewTicker(f.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("change feed stopped")
			return nil
		case <-listener.Notify:
			// A nil notification follows a reconnect; drain either way.
			f.drain(ctx)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				f.logger.Warn("listener ping failed", "error", err)
			}
			f.drain(ctx)
		}
	}
}

func (f *ChangeFeed) onListenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		f.logger.Debug("listener connected")
	case pq.ListenerEventDisconnected:
		f.logger.Warn("listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		f.logger.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("listener connection attempt failed", "error", err)
	}
}

// drain handles outbox rows until none are left or an error stops it.
func (f *ChangeFeed) drain(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := f.handleNext(ctx)
		if err != nil {
			f.logger.Error("failed to process change", "error", err)
			return
		}
		if !handled {
			return
		}
	}
}

// handleNext claims the oldest unclaimed change, dispatches it and deletes
// it. Returns false when the outbox is empty.
func (f *ChangeFeed) handleNext(ctx context.Context) (bool, error) {
	handled := false
	err := f.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			SELECT id, before, after, changed_at
			FROM document_changes
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`
		var id int64
		var before, after []byte
		var changedAt time.Time
		err := tx.QueryRowContext(ctx, query).Scan(&id, &before, &after, &changedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim change: %w", err)
		}

		event, err := DecodeChange(before, after, changedAt)
		if err != nil {
			f.logger.Error("dropping undecodable change", "change_id", id, "error", err)
		} else if err := f.handler.HandleChange(ctx, event); err != nil {
			if !errors.Is(err, domain.ErrInvalidChange) {
				return fmt.Errorf("handle change %d: %w", id, err)
			}
			f.logger.Warn("dropping invalid change", "change_id", id, "error", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM document_changes WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete change %d: %w", id, err)
		}
		handled = true
		return nil
	})
	return handled, err
}

// rowImage is the JSON image of a documents row written by the trigger
type rowImage struct {
	ID   string         `json:"id"`
	Path string         `json:"path"`
	Data map[string]any `json:"data"`
}

// DecodeChange builds a change event from the before and after row images
// of an outbox entry. A missing image decodes to a tombstone snapshot.
func DecodeChange(before, after []byte, changedAt time.Time) (*domain.ChangeEvent, error) {
	b, err := decodeImage(before)
	if err != nil {
		return nil, fmt.Errorf("decode before image: %w", err)
	}
	a, err := decodeImage(after)
	if err != nil {
		return nil, fmt.Errorf("decode after image: %w", err)
	}

	// Tombstones keep the identity of the live side.
	if !b.Exists && a.Exists {
		b.ID, b.Path = a.ID, a.Path
	}
	if !a.Exists && b.Exists {
		a.ID, a.Path = b.ID, b.Path
	}

	return &domain.ChangeEvent{Before: b, After: a, Timestamp: changedAt}, nil
}

func decodeImage(raw []byte) (*domain.Snapshot, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &domain.Snapshot{}, nil
	}
	var img rowImage
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, err
	}
	return &domain.Snapshot{ID: img.ID, Path: img.Path, Exists: true, Data: img.Data}, nil
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots carry the core's full serialized state: balances, pool
// aggregate, withdrawal queue, batch arena, token supply, role registry,
// sequence cursors and recent idempotency keys. The state body is an opaque
// JSON blob produced by the core; this package only stores and indexes it.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is one stored snapshot. State is the JSON-encoded
// core.SnapshotState; Sequence and StateHash are duplicated into columns
// so recovery can pick a snapshot without decoding bodies.
type SnapshotData struct {
	Sequence  int64
	StateHash []byte
	State     []byte
	CreatedAt time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically (every N events) and start unverified; MarkVerified flips
// the flag once the integrity check passes.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	snapshotID := uuid.New()
	sizeBytes := len(snap.State)
	formatVersion := int32(1) // v1: JSON-encoded core.SnapshotState

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO stake_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, snap.State, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart the caller restores from it and replays events from
// snapshot.Sequence+1. Returns nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, data, created_at FROM stake_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var snap SnapshotData
	if err := row.Scan(&snap.Sequence, &snap.StateHash, &snap.State, &snap.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot, cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE stake_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay, used for
// both warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, partition, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM stake_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Partition,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM stake_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}

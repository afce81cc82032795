package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresIdempotencyChecker implements DB-based deduplication, the cold
// tier behind the core's bloom filter and LRU.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db: db,
	}
}

// IsDuplicate checks if event exists in the Postgres event log
func (pic *PostgresIdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM stake_log.events
        WHERE event_type = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, eventType, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil // Not found - not a duplicate
	}

	if err != nil {
		return false, err // DB error
	}

	return true, nil // Found - is duplicate
}

// LoadRecentKeys returns composite "EventType:key" strings for the most
// recent events, oldest first, to warm the in-memory dedup tiers after a
// restart.
func (pic *PostgresIdempotencyChecker) LoadRecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT event_type, idempotency_key FROM (
			SELECT event_type, idempotency_key, sequence
			FROM stake_log.events
			ORDER BY sequence DESC
			LIMIT $1
		) recent
		ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, key string
		if err := rows.Scan(&eventType, &key); err != nil {
			return nil, err
		}
		keys = append(keys, fmt.Sprintf("%s:%s", eventType, key))
	}

	return keys, rows.Err()
}

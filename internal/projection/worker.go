package projection

import (
	"StakePool/internal/event"
	"StakePool/internal/ledger"
	"StakePool/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProjectionOutput mirrors the data needed by the projection worker.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	Payload        []byte
	JournalEntries []JournalEntry
	Timestamp      int64 // event timestamp, epoch micros
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop; a dropped event leaves
// the tables behind, and CatchUp replays the gap from the event log the
// next time the worker starts.
//
// Two folds run per event: every journal adjusts projections.balances, and
// the event type drives the queue, batch and pool-state replicas. Both
// folds plus the watermark commit in one transaction, so the watermark
// never claims an event whose folds were lost.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	payouts   *PayoutHistory
	metrics   *observability.Metrics
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	payouts *PayoutHistory,
	metrics *observability.Metrics,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		payouts:   payouts,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue: projections are eventually consistent and
				// CatchUp repairs the gap from the event log
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Already folded? Replays and catch-up overlap the live channel.
	var watermark int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&watermark)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && output.Sequence <= watermark {
		return nil
	}

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	payoutEntry, err := pw.applyEventFold(ctx, tx, output)
	if err != nil {
		return fmt.Errorf("event fold %s: %w", output.EventType, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// In-memory feed only after the durable fold committed.
	if payoutEntry != nil && pw.payouts != nil {
		pw.payouts.Add(*payoutEntry)
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
	}

	return nil
}

// updateBalanceProjection applies one journal with the same sign convention
// as the core's balance tracker: the debited account goes up, the credited
// account goes down.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// applyEventFold advances the queue, batch and pool-state replicas. Only
// applied events reach the worker, so the folds assume the core already
// validated the operation.
func (pw *ProjectionWorker) applyEventFold(ctx context.Context, tx *sql.Tx, output ProjectionOutput) (*PayoutEntry, error) {
	switch output.EventType {
	case "RedemptionRequested":
		var evt event.RedemptionRequested
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		var next int64
		if err := tx.QueryRowContext(ctx, `
			SELECT next_batch_id FROM projections.pool_state WHERE id = 1
		`).Scan(&next); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.redemption_requests
				(user_id, queue_pos, request_id, batch_id, share_amount, requested_at)
			SELECT $1, COALESCE(MAX(queue_pos) + 1, 0), $2, $3, $4, $5
			FROM projections.redemption_requests WHERE user_id = $1
		`, evt.UserID, evt.RequestID, next, evt.ShareAmount, evt.Timestamp.UnixMicro())
		return nil, err

	case "ClaimRequested":
		var evt event.ClaimRequested
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		var batchID, shareAmount int64
		err := tx.QueryRowContext(ctx, `
			SELECT batch_id, share_amount FROM projections.redemption_requests
			WHERE user_id = $1 AND queue_pos = $2
		`, evt.UserID, evt.RequestIndex).Scan(&batchID, &shareAmount)
		if err != nil {
			return nil, fmt.Errorf("queue row (user=%s pos=%d): %w", evt.UserID, evt.RequestIndex, err)
		}

		payout := sumJournalAmount(output.JournalEntries, ledger.JournalTypePayout)

		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.undelegation_batches
			SET claimed_asset = claimed_asset + $2,
			    open_requests = open_requests - 1,
			    settled = (confirmed_at <> 0 AND open_requests - 1 <= 0),
			    last_sequence = $3
			WHERE batch_id = $1
		`, batchID, payout, output.Sequence); err != nil {
			return nil, err
		}

		// Mirror the core's swap-remove: the user's last request moves
		// into the freed slot.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM projections.redemption_requests
			WHERE user_id = $1 AND queue_pos = $2
		`, evt.UserID, evt.RequestIndex); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.redemption_requests
			SET queue_pos = $2
			WHERE user_id = $1
			  AND queue_pos = (SELECT MAX(queue_pos) FROM projections.redemption_requests WHERE user_id = $1)
			  AND queue_pos > $2
		`, evt.UserID, evt.RequestIndex); err != nil {
			return nil, err
		}

		return &PayoutEntry{
			UserID:      evt.UserID,
			BatchID:     uint64(batchID),
			ShareAmount: shareAmount,
			Amount:      payout,
			Timestamp:   output.Timestamp,
		}, nil

	case "BatchCloseTriggered":
		var closingID int64
		if err := tx.QueryRowContext(ctx, `
			UPDATE projections.pool_state
			SET next_batch_id = next_batch_id + 1, last_sequence = $1
			WHERE id = 1
			RETURNING next_batch_id - 1
		`, output.Sequence).Scan(&closingID); err != nil {
			return nil, err
		}
		burned := sumJournalAmount(output.JournalEntries, ledger.JournalTypeShareBurn)
		asset := sumJournalAmount(output.JournalEntries, ledger.JournalTypeUnbond)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.undelegation_batches
				(batch_id, burned_shares, asset_amount, claimed_asset, open_requests, closed_at, last_sequence)
			SELECT $1, $2, $3, 0, COUNT(*), $4, $5
			FROM projections.redemption_requests WHERE batch_id = $1
			ON CONFLICT (batch_id) DO NOTHING
		`, closingID, burned, asset, output.Timestamp, output.Sequence)
		return nil, err

	case "ConfirmationTriggered":
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.undelegation_batches
			SET confirmed_at = $1, settled = (open_requests = 0), last_sequence = $2
			WHERE confirmed_at = 0
		`, output.Timestamp, output.Sequence); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pool_state
			SET confirmed_batch_id = next_batch_id, last_sequence = $1
			WHERE id = 1
		`, output.Sequence)
		return nil, err

	case "PauseSet":
		var evt event.PauseSet
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pool_state SET paused = $1, last_sequence = $2 WHERE id = 1
		`, evt.Paused, output.Sequence)
		return nil, err

	case "ParamsUpdated":
		var evt event.ParamsUpdated
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pool_params
			SET fee_rate          = COALESCE($1, fee_rate),
			    min_delegate      = COALESCE($2, min_delegate),
			    min_undelegate    = COALESCE($3, min_undelegate),
			    precision_unit    = COALESCE($4, precision_unit),
			    validator         = COALESCE($5, validator),
			    revenue_recipient = COALESCE($6, revenue_recipient),
			    last_sequence     = $7
			WHERE id = 1
		`, evt.FeeRate, evt.MinDelegate, evt.MinUndelegate, evt.PrecisionUnit,
			evt.Validator, evt.RevenueRecipient, output.Sequence)
		return nil, err

	case "RoleGranted":
		var evt event.RoleGranted
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.roles (role, member_id) VALUES ($1, $2)
			ON CONFLICT (role, member_id) DO NOTHING
		`, evt.Role, evt.Grantee)
		return nil, err

	case "RoleRevoked":
		var evt event.RoleRevoked
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.roles WHERE role = $1 AND member_id = $2
		`, evt.Role, evt.Revokee)
		return nil, err

	case "ManagerProposed":
		var evt event.ManagerProposed
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pool_state SET pending_manager = $1, last_sequence = $2 WHERE id = 1
		`, evt.NewManager, output.Sequence)
		return nil, err

	case "ManagerAccepted":
		var evt event.ManagerAccepted
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.pool_state
			SET manager = $1, pending_manager = NULL, last_sequence = $2
			WHERE id = 1
		`, evt.ActorID, output.Sequence)
		return nil, err
	}

	// Deposits, delegation, compounding, redelegation and recovery only
	// move balances; the journal fold already covered them.
	return nil, nil
}

func sumJournalAmount(entries []JournalEntry, jt ledger.JournalType) int64 {
	var total int64
	for _, e := range entries {
		if e.JournalType == int32(jt) {
			total += e.Amount
		}
	}
	return total
}

// CatchUp folds every event the watermark has not seen yet, reading from
// the event log. Called on startup before Run so drops from previous runs
// heal, and usable any time the tables need repair.
func (pw *ProjectionWorker) CatchUp(ctx context.Context) error {
	const pageSize = 500

	watermark, err := pw.readWatermark(ctx)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}

	caughtUp := 0
	for {
		outputs, err := pw.loadOutputsAfter(ctx, watermark, pageSize)
		if err != nil {
			return fmt.Errorf("load events after %d: %w", watermark, err)
		}
		if len(outputs) == 0 {
			break
		}

		for _, output := range outputs {
			if err := pw.processOutput(ctx, output); err != nil {
				return fmt.Errorf("catch-up fold seq=%d: %w", output.Sequence, err)
			}
			watermark = output.Sequence
			caughtUp++
		}
	}

	if caughtUp > 0 {
		log.Printf("INFO: projections caught up %d events (watermark=%d)", caughtUp, watermark)
	}
	return nil
}

// Rebuild truncates every projection table and refolds the whole event
// log. Projections are derived state; this is always safe.
func (pw *ProjectionWorker) Rebuild(ctx context.Context) error {
	statements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.redemption_requests`,
		`TRUNCATE projections.undelegation_batches`,
		`TRUNCATE projections.roles`,
		`TRUNCATE projections.pool_state`,
		`TRUNCATE projections.pool_params`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
		`INSERT INTO projections.pool_state (id) VALUES (1)`,
		`INSERT INTO projections.pool_params
			(id, fee_rate, min_delegate, min_undelegate, precision_unit, validator)
		 VALUES (1, 500000000, 1000000, 1000000, 1000000, 'validator-default')`,
	}

	for _, stmt := range statements {
		if _, err := pw.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild reset: %w", err)
		}
	}

	if err := pw.CatchUp(ctx); err != nil {
		return err
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}

func (pw *ProjectionWorker) readWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (pw *ProjectionWorker) loadOutputsAfter(ctx context.Context, after int64, limit int) ([]ProjectionOutput, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT sequence, event_type, payload, timestamp
		FROM stake_log.events
		WHERE sequence > $1
		ORDER BY sequence ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []ProjectionOutput
	for rows.Next() {
		var o ProjectionOutput
		var ts time.Time
		if err := rows.Scan(&o.Sequence, &o.EventType, &o.Payload, &ts); err != nil {
			return nil, err
		}
		o.Timestamp = ts.UnixMicro()
		outputs = append(outputs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range outputs {
		journals, err := pw.loadJournals(ctx, outputs[i].Sequence)
		if err != nil {
			return nil, err
		}
		outputs[i].JournalEntries = journals
	}

	return outputs, nil
}

func (pw *ProjectionWorker) loadJournals(ctx context.Context, sequence int64) ([]JournalEntry, error) {
	rows, err := pw.db.QueryContext(ctx, `
		SELECT debit_account, credit_account, asset_id, amount, journal_type
		FROM stake_log.journal
		WHERE sequence = $1
	`, sequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var journals []JournalEntry
	for rows.Next() {
		var j JournalEntry
		if err := rows.Scan(&j.DebitAccount, &j.CreditAccount, &j.AssetID, &j.Amount, &j.JournalType); err != nil {
			return nil, err
		}
		journals = append(journals, j)
	}
	return journals, rows.Err()
}

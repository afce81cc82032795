package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"StakePool/internal/ledger"
	"StakePool/internal/math"
	"StakePool/internal/pool"
	"StakePool/internal/projection"
)

// QueryService handles read-only queries against the projection tables.
// Every response carries the projection watermark so callers can tell how
// far behind the applied event stream they are reading.
type QueryService struct {
	db      *sql.DB
	payouts *projection.PayoutHistory
}

// NewQueryService creates a query service backed by the projections
// database and the in-memory payout feed.
func NewQueryService(db *sql.DB, payouts *projection.PayoutHistory) *QueryService {
	return &QueryService{db: db, payouts: payouts}
}

// getWatermark returns the projection worker's last processed sequence.
func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var watermark int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'`,
	).Scan(&watermark)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query watermark: %w", err)
	}
	return watermark, nil
}

// getProjectedBalance reads one account balance, returning 0 for accounts
// that have never appeared in a journal entry.
func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string, assetID ledger.AssetID) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1 AND asset_id = $2`,
		accountPath, int16(assetID),
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance for %s: %w", accountPath, err)
	}
	return balance, nil
}

// getRateInputs returns the share-price inputs: total pooled asset
// (buffer + delegated principal) and outstanding shares. The supply
// account is the mint counterparty, so its balance is the negated share
// supply.
func (qs *QueryService) getRateInputs(ctx context.Context) (totalPooled, totalShares int64, err error) {
	buffer, err := qs.getProjectedBalance(ctx, ledger.BufferAccount().AccountPath(), ledger.AssetNative)
	if err != nil {
		return 0, 0, err
	}
	delegated, err := qs.getProjectedBalance(ctx, ledger.DelegatedAccount().AccountPath(), ledger.AssetNative)
	if err != nil {
		return 0, 0, err
	}
	supplyPath := ledger.NewExternalAccountKey(ledger.SubTypeExternalSupply, ledger.AssetShare).AccountPath()
	supply, err := qs.getProjectedBalance(ctx, supplyPath, ledger.AssetShare)
	if err != nil {
		return 0, 0, err
	}
	return buffer + delegated, -supply, nil
}

// GetPoolStatus returns the pool-wide aggregate: totals, share price,
// batch counters, and operational parameters.
func (qs *QueryService) GetPoolStatus(ctx context.Context) (*PoolStatusResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	buffer, err := qs.getProjectedBalance(ctx, ledger.BufferAccount().AccountPath(), ledger.AssetNative)
	if err != nil {
		return nil, err
	}
	delegated, err := qs.getProjectedBalance(ctx, ledger.DelegatedAccount().AccountPath(), ledger.AssetNative)
	if err != nil {
		return nil, err
	}
	custody, err := qs.getProjectedBalance(ctx, ledger.CustodyAccount().AccountPath(), ledger.AssetShare)
	if err != nil {
		return nil, err
	}
	unbonding, err := qs.getProjectedBalance(ctx, ledger.UnbondingAccount().AccountPath(), ledger.AssetNative)
	if err != nil {
		return nil, err
	}
	claimable, err := qs.getProjectedBalance(ctx, ledger.ClaimableAccount().AccountPath(), ledger.AssetNative)
	if err != nil {
		return nil, err
	}
	supplyPath := ledger.NewExternalAccountKey(ledger.SubTypeExternalSupply, ledger.AssetShare).AccountPath()
	supply, err := qs.getProjectedBalance(ctx, supplyPath, ledger.AssetShare)
	if err != nil {
		return nil, err
	}
	totalShares := -supply

	resp := &PoolStatusResponse{
		TotalPooled:        buffer + delegated,
		PendingDelegation:  buffer,
		DelegatedPrincipal: delegated,
		PendingBurnShares:  custody,
		UnbondingAsset:     unbonding,
		ClaimableAsset:     claimable,
		TotalShares:        totalShares,
		SharePriceE6:       pool.SharesToAsset(1_000_000, totalShares, buffer+delegated),
		AsOfSequence:       watermark,
	}

	var manager, pendingManager sql.NullString
	err = qs.db.QueryRowContext(ctx,
		`SELECT next_batch_id, confirmed_batch_id, paused, manager, pending_manager
		 FROM projections.pool_state WHERE id = 1`,
	).Scan(&resp.NextBatchID, &resp.ConfirmedBatchID, &resp.Paused, &manager, &pendingManager)
	if err != nil {
		return nil, fmt.Errorf("query pool state: %w", err)
	}
	if resp.Manager, err = parseNullUUID(manager); err != nil {
		return nil, fmt.Errorf("parse manager: %w", err)
	}
	if resp.PendingManager, err = parseNullUUID(pendingManager); err != nil {
		return nil, fmt.Errorf("parse pending manager: %w", err)
	}

	var recipient sql.NullString
	err = qs.db.QueryRowContext(ctx,
		`SELECT fee_rate, min_delegate, min_undelegate, precision_unit, validator, revenue_recipient
		 FROM projections.pool_params WHERE id = 1`,
	).Scan(&resp.Params.FeeRate, &resp.Params.MinDelegate, &resp.Params.MinUndelegate,
		&resp.Params.PrecisionUnit, &resp.Params.Validator, &recipient)
	if err != nil {
		return nil, fmt.Errorf("query pool params: %w", err)
	}
	if resp.Params.RevenueRecipient, err = parseNullUUID(recipient); err != nil {
		return nil, fmt.Errorf("parse revenue recipient: %w", err)
	}

	return resp, nil
}

// GetUserPosition returns a user's share balance and its asset value at
// the current pool rate.
func (qs *QueryService) GetUserPosition(ctx context.Context, userID uuid.UUID) (*UserPositionResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	sharePath := ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, ledger.AssetShare).AccountPath()
	shares, err := qs.getProjectedBalance(ctx, sharePath, ledger.AssetShare)
	if err != nil {
		return nil, err
	}

	var queued int64
	err = qs.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(share_amount), 0) FROM projections.redemption_requests WHERE user_id = $1`,
		userID,
	).Scan(&queued)
	if err != nil {
		return nil, fmt.Errorf("query queued shares: %w", err)
	}

	totalPooled, totalShares, err := qs.getRateInputs(ctx)
	if err != nil {
		return nil, err
	}

	return &UserPositionResponse{
		UserID:       userID,
		ShareBalance: shares,
		QueuedShares: queued,
		AssetValue:   pool.SharesToAsset(shares, totalShares, totalPooled),
		AsOfSequence: watermark,
	}, nil
}

// GetUserRequests returns a user's redemption requests with payout status.
// Requests in the still-open batch get a preview amount at the current
// rate; requests in a closed batch get their exact pro-rata split, marked
// claimable once the batch is confirmed.
func (qs *QueryService) GetUserRequests(ctx context.Context, userID uuid.UUID) ([]RequestStatusResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	totalPooled, totalShares, err := qs.getRateInputs(ctx)
	if err != nil {
		return nil, err
	}

	var nextBatch, confirmedBatch int64
	err = qs.db.QueryRowContext(ctx,
		`SELECT next_batch_id, confirmed_batch_id FROM projections.pool_state WHERE id = 1`,
	).Scan(&nextBatch, &confirmedBatch)
	if err != nil {
		return nil, fmt.Errorf("query pool state: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT r.queue_pos, r.request_id, r.batch_id, r.share_amount, r.requested_at,
		       b.asset_amount, b.burned_shares
		FROM projections.redemption_requests r
		LEFT JOIN projections.undelegation_batches b ON b.batch_id = r.batch_id
		WHERE r.user_id = $1
		ORDER BY r.queue_pos`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query redemption requests: %w", err)
	}
	defer rows.Close()

	var results []RequestStatusResponse
	for rows.Next() {
		var (
			resp        RequestStatusResponse
			requestID   string
			assetAmount sql.NullInt64
			burned      sql.NullInt64
		)
		if err := rows.Scan(&resp.QueuePos, &requestID, &resp.BatchID, &resp.ShareAmount,
			&resp.RequestedAt, &assetAmount, &burned); err != nil {
			return nil, fmt.Errorf("scan redemption request: %w", err)
		}
		if resp.RequestID, err = uuid.Parse(requestID); err != nil {
			return nil, fmt.Errorf("parse request id: %w", err)
		}
		resp.AsOfSequence = watermark

		if resp.BatchID < nextBatch && burned.Valid && burned.Int64 > 0 {
			resp.Amount = math.MulDiv(assetAmount.Int64, resp.ShareAmount, burned.Int64)
			resp.Exact = true
			resp.Claimable = resp.BatchID < confirmedBatch
		} else {
			resp.Amount = pool.SharesToAsset(resp.ShareAmount, totalShares, totalPooled)
		}

		results = append(results, resp)
	}
	return results, rows.Err()
}

// GetBatches returns undelegation batches, newest first. Settled batches
// are included only when requested.
func (qs *QueryService) GetBatches(ctx context.Context, includeSettled bool, limit int) ([]BatchResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT batch_id, burned_shares, asset_amount, claimed_asset, open_requests,
		       closed_at, confirmed_at, settled
		FROM projections.undelegation_batches`
	if !includeSettled {
		query += ` WHERE NOT settled`
	}
	query += ` ORDER BY batch_id DESC LIMIT $1`

	rows, err := qs.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var results []BatchResponse
	for rows.Next() {
		var b BatchResponse
		if err := rows.Scan(&b.BatchID, &b.BurnedShares, &b.AssetAmount, &b.ClaimedAsset,
			&b.OpenRequests, &b.ClosedAt, &b.ConfirmedAt, &b.Settled); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.AsOfSequence = watermark
		results = append(results, b)
	}
	return results, rows.Err()
}

// GetBatch returns one undelegation batch, or nil if none exists with
// that id.
func (qs *QueryService) GetBatch(ctx context.Context, batchID int64) (*BatchResponse, error) {
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var b BatchResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT batch_id, burned_shares, asset_amount, claimed_asset, open_requests,
		       closed_at, confirmed_at, settled
		FROM projections.undelegation_batches WHERE batch_id = $1`,
		batchID,
	).Scan(&b.BatchID, &b.BurnedShares, &b.AssetAmount, &b.ClaimedAsset,
		&b.OpenRequests, &b.ClosedAt, &b.ConfirmedAt, &b.Settled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch %d: %w", batchID, err)
	}
	b.AsOfSequence = watermark
	return &b, nil
}

// GetJournalHistory returns journal entries touching any of the user's
// accounts, newest first. Pass afterSequence from the oldest entry of the
// previous page to paginate.
func (qs *QueryService) GetJournalHistory(ctx context.Context, userID uuid.UUID, limit int, afterSequence int64) ([]JournalHistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	pattern := fmt.Sprintf("user:%s:%%", userID)
	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       asset_id, amount, journal_type, timestamp
		FROM stake_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)`
	args := []interface{}{pattern}
	argIdx := 2

	if afterSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, afterSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal history: %w", err)
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetRecentPayouts returns recent claim payouts from the in-memory feed,
// optionally filtered to one user.
func (qs *QueryService) GetRecentPayouts(userID *uuid.UUID, limit int) []projection.PayoutEntry {
	if qs.payouts == nil {
		return nil
	}
	if userID != nil {
		return qs.payouts.ByUser(*userID, limit)
	}
	return qs.payouts.Recent(limit)
}

// VerifyIntegrity checks the event log hash chain and the ledger zero-sum
// invariant, and reports how far the projections trail the log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{IsHealthy: true}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM stake_log.events e1
		JOIN stake_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("query hash chain: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("scan hash chain break: %w", err)
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0`)
	if err != nil {
		return nil, fmt.Errorf("query balance sums: %w", err)
	}
	defer balRows.Close()

	for balRows.Next() {
		var ua UnbalancedAsset
		if err := balRows.Scan(&ua.AssetID, &ua.Imbalance); err != nil {
			return nil, fmt.Errorf("scan unbalanced asset: %w", err)
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, ua)
	}
	if err := balRows.Err(); err != nil {
		return nil, err
	}

	var maxSeq sql.NullInt64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM stake_log.events`,
	).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("query max sequence: %w", err)
	}
	watermark, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	if maxSeq.Valid && maxSeq.Int64 > watermark {
		report.WatermarkLag = maxSeq.Int64 - watermark
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

func parseNullUUID(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

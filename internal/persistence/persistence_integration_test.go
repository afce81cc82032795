package persistence_test

import (
	"StakePool/internal/persistence"
	"StakePool/internal/testutil"
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

const migrationsDir = "../../migrations"

func hash32(b byte) []byte {
	h := make([]byte, 32)
	h[0] = b
	return h
}

func testEvent(seq int64, eventType string) persistence.EventRow {
	return persistence.EventRow{
		Sequence:       seq,
		EventType:      eventType,
		IdempotencyKey: uuid.New().String(),
		Partition:      "ops",
		Payload:        []byte(fmt.Sprintf(`{"Sequence":%d}`, seq)),
		StateHash:      hash32(byte(seq + 1)),
		PrevHash:       hash32(byte(seq)),
		Timestamp:      time.Now().UTC(),
		SourceSequence: seq,
	}
}

func testJournal(seq int64) persistence.JournalRow {
	return persistence.JournalRow{
		JournalID:     uuid.New().String(),
		BatchID:       uuid.New().String(),
		EventRef:      uuid.New().String(),
		Sequence:      seq,
		DebitAccount:  "system:buffer:native",
		CreditAccount: "external:deposits:native",
		AssetID:       1,
		Amount:        1_000_000,
		JournalType:   1,
		Timestamp:     time.Now().UnixMicro(),
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	m := persistence.NewMigrator(db, migrationsDir)
	if err := m.Up(ctx); err != nil {
		t.Fatalf("first up: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("second up should be a no-op, got: %v", err)
	}
}

func TestWorker_WritesBatchesAndFlushesOnClose(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	if err := persistence.NewMigrator(db, migrationsDir).Up(ctx); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	// Long flush timeout so only the close-path flush can write
	inputChan := make(chan persistence.CoreOutput, 16)
	worker := persistence.NewPersistenceWorker(db, inputChan, 100, time.Hour, nil)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	for seq := int64(0); seq < 3; seq++ {
		inputChan <- persistence.CoreOutput{
			EventRow:    testEvent(seq, "DepositRequested"),
			JournalRows: []persistence.JournalRow{testJournal(seq), testJournal(seq)},
		}
	}
	close(inputChan)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("worker exited with error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit after channel close")
	}

	snapMgr := persistence.NewSnapshotManager(db)
	lastSeq, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("get latest sequence: %v", err)
	}
	if lastSeq != 2 {
		t.Errorf("expected last sequence 2, got %d", lastSeq)
	}

	events, err := snapMgr.LoadEventsFrom(ctx, 0, 10)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Sequence != int64(i) {
			t.Errorf("event %d out of order: sequence %d", i, e.Sequence)
		}
		if !bytes.Equal(e.StateHash, hash32(byte(i+1))) {
			t.Errorf("event %d state hash did not round-trip", i)
		}
	}

	var journalCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stake_log.journal`,
	).Scan(&journalCount); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if journalCount != 6 {
		t.Errorf("expected 6 journal rows, got %d", journalCount)
	}
}

func TestWriter_RewriteIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	if err := persistence.NewMigrator(db, migrationsDir).Up(ctx); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	writer := persistence.NewEventLogWriter(db, 50, time.Millisecond)
	events := []persistence.EventRow{testEvent(0, "DepositRequested"), testEvent(1, "PauseSet")}
	journals := []persistence.JournalRow{testJournal(0)}

	writeAll := func() {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := writer.WriteEventBatch(ctx, tx, events); err != nil {
			tx.Rollback()
			t.Fatalf("write events: %v", err)
		}
		if err := writer.WriteJournalBatch(ctx, tx, journals); err != nil {
			tx.Rollback()
			t.Fatalf("write journals: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	// A crash between flush and ack redelivers the batch; the second
	// write must be absorbed without errors or duplicate rows.
	writeAll()
	writeAll()

	var eventCount, journalCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stake_log.events`).Scan(&eventCount); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stake_log.journal`).Scan(&journalCount); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if eventCount != 2 {
		t.Errorf("expected 2 events after rewrite, got %d", eventCount)
	}
	if journalCount != 1 {
		t.Errorf("expected 1 journal after rewrite, got %d", journalCount)
	}
}

func TestSnapshotManager_LoadsOnlyVerified(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	if err := persistence.NewMigrator(db, migrationsDir).Up(ctx); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	state := []byte(`{"sequence":100}`)

	if err := snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{
		Sequence:  100,
		StateHash: hash32(1),
		State:     state,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are invisible to recovery
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil for unverified snapshot, got sequence %d", snap.Sequence)
	}

	if err := snapMgr.MarkVerified(ctx, 100); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	snap, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("expected verified snapshot, got nil")
	}
	if snap.Sequence != 100 {
		t.Errorf("expected sequence 100, got %d", snap.Sequence)
	}
	if !bytes.Equal(snap.State, state) {
		t.Error("snapshot state did not round-trip")
	}
	if !bytes.Equal(snap.StateHash, hash32(1)) {
		t.Error("snapshot state hash did not round-trip")
	}

	// A newer unverified snapshot must not shadow the verified one
	if err := snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{
		Sequence:  200,
		StateHash: hash32(2),
		State:     []byte(`{"sequence":200}`),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("save second snapshot: %v", err)
	}
	snap, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap == nil || snap.Sequence != 100 {
		t.Errorf("expected verified snapshot 100, got %+v", snap)
	}
}

func TestIdempotencyChecker_FindsLoggedEvents(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	if err := persistence.NewMigrator(db, migrationsDir).Up(ctx); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	events := []persistence.EventRow{
		testEvent(0, "DepositRequested"),
		testEvent(1, "RedemptionRequested"),
		testEvent(2, "DelegationTriggered"),
	}
	writer := persistence.NewEventLogWriter(db, 50, time.Millisecond)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, events); err != nil {
		tx.Rollback()
		t.Fatalf("write events: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)

	dup, err := checker.IsDuplicate(events[1].EventType, events[1].IdempotencyKey)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Error("logged event not reported as duplicate")
	}

	dup, err = checker.IsDuplicate("DepositRequested", uuid.New().String())
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Error("unknown key reported as duplicate")
	}

	// Warm keys: most recent N, oldest first, so bloom insert order
	// matches the log
	keys, err := checker.LoadRecentKeys(ctx, 2)
	if err != nil {
		t.Fatalf("load recent keys: %v", err)
	}
	want := []string{
		fmt.Sprintf("%s:%s", events[1].EventType, events[1].IdempotencyKey),
		fmt.Sprintf("%s:%s", events[2].EventType, events[2].IdempotencyKey),
	}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("unexpected warm keys:\n got %v\nwant %v", keys, want)
	}
}

package core

import (
	"fmt"
)

// SequenceValidator validates source sequences per partition.
// Validation and advancement are split: Validate is a pure check, Commit
// advances the cursor and runs only after an event is applied. A rejected
// event therefore never consumes its sequence, which keeps the live
// validator state identical to what a restart rebuilds from the
// accepted-event log.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// Validate checks source sequence ordering
func (sv *SequenceValidator) Validate(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		// Stale or duplicate
		if isDuplicate {
			// This is expected - already processed
			return nil
		}
		// Out-of-order delivery of NEW event
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// Commit advances the partition cursor past an applied event.
func (sv *SequenceValidator) Commit(partition string, sourceSequence int64) {
	sv.expectedNextSeq[partition] = sourceSequence + 1
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition initializes expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// GetAllPartitions returns a copy of every partition cursor, for snapshotting.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, seq := range sv.expectedNextSeq {
		out[partition] = seq
	}
	return out
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

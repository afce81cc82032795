package pool

import (
	"sort"

	"github.com/google/uuid"
)

// RedemptionRequest is one queued withdrawal. Requests keep their queue
// position until claimed; claims address them by (user, index).
type RedemptionRequest struct {
	// RequestID is a stable identifier for projections and receipts.
	// Queue position is not stable, see SwapRemove.
	RequestID uuid.UUID `json:"request_id"`

	// BatchID is the batch this request settles in. The batch exists only
	// once it closes; until then the id equals the pool's NextBatchID at
	// request time.
	BatchID uint64 `json:"batch_id"`

	// ShareAmount is the shares surrendered into custody.
	ShareAmount int64 `json:"share_amount"`

	// RequestedAt is the event timestamp of the request, epoch micros.
	RequestedAt int64 `json:"requested_at"`
}

// WithdrawalQueue holds each user's open redemption requests. Owned by the
// core goroutine; no locking.
type WithdrawalQueue struct {
	requests map[uuid.UUID][]RedemptionRequest
}

func NewWithdrawalQueue() *WithdrawalQueue {
	return &WithdrawalQueue{requests: make(map[uuid.UUID][]RedemptionRequest)}
}

func (q *WithdrawalQueue) Append(user uuid.UUID, req RedemptionRequest) {
	q.requests[user] = append(q.requests[user], req)
}

func (q *WithdrawalQueue) Get(user uuid.UUID, index int) (RedemptionRequest, bool) {
	reqs := q.requests[user]
	if index < 0 || index >= len(reqs) {
		return RedemptionRequest{}, false
	}
	return reqs[index], true
}

func (q *WithdrawalQueue) Len(user uuid.UUID) int {
	return len(q.requests[user])
}

// Requests returns a copy of the user's queue in positional order.
func (q *WithdrawalQueue) Requests(user uuid.UUID) []RedemptionRequest {
	reqs := q.requests[user]
	if len(reqs) == 0 {
		return nil
	}
	out := make([]RedemptionRequest, len(reqs))
	copy(out, reqs)
	return out
}

// BatchTotals sums the requests tagged with one batch id across all users.
// Closing a batch uses this to seed the batch's open-request count and to
// check that its burned shares equal the queued shares.
func (q *WithdrawalQueue) BatchTotals(batchID uint64) (count int, shares int64) {
	for _, reqs := range q.requests {
		for _, req := range reqs {
			if req.BatchID == batchID {
				count++
				shares += req.ShareAmount
			}
		}
	}
	return count, shares
}

// SwapRemove deletes the request at index by moving the last request into
// its slot and shrinking the queue. The order of remaining requests changes:
// callers that iterate and claim by index must re-read indexes after every
// claim. Returns the removed request.
func (q *WithdrawalQueue) SwapRemove(user uuid.UUID, index int) (RedemptionRequest, bool) {
	reqs := q.requests[user]
	if index < 0 || index >= len(reqs) {
		return RedemptionRequest{}, false
	}
	removed := reqs[index]
	last := len(reqs) - 1
	reqs[index] = reqs[last]
	reqs = reqs[:last]
	if len(reqs) == 0 {
		delete(q.requests, user)
	} else {
		q.requests[user] = reqs
	}
	return removed, true
}

type QueueEntrySnapshot struct {
	UserID   uuid.UUID           `json:"user_id"`
	Requests []RedemptionRequest `json:"requests"`
}

// Snapshot returns all queues sorted by user id for deterministic
// serialization.
func (q *WithdrawalQueue) Snapshot() []QueueEntrySnapshot {
	out := make([]QueueEntrySnapshot, 0, len(q.requests))
	for user, reqs := range q.requests {
		entry := QueueEntrySnapshot{UserID: user, Requests: make([]RedemptionRequest, len(reqs))}
		copy(entry.Requests, reqs)
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID.String() < out[j].UserID.String()
	})
	return out
}

func RestoreWithdrawalQueue(entries []QueueEntrySnapshot) *WithdrawalQueue {
	q := NewWithdrawalQueue()
	for _, entry := range entries {
		reqs := make([]RedemptionRequest, len(entry.Requests))
		copy(reqs, entry.Requests)
		q.requests[entry.UserID] = reqs
	}
	return q
}

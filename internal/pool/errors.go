package pool

import "errors"

// Operation errors. Every precondition failure aborts the whole operation
// with no partial state change; callers classify with errors.Is and report
// the reason code. Operations are never retried by the engine itself.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInsufficientFee       = errors.New("relay fee underpaid")
	ErrBelowThreshold        = errors.New("amount below configured minimum")
	ErrInsufficientBacking   = errors.New("redemption exceeds delegated principal")
	ErrNothingDelegated      = errors.New("nothing delegated")
	ErrNothingToConfirm      = errors.New("nothing to confirm")
	ErrIndexOutOfRange       = errors.New("request index out of range")
	ErrNotYetClaimable       = errors.New("batch not yet confirmed")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRevenueRecipientUnset = errors.New("revenue recipient unset")
	ErrPaused                = errors.New("pool is paused")
)

// reasonCodes maps sentinel errors to stable labels used in rejection
// metrics and persisted rejection records.
var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidArgument, "invalid_argument"},
	{ErrInsufficientFee, "insufficient_fee"},
	{ErrBelowThreshold, "below_threshold"},
	{ErrInsufficientBacking, "insufficient_backing"},
	{ErrNothingDelegated, "nothing_delegated"},
	{ErrNothingToConfirm, "nothing_to_confirm"},
	{ErrIndexOutOfRange, "index_out_of_range"},
	{ErrNotYetClaimable, "not_yet_claimable"},
	{ErrUnauthorized, "unauthorized"},
	{ErrRevenueRecipientUnset, "revenue_recipient_unset"},
	{ErrPaused, "paused"},
}

// ReasonCode returns the stable label for a taxonomy error, or "" if err
// is not (wrapping) one. A non-empty code means the rejection is
// deterministic: re-delivering the same command cannot succeed, so the
// shell must not retry it.
func ReasonCode(err error) string {
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return ""
}

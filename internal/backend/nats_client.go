package backend

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request/reply subjects served by the chain relayer.
const (
	SubjectQuoteFee         = "stake.backend.quote_fee"
	SubjectDelegate         = "stake.backend.delegate"
	SubjectRedelegate       = "stake.backend.redelegate"
	SubjectClaimReward      = "stake.backend.claim_reward"
	SubjectUndelegate       = "stake.backend.undelegate"
	SubjectClaimUndelegated = "stake.backend.claim_undelegated"
)

type delegateRequest struct {
	Validator string `json:"validator"`
	Amount    int64  `json:"amount"`
	RelayFee  int64  `json:"relay_fee"`
}

type redelegateRequest struct {
	SrcValidator string `json:"src_validator"`
	DstValidator string `json:"dst_validator"`
	Amount       int64  `json:"amount"`
	RelayFee     int64  `json:"relay_fee"`
}

type undelegateRequest struct {
	Validator string `json:"validator"`
	Amount    int64  `json:"amount"`
}

type backendResponse struct {
	OK     bool   `json:"ok"`
	Amount int64  `json:"amount,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NATSClient speaks request/reply to the relayer over core NATS. One
// request per instruction; the relayer replies once the chain transaction
// is final.
type NATSClient struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewNATSClient(nc *nats.Conn, timeout time.Duration) *NATSClient {
	return &NATSClient{nc: nc, timeout: timeout}
}

func (c *NATSClient) request(subject string, req any) (backendResponse, error) {
	var resp backendResponse

	data, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal %s request: %w", subject, err)
	}

	msg, err := c.nc.Request(subject, data, c.timeout)
	if err != nil {
		// Timeouts, no responders, connection loss: all transport.
		return resp, fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
	}

	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return resp, fmt.Errorf("decode %s response: %w", subject, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%w: %s: %s", ErrRejected, subject, resp.Error)
	}
	return resp, nil
}

func (c *NATSClient) QuoteFee() (int64, error) {
	resp, err := c.request(SubjectQuoteFee, struct{}{})
	if err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *NATSClient) Delegate(validator string, amount, relayFee int64) error {
	_, err := c.request(SubjectDelegate, delegateRequest{
		Validator: validator,
		Amount:    amount,
		RelayFee:  relayFee,
	})
	return err
}

func (c *NATSClient) Redelegate(srcValidator, dstValidator string, amount, relayFee int64) error {
	_, err := c.request(SubjectRedelegate, redelegateRequest{
		SrcValidator: srcValidator,
		DstValidator: dstValidator,
		Amount:       amount,
		RelayFee:     relayFee,
	})
	return err
}

func (c *NATSClient) ClaimReward() (int64, error) {
	resp, err := c.request(SubjectClaimReward, struct{}{})
	if err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *NATSClient) Undelegate(validator string, amount int64) error {
	_, err := c.request(SubjectUndelegate, undelegateRequest{
		Validator: validator,
		Amount:    amount,
	})
	return err
}

func (c *NATSClient) ClaimUndelegated() (int64, error) {
	resp, err := c.request(SubjectClaimUndelegated, struct{}{})
	if err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

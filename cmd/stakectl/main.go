package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/urfave/cli.v1"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	endpointFlag = cli.StringFlag{
		Name:   "endpoint",
		Usage:  "StakePool API base URL",
		Value:  "http://localhost:8080",
		EnvVar: "POOL_ENDPOINT",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "HTTP request timeout",
		Value: 10 * time.Second,
	}

	userFlag = cli.StringFlag{
		Name:  "user",
		Usage: "user id (uuid)",
	}
	actorFlag = cli.StringFlag{
		Name:  "actor",
		Usage: "acting principal id (uuid)",
	}
	amountFlag = cli.Int64Flag{
		Name:  "amount",
		Usage: "asset amount in base units",
	}
	feeFlag = cli.Int64Flag{
		Name:  "fee",
		Usage: "relay fee paid, in base units",
	}
	seqFlag = cli.Int64Flag{
		Name:  "seq",
		Usage: "partition source sequence; the node rejects gaps, read the expected value from 'stakectl pool'",
	}
	limitFlag = cli.IntFlag{
		Name:  "limit",
		Usage: "maximum rows returned",
		Value: 100,
	}
	afterFlag = cli.Int64Flag{
		Name:  "after",
		Usage: "only entries after this sequence",
	}
	settledFlag = cli.BoolFlag{
		Name:  "settled",
		Usage: "include settled batches",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "stakectl"
	app.Usage = "query and operate a StakePool node"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{endpointFlag, timeoutFlag}
	app.Commands = []cli.Command{
		{
			Name:   "pool",
			Usage:  "Show pool status: share price, supply, buffers and aggregates",
			Action: cmdPool,
		},
		{
			Name:   "integrity",
			Usage:  "Run the ledger integrity checks against the projections",
			Action: cmdIntegrity,
		},
		{
			Name:      "position",
			Usage:     "Show a user's share position",
			ArgsUsage: "<user-id>",
			Action:    cmdPosition,
		},
		{
			Name:      "requests",
			Usage:     "List a user's undelegation requests",
			ArgsUsage: "<user-id>",
			Action:    cmdRequests,
		},
		{
			Name:      "journal",
			Usage:     "List a user's journal entries",
			ArgsUsage: "<user-id>",
			Flags:     []cli.Flag{limitFlag, afterFlag},
			Action:    cmdJournal,
		},
		{
			Name:   "batches",
			Usage:  "List undelegation batches",
			Flags:  []cli.Flag{settledFlag, limitFlag},
			Action: cmdBatches,
		},
		{
			Name:      "batch",
			Usage:     "Show one undelegation batch with its requests",
			ArgsUsage: "<batch-id>",
			Action:    cmdBatch,
		},
		{
			Name:   "payouts",
			Usage:  "List recent claim payouts",
			Flags:  []cli.Flag{userFlag, limitFlag},
			Action: cmdPayouts,
		},
		{
			Name:   "log",
			Usage:  "Show the event log head sequence",
			Action: cmdLog,
		},
		{
			Name:   "deposit",
			Usage:  "Inject a deposit request",
			Flags:  []cli.Flag{userFlag, amountFlag, seqFlag},
			Action: cmdDeposit,
		},
		{
			Name:   "delegate",
			Usage:  "Trigger a delegation sweep of the pending buffer",
			Flags:  []cli.Flag{actorFlag, feeFlag, seqFlag},
			Action: cmdDelegate,
		},
		{
			Name:   "compound",
			Usage:  "Claim accrued rewards and fold them into the pool",
			Flags:  []cli.Flag{actorFlag, seqFlag},
			Action: triggerAction("/v1/inject/compound"),
		},
		{
			Name:   "close-batch",
			Usage:  "Close the open undelegation batch and unbond it",
			Flags:  []cli.Flag{actorFlag, seqFlag},
			Action: triggerAction("/v1/inject/close-batch"),
		},
		{
			Name:   "confirm",
			Usage:  "Confirm matured undelegations and settle closed batches",
			Flags:  []cli.Flag{actorFlag, seqFlag},
			Action: triggerAction("/v1/inject/confirm"),
		},
		{
			Name:   "recover",
			Usage:  "Recover an interrupted undelegation back into the buffer",
			Flags:  []cli.Flag{actorFlag, seqFlag},
			Action: triggerAction("/v1/inject/recover"),
		},
		{
			Name:   "pause",
			Usage:  "Pause user operations (deposits, redemptions, claims)",
			Flags:  []cli.Flag{actorFlag, seqFlag},
			Action: pauseAction(true),
		},
		{
			Name:   "resume",
			Usage:  "Resume user operations",
			Flags:  []cli.Flag{actorFlag, seqFlag},
			Action: pauseAction(false),
		},
		{
			Name:   "rebuild",
			Usage:  "Rebuild the projection tables from the event log",
			Action: cmdRebuild,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// --- Query commands ---

func cmdPool(ctx *cli.Context) error {
	return get(ctx, "/v1/pool")
}

func cmdIntegrity(ctx *cli.Context) error {
	return get(ctx, "/v1/pool/integrity")
}

func cmdPosition(ctx *cli.Context) error {
	userID, err := argUUID(ctx, "user-id")
	if err != nil {
		return err
	}
	return get(ctx, "/v1/users/"+userID+"/position")
}

func cmdRequests(ctx *cli.Context) error {
	userID, err := argUUID(ctx, "user-id")
	if err != nil {
		return err
	}
	return get(ctx, "/v1/users/"+userID+"/requests")
}

func cmdJournal(ctx *cli.Context) error {
	userID, err := argUUID(ctx, "user-id")
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/users/%s/journal?limit=%d&after=%d",
		userID, ctx.Int(limitFlag.Name), ctx.Int64(afterFlag.Name))
	return get(ctx, path)
}

func cmdBatches(ctx *cli.Context) error {
	path := fmt.Sprintf("/v1/batches?include_settled=%t&limit=%d",
		ctx.Bool(settledFlag.Name), ctx.Int(limitFlag.Name))
	return get(ctx, path)
}

func cmdBatch(ctx *cli.Context) error {
	raw := ctx.Args().First()
	if raw == "" {
		return cli.NewExitError("batch id required", 1)
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid batch id %q", raw), 1)
	}
	return get(ctx, "/v1/batches/"+raw)
}

func cmdPayouts(ctx *cli.Context) error {
	path := fmt.Sprintf("/v1/payouts?limit=%d", ctx.Int(limitFlag.Name))
	if ctx.IsSet(userFlag.Name) {
		userID, err := flagUUID(ctx, userFlag.Name)
		if err != nil {
			return err
		}
		path += "&user_id=" + userID
	}
	return get(ctx, path)
}

func cmdLog(ctx *cli.Context) error {
	return get(ctx, "/v1/admin/log")
}

// --- Inject commands ---

func cmdDeposit(ctx *cli.Context) error {
	userID, err := flagUUID(ctx, userFlag.Name)
	if err != nil {
		return err
	}
	seq, err := requiredSeq(ctx)
	if err != nil {
		return err
	}
	amount := ctx.Int64(amountFlag.Name)
	if amount <= 0 {
		return cli.NewExitError("--amount must be positive", 1)
	}
	return post(ctx, "/v1/inject/deposit", map[string]interface{}{
		"user_id":  userID,
		"amount":   amount,
		"sequence": seq,
	})
}

func cmdDelegate(ctx *cli.Context) error {
	actorID, err := flagUUID(ctx, actorFlag.Name)
	if err != nil {
		return err
	}
	seq, err := requiredSeq(ctx)
	if err != nil {
		return err
	}
	return post(ctx, "/v1/inject/delegate", map[string]interface{}{
		"actor_id":       actorID,
		"relay_fee_paid": ctx.Int64(feeFlag.Name),
		"sequence":       seq,
	})
}

// triggerAction builds the action for the bare operator triggers, which
// share one request shape.
func triggerAction(path string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		actorID, err := flagUUID(ctx, actorFlag.Name)
		if err != nil {
			return err
		}
		seq, err := requiredSeq(ctx)
		if err != nil {
			return err
		}
		return post(ctx, path, map[string]interface{}{
			"actor_id": actorID,
			"sequence": seq,
		})
	}
}

func pauseAction(paused bool) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		actorID, err := flagUUID(ctx, actorFlag.Name)
		if err != nil {
			return err
		}
		seq, err := requiredSeq(ctx)
		if err != nil {
			return err
		}
		return post(ctx, "/v1/inject/pause", map[string]interface{}{
			"actor_id": actorID,
			"paused":   paused,
			"sequence": seq,
		})
	}
}

func cmdRebuild(ctx *cli.Context) error {
	return post(ctx, "/v1/admin/rebuild", nil)
}

// --- HTTP helpers ---

func get(ctx *cli.Context, path string) error {
	return do(ctx, http.MethodGet, path, nil)
}

func post(ctx *cli.Context, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("encode request: %v", err), 1)
		}
		reader = bytes.NewReader(data)
	}
	return do(ctx, http.MethodPost, path, reader)
}

func do(ctx *cli.Context, method, path string, body io.Reader) error {
	base := strings.TrimRight(ctx.GlobalString(endpointFlag.Name), "/")
	client := &http.Client{Timeout: ctx.GlobalDuration(timeoutFlag.Name)}

	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("build request: %v", err), 1)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("%s %s: %v", method, base+path, err), 1)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("read response: %v", err), 1)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return cli.NewExitError(fmt.Sprintf("%s: %s", resp.Status, apiErr.Error), 1)
		}
		return cli.NewExitError(fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(data))), 1)
	}

	printJSON(data)
	return nil
}

// printJSON re-indents the response for the terminal, falling back to
// the raw bytes if it is not JSON.
func printJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	fmt.Println(string(pretty))
}

// --- Flag helpers ---

func argUUID(ctx *cli.Context, name string) (string, error) {
	raw := ctx.Args().First()
	if raw == "" {
		return "", cli.NewExitError(name+" required", 1)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", cli.NewExitError(fmt.Sprintf("invalid %s %q", name, raw), 1)
	}
	return raw, nil
}

func flagUUID(ctx *cli.Context, name string) (string, error) {
	raw := ctx.String(name)
	if raw == "" {
		return "", cli.NewExitError("--"+name+" required", 1)
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", cli.NewExitError(fmt.Sprintf("invalid --%s %q", name, raw), 1)
	}
	return raw, nil
}

func requiredSeq(ctx *cli.Context) (int64, error) {
	if !ctx.IsSet(seqFlag.Name) {
		return 0, cli.NewExitError("--seq required", 1)
	}
	return ctx.Int64(seqFlag.Name), nil
}

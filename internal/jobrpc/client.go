package jobrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a minimal JSON-RPC 2.0 client for the CLI to talk to the
// daemon over loopback HTTP.
type Client struct {
	Addr       string
	HTTPClient *http.Client
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	req := request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method, Params: paramsRaw}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Addr+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc transport: %w", err)
	}
	defer resp.Body.Close()

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if env.Error != nil {
		return fmt.Errorf("rpc error %d: %s", env.Error.Code, env.Error.Message)
	}
	if out == nil {
		return nil
	}
	resultRaw, err := json.Marshal(env.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(resultRaw, out)
}

func (c *Client) Enqueue(ctx context.Context, p EnqueueParams) (*EnqueueResult, error) {
	var out EnqueueResult
	if err := c.call(ctx, "dev.enqueue.v1", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) (*CancelResult, error) {
	var out CancelResult
	if err := c.call(ctx, "dev.cancel.v1", CancelParams{JobID: jobID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TailLogs(ctx context.Context, jobID string, lines int) (*TailResult, error) {
	var out TailResult
	if err := c.call(ctx, "logs.tail.v1", TailParams{JobID: jobID, Lines: lines}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*StatsResult, error) {
	var out StatsResult
	if err := c.call(ctx, "admin.stats.v1", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Maintenance(ctx context.Context, forceVacuum bool) (*MaintenanceResult, error) {
	var out MaintenanceResult
	if err := c.call(ctx, "admin.maintenance.v1", MaintenanceParams{ForceVacuum: forceVacuum}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

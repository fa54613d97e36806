package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"sake/internal/logging"
	"sake/internal/types"
)

// request is the wire envelope for one backend call.
type request struct {
	Method    string      `json:"method"`
	SessionID string      `json:"sessionId"`
	Params    interface{} `json:"params,omitempty"`
}

// response is the wire envelope for one backend reply.
type response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Client speaks the backend's JSON method protocol over HTTP. One client
// serves one session; the session id rides along on every request.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
	connected atomic.Bool
	log       *logging.Logger
}

// NewClient creates a backend client for one session.
func NewClient(baseURL, sessionID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		sessionID: sessionID,
		http:      &http.Client{Timeout: timeout},
		log:       logging.Get(logging.CategoryNetwork),
	}
}

// Connected reports liveness as last observed.
func (c *Client) Connected() bool { return c.connected.Load() }

// invoke performs one request/response round trip. A backend-reported
// connection-loss message marks the client disconnected before the error is
// returned, so the caller observes the liveness flip regardless of which
// operation triggered it.
func (c *Client) invoke(ctx context.Context, method string, params, result interface{}) error {
	timer := logging.StartTimer(logging.CategoryNetwork, method)
	defer timer.Stop()

	body, err := json.Marshal(request{Method: method, SessionID: c.sessionID, Params: params})
	if err != nil {
		return types.NewValidationError(method, "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAdapterError(method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.connected.Store(false)
		return types.NewAdapterError(method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewAdapterError(method, fmt.Errorf("backend returned status %d", resp.StatusCode))
	}

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return types.NewValidationError(method, "decode response: %v", err)
	}

	if !env.Success {
		wrapped := types.NewAdapterError(method, errors.New(env.Error))
		if types.IsConnectionLoss(wrapped) {
			c.connected.Store(false)
			c.log.Warn("connection loss detected during %s: %s", method, env.Error)
		}
		return wrapped
	}

	if result != nil {
		if env.Result == nil {
			return types.NewValidationError(method, "no result returned")
		}
		if err := json.Unmarshal(env.Result, result); err != nil {
			return types.NewValidationError(method, "decode result: %v", err)
		}
	}
	return nil
}

func (c *Client) CreateChain(ctx context.Context, cfg types.NetworkConfig) (*ChainInfo, error) {
	var info ChainInfo
	if err := c.invoke(ctx, MethodCreateChain, cfg, &info); err != nil {
		return nil, err
	}
	c.connected.Store(true)
	c.log.Info("chain created for session %s at %s (%d accounts)", c.sessionID, info.URI, len(info.Accounts))
	return &info, nil
}

func (c *Client) ConnectChain(ctx context.Context, uri string) (*ChainInfo, error) {
	var info ChainInfo
	params := map[string]string{"uri": uri}
	if err := c.invoke(ctx, MethodConnectChain, params, &info); err != nil {
		return nil, err
	}
	c.connected.Store(true)
	c.log.Info("connected session %s to %s", c.sessionID, uri)
	return &info, nil
}

func (c *Client) DisconnectChain(ctx context.Context) error {
	err := c.invoke(ctx, MethodDisconnectChain, nil, nil)
	c.connected.Store(false)
	return err
}

func (c *Client) GetAccounts(ctx context.Context) ([]types.Address, error) {
	var accounts []types.Address
	if err := c.invoke(ctx, MethodGetAccounts, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *Client) GetBalances(ctx context.Context, addrs []types.Address) (map[types.Address]*uint256.Int, error) {
	params := map[string]interface{}{"addresses": addrs}
	var balances map[types.Address]*uint256.Int
	if err := c.invoke(ctx, MethodGetBalances, params, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

func (c *Client) SetBalance(ctx context.Context, addr types.Address, balance *uint256.Int) error {
	params := map[string]interface{}{"address": addr, "balance": balance}
	return c.invoke(ctx, MethodSetBalance, params, nil)
}

func (c *Client) SetLabel(ctx context.Context, addr types.Address, label string) error {
	params := map[string]interface{}{"address": addr, "label": label}
	return c.invoke(ctx, MethodSetLabel, params, nil)
}

func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	var result DeployResult
	if err := c.invoke(ctx, MethodDeploy, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	var result CallResult
	if err := c.invoke(ctx, MethodCall, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Transact(ctx context.Context, req CallRequest) (*CallResult, error) {
	var result CallResult
	if err := c.invoke(ctx, MethodTransact, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DumpState(ctx context.Context) (json.RawMessage, error) {
	var dump json.RawMessage
	if err := c.invoke(ctx, MethodDumpState, nil, &dump); err != nil {
		return nil, err
	}
	return dump, nil
}

func (c *Client) LoadState(ctx context.Context, dump json.RawMessage) error {
	params := map[string]interface{}{"state": dump}
	return c.invoke(ctx, MethodLoadState, params, nil)
}

func (c *Client) GetABI(ctx context.Context, addr types.Address) (*ABIResult, error) {
	params := map[string]interface{}{"address": addr}
	var result ABIResult
	if err := c.invoke(ctx, MethodGetABI, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.invoke(ctx, MethodPing, nil, nil)
}

var _ Adapter = (*Client)(nil)

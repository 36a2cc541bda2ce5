// Package rpcclient provides an action-style JSON RPC client for ledger nodes.
package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/getcanoe/canoe-sync/internal/log"
)

// ErrTransportUnavailable is returned when the node cannot be reached or
// answers with a server failure. Callers retry later.
var ErrTransportUnavailable = errors.New("ledger node unavailable")

// DefaultTimeout bounds every call when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Client talks to a ledger node. Every request is a POSTed JSON object
// carrying an "action" field.
type Client struct {
	endpoint string
	http     *resty.Client
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, DefaultTimeout)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	http := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{endpoint: endpoint, http: http}
}

// Endpoint returns the node URL.
func (c *Client) Endpoint() string { return c.endpoint }

// RPCError is returned when the node answers with an error field.
type RPCError struct {
	Action  string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %s", e.Action, e.Message)
}

// errorReply is the shape of a failed action.
type errorReply struct {
	Error string `json:"error"`
}

// Call invokes action with params merged into the request object and
// unmarshals the reply into result. If result is nil, the reply is discarded.
func (c *Client) Call(ctx context.Context, action string, params map[string]interface{}, result interface{}) error {
	body := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["action"] = action

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %v", ErrTransportUnavailable, action, ctxErr)
		}
		return fmt.Errorf("%w: %s: %v", ErrTransportUnavailable, action, err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("%w: %s: http %d", ErrTransportUnavailable, action, resp.StatusCode())
	}

	data := resp.Body()
	var reply errorReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	if reply.Error != "" {
		log.RPC.Debug().Str("action", action).Str("error", reply.Error).Msg("Node returned error")
		return &RPCError{Action: action, Message: reply.Error}
	}
	if resp.IsError() {
		return &RPCError{Action: action, Message: fmt.Sprintf("http %d", resp.StatusCode())}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode %s result: %w", action, err)
		}
	}
	return nil
}

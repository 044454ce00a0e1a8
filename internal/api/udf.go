package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rickgao/livequery/internal/values"
)

// Query runs a query function, retrying transient failures.
func (c *Client) Query(ctx context.Context, path string, args any) (QueryResult, error) {
	return c.query(ctx, path, args, true)
}

// QueryOnce runs a query function with a single attempt. Live queries use it
// because their retries are driven by the subscription manager.
func (c *Client) QueryOnce(ctx context.Context, path string, args any) (QueryResult, error) {
	return c.query(ctx, path, args, false)
}

func (c *Client) query(ctx context.Context, path string, args any, retry bool) (res QueryResult, err error) {
	encoded, err := values.Marshal(args)
	if err != nil {
		return QueryResult{}, fmt.Errorf("encode args: %w", err)
	}

	req := request{
		method: http.MethodGet,
		path:   "/udf",
		query: url.Values{
			"path": {path},
			"args": {string(encoded)},
		},
	}

	ctx, span := c.startSpan(ctx, "query", path, req)
	defer func() { endSpan(span, err) }()

	var body []byte
	if retry {
		body, err = c.doWithRetry(ctx, req)
	} else {
		body, err = c.doRequest(ctx, req)
	}
	if err != nil {
		return QueryResult{}, err
	}

	resp, value, err := c.decodeUDF("query", path, body)
	if err != nil {
		return QueryResult{}, err
	}

	return QueryResult{Value: value, Token: resp.Token}, nil
}

// Transaction runs a transaction function. Transactions are not idempotent
// and are never retried.
func (c *Client) Transaction(ctx context.Context, path string, args any) (value any, err error) {
	encoded, err := values.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	payload, err := json.Marshal(udfRequest{Path: path, Args: encoded})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req := request{
		method: http.MethodPost,
		path:   "/udf",
		body:   payload,
	}

	ctx, span := c.startSpan(ctx, "transaction", path, req)
	defer func() { endSpan(span, err) }()

	body, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	_, value, err = c.decodeUDF("transaction", path, body)
	return value, err
}

// decodeUDF parses a /udf response, logs the function's output lines and
// converts a failed execution into a *FunctionError.
func (c *Client) decodeUDF(kind, path string, body []byte) (udfResponse, any, error) {
	var resp udfResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, nil, fmt.Errorf("unmarshal response: %w", err)
	}

	for _, line := range resp.Logs {
		c.logger.Info("function log", "kind", kind, "path", path, "line", line)
	}

	value, err := decodeValue(resp.Value)
	if err != nil {
		return resp, nil, fmt.Errorf("decode value: %w", err)
	}

	if !resp.Success {
		msg, ok := value.(string)
		if !ok {
			msg = string(resp.Value)
		}
		return resp, nil, &FunctionError{Kind: kind, Path: path, Message: msg}
	}

	return resp, value, nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return values.Unmarshal(raw)
}

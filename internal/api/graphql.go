package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rickgao/livequery/internal/values"
)

// GraphQL runs a GraphQL query, retrying transient failures.
func (c *Client) GraphQL(ctx context.Context, query string, variables any) (QueryResult, error) {
	return c.graphql(ctx, query, variables, true)
}

// GraphQLOnce runs a GraphQL query with a single attempt.
func (c *Client) GraphQLOnce(ctx context.Context, query string, variables any) (QueryResult, error) {
	return c.graphql(ctx, query, variables, false)
}

func (c *Client) graphql(ctx context.Context, query string, variables any, retry bool) (res QueryResult, err error) {
	if variables == nil {
		variables = map[string]any{}
	}
	encoded, err := values.Encode(variables)
	if err != nil {
		return QueryResult{}, fmt.Errorf("encode variables: %w", err)
	}
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: encoded})
	if err != nil {
		return QueryResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req := request{
		method: http.MethodPost,
		path:   "/graphql",
		body:   payload,
	}

	ctx, span := c.startSpan(ctx, "graphql", "graphql", req)
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

	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return QueryResult{}, fmt.Errorf("unmarshal response: %w", err)
	}
	data, err := decodeValue(resp.Data)
	if err != nil {
		return QueryResult{}, fmt.Errorf("decode data: %w", err)
	}

	return QueryResult{Value: data, Token: resp.Token}, nil
}

package client

import (
	"context"

	"github.com/rickgao/livequery/internal/api"
	"github.com/rickgao/livequery/internal/livequery"
)

// Query is a handle to a read-only query function.
type Query struct {
	c    *Client
	name string
}

// Query returns a handle to the named query function.
func (c *Client) Query(name string) Query {
	return Query{c: c, name: name}
}

// Call runs the query once and returns its value.
func (q Query) Call(ctx context.Context, args any) (any, error) {
	res, err := q.c.api.Query(ctx, q.name, args)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Watch calls update with the query's value now and every time it changes.
// The returned function stops the watch.
func (q Query) Watch(args any, update livequery.UpdateFunc) livequery.DisposeFunc {
	return q.c.manager.Subscribe(func(ctx context.Context) (livequery.Result, error) {
		res, err := q.c.api.QueryOnce(ctx, q.name, args)
		return toResult(res), err
	}, update)
}

// Transaction is a handle to a read-write transaction function.
type Transaction struct {
	c    *Client
	name string
}

// Transaction returns a handle to the named transaction function.
func (c *Client) Transaction(name string) Transaction {
	return Transaction{c: c, name: name}
}

// Call runs the transaction and returns its value. Watches that depend on
// the data it writes are refreshed by the server's invalidations.
func (t Transaction) Call(ctx context.Context, args any) (any, error) {
	return t.c.api.Transaction(ctx, t.name, args)
}

// GraphQLQuery is a handle to a GraphQL query.
type GraphQLQuery struct {
	c     *Client
	query string
}

// GraphQL returns a handle to a GraphQL query.
func (c *Client) GraphQL(query string) GraphQLQuery {
	return GraphQLQuery{c: c, query: query}
}

// Call runs the GraphQL query once and returns its data.
func (g GraphQLQuery) Call(ctx context.Context, variables any) (any, error) {
	res, err := g.c.api.GraphQL(ctx, g.query, variables)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// Watch calls update with the query's data now and every time it changes.
func (g GraphQLQuery) Watch(variables any, update livequery.UpdateFunc) livequery.DisposeFunc {
	return g.c.manager.Subscribe(func(ctx context.Context) (livequery.Result, error) {
		res, err := g.c.api.GraphQLOnce(ctx, g.query, variables)
		return toResult(res), err
	}, update)
}

func toResult(res api.QueryResult) livequery.Result {
	return livequery.Result{Value: res.Value, Token: res.Token}
}

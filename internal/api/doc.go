// Package api is the HTTP client for a backend's function endpoints.
//
// Endpoints:
//   - GET  /udf?path=<query>&args=<json>   run a query
//   - POST /udf      {path, args}          run a transaction
//   - POST /graphql  {query, variables}    run a GraphQL query
//
// Query and GraphQL responses carry an invalidation token that can be
// announced on the subscribe channel to learn when the result goes stale.
// Arguments and values use the encoding in package values.
package api

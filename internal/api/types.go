package api

import (
	"encoding/json"
	"fmt"
)

// QueryResult is a query value together with the token of the snapshot it
// was read from.
type QueryResult struct {
	Value any
	Token string
}

// udfResponse from GET and POST /udf
type udfResponse struct {
	Success bool            `json:"success"`
	Value   json.RawMessage `json:"value"`
	Token   string          `json:"token,omitempty"`
	Logs    []string        `json:"logs"`
}

// udfRequest is the POST /udf body.
type udfRequest struct {
	Path string `json:"path"`
	Args any    `json:"args"`
}

// graphqlRequest is the POST /graphql body.
type graphqlRequest struct {
	Query     string `json:"query"`
	Variables any    `json:"variables"`
}

// graphqlResponse from POST /graphql
type graphqlResponse struct {
	Data  json.RawMessage `json:"data"`
	Token string          `json:"token"`
}

// FunctionError reports a function that ran and failed on the server.
type FunctionError struct {
	Kind    string // "query" or "transaction"
	Path    string
	Message string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Kind, e.Path, e.Message)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rickgao/livequery/internal/backoff"
	"github.com/rickgao/livequery/internal/values"
)

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com/")

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryPolicy.Initial != time.Second || c.retryPolicy.Max != 16*time.Second {
			t.Errorf("retryPolicy = %+v, want 1s..16s", c.retryPolicy)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
		if c.tracer == nil {
			t.Error("tracer should not be nil")
		}
	})

	t.Run("with timeout option", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithTimeout(5*time.Second))
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 5*time.Second)
		}
	})

	t.Run("with retries option", func(t *testing.T) {
		c := NewClient("https://api.example.com", WithRetries(5, 2*time.Second))
		if c.maxRetries != 5 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 5)
		}
		if c.retryPolicy.Initial != 2*time.Second {
			t.Errorf("retryPolicy.Initial = %v, want %v", c.retryPolicy.Initial, 2*time.Second)
		}
	})

	t.Run("with logger option", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://api.example.com", WithLogger(logger))
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})

	t.Run("with custom HTTP client", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := NewClient("https://api.example.com", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 404,
			Message:    "Not Found",
			Body:       []byte(`not found`),
		}
		expected := "api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{404, false},
			{499, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestDoRequest tests the HTTP request functionality.
func TestDoRequest(t *testing.T) {
	t.Run("successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept header = %q, want %q", r.Header.Get("Accept"), "application/json")
			}
			if r.Header.Get("Content-Type") != "" {
				t.Errorf("Content-Type should be empty without a body, got %q", r.Header.Get("Content-Type"))
			}
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		body, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(body) != `{"status": "ok"}` {
			t.Errorf("body = %q, want %q", string(body), `{"status": "ok"}`)
		}
	})

	t.Run("user agent", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("User-Agent"); got != "livewatch/1.0.0" {
				t.Errorf("User-Agent = %q, want livewatch/1.0.0", got)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithUserAgent("livewatch/1.0.0"))
		if _, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("request with body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
			}
			got, _ := io.ReadAll(r.Body)
			if string(got) != `{"a":1}` {
				t.Errorf("body = %q", got)
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{method: http.MethodPost, path: "/test", body: []byte(`{"a":1}`)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("4xx error returns APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("function not found\n"))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 404 {
			t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, 404)
		}
		if apiErr.Message != "function not found" {
			t.Errorf("Message = %q, want server text", apiErr.Message)
		}
	})

	t.Run("empty error body uses status text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.doRequest(context.Background(), request{method: http.MethodGet, path: "/test"})

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.Message != "Bad Gateway" {
			t.Errorf("Message = %q, want %q", apiErr.Message, "Bad Gateway")
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
		}))
		defer server.Close()

		c := NewClient(server.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.doRequest(ctx, request{method: http.MethodGet, path: "/test"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

// TestDoWithRetry tests the retry logic.
func TestDoWithRetry(t *testing.T) {
	get := request{method: http.MethodGet, path: "/test"}

	t.Run("retries on 5xx and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"ok": true}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), get); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("delays follow retry policy", func(t *testing.T) {
		var mu sync.Mutex
		var seen []time.Time
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			seen = append(seen, time.Now())
			n := len(seen)
			mu.Unlock()
			if n < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		// Rand of 0 gives the lower jitter bound: 20ms and 40ms.
		policy := backoff.Policy{Initial: 40 * time.Millisecond, Max: time.Second, Rand: func() float64 { return 0 }}
		c := NewClient(server.URL, WithRetries(3, time.Millisecond), WithRetryPolicy(policy))
		if _, err := c.doWithRetry(context.Background(), get); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		mu.Lock()
		defer mu.Unlock()
		if len(seen) != 3 {
			t.Fatalf("attempts = %d, want 3", len(seen))
		}
		if gap := seen[1].Sub(seen[0]); gap < 20*time.Millisecond {
			t.Errorf("first retry after %v, want >= 20ms", gap)
		}
		if gap := seen[2].Sub(seen[1]); gap < 40*time.Millisecond {
			t.Errorf("second retry after %v, want >= 40ms", gap)
		}
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), get); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	})

	t.Run("does not retry on 4xx (except 429)", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.doWithRetry(context.Background(), get); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(2, 10*time.Millisecond))
		_, err := c.doWithRetry(context.Background(), get)
		if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
			t.Errorf("error should contain 'max retries exceeded', got %v", err)
		}
		// 1 initial + 2 retries = 3 attempts
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})
}

// udfServer answers /udf requests with a fixed response and records what it
// received.
type udfServer struct {
	resp     string
	attempts atomic.Int32
	method   atomic.Value
	path     atomic.Value
	args     atomic.Value
	body     atomic.Value
}

func (s *udfServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.attempts.Add(1)
		s.method.Store(r.Method)
		s.path.Store(r.URL.Query().Get("path"))
		s.args.Store(r.URL.Query().Get("args"))
		body, _ := io.ReadAll(r.Body)
		s.body.Store(string(body))
		w.Write([]byte(s.resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestQuery(t *testing.T) {
	t.Run("encodes path and args", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":true,"value":[{"body":"hi"}],"token":"tok-1","logs":[]}`}
		server := srv.start(t)

		c := NewClient(server.URL)
		res, err := c.Query(context.Background(), "listMessages", map[string]any{"channel": "general", "limit": int64(1)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if srv.method.Load() != http.MethodGet {
			t.Errorf("method = %v, want GET", srv.method.Load())
		}
		if srv.path.Load() != "listMessages" {
			t.Errorf("path = %v, want listMessages", srv.path.Load())
		}
		wantArgs := `{"channel":"general","limit":{"$integer":"AQAAAAAAAAA="}}`
		if srv.args.Load() != wantArgs {
			t.Errorf("args = %v, want %s", srv.args.Load(), wantArgs)
		}
		if res.Token != "tok-1" {
			t.Errorf("Token = %q, want tok-1", res.Token)
		}
		list, ok := res.Value.([]any)
		if !ok || len(list) != 1 {
			t.Fatalf("Value = %#v, want one message", res.Value)
		}
	})

	t.Run("nil args encode as null", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":true,"value":0,"token":"t","logs":[]}`}
		server := srv.start(t)

		c := NewClient(server.URL)
		if _, err := c.Query(context.Background(), "getCounter", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if srv.args.Load() != "null" {
			t.Errorf("args = %v, want null", srv.args.Load())
		}
	})

	t.Run("decodes wrapped values", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":true,"value":{"$integer":"KgAAAAAAAAA="},"token":"t","logs":[]}`}
		server := srv.start(t)

		c := NewClient(server.URL)
		res, err := c.Query(context.Background(), "getCounter", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Value != int64(42) {
			t.Errorf("Value = %#v, want int64(42)", res.Value)
		}
	})

	t.Run("function failure returns FunctionError", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":false,"value":"Uncaught Error: boom","logs":["before boom"]}`}
		server := srv.start(t)

		c := NewClient(server.URL)
		_, err := c.Query(context.Background(), "listMessages", nil)

		var fnErr *FunctionError
		if !errors.As(err, &fnErr) {
			t.Fatalf("expected *FunctionError, got %T (%v)", err, err)
		}
		if fnErr.Kind != "query" || fnErr.Path != "listMessages" || fnErr.Message != "Uncaught Error: boom" {
			t.Errorf("FunctionError = %+v", fnErr)
		}
		if srv.attempts.Load() != 1 {
			t.Errorf("function errors must not be retried, attempts = %d", srv.attempts.Load())
		}
	})

	t.Run("logs function output", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":true,"value":null,"token":"t","logs":["first","second"]}`}
		server := srv.start(t)

		var buf strings.Builder
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		c := NewClient(server.URL, WithLogger(logger))
		if _, err := c.Query(context.Background(), "listMessages", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := buf.String()
		if strings.Count(out, "function log") != 2 || !strings.Contains(out, "line=second") {
			t.Errorf("log output = %q", out)
		}
	})

	t.Run("QueryOnce does not retry", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		_, err := c.QueryOnce(context.Background(), "listMessages", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("error = %v, want 503 APIError", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("invalid JSON response", func(t *testing.T) {
		srv := &udfServer{resp: `not json`}
		server := srv.start(t)

		c := NewClient(server.URL)
		_, err := c.Query(context.Background(), "listMessages", nil)
		if err == nil || !strings.Contains(err.Error(), "unmarshal response") {
			t.Errorf("error = %v, want unmarshal error", err)
		}
	})
}

func TestTransaction(t *testing.T) {
	t.Run("posts path and args", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":true,"value":{"$binary":"aGk="},"logs":[]}`}
		server := srv.start(t)

		c := NewClient(server.URL)
		value, err := c.Transaction(context.Background(), "sendMessage", map[string]any{"body": "hello", "n": int64(1)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if srv.method.Load() != http.MethodPost {
			t.Errorf("method = %v, want POST", srv.method.Load())
		}
		var body struct {
			Path string         `json:"path"`
			Args map[string]any `json:"args"`
		}
		if err := json.Unmarshal([]byte(srv.body.Load().(string)), &body); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if body.Path != "sendMessage" {
			t.Errorf("path = %q, want sendMessage", body.Path)
		}
		decoded, err := values.Decode(any(body.Args))
		if err != nil {
			t.Fatalf("decode args: %v", err)
		}
		if decoded.(map[string]any)["n"] != int64(1) {
			t.Errorf("args = %#v", decoded)
		}
		if string(value.([]byte)) != "hi" {
			t.Errorf("value = %#v, want []byte(hi)", value)
		}
	})

	t.Run("never retried", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient(server.URL, WithRetries(3, 10*time.Millisecond))
		if _, err := c.Transaction(context.Background(), "sendMessage", nil); err == nil {
			t.Fatal("expected error, got nil")
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})

	t.Run("function failure", func(t *testing.T) {
		srv := &udfServer{resp: `{"success":false,"value":{"code":7},"logs":[]}`}
		server := srv.start(t)

		c := NewClient(server.URL)
		_, err := c.Transaction(context.Background(), "sendMessage", nil)

		var fnErr *FunctionError
		if !errors.As(err, &fnErr) {
			t.Fatalf("expected *FunctionError, got %v", err)
		}
		if fnErr.Kind != "transaction" || fnErr.Message != `{"code":7}` {
			t.Errorf("FunctionError = %+v", fnErr)
		}
	})
}

func TestGraphQL(t *testing.T) {
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Errorf("path = %q, want /graphql", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.Write([]byte(`{"data":{"users":[{"name":"ada"}]},"token":"gql-1"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	res, err := c.GraphQL(context.Background(), "{ users { name } }", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotBody.Load() != `{"query":"{ users { name } }","variables":{}}` {
		t.Errorf("request body = %v", gotBody.Load())
	}
	if res.Token != "gql-1" {
		t.Errorf("Token = %q, want gql-1", res.Token)
	}
	data, ok := res.Value.(map[string]any)
	if !ok || data["users"] == nil {
		t.Errorf("Value = %#v", res.Value)
	}
}

func TestSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"success":true,"value":1,"token":"t","logs":[]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, WithTracer(tp.Tracer(TracerName)))
	if _, err := c.Query(context.Background(), "getCounter", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Transaction(context.Background(), "incrementCounter", nil); err == nil {
		t.Fatal("expected transaction error")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	attrs := func(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
		out := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes() {
			out[kv.Key] = kv.Value
		}
		return out
	}

	q := spans[0]
	if q.Name() != "query" {
		t.Errorf("span name = %q, want query", q.Name())
	}
	qa := attrs(q)
	if qa["livequery.function"].AsString() != "getCounter" {
		t.Errorf("function attribute = %v", qa["livequery.function"])
	}
	if qa["http.status_code"].AsInt64() != 200 {
		t.Errorf("status attribute = %v", qa["http.status_code"])
	}
	if q.Status().Code == codes.Error {
		t.Error("query span should not be an error")
	}

	tx := spans[1]
	if tx.Name() != "transaction" {
		t.Errorf("span name = %q, want transaction", tx.Name())
	}
	if tx.Status().Code != codes.Error {
		t.Errorf("transaction span status = %v, want error", tx.Status().Code)
	}
	if attrs(tx)["http.status_code"].AsInt64() != 400 {
		t.Errorf("status attribute = %v", attrs(tx)["http.status_code"])
	}
	if len(tx.Events()) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}

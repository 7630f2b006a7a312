package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

// newTestClient starts a server running handler and returns a client for it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{Host: srv.URL, Token: "test-token"}, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClient_MissingToken(t *testing.T) {
	_, err := NewClient(Config{Host: "gitlab.example.com"}, nil)
	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if !errors.Is(err, ErrAuth) {
		t.Errorf("expected auth failure, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("missing token must not be retryable")
	}
}

func TestNewClient_Endpoint(t *testing.T) {
	client, err := NewClient(Config{Host: "gitlab.example.com", Token: "x"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.endpoint != "https://gitlab.example.com/api/graphql" {
		t.Errorf("endpoint = %q", client.endpoint)
	}
	if client.maxAttempts != DefaultMaxAttempts {
		t.Errorf("maxAttempts = %d, want %d", client.maxAttempts, DefaultMaxAttempts)
	}
}

func TestExecute_SendsRequest(t *testing.T) {
	var got graphQLRequest
	var auth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/graphql" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"project":{"id":"gid://gitlab/Project/42","name":"widget","path":"widget","fullPath":"acme/widget","group":null}}}`))
	})

	project, err := FetchProject(context.Background(), client, "acme/widget")
	if err != nil {
		t.Fatalf("FetchProject failed: %v", err)
	}
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.OperationName != "project" {
		t.Errorf("operationName = %q", got.OperationName)
	}
	if got.Variables["project"] != "acme/widget" {
		t.Errorf("variables = %v", got.Variables)
	}
	if project.FullPath != "acme/widget" || project.Group != nil {
		t.Errorf("unexpected project: %+v", project)
	}
}

func TestExecute_RetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.Execute(context.Background(), ProjectQuery, nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 5 {
		t.Errorf("expected 5 attempts, got %d", calls.Load())
	}

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindTransient {
		t.Errorf("kind = %s, want %s", e.Kind, KindTransient)
	}
	if e.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", e.Attempts)
	}
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(`{"data":`)) // truncated body
		case 2:
			_, _ = w.Write([]byte(`{"data":null}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"metadata":{"version":"16.5.1-ee"}}}`))
		}
	})

	version, err := client.ServerVersion(context.Background())
	if err != nil {
		t.Fatalf("ServerVersion failed: %v", err)
	}
	if version != "16.5.1-ee" {
		t.Errorf("version = %q", version)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestExecute_NonTransientNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"401 Unauthorized"}`, ErrAuth},
		{"forbidden", http.StatusForbidden, ``, ErrAuth},
		{"graphql errors", http.StatusOK, `{"errors":[{"message":"Field 'bogus' doesn't exist on type 'Project'"}]}`, ErrQuery},
		{"not found", http.StatusNotFound, `not found`, ErrQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := client.Execute(context.Background(), ProjectQuery, nil, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if calls.Load() != 1 {
				t.Errorf("expected 1 attempt, got %d", calls.Load())
			}
		})
	}
}

func TestExecute_DecodeScopeNotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"project":null}}`))
	})

	_, err := FetchProject(context.Background(), client, "acme/missing")
	if !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("expected scope not found, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestExecute_ContextCanceled(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Execute(ctx, ProjectQuery, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("cancellation must not be retryable")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsRetryableStatus(code) {
			t.Errorf("IsRetryableStatus(%d) = false", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsRetryableStatus(code) {
			t.Errorf("IsRetryableStatus(%d) = true", code)
		}
	}
}

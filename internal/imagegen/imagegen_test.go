package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &Error{Kind: RateLimited, Op: "generate", Err: errors.New("429")}, true},
		{"network", &Error{Kind: Network, Op: "generate", Err: errors.New("reset")}, true},
		{"timeout", &Error{Kind: Timeout, Op: "generate", Err: errors.New("deadline")}, true},
		{"invalid prompt", &Error{Kind: InvalidPrompt, Op: "generate", Err: errors.New("rejected")}, false},
		{"unclassified", errors.New("unknown"), true},
		{"wrapped invalid prompt", fmt.Errorf("attempt 2: %w", &Error{Kind: InvalidPrompt, Op: "generate", Err: errors.New("rejected")}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if kind := KindOf(&Error{Kind: RateLimited}); kind != RateLimited {
		t.Errorf("KindOf = %s, want rate_limited", kind)
	}
	if kind := KindOf(errors.New("plain")); kind != Network {
		t.Errorf("unclassified KindOf = %s, want network", kind)
	}
}

func TestHTTPGenerator_Success(t *testing.T) {
	image := []byte("fake-png-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method %s, want POST", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization %q", auth)
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Prompt != "a hillside at dawn" {
			t.Errorf("prompt %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"image": base64.StdEncoding.EncodeToString(image),
		})
	}))
	defer server.Close()

	gen, err := NewHTTPGenerator(HTTPConfig{Endpoint: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewHTTPGenerator failed: %v", err)
	}
	got, err := gen.Generate(context.Background(), "a hillside at dawn")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !bytes.Equal(got, image) {
		t.Error("decoded image does not match")
	}
}

func TestHTTPGenerator_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"too many requests", http.StatusTooManyRequests, RateLimited},
		{"bad request", http.StatusBadRequest, InvalidPrompt},
		{"unprocessable", http.StatusUnprocessableEntity, InvalidPrompt},
		{"gateway timeout", http.StatusGatewayTimeout, Timeout},
		{"server error", http.StatusInternalServerError, Network},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			gen, err := NewHTTPGenerator(HTTPConfig{Endpoint: server.URL})
			if err != nil {
				t.Fatalf("NewHTTPGenerator failed: %v", err)
			}
			_, err = gen.Generate(context.Background(), "p")
			if err == nil {
				t.Fatal("expected an error")
			}
			if kind := KindOf(err); kind != tt.want {
				t.Errorf("kind %s, want %s", kind, tt.want)
			}
		})
	}
}

func TestHTTPGenerator_ServiceErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "prompt violates content policy"})
	}))
	defer server.Close()

	gen, err := NewHTTPGenerator(HTTPConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPGenerator failed: %v", err)
	}
	_, err = gen.Generate(context.Background(), "p")
	if err == nil {
		t.Fatal("expected an error")
	}
	if IsRetryable(err) {
		t.Error("service-level prompt rejection should not be retried")
	}
}

func TestHTTPGenerator_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPGenerator(HTTPConfig{}); err == nil {
		t.Fatal("expected an error for a missing endpoint")
	}
}

func TestRateLimiter_ConsumesTokens(t *testing.T) {
	limiter := NewRateLimiter(60)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait %d failed: %v", i, err)
		}
	}
	status := limiter.Status()
	if status.TotalConsumed != 5 {
		t.Errorf("consumed %d, want 5", status.TotalConsumed)
	}
	if status.TokensAvailable > status.TokensLimit-5+1 {
		t.Errorf("tokens available %d after 5 waits (limit %d)", status.TokensAvailable, status.TokensLimit)
	}
}

func TestRateLimiter_Record429DrainsBucket(t *testing.T) {
	limiter := NewRateLimiter(600)
	limiter.Record429()

	status := limiter.Status()
	if status.TokensAvailable > 1 {
		t.Errorf("tokens available %d after 429, want the bucket drained", status.TokensAvailable)
	}
	if status.Last429Time.IsZero() {
		t.Error("429 time not recorded")
	}

	// The drained bucket refills over time, so a wait succeeds eventually.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := limiter.Wait(ctx); err != nil {
		t.Errorf("Wait after drain failed: %v", err)
	}
}

func TestRateLimiter_WaitHonorsCancellation(t *testing.T) {
	limiter := NewRateLimiter(1)
	ctx := context.Background()

	// Exhaust the bucket so the next wait blocks.
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}
	limiter.Record429()

	cancelled, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(cancelled); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait returned %v, want deadline exceeded", err)
	}
}

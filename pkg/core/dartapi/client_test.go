package dartapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"dart_deepsearch/pkg/models"
)

func TestClient_RetriesServerError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{})
	body, status, err := c.Get(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2", n)
	}
}

func TestClient_RetriesTooManyRequests(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("after backoff"))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{})
	body, _, err := c.Get(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "after backoff" {
		t.Errorf("body = %q", body)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2", n)
	}
}

func TestClient_ExhaustsRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("full backoff schedule takes several seconds")
	}
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{})
	_, _, err := c.Get(context.Background(), server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if kind := models.KindOf(err); kind != models.KindRateLimited {
		t.Errorf("error kind = %s, want %s", kind, models.KindRateLimited)
	}
	if n := hits.Load(); n != maxRetries+1 {
		t.Errorf("server saw %d requests, want %d", n, maxRetries+1)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{})
	body, status, err := c.Get(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Get() error = %v, 4xx should pass through", err)
	}
	if status != 404 {
		t.Errorf("status = %d, want 404", status)
	}
	if string(body) != "missing" {
		t.Errorf("body = %q", body)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry on 404)", n)
	}
}

func TestClient_CancelStopsPromptly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	c := NewClient(ClientConfig{})
	start := time.Now()
	_, _, err := c.Get(ctx, server.URL, nil, nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if kind := models.KindOf(err); kind != models.KindCancelled {
		t.Errorf("error kind = %s, want %s", kind, models.KindCancelled)
	}
	if elapsed > time.Second {
		t.Errorf("cancellation took %v, should be prompt", elapsed)
	}
}

func TestClient_DailyQuotaBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	host, _ := url.Parse(server.URL)
	c := NewClient(ClientConfig{QuotaHosts: map[string]int{host.Hostname(): 2}})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, _, err := c.Get(ctx, server.URL, nil, nil); err != nil {
			t.Fatalf("request %d within quota failed: %v", i+1, err)
		}
	}

	// Third request has no daily token left for ~12h; it must fail with
	// RateLimited instead of blocking past the deadline.
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, _, err := c.Get(shortCtx, server.URL, nil, nil)
	if err == nil {
		t.Fatal("expected quota exhaustion error")
	}
	if kind := models.KindOf(err); kind != models.KindRateLimited {
		t.Errorf("error kind = %s, want %s", kind, models.KindRateLimited)
	}
}

func TestClient_GetStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("streamed payload"))
	}))
	defer server.Close()

	c := NewClient(ClientConfig{})
	rc, status, err := c.GetStream(context.Background(), server.URL, nil, nil)
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}
	defer rc.Close()
	if status != 200 {
		t.Errorf("status = %d", status)
	}
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(body) != "streamed payload" {
		t.Errorf("body = %q", body)
	}
}

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, false},
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		if got := retryableStatus(tt.status); got != tt.want {
			t.Errorf("retryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("3"); d != 3*time.Second {
		t.Errorf("parseRetryAfter(3) = %v", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Errorf("parseRetryAfter(garbage) = %v", d)
	}
}

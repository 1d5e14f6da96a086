package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// mockProbeHTTPClient implements ProbeHTTPClient with a scriptable round
// trip and an atomic call counter.
type mockProbeHTTPClient struct {
	DoFunc func(*http.Request) (*http.Response, error)
	calls  int32
}

func (m *mockProbeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("Ollama is running")),
	}, nil
}

func okResponse() (*http.Response, error) {
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("Ollama is running")),
	}, nil
}

// fastProbeOptions returns backoff tuned for tests.
func fastProbeOptions() ProbeOptions {
	return ProbeOptions{
		Timeout:         500 * time.Millisecond,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
	}
}

// =============================================================================
// UNIT TESTS: Check
// =============================================================================

// TestHTTPProber_Check_Healthy verifies a 200 answer is healthy.
func TestHTTPProber_Check_Healthy(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) { return okResponse() },
	}
	prober := NewHTTPProberWithClient("http://localhost:11434", client)

	status := prober.Check(context.Background())

	if status.State != ProbeHealthy {
		t.Errorf("expected state %s, got %s (%s)", ProbeHealthy, status.State, status.Message)
	}
	if status.HTTPStatus != 200 {
		t.Errorf("expected HTTP status 200, got %d", status.HTTPStatus)
	}
}

// TestHTTPProber_Check_WrongStatus verifies a non-200 answer is
// unhealthy, not unreachable.
func TestHTTPProber_Check_WrongStatus(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: 503,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		},
	}
	prober := NewHTTPProberWithClient("http://localhost:11434", client)

	status := prober.Check(context.Background())

	if status.State != ProbeUnhealthy {
		t.Errorf("expected state %s, got %s", ProbeUnhealthy, status.State)
	}
	if status.HTTPStatus != 503 {
		t.Errorf("expected HTTP status 503, got %d", status.HTTPStatus)
	}
}

// TestHTTPProber_Check_Unreachable verifies a connection failure with
// nothing listening on the port reports unreachable.
func TestHTTPProber_Check_Unreachable(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	// Port 1 is reserved and has nothing listening.
	prober := NewHTTPProberWithClient("http://127.0.0.1:1", client)

	status := prober.Check(context.Background())

	if status.State != ProbeUnreachable {
		t.Errorf("expected state %s, got %s (%s)", ProbeUnreachable, status.State, status.Message)
	}
}

// TestHTTPProber_Check_TCPRefinement verifies an HTTP failure against an
// open port is classified unhealthy rather than unreachable.
func TestHTTPProber_Check_TCPRefinement(t *testing.T) {
	// Real listener so the TCP dial succeeds; the scripted HTTP client
	// still fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("malformed HTTP response")
		},
	}
	prober := NewHTTPProberWithClient(srv.URL, client)

	status := prober.Check(context.Background())

	if status.State != ProbeUnhealthy {
		t.Errorf("expected state %s, got %s (%s)", ProbeUnhealthy, status.State, status.Message)
	}
}

// TestHTTPProber_Check_BlockedURL verifies the SSRF guard rejects the
// cloud metadata endpoint before any request is made.
func TestHTTPProber_Check_BlockedURL(t *testing.T) {
	client := &mockProbeHTTPClient{}
	prober := NewHTTPProberWithClient("http://169.254.169.254/latest", client)

	status := prober.Check(context.Background())

	if status.State != ProbeUnhealthy {
		t.Errorf("expected state %s, got %s", ProbeUnhealthy, status.State)
	}
	if atomic.LoadInt32(&client.calls) != 0 {
		t.Error("blocked URL still reached the HTTP client")
	}
}

// TestIsProbeURLSafe verifies the allow and block lists.
func TestIsProbeURLSafe(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		blocked bool
	}{
		{"localhost", "http://localhost:11434", false},
		{"loopback", "http://127.0.0.1:11434", false},
		{"private 192", "http://192.168.1.10:11434", false},
		{"private 10", "http://10.0.0.5:11434", false},
		{"hostname", "http://ollama.internal:11434", false},
		{"metadata endpoint", "http://169.254.169.254/", true},
		{"link local", "http://169.254.10.20/", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := isProbeURLSafe(tt.url)
			if tt.blocked && err == nil {
				t.Errorf("isProbeURLSafe(%q) allowed a blocked target", tt.url)
			}
			if !tt.blocked && err != nil {
				t.Errorf("isProbeURLSafe(%q) blocked a safe target: %v", tt.url, err)
			}
		})
	}
}

// =============================================================================
// UNIT TESTS: WaitUntilReady
// =============================================================================

// TestHTTPProber_WaitUntilReady_ImmediateSuccess verifies a healthy
// daemon returns on the first attempt.
func TestHTTPProber_WaitUntilReady_ImmediateSuccess(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) { return okResponse() },
	}
	prober := NewHTTPProberWithClient("http://localhost:11434", client)

	result, err := prober.WaitUntilReady(context.Background(), fastProbeOptions())

	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !result.Success {
		t.Error("expected success")
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
}

// TestHTTPProber_WaitUntilReady_EventualSuccess verifies the prober
// retries through failures until the daemon comes up.
func TestHTTPProber_WaitUntilReady_EventualSuccess(t *testing.T) {
	var attempts int32
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, errors.New("connection refused")
			}
			return okResponse()
		},
	}
	prober := NewHTTPProberWithClient("http://127.0.0.1:1", client)

	result, err := prober.WaitUntilReady(context.Background(), fastProbeOptions())

	if err != nil {
		t.Fatalf("expected eventual success, got: %v", err)
	}
	if result.Attempts < 3 {
		t.Errorf("expected at least 3 attempts, got %d", result.Attempts)
	}
}

// TestHTTPProber_WaitUntilReady_Timeout verifies a never-ready daemon
// returns ErrProbeTimeout with the attempt count preserved.
func TestHTTPProber_WaitUntilReady_Timeout(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	prober := NewHTTPProberWithClient("http://127.0.0.1:1", client)

	opts := fastProbeOptions()
	opts.Timeout = 50 * time.Millisecond

	result, err := prober.WaitUntilReady(context.Background(), opts)

	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("expected ErrProbeTimeout, got: %v", err)
	}
	if result.Success {
		t.Error("expected failure result")
	}
	if result.Attempts == 0 {
		t.Error("expected at least one attempt before timing out")
	}
}

// TestHTTPProber_WaitUntilReady_FailFast verifies FailFast aborts on an
// unhealthy answer instead of burning the timeout.
func TestHTTPProber_WaitUntilReady_FailFast(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: 500,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		},
	}
	prober := NewHTTPProberWithClient("http://localhost:11434", client)

	opts := fastProbeOptions()
	opts.FailFast = true

	start := time.Now()
	_, err := prober.WaitUntilReady(context.Background(), opts)

	if !errors.Is(err, ErrDaemonUnhealthy) {
		t.Fatalf("expected ErrDaemonUnhealthy, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > opts.Timeout {
		t.Errorf("FailFast took %v, longer than the %v timeout", elapsed, opts.Timeout)
	}
}

// TestHTTPProber_WaitUntilReady_ContextCancellation verifies an outer
// cancel stops the wait promptly.
func TestHTTPProber_WaitUntilReady_ContextCancellation(t *testing.T) {
	client := &mockProbeHTTPClient{
		DoFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	prober := NewHTTPProberWithClient("http://127.0.0.1:1", client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	opts := fastProbeOptions()
	opts.Timeout = 10 * time.Second

	start := time.Now()
	_, err := prober.WaitUntilReady(ctx, opts)

	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, expected prompt return", elapsed)
	}
}

// TestHTTPProber_WaitUntilReady_RealServer runs against httptest for an
// end-to-end pass without mocks.
func TestHTTPProber_WaitUntilReady_RealServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ollama is running")
	}))
	defer srv.Close()

	prober := NewHTTPProber(srv.URL)
	result, err := prober.WaitUntilReady(context.Background(), fastProbeOptions())

	if err != nil {
		t.Fatalf("expected success against live server, got: %v", err)
	}
	if result.Last.HTTPStatus != 200 {
		t.Errorf("expected HTTP 200, got %d", result.Last.HTTPStatus)
	}
}

// =============================================================================
// UNIT TESTS: backoff helpers
// =============================================================================

// TestNextInterval verifies growth and capping.
func TestNextInterval(t *testing.T) {
	got := nextInterval(100*time.Millisecond, time.Second, 2.0)
	if got != 200*time.Millisecond {
		t.Errorf("nextInterval = %v, want 200ms", got)
	}

	got = nextInterval(800*time.Millisecond, time.Second, 2.0)
	if got != time.Second {
		t.Errorf("nextInterval should cap at 1s, got %v", got)
	}
}

// TestApplyJitter verifies the jittered interval stays within bounds and
// zero jitter is a no-op.
func TestApplyJitter(t *testing.T) {
	base := 100 * time.Millisecond

	if got := applyJitter(base, 0); got != base {
		t.Errorf("applyJitter with zero jitter = %v, want %v", got, base)
	}

	for i := 0; i < 50; i++ {
		got := applyJitter(base, 0.2)
		min := time.Duration(float64(base) * 0.8)
		max := time.Duration(float64(base) * 1.2)
		if got < min || got > max {
			t.Fatalf("applyJitter = %v, outside [%v, %v]", got, min, max)
		}
	}
}

// TestMockProber_Defaults verifies the mock's default behavior and call
// recording.
func TestMockProber_Defaults(t *testing.T) {
	mock := &MockProber{}

	status := mock.Check(context.Background())
	if status.State != ProbeHealthy {
		t.Errorf("default Check state = %s, want healthy", status.State)
	}

	result, err := mock.WaitUntilReady(context.Background(), DefaultProbeOptions())
	if err != nil || !result.Success {
		t.Errorf("default WaitUntilReady = (%+v, %v), want success", result, err)
	}

	if mock.CheckCalls != 1 {
		t.Errorf("CheckCalls = %d, want 1", mock.CheckCalls)
	}
	if len(mock.WaitUntilReadyCalls) != 1 {
		t.Errorf("WaitUntilReadyCalls = %d, want 1", len(mock.WaitUntilReadyCalls))
	}
}

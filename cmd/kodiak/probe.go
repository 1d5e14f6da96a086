package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// =============================================================================
// INTERFACES
// =============================================================================

// DaemonProber verifies model daemon availability (binary up/down).
//
// # Description
//
// The prober answers one question: is the model backend at the configured
// base URL accepting requests? It backs the essential "ollama-server"
// bring-up step and the doctor command. Probing is deliberately separate
// from the aiClient component: the probe runs before any client exists and
// must not allocate one.
//
// # Outputs
//
// Check returns a point-in-time ProbeStatus. WaitUntilReady polls with
// exponential backoff until the daemon is healthy, the options timeout
// elapses, or the context is cancelled.
//
// # Limitations
//
//   - Binary health only; no model inventory, no version checks
//   - Network-dependent; a passing probe can still precede a failed chat
type DaemonProber interface {
	// WaitUntilReady blocks until the daemon is healthy or the timeout
	// elapses.
	//
	// # Inputs
	//
	//   - ctx: Cancellation stops waiting immediately.
	//   - opts: Timeout and backoff configuration.
	//
	// # Outputs
	//
	//   - *ProbeResult: Attempt count, elapsed time, last status. Always
	//     non-nil, even on error.
	//   - error: ErrProbeTimeout, ErrDaemonUnhealthy (FailFast), or a
	//     context error.
	WaitUntilReady(ctx context.Context, opts ProbeOptions) (*ProbeResult, error)

	// Check performs a single probe without retries.
	Check(ctx context.Context) ProbeStatus
}

// ProbeHTTPClient abstracts the HTTP round trip for testing.
type ProbeHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// TYPES
// =============================================================================

// ProbeState classifies a single probe outcome.
type ProbeState string

const (
	// ProbeHealthy means the daemon answered with the expected status.
	ProbeHealthy ProbeState = "healthy"

	// ProbeUnhealthy means something answered, but not correctly: the
	// port is open or an HTTP response arrived with the wrong status.
	ProbeUnhealthy ProbeState = "unhealthy"

	// ProbeUnreachable means nothing is listening.
	ProbeUnreachable ProbeState = "unreachable"
)

// ProbeStatus is one probe outcome.
type ProbeStatus struct {
	State      ProbeState
	Message    string
	HTTPStatus int
	Latency    time.Duration
	CheckedAt  time.Time
}

// ProbeOptions configures WaitUntilReady.
type ProbeOptions struct {
	// Timeout bounds the whole wait.
	Timeout time.Duration

	// InitialInterval is the first retry delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff growth.
	MaxInterval time.Duration

	// Multiplier grows the interval each attempt.
	Multiplier float64

	// Jitter randomizes each interval by ±this fraction.
	Jitter float64

	// FailFast aborts on the first ProbeUnhealthy outcome instead of
	// retrying. Unreachable is always retried: a daemon that is still
	// starting looks unreachable, while unhealthy means something is
	// listening and answering wrongly.
	FailFast bool
}

// DefaultProbeOptions returns the backoff used by the essential bring-up
// step. The 10s budget matches the ollama-server step timeout.
func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{
		Timeout:         10 * time.Second,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      1.6,
		Jitter:          0.2,
	}
}

// ProbeResult reports one WaitUntilReady run.
type ProbeResult struct {
	Success   bool
	Attempts  int
	Duration  time.Duration
	Last      ProbeStatus
	StartedAt time.Time
}

// =============================================================================
// ERROR VARIABLES
// =============================================================================

// ErrProbeTimeout is returned when WaitUntilReady exhausts its budget.
var ErrProbeTimeout = fmt.Errorf("daemon probe timeout")

// ErrDaemonUnhealthy is returned by FailFast when the daemon answers
// wrongly.
var ErrDaemonUnhealthy = fmt.Errorf("daemon unhealthy")

// ErrProbeBlocked is returned when the probe URL targets a blocked range.
var ErrProbeBlocked = fmt.Errorf("probe URL blocked: potential SSRF")

// =============================================================================
// SSRF PROTECTION
// =============================================================================

// isProbeURLSafe rejects probe targets in dangerous address ranges.
//
// Blocks the cloud metadata endpoint and the rest of the link-local range;
// allows localhost, Docker bridge, and private networks, which is where
// local model daemons actually live. Hostnames pass through to DNS.
func isProbeURLSafe(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("%w: cloud metadata endpoint", ErrProbeBlocked)
	}
	linkLocal := net.IPNet{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)}
	if linkLocal.Contains(ip) {
		return fmt.Errorf("%w: link-local address", ErrProbeBlocked)
	}
	return nil
}

// =============================================================================
// HTTPProber
// =============================================================================

// HTTPProber probes a daemon over HTTP with a TCP refinement step.
//
// # Description
//
// Check sends GET baseURL and expects HTTP 200 (Ollama answers "Ollama is
// running" at its root). When the HTTP request fails outright, a TCP dial
// distinguishes "port open but HTTP broken" (unhealthy) from "nothing
// listening" (unreachable); WaitUntilReady retries the latter and can
// fail fast on the former.
//
// # Thread Safety
//
// Safe for concurrent use; the prober holds no mutable state.
type HTTPProber struct {
	baseURL string
	client  ProbeHTTPClient
}

// NewHTTPProber creates a prober for the daemon at baseURL.
func NewHTTPProber(baseURL string) *HTTPProber {
	return &HTTPProber{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// NewHTTPProberWithClient creates a prober with an injected HTTP client.
// Used by tests to script responses.
func NewHTTPProberWithClient(baseURL string, client ProbeHTTPClient) *HTTPProber {
	return &HTTPProber{baseURL: baseURL, client: client}
}

// Check performs a single probe.
func (p *HTTPProber) Check(ctx context.Context) ProbeStatus {
	start := time.Now()
	status := ProbeStatus{CheckedAt: start}

	if err := isProbeURLSafe(p.baseURL); err != nil {
		status.State = ProbeUnhealthy
		status.Message = err.Error()
		status.Latency = time.Since(start)
		return status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL, nil)
	if err != nil {
		status.State = ProbeUnhealthy
		status.Message = fmt.Sprintf("failed to create request: %v", err)
		status.Latency = time.Since(start)
		return status
	}

	resp, err := p.client.Do(req)
	if err != nil {
		status.State, status.Message = p.refineWithTCP(ctx, err)
		status.Latency = time.Since(start)
		return status
	}
	defer resp.Body.Close()

	status.HTTPStatus = resp.StatusCode
	status.Latency = time.Since(start)
	if resp.StatusCode == http.StatusOK {
		status.State = ProbeHealthy
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	} else {
		status.State = ProbeUnhealthy
		status.Message = fmt.Sprintf("HTTP %d (expected %d)", resp.StatusCode, http.StatusOK)
	}
	return status
}

// refineWithTCP classifies an HTTP failure by dialing the raw port.
func (p *HTTPProber) refineWithTCP(ctx context.Context, httpErr error) (ProbeState, string) {
	hostPort, err := probeHostPort(p.baseURL)
	if err != nil {
		return ProbeUnreachable, fmt.Sprintf("request failed: %v", httpErr)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return ProbeUnreachable, fmt.Sprintf("nothing listening on %s: %v", hostPort, httpErr)
	}
	_ = conn.Close()
	return ProbeUnhealthy, fmt.Sprintf("port %s open but HTTP failed: %v", hostPort, httpErr)
}

// probeHostPort extracts host:port from a base URL, defaulting the port
// from the scheme.
func probeHostPort(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL has no host")
	}
	port := parsed.Port()
	if port == "" {
		if parsed.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port), nil
}

// WaitUntilReady polls Check with exponential backoff until healthy.
//
// # Description
//
// The loop runs under a timeout context derived from opts.Timeout. Each
// miss sleeps for the jittered current interval, then grows the interval
// by the multiplier up to the cap. A healthy outcome returns immediately;
// an unhealthy one aborts when FailFast is set; an unreachable one always
// retries.
func (p *HTTPProber) WaitUntilReady(ctx context.Context, opts ProbeOptions) (*ProbeResult, error) {
	start := time.Now()
	result := &ProbeResult{StartedAt: start}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	interval := opts.InitialInterval
	for {
		select {
		case <-waitCtx.Done():
			result.Duration = time.Since(start)
			if ctx.Err() != nil {
				return result, fmt.Errorf("probe cancelled: %w", ctx.Err())
			}
			return result, fmt.Errorf("%w after %d attempts in %v: %s",
				ErrProbeTimeout, result.Attempts, result.Duration.Round(time.Millisecond), result.Last.Message)
		default:
		}

		result.Attempts++
		status := p.Check(waitCtx)
		result.Last = status

		switch status.State {
		case ProbeHealthy:
			result.Success = true
			result.Duration = time.Since(start)
			return result, nil
		case ProbeUnhealthy:
			if opts.FailFast {
				result.Duration = time.Since(start)
				return result, fmt.Errorf("%w: %s", ErrDaemonUnhealthy, status.Message)
			}
		}

		sleepWithContext(waitCtx, applyJitter(interval, opts.Jitter))
		interval = nextInterval(interval, opts.MaxInterval, opts.Multiplier)
	}
}

// =============================================================================
// BACKOFF HELPERS
// =============================================================================

// applyJitter multiplies interval by a factor in [1-jitter, 1+jitter].
func applyJitter(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	factor := 1.0 + (rand.Float64()*2-1)*jitter
	return time.Duration(float64(interval) * factor)
}

// nextInterval grows the interval by multiplier, capped at max.
func nextInterval(current, max time.Duration, multiplier float64) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > max {
		return max
	}
	return next
}

// sleepWithContext sleeps for duration or until the context is done.
func sleepWithContext(ctx context.Context, duration time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
}

// =============================================================================
// MockProber (for testing)
// =============================================================================

// MockProber is a configurable DaemonProber for tests. All methods can be
// scripted via function fields; calls are recorded for assertions.
type MockProber struct {
	WaitUntilReadyFunc func(ctx context.Context, opts ProbeOptions) (*ProbeResult, error)
	CheckFunc          func(ctx context.Context) ProbeStatus

	WaitUntilReadyCalls []ProbeOptions
	CheckCalls          int
	mu                  sync.Mutex
}

// WaitUntilReady records the call and delegates to WaitUntilReadyFunc.
// The default result is an immediate success.
func (m *MockProber) WaitUntilReady(ctx context.Context, opts ProbeOptions) (*ProbeResult, error) {
	m.mu.Lock()
	m.WaitUntilReadyCalls = append(m.WaitUntilReadyCalls, opts)
	m.mu.Unlock()

	if m.WaitUntilReadyFunc != nil {
		return m.WaitUntilReadyFunc(ctx, opts)
	}
	return &ProbeResult{Success: true, Attempts: 1, Last: ProbeStatus{State: ProbeHealthy}}, nil
}

// Check records the call and delegates to CheckFunc. The default status
// is healthy.
func (m *MockProber) Check(ctx context.Context) ProbeStatus {
	m.mu.Lock()
	m.CheckCalls++
	m.mu.Unlock()

	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return ProbeStatus{State: ProbeHealthy, Message: "HTTP 200", CheckedAt: time.Now()}
}

var (
	_ DaemonProber = (*HTTPProber)(nil)
	_ DaemonProber = (*MockProber)(nil)
)

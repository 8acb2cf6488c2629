package code

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evrane/drover"
)

// HTTPRunner executes code by POSTing to a remote sandbox service.
// It implements drover.CodeRunner.
//
// The sandbox communicates tool calls back via HTTP to a callback server
// managed by HTTPRunner. On first Run(), the callback server starts
// automatically unless WithCallbackExternal was configured.
type HTTPRunner struct {
	cfg       runnerConfig
	bridge    *dispatchBridge
	startOnce sync.Once
	startErr  error
	client    *http.Client
}

// compile-time check
var _ drover.CodeRunner = (*HTTPRunner)(nil)

// NewHTTPRunner creates an HTTPRunner that POSTs code to the sandbox
// at sandboxURL (e.g. "http://sandbox:9000").
func NewHTTPRunner(sandboxURL string, opts ...Option) *HTTPRunner {
	cfg := defaultConfig()
	cfg.sandboxURL = strings.TrimRight(sandboxURL, "/")
	for _, o := range opts {
		o(&cfg)
	}

	return &HTTPRunner{
		cfg:    cfg,
		bridge: newDispatchBridge(),
		client: &http.Client{},
	}
}

// Handler returns the http.Handler for the /_drover/dispatch endpoint.
// Mount this on your own mux when using WithCallbackExternal:
//
//	mux.Handle("/_drover/dispatch", runner.Handler())
func (r *HTTPRunner) Handler() http.Handler {
	return r.bridge.Handler()
}

// Close shuts down the auto-started callback server.
// No-op when WithCallbackExternal is set.
func (r *HTTPRunner) Close() error {
	return r.bridge.Close()
}

// Run executes code via the sandbox HTTP service.
func (r *HTTPRunner) Run(ctx context.Context, req drover.CodeRequest, dispatch drover.CodeDispatchFunc) (drover.CodeResult, error) {
	if err := r.ensureStarted(); err != nil {
		return drover.CodeResult{}, err
	}

	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Execution ID for callback correlation.
	executionID := drover.NewID()

	execReq := sandboxExecRequest{
		ExecutionID:      executionID,
		CallbackURL:      r.callbackURL(),
		Code:             req.Code,
		Runtime:          req.Runtime,
		WorkingDirectory: req.WorkingDirectory,
		TimeoutSecs:      int(timeout.Seconds()),
	}

	// Start dispatch drain goroutine — processes tool callbacks from sandbox.
	// Defer order matters (LIFO): stopCh must close AFTER unmount removes
	// the route, so no new envelopes arrive after drainDispatch exits.
	stopCh := make(chan struct{})
	dispatchCh := r.bridge.mount(executionID)
	defer close(stopCh)
	defer r.bridge.unmount(executionID)
	go r.drainDispatch(ctx, dispatchCh, dispatch, stopCh)

	resp, err := r.doExecute(ctx, execReq)
	if err != nil {
		return drover.CodeResult{}, fmt.Errorf("sandbox execution failed: %w", err)
	}

	return drover.CodeResult{
		Output:   resp.Output,
		Logs:     resp.Logs,
		ExitCode: resp.ExitCode,
		Error:    resp.Error,
	}, nil
}

// ensureStarted lazily starts the callback server on first Run().
func (r *HTTPRunner) ensureStarted() error {
	r.startOnce.Do(func() {
		if r.cfg.callbackExtAddr != "" {
			// External mount — the caller handles the HTTP server.
			return
		}
		r.startErr = r.bridge.Start(r.cfg.callbackAddr)
	})
	return r.startErr
}

// callbackURL returns the full URL the sandbox should POST tool calls to.
func (r *HTTPRunner) callbackURL() string {
	if r.cfg.callbackExtAddr != "" {
		return strings.TrimRight(r.cfg.callbackExtAddr, "/") + callbackPath
	}
	return "http://" + r.bridge.Addr() + callbackPath
}

// drainDispatch processes tool call envelopes from the dispatch channel.
// Each envelope is dispatched concurrently; the result travels back on the
// envelope's reply channel. On exit, drains any remaining envelopes with
// error replies to prevent handleDispatch goroutines from blocking forever.
func (r *HTTPRunner) drainDispatch(ctx context.Context, dispatchCh chan toolCallEnvelope, dispatch drover.CodeDispatchFunc, stopCh chan struct{}) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case env, ok := <-dispatchCh:
			if !ok {
				return
			}
			wg.Add(1)
			go func(env toolCallEnvelope) {
				defer wg.Done()
				res := dispatch(ctx, env.call)
				reply := toolCallReply{payload: res.Stdout}
				if res.Stderr != "" {
					reply = toolCallReply{payload: res.Stderr, failed: true}
				}
				env.reply <- reply
			}(env)
		case <-stopCh:
			// Drain any remaining envelopes and reply with errors so
			// handleDispatch goroutines are released.
			for {
				select {
				case env := <-dispatchCh:
					env.reply <- toolCallReply{payload: "execution completed", failed: true}
				default:
					return
				}
			}
		case <-ctx.Done():
			// Same drain on context cancellation.
			for {
				select {
				case env := <-dispatchCh:
					env.reply <- toolCallReply{payload: "execution cancelled", failed: true}
				default:
					return
				}
			}
		}
	}
}

// --- sandbox wire types ---

type sandboxExecRequest struct {
	ExecutionID      string `json:"execution_id"`
	CallbackURL      string `json:"callback_url"`
	Code             string `json:"code"`
	Runtime          string `json:"runtime"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	TimeoutSecs      int    `json:"timeout"`
}

type sandboxExecResponse struct {
	Output   string `json:"output"`
	Logs     string `json:"logs"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// doExecute POSTs the execution request to the sandbox with retry logic.
func (r *HTTPRunner) doExecute(ctx context.Context, execReq sandboxExecRequest) (sandboxExecResponse, error) {
	body, err := json.Marshal(execReq)
	if err != nil {
		return sandboxExecResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	delay := r.cfg.retryDelay

	for attempt := 0; attempt < r.cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return sandboxExecResponse{}, ctx.Err()
			}
		}

		resp, err := r.doOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !isTransient(err) {
			return sandboxExecResponse{}, err
		}
		lastErr = err
	}

	return sandboxExecResponse{}, fmt.Errorf("sandbox unreachable after %d attempts: %w", r.cfg.maxRetries, lastErr)
}

// doOnce performs a single POST to /execute.
func (r *HTTPRunner) doOnce(ctx context.Context, body []byte) (sandboxExecResponse, error) {
	url := r.cfg.sandboxURL + "/execute"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sandboxExecResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return sandboxExecResponse{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20)) // 50MB limit
	if err != nil {
		return sandboxExecResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return sandboxExecResponse{}, &serverError{code: resp.StatusCode, body: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return sandboxExecResponse{}, fmt.Errorf("sandbox returned %d: %s", resp.StatusCode, respBody)
	}

	var result sandboxExecResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return sandboxExecResponse{}, fmt.Errorf("parse response: %w", err)
	}
	return result, nil
}

// serverError represents a 5xx response from the sandbox.
type serverError struct {
	code int
	body string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("sandbox returned %d: %s", e.code, e.body)
}

// isTransient reports whether err is a transient network/server error
// that should be retried.
func isTransient(err error) bool {
	if _, ok := err.(*serverError); ok {
		return true
	}
	// net/http wraps network errors — check for timeout.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection refused, reset, etc.
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "EOF")
}

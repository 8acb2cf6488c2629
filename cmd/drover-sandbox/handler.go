package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// executeRequest is the parsed body of POST /execute. It mirrors the
// request code.HTTPRunner sends.
type executeRequest struct {
	ExecutionID      string `json:"execution_id"`
	CallbackURL      string `json:"callback_url"`
	Code             string `json:"code"`
	Runtime          string `json:"runtime"`
	WorkingDirectory string `json:"working_directory"`
	Timeout          int    `json:"timeout"` // seconds
}

// executeResponse is the JSON body returned by POST /execute.
type executeResponse struct {
	Output   string `json:"output"`
	Logs     string `json:"logs"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

const (
	maxRequestBodyBytes = 16 << 20 // 16MB
	defaultTimeoutSecs  = 30
	maxTimeoutSecs      = 300
)

func handleExecute(sem chan struct{}, run *runner, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req executeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.ExecutionID == "" {
		writeError(w, http.StatusBadRequest, "execution_id is required")
		return
	}
	if req.Runtime != "" && req.Runtime != "python" {
		writeError(w, http.StatusBadRequest, "unsupported runtime: "+req.Runtime+"; supported: python")
		return
	}

	timeout := defaultTimeoutSecs
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > maxTimeoutSecs {
		timeout = maxTimeoutSecs
	}

	// Acquire execution slot — fail fast under load. The client retries 503s.
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	default:
		writeError(w, http.StatusServiceUnavailable, "server busy: execution capacity reached")
		return
	}

	result := run.run(r.Context(), runRequest{
		code:        req.Code,
		workingDir:  req.WorkingDirectory,
		callbackURL: req.CallbackURL,
		executionID: req.ExecutionID,
		timeout:     time.Duration(timeout) * time.Second,
	})

	writeJSON(w, http.StatusOK, executeResponse{
		Output:   result.stdout,
		Logs:     result.stderr,
		ExitCode: result.exitCode,
		Error:    result.err,
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

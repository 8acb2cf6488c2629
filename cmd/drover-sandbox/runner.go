package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

//go:embed prelude.py
var preludeSource string

// postludeSource flushes the final result after user code completes.
const postludeSource = `
if _final_result is not None:
    import json as _j
    _proto_out.write(_j.dumps({"type": "result", "data": _final_result}) + '\n')
    _proto_out.flush()
`

// runner executes Python code in a subprocess. Tool calls are bridged back
// to the caller over HTTP by the prelude, not by this process.
type runner struct {
	pythonBin     string
	workspaceRoot string
	maxOutput     int
}

func newRunner(pythonBin, workspaceRoot string, maxOutput int) *runner {
	if maxOutput <= 0 {
		maxOutput = 512 * 1024
	}
	return &runner{pythonBin: pythonBin, workspaceRoot: workspaceRoot, maxOutput: maxOutput}
}

// runRequest carries parameters for a single code execution.
type runRequest struct {
	code        string
	workingDir  string
	callbackURL string
	executionID string
	timeout     time.Duration
}

// runResult is the outcome of a subprocess execution.
type runResult struct {
	stdout   string // JSON-encoded set_result() data
	stderr   string // captured print() output
	exitCode int
	err      string // timeout/process error message
}

// run executes the given code in a subprocess.
func (r *runner) run(ctx context.Context, req runRequest) runResult {
	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	workspace, cleanup, err := r.workspace(req)
	if err != nil {
		return runResult{err: "workspace: " + err.Error(), exitCode: -1}
	}
	defer cleanup()

	script := preludeSource + "\n" + req.code + "\n" + postludeSource

	tmpFile, err := os.CreateTemp(workspace, "sandbox-*.py")
	if err != nil {
		return runResult{err: "create temp file: " + err.Error(), exitCode: -1}
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.WriteString(script); err != nil {
		tmpFile.Close()
		return runResult{err: "write script: " + err.Error(), exitCode: -1}
	}
	tmpFile.Close()

	cmd := exec.CommandContext(ctx, r.pythonBin, tmpPath)
	cmd.Dir = workspace
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"LANG=en_US.UTF-8",
		"_SANDBOX_CALLBACK_URL=" + req.callbackURL,
		"_SANDBOX_EXECUTION_ID=" + req.executionID,
		"_SANDBOX_WORKSPACE=" + workspace,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runResult{err: "stdout pipe: " + err.Error(), exitCode: -1}
	}

	var stderrBuf limitedWriter
	stderrBuf.limit = r.maxOutput
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return runResult{err: "start subprocess: " + err.Error(), exitCode: -1}
	}

	var resultJSON string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, r.maxOutput), r.maxOutput)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var msg struct {
			Type string `json:"type"`
			Data any    `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			b, _ := json.Marshal(msg.Data)
			resultJSON = string(b)
		}
	}

	waitErr := cmd.Wait()
	logs := stderrBuf.String()

	res := runResult{
		stdout: resultJSON,
		stderr: logs,
	}

	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.err = fmt.Sprintf("execution timed out after %s", req.timeout)
			res.exitCode = -1
		} else if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.exitCode = exitErr.ExitCode()
			// Include stderr in error for LLM self-correction.
			res.err = logs
		} else {
			res.err = waitErr.Error()
			res.exitCode = -1
		}
	}

	return res
}

// workspace resolves the working directory for an execution. A requested
// directory is created under the workspace root if relative; without one a
// throwaway per-execution directory is used and removed afterwards.
func (r *runner) workspace(req runRequest) (string, func(), error) {
	if req.workingDir != "" {
		dir := req.workingDir
		if !strings.HasPrefix(dir, "/") {
			dir = r.workspaceRoot + "/" + dir
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", nil, err
		}
		return dir, func() {}, nil
	}

	dir, err := os.MkdirTemp(r.workspaceRoot, "exec-")
	if err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// limitedWriter captures up to limit bytes and discards the rest.
type limitedWriter struct {
	buf   strings.Builder
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.buf.Len() < w.limit {
		remaining := w.limit - w.buf.Len()
		if len(p) > remaining {
			p = p[:remaining]
		}
		w.buf.Write(p)
	}
	return len(p), nil
}

func (w *limitedWriter) String() string { return w.buf.String() }

package code

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/evrane/drover"
)

// DockerRunner executes Python code in a throwaway container, one per
// execution. The script is bind-mounted in; the tool-call protocol runs over
// the container's attached stdin/stdout. Networking inside the container is
// disabled, so tool calls are the code's only way out.
type DockerRunner struct {
	cli *client.Client
	cfg runnerConfig
}

// compile-time check
var _ drover.CodeRunner = (*DockerRunner)(nil)

// NewDockerRunner creates a DockerRunner using the Docker daemon from the
// environment (DOCKER_HOST etc).
func NewDockerRunner(opts ...Option) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker runner: client: %w", err)
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error { return r.cli.Close() }

// Run executes code in a fresh container and tears it down afterwards.
func (r *DockerRunner) Run(ctx context.Context, req drover.CodeRequest, dispatch drover.CodeDispatchFunc) (drover.CodeResult, error) {
	for _, pat := range blockedPatterns {
		if pat.MatchString(req.Code) {
			return drover.CodeResult{
				Error:    fmt.Sprintf("blocked: code contains prohibited pattern: %s", pat.String()),
				ExitCode: 1,
			}, nil
		}
	}

	timeout := r.cfg.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scriptDir, err := os.MkdirTemp("", "drover-docker-")
	if err != nil {
		return drover.CodeResult{}, fmt.Errorf("docker runner: temp dir: %w", err)
	}
	defer os.RemoveAll(scriptDir)

	script := preludeSource + "\n" + req.Code + "\n" + postludeSource
	if err := os.WriteFile(filepath.Join(scriptDir, "script.py"), []byte(script), 0o644); err != nil {
		return drover.CodeResult{}, fmt.Errorf("docker runner: write script: %w", err)
	}

	binds := []string{scriptDir + ":/drover:ro"}
	workdir := "/drover/workspace"
	if host := r.hostWorkspace(req); host != "" {
		binds = append(binds, host+":"+workdir)
	} else {
		workdir = "/tmp"
	}

	env := []string{"_DROVER_WORKSPACE=" + workdir}
	for k, v := range r.cfg.envVars {
		env = append(env, k+"="+v)
	}

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           r.cfg.image,
			Cmd:             []string{"python3", "/drover/script.py"},
			WorkingDir:      workdir,
			Env:             env,
			OpenStdin:       true,
			StdinOnce:       true,
			AttachStdin:     true,
			AttachStdout:    true,
			AttachStderr:    true,
			NetworkDisabled: true,
		},
		&container.HostConfig{Binds: binds},
		nil, nil, "")
	if err != nil {
		return drover.CodeResult{}, fmt.Errorf("docker runner: create container: %w", err)
	}
	defer r.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})

	attach, err := r.cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return drover.CodeResult{}, fmt.Errorf("docker runner: attach: %w", err)
	}
	defer attach.Close()

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return drover.CodeResult{}, fmt.Errorf("docker runner: start container: %w", err)
	}

	// Demux the attached stream: protocol messages arrive on stdout, logs on
	// stderr. Replies go back over the hijacked connection.
	outR, outW := io.Pipe()
	var stderrBuf strings.Builder
	go func() {
		_, _ = stdcopy.StdCopy(outW, &stderrWriter{w: &stderrBuf, max: r.cfg.maxOutput}, attach.Reader)
		outW.Close()
	}()

	var finalOutput string
	scanner := bufio.NewScanner(outR)
	scanner.Buffer(make([]byte, r.cfg.maxOutput), r.cfg.maxOutput)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var msg protocolMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "tool_call":
			writeJSON(attach.Conn, handleToolCall(ctx, msg, dispatch))
		case "tool_calls_parallel":
			writeJSON(attach.Conn, handleToolCallsParallel(ctx, msg, dispatch))
		case "result":
			data, _ := json.Marshal(msg.Data)
			finalOutput = string(data)
		}
	}

	exitCode := 0
	statusCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case werr := <-errCh:
		if ctx.Err() == context.DeadlineExceeded {
			return drover.CodeResult{
				Logs:     stderrBuf.String(),
				Error:    fmt.Sprintf("execution timed out after %s", timeout),
				ExitCode: -1,
			}, nil
		}
		if werr != nil {
			return drover.CodeResult{}, fmt.Errorf("docker runner: wait: %w", werr)
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	}

	logs := stderrBuf.String()
	if len(logs) > r.cfg.maxOutput {
		logs = logs[:r.cfg.maxOutput] + "\n... (truncated)"
	}

	result := drover.CodeResult{
		Output:   finalOutput,
		Logs:     logs,
		ExitCode: exitCode,
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("exit code %d", exitCode)
	}
	return result, nil
}

// hostWorkspace returns the host directory to mount as the container
// workspace, empty when none is configured.
func (r *DockerRunner) hostWorkspace(req drover.CodeRequest) string {
	if req.WorkingDirectory != "" {
		return req.WorkingDirectory
	}
	return r.cfg.workspace
}

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	// maxOutputBytes caps captured stdout to prevent OOM from chatty scripts.
	maxOutputBytes = 64 << 10 // 64 KiB

	defaultTimeout    = 10 * time.Second
	maxTimeout        = 60 * time.Second
	defaultCPUSeconds = 5
	defaultMemoryMB   = 128
)

// ProcessConfig configures the process-based sandbox.
type ProcessConfig struct {
	// Interpreter runs the script file. Default: python3.
	Interpreter    string
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
}

// ProcessSandbox executes scripts as isolated OS processes.
//
// Isolation guarantees:
//   - Each execution gets its own temp directory (removed after)
//   - The worker runs in its own process group (Setpgid); the whole group
//     is killed on timeout or cancel
//   - No environment inheritance from the parent — only a minimal safe set
//   - CPU and memory limits enforced via ulimit
//   - stdout capped at 64 KiB
type ProcessSandbox struct {
	interpreter    string
	defaultTimeout time.Duration
	defaultLimits  ResourceLimits
	logger         *slog.Logger
}

// NewProcessSandbox creates a process-based sandbox.
func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	interpreter := cfg.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	limits := cfg.DefaultLimits
	if limits.MaxCPUSeconds == 0 {
		limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if limits.MaxMemoryMB == 0 {
		limits.MaxMemoryMB = defaultMemoryMB
	}
	return &ProcessSandbox{
		interpreter:    interpreter,
		defaultTimeout: timeout,
		defaultLimits:  limits,
		logger:         logger,
	}
}

// Run executes a script in an isolated worker. The capability context is
// written as JSON to the worker's stdin; the script's return sink is the
// final JSON object on stdout.
func (s *ProcessSandbox) Run(ctx context.Context, req Request) (*Output, error) {
	if strings.TrimSpace(req.Script) == "" {
		return nil, &ScriptError{Class: FailCompile, Message: "empty script"}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "msaidizi-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			s.logger.Warn("failed to remove sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	scriptPath := filepath.Join(tmpDir, "script")
	if err := os.WriteFile(scriptPath, []byte(s.scriptSource(req.Script)), 0o600); err != nil {
		return nil, fmt.Errorf("writing script: %w", err)
	}

	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("marshaling script input: %w", err)
	}

	limits := s.resolveLimits(req.Limits)

	// Wrap with ulimit enforcement; exec "$@" keeps the script path out of
	// the shell string so it is never interpolated.
	memKB := limits.MaxMemoryMB * 1024
	shellScript := fmt.Sprintf(
		"ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		memKB, limits.MaxCPUSeconds,
	)
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellScript, "_", s.interpreter, scriptPath)
	cmd.Dir = tmpDir
	cmd.Stdin = bytes.NewReader(input)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = buildEnv(tmpDir)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	s.logger.Debug("sandbox execution finished",
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	// Script log lines arrive on stderr; the remainder is interpreter
	// diagnostics used for failure classification.
	scriptLogs, diagnostics := extractShimLogs(stderrBuf.String())
	s.forwardLogs(ctx, scriptLogs)

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, &ScriptError{
				Class:   FailTimeout,
				Message: fmt.Sprintf("script exceeded %s wall clock", timeout),
			}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, classify(exitErr.ExitCode(), diagnostics)
		}
		return nil, fmt.Errorf("sandbox execution failed: %w", runErr)
	}

	out, err := parseOutput(stdoutBuf.Bytes())
	if err != nil {
		return nil, err
	}
	for _, l := range scriptLogs {
		out.Logs = append(out.Logs, l.Msg)
	}
	return out, nil
}

// scriptSource prepends the runtime shim for Python interpreters. Other
// interpreters get the script verbatim.
func (s *ProcessSandbox) scriptSource(script string) string {
	if !strings.Contains(filepath.Base(s.interpreter), "python") {
		return script
	}
	return shimPreamble + "\n" + script
}

func (s *ProcessSandbox) forwardLogs(ctx context.Context, logs []shimLog) {
	for _, l := range logs {
		level := slog.LevelInfo
		if l.Level == "warn" {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "script log", slog.String("message", l.Msg))
	}
}

func (s *ProcessSandbox) resolveLimits(req ResourceLimits) ResourceLimits {
	limits := s.defaultLimits
	if req.MaxCPUSeconds > 0 {
		limits.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = req.MaxMemoryMB
	}
	return limits
}

// classify maps a worker failure to its sandbox failure class by exit code
// and interpreter diagnostics.
func classify(exitCode int, stderr string) *ScriptError {
	msg := lastLine(stderr)
	if msg == "" {
		msg = fmt.Sprintf("script exited with code %d", exitCode)
	}
	switch {
	case strings.Contains(stderr, "MemoryError") || exitCode == 137:
		return &ScriptError{Class: FailMemory, Message: msg}
	case strings.Contains(stderr, "SyntaxError") || strings.Contains(stderr, "IndentationError"):
		return &ScriptError{Class: FailCompile, Message: msg}
	case exitCode == 152 || strings.Contains(stderr, "CPU time limit"):
		// SIGXCPU from ulimit -t.
		return &ScriptError{Class: FailTimeout, Message: msg}
	default:
		return &ScriptError{Class: FailRuntime, Message: msg}
	}
}

// parseOutput reads the return sink: the final JSON object on stdout.
// Earlier stdout lines are treated as log output.
func parseOutput(stdout []byte) (*Output, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var out Output
	if last != "" && strings.HasPrefix(last, "{") {
		if err := json.Unmarshal([]byte(last), &out); err != nil {
			return nil, &ScriptError{
				Class:   FailRuntime,
				Message: fmt.Sprintf("script produced invalid result JSON: %v", err),
			}
		}
		lines = lines[:len(lines)-1]
	}
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out.Logs = append(out.Logs, l)
		}
	}
	return &out, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// buildEnv constructs a minimal, safe environment. The parent environment is
// NEVER inherited — secrets and API keys must not leak into workers.
func buildEnv(tmpDir string) []string {
	return []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}

// Package shell runs approved commands under /bin/bash while tracking
// the working directory across invocations.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"shellpilot/internal/logging"
	"shellpilot/internal/policy"
)

// NoOutputNotice replaces an empty stdout after a silent, successful
// command so the model never sees a blank result.
const NoOutputNotice = "Command executed successfully, without any output."

// Result captures one command invocation. Dir is the working directory
// after the command, whether or not it changed. Err records the
// underlying timeout or spawn failure for logging; the user-facing text
// is already in Stderr.
type Result struct {
	Stdout   string
	Stderr   string
	Dir      string
	ExitCode int
	Duration time.Duration
	Err      error
}

// Runner executes commands sequentially and owns the mutable working
// directory. Commands are expected to have passed the policy gate
// already; the runner itself enforces nothing.
type Runner struct {
	mu      sync.Mutex
	cwd     string
	timeout time.Duration
	codec   wireCodec
	slog    *logging.StructuredLogger
}

// NewRunner starts tracking from workdir, which must be an existing
// directory. A zero timeout disables the per-command deadline.
func NewRunner(workdir string, timeout time.Duration, slog *logging.StructuredLogger) (*Runner, error) {
	abs, err := filepath.Abs(workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("working directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", abs)
	}
	if slog == nil {
		slog = logging.NewStructuredLogger(logging.Logger, "shell", false)
	}
	return &Runner{cwd: abs, timeout: timeout, slog: slog}, nil
}

// Dir returns the current working directory.
func (r *Runner) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cwd
}

// Run executes one command and commits any directory change it caused.
// A bare cd (no ;, & or | separators) is resolved in-process without
// spawning a shell; everything else runs wrapped under /bin/bash so the
// trailing probe reports where the command ended up.
func (r *Runner) Run(ctx context.Context, command string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	trimmed := strings.TrimSpace(command)
	tokens := policy.Tokenize(trimmed)
	if len(tokens) > 0 && tokens[0] == "cd" && !strings.ContainsAny(trimmed, ";&|") {
		return r.changeDir(tokens[1:])
	}
	return r.runShell(ctx, trimmed)
}

// changeDir handles a simple cd without spawning a shell. The target is
// resolved against the tracked directory and committed only after a
// successful probe, so a failed cd leaves the state untouched.
func (r *Runner) changeDir(args []string) Result {
	if len(args) > 1 {
		return Result{Stderr: "cd: too many arguments", Dir: r.cwd, ExitCode: 1}
	}

	target := "~"
	if len(args) == 1 {
		target = args[0]
	}

	var resolved string
	switch {
	case target == "-":
		// The previous-directory shorthand would need state the runner
		// does not keep; rejecting it beats guessing.
		return Result{Stderr: "cd: '-' is not supported", Dir: r.cwd, ExitCode: 1}
	case target == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return Result{Stderr: fmt.Sprintf("cd: cannot resolve home directory: %v", err), Dir: r.cwd, ExitCode: 1}
		}
		resolved = home
	case strings.HasPrefix(target, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return Result{Stderr: fmt.Sprintf("cd: cannot resolve home directory: %v", err), Dir: r.cwd, ExitCode: 1}
		}
		resolved = filepath.Join(home, target[2:])
	case filepath.IsAbs(target):
		resolved = filepath.Clean(target)
	default:
		resolved = filepath.Clean(filepath.Join(r.cwd, target))
	}

	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return Result{Stderr: fmt.Sprintf("Directory does not exist: %s", resolved), Dir: r.cwd, ExitCode: 1}
	}

	r.cwd = resolved
	r.slog.Debug("changed directory", map[string]interface{}{"dir": resolved})
	return Result{Stdout: fmt.Sprintf("Changed directory to: %s", resolved), Dir: resolved, ExitCode: 0}
}

func (r *Runner) runShell(ctx context.Context, command string) Result {
	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/bash", "-c", r.codec.encode(command))
	cmd.Dir = r.cwd
	// Killing the shell leaves its children holding the output pipes;
	// WaitDelay forces the pipes closed so Run returns on the deadline
	// rather than when the orphans exit.
	cmd.WaitDelay = time.Second
	// Environment is inherited untouched; only the wrapping above is
	// added to what the user's command sees.
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = nil

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	res := Result{
		Stderr:   stderr.String(),
		Dir:      r.cwd,
		Duration: duration,
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out, _, _ := r.codec.decode(stdout.String())
		res.Stdout = out
		res.Stderr = fmt.Sprintf("Command timed out after %s and was killed. Output may be incomplete.", r.timeout)
		res.ExitCode = 124
		res.Err = runCtx.Err()

	case errors.Is(runCtx.Err(), context.Canceled):
		out, _, _ := r.codec.decode(stdout.String())
		res.Stdout = out
		res.Stderr = "Command was cancelled before completion."
		res.ExitCode = 130
		res.Err = runCtx.Err()

	case runErr != nil && cmd.ProcessState == nil:
		// The shell itself could not be started.
		res.Stderr = runErr.Error()
		res.ExitCode = 1
		res.Err = runErr

	default:
		res.ExitCode = cmd.ProcessState.ExitCode()
		out, dir, ok := r.codec.decode(stdout.String())
		res.Stdout = out
		if ok && dir != "" {
			r.cwd = dir
			res.Dir = dir
		}
		if res.Stdout == "" && res.Stderr == "" && res.ExitCode == 0 {
			res.Stdout = NoOutputNotice
		}
	}

	r.slog.Debug("command finished", map[string]interface{}{
		"exit":        res.ExitCode,
		"duration_ms": duration.Milliseconds(),
		"dir":         res.Dir,
	})
	return res
}

// Package hook runs post-install scripts shipped inside an update payload.
//
// A hook is any installed file whose name ends in Suffix. It is executed as
//
//	<shell> <script> <targetDir>
//
// with targetDir as working directory and UPDRAFT_TARGET_DIR / UPDRAFT_SCRIPT
// added to the environment.
package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"updraft/internal/debug"
	apperrors "updraft/internal/errors"
)

const (
	// Suffix marks a file as a post-install hook.
	Suffix = "-update.sh"

	// DefaultShell interprets hook scripts.
	DefaultShell = "/bin/sh"

	// DefaultTimeout bounds a single hook run.
	DefaultTimeout = 5 * time.Minute

	// EnvTargetDir and EnvScript are set for every hook run.
	EnvTargetDir = "UPDRAFT_TARGET_DIR"
	EnvScript    = "UPDRAFT_SCRIPT"
)

// IsHook reports whether path names a hook script.
func IsHook(path string) bool {
	return strings.HasSuffix(filepath.Base(path), Suffix)
}

// Result describes one hook run.
type Result struct {
	Script   string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// Success reports whether the hook exited cleanly.
func (r Result) Success() bool {
	return r.Err == nil
}

// Runner executes hooks.
type Runner struct {
	Shell   string
	Timeout time.Duration
	// Env is added to the environment of every run.
	Env map[string]string
}

// NewRunner returns a runner with the default shell and timeout.
func NewRunner() *Runner {
	return &Runner{Shell: DefaultShell, Timeout: DefaultTimeout}
}

// Run executes script against targetDir. Failures are reported in the
// result; Run never panics on a bad script.
func (r *Runner) Run(ctx context.Context, script, targetDir string) Result {
	start := time.Now()
	result := Result{Script: script}

	shell := r.Shell
	if shell == "" {
		shell = DefaultShell
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: hook scripts come from the verified update payload
	cmd := exec.CommandContext(execCtx, shell, script, targetDir)
	cmd.Dir = targetDir
	// Children of the shell may keep the output pipes open after a kill.
	cmd.WaitDelay = time.Second

	env := os.Environ()
	for k, v := range r.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env,
		fmt.Sprintf("%s=%s", EnvTargetDir, targetDir),
		fmt.Sprintf("%s=%s", EnvScript, script),
	)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	debug.Infof("running hook %s in %s", script, targetDir)
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err == nil {
		return result
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		err = fmt.Errorf("hook timed out after %v", timeout)
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	}
	result.Err = apperrors.New(apperrors.CodeScriptFailed,
		fmt.Sprintf("hook %s failed: %v", filepath.Base(script), err), err)
	return result
}

// RunAll executes every hook among paths, in the given order. A failing hook
// is logged and does not stop the remaining ones.
func (r *Runner) RunAll(ctx context.Context, paths []string, targetDir string) []Result {
	var results []Result
	for _, p := range paths {
		if !IsHook(p) {
			continue
		}
		res := r.Run(ctx, p, targetDir)
		if res.Err != nil {
			debug.Errorf("%v (exit %d): %s", res.Err, res.ExitCode, strings.TrimSpace(res.Stderr))
		} else {
			debug.Infof("hook %s finished in %v", filepath.Base(p), res.Duration)
		}
		results = append(results, res)
	}
	return results
}

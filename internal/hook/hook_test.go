package hook

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	apperrors "updraft/internal/errors"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hooks are shell scripts")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestIsHook(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/opt/app/post-update.sh", true},
		{"migrate-update.sh", true},
		{"/opt/app/update.sh", false},
		{"/opt/app/post-update.sh.bak", false},
		{"/opt/app/post-update.js", false},
		{"/opt/app-update.sh/readme.txt", false},
	}
	for _, tt := range tests {
		if got := IsHook(tt.path); got != tt.want {
			t.Errorf("IsHook(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRunPassesTargetDir(t *testing.T) {
	skipOnWindows(t)
	target := t.TempDir()
	script := writeScript(t, target, "post-update.sh", `echo "arg=$1"
echo "env=$UPDRAFT_TARGET_DIR"
echo "pwd=$(pwd)"
echo done > "$1/marker"
`)

	res := NewRunner().Run(context.Background(), script, target)
	if !res.Success() {
		t.Fatalf("Run() failed: %v (stderr %q)", res.Err, res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	for _, want := range []string{"arg=" + target, "env=" + target} {
		if !strings.Contains(res.Stdout, want) {
			t.Errorf("Stdout = %q, want it to contain %q", res.Stdout, want)
		}
	}
	if _, err := os.Stat(filepath.Join(target, "marker")); err != nil {
		t.Errorf("hook side effect missing: %v", err)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	skipOnWindows(t)
	target := t.TempDir()
	script := writeScript(t, target, "bad-update.sh", "echo boom >&2\nexit 3\n")

	res := NewRunner().Run(context.Background(), script, target)
	if res.Success() {
		t.Fatal("Run() should fail for a non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Errorf("Stderr = %q, want boom", res.Stderr)
	}
	if !apperrors.IsCode(res.Err, apperrors.CodeScriptFailed) {
		t.Errorf("error code = %q, want %q", apperrors.CodeOf(res.Err), apperrors.CodeScriptFailed)
	}
}

func TestRunTimeout(t *testing.T) {
	skipOnWindows(t)
	target := t.TempDir()
	script := writeScript(t, target, "slow-update.sh", "sleep 5\n")

	runner := &Runner{Shell: DefaultShell, Timeout: 100 * time.Millisecond}
	res := runner.Run(context.Background(), script, target)
	if res.Success() {
		t.Fatal("Run() should fail on timeout")
	}
	if !strings.Contains(res.Err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout", res.Err)
	}
}

func TestRunAllContinuesAfterFailure(t *testing.T) {
	skipOnWindows(t)
	target := t.TempDir()
	paths := []string{
		writeScript(t, target, "a-update.sh", "exit 1\n"),
		writeScript(t, target, "notes.txt", "not a hook"),
		writeScript(t, target, "b-update.sh", "touch \"$UPDRAFT_TARGET_DIR/b-ran\"\n"),
	}

	results := NewRunner().RunAll(context.Background(), paths, target)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Success() {
		t.Error("first hook should have failed")
	}
	if !results[1].Success() {
		t.Errorf("second hook failed: %v", results[1].Err)
	}
	if _, err := os.Stat(filepath.Join(target, "b-ran")); err != nil {
		t.Errorf("second hook did not run: %v", err)
	}
}

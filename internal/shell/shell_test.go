package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestRunner resolves the temp dir through EvalSymlinks so the
// directories reported by pwd compare equal to the ones built with
// filepath.Join.
func newTestRunner(t *testing.T, timeout time.Duration) (*Runner, string) {
	t.Helper()
	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	r, err := NewRunner(base, timeout, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r, base
}

func TestRunCapturesOutput(t *testing.T) {
	r, base := newTestRunner(t, 0)

	res := r.Run(context.Background(), "echo hello")
	if res.ExitCode != 0 {
		t.Fatalf("Expected exit 0, got %d (stderr %q)", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "hello" {
		t.Errorf("Expected stdout %q, got %q", "hello", res.Stdout)
	}
	if res.Stderr != "" {
		t.Errorf("Expected empty stderr, got %q", res.Stderr)
	}
	if res.Dir != base {
		t.Errorf("Expected dir %q, got %q", base, res.Dir)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	r, _ := newTestRunner(t, 0)

	res := r.Run(context.Background(), "false")
	if res.ExitCode != 1 {
		t.Errorf("Expected exit 1, got %d", res.ExitCode)
	}
	if res.Stdout != "" {
		t.Errorf("Failure with no output should keep stdout empty, got %q", res.Stdout)
	}
}

func TestSilentSuccessNotice(t *testing.T) {
	r, base := newTestRunner(t, 0)

	res := r.Run(context.Background(), "touch marker.txt")
	if res.ExitCode != 0 {
		t.Fatalf("Expected exit 0, got %d (stderr %q)", res.ExitCode, res.Stderr)
	}
	if res.Stdout != NoOutputNotice {
		t.Errorf("Expected the no-output notice, got %q", res.Stdout)
	}
	if _, err := os.Stat(filepath.Join(base, "marker.txt")); err != nil {
		t.Errorf("Expected marker.txt in %s: %v", base, err)
	}
}

func TestStderrSeparated(t *testing.T) {
	r, _ := newTestRunner(t, 0)

	res := r.Run(context.Background(), "echo out; echo err 1>&2")
	if res.Stdout != "out" {
		t.Errorf("Expected stdout %q, got %q", "out", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err") {
		t.Errorf("Expected stderr to contain %q, got %q", "err", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit 0, got %d", res.ExitCode)
	}
}

func TestCommandNotFound(t *testing.T) {
	r, _ := newTestRunner(t, 0)

	res := r.Run(context.Background(), "definitely-not-a-command-xyz")
	if res.ExitCode != 127 {
		t.Errorf("Expected exit 127, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "not found") {
		t.Errorf("Expected a not-found message, got %q", res.Stderr)
	}
}

func TestCdMovesAndReports(t *testing.T) {
	r, base := newTestRunner(t, 0)
	sub := filepath.Join(base, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res := r.Run(context.Background(), "cd sub")
	if res.ExitCode != 0 {
		t.Fatalf("Expected exit 0, got %d (stderr %q)", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "Changed directory to: "+sub {
		t.Errorf("Expected change notice for %q, got %q", sub, res.Stdout)
	}
	if r.Dir() != sub {
		t.Errorf("Expected dir %q, got %q", sub, r.Dir())
	}

	// The shell path must observe the directory the cd committed.
	res = r.Run(context.Background(), "pwd")
	if res.Stdout != sub {
		t.Errorf("Expected pwd to print %q, got %q", sub, res.Stdout)
	}
}

func TestCdMissingDirectory(t *testing.T) {
	r, base := newTestRunner(t, 0)

	res := r.Run(context.Background(), "cd /nonexistent-dir-for-tests")
	if res.ExitCode != 1 {
		t.Errorf("Expected exit 1, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "Directory does not exist:") {
		t.Errorf("Expected a does-not-exist message, got %q", res.Stderr)
	}
	if r.Dir() != base {
		t.Errorf("Expected dir to stay %q, got %q", base, r.Dir())
	}
}

func TestCdHome(t *testing.T) {
	r, _ := newTestRunner(t, 0)
	home, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve home: %v", err)
	}
	t.Setenv("HOME", home)

	if res := r.Run(context.Background(), "cd ~"); res.ExitCode != 0 {
		t.Fatalf("cd ~ failed: %d %q", res.ExitCode, res.Stderr)
	}
	if r.Dir() != home {
		t.Errorf("Expected dir %q, got %q", home, r.Dir())
	}

	sub := filepath.Join(home, "projects")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if res := r.Run(context.Background(), "cd ~/projects"); res.ExitCode != 0 {
		t.Fatalf("cd ~/projects failed: %d %q", res.ExitCode, res.Stderr)
	}
	if r.Dir() != sub {
		t.Errorf("Expected dir %q, got %q", sub, r.Dir())
	}
}

func TestCdDashUnsupported(t *testing.T) {
	r, base := newTestRunner(t, 0)

	res := r.Run(context.Background(), "cd -")
	if res.ExitCode != 1 {
		t.Errorf("Expected exit 1, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "not supported") {
		t.Errorf("Expected a not-supported message, got %q", res.Stderr)
	}
	if r.Dir() != base {
		t.Errorf("Expected dir to stay %q, got %q", base, r.Dir())
	}
}

func TestCdTooManyArguments(t *testing.T) {
	r, _ := newTestRunner(t, 0)

	res := r.Run(context.Background(), "cd one two")
	if res.ExitCode != 1 {
		t.Errorf("Expected exit 1, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "too many arguments") {
		t.Errorf("Expected a too-many-arguments message, got %q", res.Stderr)
	}
}

func TestCdQuotedTarget(t *testing.T) {
	r, base := newTestRunner(t, 0)
	sub := filepath.Join(base, "two words")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	res := r.Run(context.Background(), `cd "two words"`)
	if res.ExitCode != 0 {
		t.Fatalf("Expected exit 0, got %d (stderr %q)", res.ExitCode, res.Stderr)
	}
	if r.Dir() != sub {
		t.Errorf("Expected dir %q, got %q", sub, r.Dir())
	}
}

func TestCdAgreesWithShellPath(t *testing.T) {
	r1, base1 := newTestRunner(t, 0)
	if err := os.Mkdir(filepath.Join(base1, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	r1.Run(context.Background(), "cd sub")

	r2, err := NewRunner(base1, 0, nil)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	r2.Run(context.Background(), "cd sub && pwd")

	if r1.Dir() != r2.Dir() {
		t.Errorf("Intercepted cd and shell cd disagree: %q vs %q", r1.Dir(), r2.Dir())
	}
}

func TestDirTrackingAcrossCommands(t *testing.T) {
	r, base := newTestRunner(t, 0)

	if res := r.Run(context.Background(), "mkdir -p a/b"); res.ExitCode != 0 {
		t.Fatalf("mkdir -p failed: %d %q", res.ExitCode, res.Stderr)
	}
	r.Run(context.Background(), "cd a")
	r.Run(context.Background(), "cd b")
	if want := filepath.Join(base, "a", "b"); r.Dir() != want {
		t.Fatalf("Expected dir %q, got %q", want, r.Dir())
	}
	r.Run(context.Background(), "cd ..")
	if want := filepath.Join(base, "a"); r.Dir() != want {
		t.Errorf("Expected dir %q, got %q", want, r.Dir())
	}
}

func TestTimeoutKillsCommand(t *testing.T) {
	r, base := newTestRunner(t, 100*time.Millisecond)

	start := time.Now()
	res := r.Run(context.Background(), "sleep 2")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run did not return promptly, took %s", elapsed)
	}
	if res.ExitCode != 124 {
		t.Errorf("Expected exit 124, got %d", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("Expected a timeout message, got %q", res.Stderr)
	}
	if res.Err == nil {
		t.Error("Expected Err to record the deadline")
	}
	if r.Dir() != base {
		t.Errorf("Expected dir to stay %q, got %q", base, r.Dir())
	}
}

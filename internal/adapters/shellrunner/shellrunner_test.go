package shellrunner

import (
	"context"
	"strings"
	"testing"
	"time"

	"devengine/internal/ports"
)

func TestShell_ExecCapturesStdoutAndExitCode(t *testing.T) {
	s := New(t.TempDir())
	res, err := s.Exec(context.Background(), "echo hello", ports.ExecOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Fatalf("got stdout=%q, want it to contain hello", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("got exit code %d, want 0", res.ExitCode)
	}
}

func TestShell_ExecNonZeroExit(t *testing.T) {
	s := New(t.TempDir())
	res, err := s.Exec(context.Background(), "exit 3", ports.ExecOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("got exit code %d, want 3", res.ExitCode)
	}
}

func TestShell_ExecTimeoutKillsProcessGroup(t *testing.T) {
	s := New(t.TempDir())
	res, err := s.Exec(context.Background(), "sleep 5", ports.ExecOptions{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut=true for a command exceeding its timeout")
	}
}

func TestShell_ExecEnvAllowlistPlusPath(t *testing.T) {
	s := New(t.TempDir())
	res, err := s.Exec(context.Background(), "echo $FOO", ports.ExecOptions{
		Env:     map[string]string{"FOO": "bar"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "bar" {
		t.Fatalf("got stdout=%q, want bar", res.Stdout)
	}
}

func TestDetectJSRunner_FallsBackToJestWhenNoConfigPresent(t *testing.T) {
	if got := detectJSRunner(t.TempDir()); got != "jest" {
		t.Fatalf("got %q, want jest as the default", got)
	}
}

func TestCommandFor_UnknownExtensionErrors(t *testing.T) {
	r := &runner{shell: New(t.TempDir())}
	if _, err := r.commandFor("widget.rs"); err == nil {
		t.Fatalf("expected an error for an unrecognized test-file extension")
	}
}

func TestCommandFor_GoFileUsesGoTest(t *testing.T) {
	r := &runner{shell: New(t.TempDir())}
	cmd, err := r.commandFor("pkg/widget.test.go")
	if err != nil {
		t.Fatalf("commandFor: %v", err)
	}
	if !strings.HasPrefix(cmd, "go test") {
		t.Fatalf("got %q, want it to start with go test", cmd)
	}
}

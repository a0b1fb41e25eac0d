package cli

import (
	"bytes"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{"run", "resume", "sessions", "cache", "stats", "version"}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestRunHelpFlags(t *testing.T) {
	out, err := executeCommand("run", "--help")
	if err != nil {
		t.Fatalf("run --help: %v", err)
	}
	for _, flag := range []string{"--env", "--interactive", "--timeout", "--no-cache", "--format"} {
		if !strings.Contains(out, flag) {
			t.Errorf("run --help does not mention %s flag:\n%s", flag, out)
		}
	}
}

func TestCacheSubcommands(t *testing.T) {
	for _, sub := range []string{"stats", "clear"} {
		out, err := executeCommand("cache", sub, "--help")
		if err != nil {
			t.Errorf("cache %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("cache %s --help produced no output", sub)
		}
	}
}

func TestSessionsSubcommands(t *testing.T) {
	out, err := executeCommand("sessions", "--help")
	if err != nil {
		t.Fatalf("sessions --help: %v", err)
	}
	if !strings.Contains(out, "rm") {
		t.Errorf("sessions help missing rm subcommand:\n%s", out)
	}
}

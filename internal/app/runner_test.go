package app

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sqrtlabs/dca-webapp/internal/version"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)
	return code, stdout.String(), stderr.String()
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("version exited %d", code)
	}
	if strings.TrimSpace(stdout) != version.Version {
		t.Fatalf("unexpected version output: %q", stdout)
	}
}

func TestVersionLong(t *testing.T) {
	code, stdout, _ := runCLI(t, "version", "--long")
	if code != 0 {
		t.Fatalf("version --long exited %d", code)
	}
	if !strings.Contains(stdout, "commit:") {
		t.Fatalf("expected build metadata, got %q", stdout)
	}
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "definitely-not-a-command")
	if code == 0 {
		t.Fatal("unknown command should fail")
	}
	if stderr == "" {
		t.Fatal("expected an error message")
	}
}

func TestPlanListEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dca.db")
	code, stdout, stderr := runCLI(t,
		"plan", "list", "0x1111111111111111111111111111111111111111", "--db", db)
	if code != 0 {
		t.Fatalf("plan list exited %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "no plans") {
		t.Fatalf("expected empty listing, got %q", stdout)
	}
}

func TestPlanShowMissing(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dca.db")
	code, _, stderr := runCLI(t, "plan", "show", "0xmissing", "--db", db)
	if code == 0 {
		t.Fatal("missing plan should fail")
	}
	if !strings.Contains(stderr, "plan not found") {
		t.Fatalf("expected plan not found, got %q", stderr)
	}
}

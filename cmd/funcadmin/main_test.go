package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testProfile = `
tenants:
  - id: 1
    agencies: [AG1, AG2]
`

// setupEnv points every backend at a temp directory.
func setupEnv(t *testing.T) string {
	dir := t.TempDir()
	profile := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(profile, []byte(testProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:"+filepath.Join(dir, "funcadmin.db"))
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PROFILE_PATH", profile)
	t.Setenv("ARTIFACT_STORAGE_TYPE", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ELASTICSEARCH_ADDRESSES", "")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"funcadmin"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Lifecycle(t *testing.T) {
	dir := setupEnv(t)

	if code, _, stderr := run("migrate"); code != 0 {
		t.Fatalf("migrate exit %d: %s", code, stderr)
	}

	batch := writeFile(t, dir, "batch.json", `[{"Name":"Reader","OriginatingAgencies":["AG1"]}]`)
	code, stdout, stderr := run("import", "-tenant", "1", "AccessContract", batch)
	if code != 0 {
		t.Fatalf("import exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `"AC-000001"`) {
		t.Errorf("expected allocated identifier in output, got %s", stdout)
	}

	bad := writeFile(t, dir, "bad.json", `[{"Name":"Ghost","OriginatingAgencies":["AG9"]}]`)
	code, _, stderr = run("import", "-tenant", "1", "AccessContract", bad)
	if code != 1 {
		t.Fatalf("rejected import exit = %d, want 1", code)
	}
	if !strings.Contains(stderr, "AGENCY_NOT_FOUND") {
		t.Errorf("expected rejection code on stderr, got %s", stderr)
	}

	patch := writeFile(t, dir, "patch.json", `{"$action":[{"$set":{"Name":"Renamed"}}]}`)
	code, stdout, stderr = run("update", "-tenant", "1", "AccessContract", "AC-000001", patch)
	if code != 0 {
		t.Fatalf("update exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Renamed") {
		t.Errorf("expected updated name, got %s", stdout)
	}

	code, stdout, _ = run("get", "-tenant", "1", "accesscontract", "AC-000001")
	if code != 0 || !strings.Contains(stdout, "Renamed") {
		t.Errorf("get exit %d: %s", code, stdout)
	}

	code, stdout, _ = run("list", "-tenant", "1", "-filter", `contract.Name == "Renamed"`, "AccessContract")
	if code != 0 || !strings.Contains(stdout, "AC-000001") {
		t.Errorf("list exit %d: %s", code, stdout)
	}

	code, stdout, _ = run("list", "-tenant", "2", "AccessContract")
	if code != 0 || strings.TrimSpace(stdout) != "[]" {
		t.Errorf("other tenant should see nothing, exit %d: %s", code, stdout)
	}

	if code, _, _ = run("get", "-tenant", "1", "AccessContract", "AC-999999"); code != 1 {
		t.Errorf("missing contract exit = %d, want 1", code)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "artifacts", "1", "backup", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 2 {
		t.Errorf("expected a snapshot per successful operation, got %d", len(backups))
	}
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, 2},
		{[]string{"help"}, 0},
		{[]string{"bogus"}, 2},
		{[]string{"import", "AccessContract"}, 2},
		{[]string{"get", "Nope", "X"}, 2},
		{[]string{"import", "AccessContract", "/does/not/exist.json"}, 2},
	}
	for _, tt := range tests {
		if code, _, _ := run(tt.args...); code != tt.want {
			t.Errorf("Run(%v) = %d, want %d", tt.args, code, tt.want)
		}
	}
}

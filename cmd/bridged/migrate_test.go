package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunMigrate_UpStatusDown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridged.db")
	t.Setenv("BRIDGED_CONFIG", writeConfig(t, `
site:
  id: test-site
peers:
  - name: amp
    endpoint: "127.0.0.1:4711"
database:
  enabled: false
  path: "`+dbPath+`"
logging:
  level: error
  format: text
`))
	ctx := context.Background()

	var out bytes.Buffer
	if err := runMigrate(ctx, []string{"status"}, &out); err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out.String(), "pending  20260301_120000  link_events") {
		t.Errorf("status before up:\n%s", out.String())
	}

	out.Reset()
	if err := runMigrate(ctx, nil, &out); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	if !strings.Contains(out.String(), "applied  20260301_120000") || strings.Contains(out.String(), "pending") {
		t.Errorf("status after up:\n%s", out.String())
	}

	out.Reset()
	if err := runMigrate(ctx, []string{"down"}, &out); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	if strings.Contains(out.String(), "applied") || !strings.Contains(out.String(), "pending  20260301_120000") {
		t.Errorf("status after down:\n%s", out.String())
	}
}

func TestRunMigrate_BadArguments(t *testing.T) {
	t.Setenv("BRIDGED_CONFIG", "/nonexistent/path/config.yaml")
	ctx := context.Background()

	if err := runMigrate(ctx, []string{"sideways"}, &bytes.Buffer{}); !errors.Is(err, errUnknownMigrateAction) {
		t.Errorf("runMigrate(sideways) error = %v, want errUnknownMigrateAction", err)
	}
	if err := runMigrate(ctx, []string{"up", "extra"}, &bytes.Buffer{}); err == nil {
		t.Error("runMigrate() accepted an extra argument")
	}
	if err := runMigrate(ctx, []string{"status"}, &bytes.Buffer{}); err == nil {
		t.Error("runMigrate() succeeded without a config file")
	}
}

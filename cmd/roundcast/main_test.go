package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"ID", "Text"}, [][]string{{"7", "hello"}, {"12"}}, []columnAlignment{alignRight})
	for _, want := range []string{"ID", "Text", "hello", "12"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if strings.Contains(out, "TEXT") {
		t.Fatalf("expected headers in their given case, got:\n%s", out)
	}
	if !strings.HasPrefix(out, "╭") {
		t.Fatalf("expected the rounded style, got:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected no output without headers")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "migrate", "artifacts"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("expected subcommand %q, got %v (%v)", name, cmd, err)
		}
	}
}

func TestArtifactsRequiresUser(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"artifacts"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "user") {
		t.Fatalf("expected a missing --user error, got %v", err)
	}
}

func TestMigrateAndListWithSQLite(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ROUNDCAST_STORE_DRIVER", "sqlite")
	t.Setenv("ROUNDCAST_SQLITE_PATH", filepath.Join(dir, "roundcast.db"))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "status"})
	if err := root.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out.String(), "0001_init") {
		t.Fatalf("unexpected migrate output %q", out.String())
	}

	out.Reset()
	root = newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"artifacts", "--user", "42"})
	if err := root.Execute(); err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if !strings.Contains(out.String(), "No saved video notes.") {
		t.Fatalf("unexpected artifacts output %q", out.String())
	}
}

func TestMigrateRejectsUnknownArgument(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "down"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected down to be rejected")
	}
}

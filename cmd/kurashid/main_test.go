package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	definitions := `agents:
  - name: books
    description: 読書記録
    aliases: [本]
    columns:
      - name: title
        label: タイトル
        required: true
`
	if err := os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte(definitions), 0o644); err != nil {
		t.Fatalf("write definitions: %v", err)
	}
	cfg := `runtime:
  data_dir: data
  timezone: Asia/Tokyo
logging:
  level: error
agents:
  definitions: agents.yaml
  disabled: [cleanup]
`
	path := filepath.Join(dir, "kurashi.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("kurashid %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestAgentsCommandListsBuiltinsAndDefinitions(t *testing.T) {
	path := writeConfig(t)
	out := execute(t, "--config", path, "agents")

	for _, want := range []string{"diet", "journal", "books"} {
		if !strings.Contains(out, want) {
			t.Fatalf("agents output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "cleanup") {
		t.Fatalf("disabled agent listed:\n%s", out)
	}
}

func TestMigrateCommand(t *testing.T) {
	path := writeConfig(t)
	out := execute(t, "--config", path, "migrate")
	if !strings.Contains(out, "3 agents") {
		t.Fatalf("unexpected migrate output: %s", out)
	}
	db := filepath.Join(filepath.Dir(path), "data", "kurashi.db")
	if _, err := os.Stat(db); err != nil {
		t.Fatalf("database not created: %v", err)
	}
}

func TestConsoleExec(t *testing.T) {
	path := writeConfig(t)
	out := execute(t, "--config", path, "console", "--exec", "!diet 朝食 トースト 300kcal")
	if !strings.Contains(out, "の朝食「トースト」（300kcal）を記録しました。") {
		t.Fatalf("unexpected reply: %s", out)
	}

	out = execute(t, "--config", path, "console", "-e", "!本 title=こころ")
	if !strings.Contains(out, "#1 を登録しました") {
		t.Fatalf("unexpected reply: %s", out)
	}
}

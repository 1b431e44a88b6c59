package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	for _, line := range []string{"first-line-000\n", "second-line-00\n", "third-line-000\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if !bytes.Contains(current, []byte("third")) {
		t.Fatalf("current file should hold the newest line, got %q", current)
	}
	first, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read backup 1: %v", err)
	}
	if !bytes.Contains(first, []byte("second")) {
		t.Fatalf("backup 1 should hold the second line, got %q", first)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("backup 2 should exist: %v", err)
	}
}

func TestInitWritesAuditStream(t *testing.T) {
	dir := t.TempDir()
	err := Init(Config{
		Level:       "debug",
		Format:      "text",
		OutputPaths: []string{filepath.Join(dir, "app.log")},
		Audit:       AuditConfig{Enabled: true, Path: filepath.Join(dir, "audit.log")},
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	Named("test").Debug("hello")
	Audit().Info("recorded", "id", 7)
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	app, _ := os.ReadFile(filepath.Join(dir, "app.log"))
	if !strings.Contains(string(app), "component=test") {
		t.Fatalf("app log missing component attr: %q", app)
	}
	audit, _ := os.ReadFile(filepath.Join(dir, "audit.log"))
	if !strings.Contains(string(audit), `"stream":"audit"`) {
		t.Fatalf("audit log missing stream attr: %q", audit)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := ParseLevel(in).String(); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

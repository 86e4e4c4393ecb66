package logging

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, test := range tests {
		if result := LevelString(test.level); result != test.expected {
			t.Errorf("expected %q, got %q", test.expected, result)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "scanwedge" {
		t.Errorf("expected component scanwedge, got %s", cfg.Component)
	}
	if cfg.RedactCodes {
		t.Error("codes should be logged in clear by default")
	}
	if !strings.HasSuffix(cfg.FilePath, "scanwedge.log") {
		t.Errorf("unexpected default path %s", cfg.FilePath)
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestJSONFormatAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&Config{Level: LevelInfo, Format: FormatJSON, Component: "test"}, &buf)

	logger.Debug("hidden")
	logger.WithComponent("api").Info("hello", "n", 3)

	recs := decodeLines(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0]["msg"] != "hello" || recs[0]["n"] != float64(3) {
		t.Errorf("unexpected record %v", recs[0])
	}
	if recs[0]["component"] != "api" {
		t.Errorf("component = %v, want api", recs[0]["component"])
	}
}

func TestRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&Config{Format: FormatJSON, RedactCodes: true}, &buf)

	logger.Info("scan", "code", "4006381333931", "api_token", "abc", "keystrokes", 13, "session", "s1")

	rec := decodeLines(t, &buf)[0]
	if rec["code"] != "***********31" {
		t.Errorf("code = %v", rec["code"])
	}
	if rec["api_token"] != "[REDACTED]" {
		t.Errorf("api_token = %v", rec["api_token"])
	}
	if rec["keystrokes"] != float64(13) || rec["session"] != "s1" {
		t.Errorf("non-sensitive attributes must pass through: %v", rec)
	}
}

func TestCodesInClearByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&Config{Format: FormatJSON}, &buf)
	logger.Info("scan", "code", "ABC123")

	if rec := decodeLines(t, &buf)[0]; rec["code"] != "ABC123" {
		t.Errorf("code = %v", rec["code"])
	}
}

func TestMaskCode(t *testing.T) {
	tests := map[string]string{
		"":       "",
		"7":      "*",
		"42":     "**",
		"ABC123": "****23",
		"ÄÖÜß":   "**Üß",
	}
	for in, want := range tests {
		if got := MaskCode(in); got != want {
			t.Errorf("MaskCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key      string
		expected bool
	}{
		{"password", true},
		{"PASSWORD", true},
		{"redis_password", true},
		{"secret", true},
		{"api_key", true},
		{"apikey", true},
		{"token", true},
		{"bearer", true},
		{"credential", true},
		{"cookie", true},
		{"Authorization", true},
		{"session", false},
		{"keystrokes", false},
		{"code", false},
		{"suffix", false},
	}

	for _, test := range tests {
		if result := shouldRedact(test.key); result != test.expected {
			t.Errorf("shouldRedact(%q) = %v, expected %v", test.key, result, test.expected)
		}
	}
}

func TestRequestIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&Config{Format: FormatJSON, Component: "test"}, &buf)

	id1 := logger.NewRequestID()
	id2 := logger.WithComponent("x").NewRequestID()
	if id1 == id2 {
		t.Error("NewRequestID returned duplicate IDs")
	}
	if !strings.HasPrefix(id1, "test-") {
		t.Errorf("NewRequestID should start with component name, got %q", id1)
	}

	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("RequestIDFromContext = %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	logger.WithContext(ctx).Info("handled")
	if rec := decodeLines(t, &buf)[0]; rec["request_id"] != "req-1" {
		t.Errorf("request_id = %v", rec["request_id"])
	}
}

func TestLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "scanwedge.log")
	logger, err := New(&Config{Output: "file", FilePath: path, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("started")
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "started") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(RotateConfig{Path: path, MaxBytes: 20, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	for _, line := range []string{"aaaaaaaaaaaaaaa\n", "bbbbbbbbbbbbbbb\n", "ccccccccccccccc\n", "ddddddddddddddd\n"} {
		if _, err := r.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	files := r.Files()
	if len(files) != 3 {
		t.Fatalf("expected current plus 2 backups, got %v", files)
	}

	read := func(p string) string {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		return string(b)
	}
	if got := read(path); got != "ddddddddddddddd\n" {
		t.Errorf("current = %q", got)
	}
	if got := read(path + ".1"); got != "ccccccccccccccc\n" {
		t.Errorf("backup 1 = %q", got)
	}
	if got := read(path + ".2"); got != "bbbbbbbbbbbbbbb\n" {
		t.Errorf("backup 2 = %q", got)
	}
}

func TestFileRotatorCompress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(RotateConfig{Path: path, MaxBytes: 10, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	r.Write([]byte("first line\n"))
	r.Write([]byte("second\n"))

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if string(data) != "first line\n" {
		t.Errorf("backup = %q", data)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed")
	}
}

func TestFileRotatorEmptyPath(t *testing.T) {
	if _, err := NewFileRotator(RotateConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}

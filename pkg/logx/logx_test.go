package logx

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"
)

// setupTestLogger redirects package output to a buffer for the test.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = os.Stderr
	logWriterLock.Unlock()
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("queue")
	if logger == nil {
		t.Fatal("expected logger to be initialized")
	}
	if logger.domain != "queue" {
		t.Errorf("domain = %q, want queue", logger.domain)
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("worker.planning")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[worker.planning]") {
		t.Errorf("expected domain tag in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("expected log level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("expected formatted message in output, got: %s", output)
	}
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := setupTestLogger()
			defer resetTestLogger()

			logger := NewLogger("worker.coding")
			if tt.level == LevelDebug {
				SetDebugDomains(nil)
			}

			switch tt.level {
			case LevelDebug:
				logger.Debug("test message")
			case LevelInfo:
				logger.Info("test message")
			case LevelWarn:
				logger.Warn("test message")
			case LevelError:
				logger.Error("test message")
			}

			output := buf.String()
			if !strings.Contains(output, tt.expected) {
				t.Errorf("expected level %q in output, got: %s", tt.expected, output)
			}
		})
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebugDomains([]string{"queue", "worker.coding"})
	defer SetDebugDomains(nil)

	NewLogger("worker.coding").Debug("visible")
	NewLogger("github").Debug("hidden")

	output := buf.String()
	if !strings.Contains(output, "visible") {
		t.Error("expected allowlisted domain's debug line to appear")
	}
	if strings.Contains(output, "hidden") {
		t.Error("expected non-allowlisted domain's debug line to be suppressed")
	}
}

func TestSetDebugDomainsNilEnablesAll(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	SetDebugDomains(nil)
	defer SetDebugDomains(nil)

	for _, domain := range []string{"queue", "worker.coding", "github", "lifecycle"} {
		NewLogger(domain).Debug("domain check: %s", domain)
	}
	output := buf.String()
	for _, domain := range []string{"queue", "worker.coding", "github", "lifecycle"} {
		if !strings.Contains(output, "domain check: "+domain) {
			t.Errorf("domain %s: expected debug line with no allowlist set", domain)
		}
	}
}

func TestMultipleDomains(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	planning := NewLogger("worker.planning")
	reviewing := NewLogger("worker.reviewing")

	planning.Info("Creating task")
	reviewing.Info("Executing task")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")

	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[worker.planning]") {
		t.Errorf("expected first line to contain [worker.planning], got: %s", lines[0])
	}
	if !strings.Contains(lines[1], "[worker.reviewing]") {
		t.Errorf("expected second line to contain [worker.reviewing], got: %s", lines[1])
	}
}

func TestLogLevelConstants(t *testing.T) {
	expected := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
	for level, want := range expected {
		if string(level) != want {
			t.Errorf("level constant = %q, want %q", string(level), want)
		}
	}
}

func TestTimestampFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	NewLogger("queue").Info("timestamp test")

	output := buf.String()
	start := strings.Index(output, "[")
	end := strings.Index(output, "]")
	if start == -1 || end == -1 || end <= start {
		t.Fatalf("could not find timestamp in output: %s", output)
	}

	timestamp := output[start+1 : end]
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", timestamp); err != nil {
		t.Errorf("invalid timestamp format %q: %v", timestamp, err)
	}
}

func ExampleLogger_usage() {
	planning := NewLogger("worker.planning")
	reviewing := NewLogger("worker.reviewing")

	planning.Info("Starting issue processing")
	planning.Debug("Reading issue body: %s", "issue-001.md")

	reviewing.Info("Received task from planning")
	reviewing.Warn("High token usage detected: %d tokens", 950)
	reviewing.Error("Failed to connect to API: %v", "timeout")
}

func TestExampleUsage(t *testing.T) {
	ExampleLogger_usage()
}

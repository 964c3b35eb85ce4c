package common

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.level.String(); got != tt.expected {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{" DEBUG ", LevelDebug},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"chatty", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAppLogger_SetLevel(t *testing.T) {
	logger := &AppLogger{
		level: LevelInfo,
	}

	logger.SetLevel(LevelDebug)
	if logger.level != LevelDebug {
		t.Errorf("SetLevel did not update level, got %v, want %v", logger.level, LevelDebug)
	}
}

func TestAppLogger_LogFiltering(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelWarn,
		output: &buf,
	}
	logger.logger = newTestLogger(&buf)

	logger.Debug("debug message")
	logger.Info("info message")

	if buf.Len() > 0 {
		t.Error("Debug/Info messages should be filtered when level is Warn")
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "WARN") {
		t.Error("Warn message should be logged")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "ERROR") {
		t.Error("Error message should be logged")
	}
}

func TestAppLogger_LogFormatting(t *testing.T) {
	var buf bytes.Buffer

	logger := &AppLogger{
		level:  LevelDebug,
		output: &buf,
	}
	logger.logger = newTestLogger(&buf)

	logger.Info("Stage %s -> %s", "preparing", "connecting")

	output := buf.String()

	if !strings.Contains(output, time.Now().Format("2006/01/02")) {
		t.Error("Log should contain date in YYYY/MM/DD format")
	}
	if !strings.Contains(output, "[INFO]") {
		t.Error("Log should contain level indicator")
	}
	if !strings.Contains(output, "Stage preparing -> connecting") {
		t.Error("Log should contain formatted message")
	}
	if !strings.Contains(output, "logger_test.go:") {
		t.Errorf("Log should name the calling file, got %q", output)
	}
}

func TestDefaultLogConfig(t *testing.T) {
	if defaultMaxFileSize != 5*1024*1024 {
		t.Errorf("defaultMaxFileSize = %v, want 5MB", defaultMaxFileSize)
	}

	if defaultMaxBackups != 5 {
		t.Errorf("defaultMaxBackups = %v, want 5", defaultMaxBackups)
	}
}

func TestEnableFileLogging_CustomDir(t *testing.T) {
	dir := t.TempDir()

	logger := &AppLogger{
		level:       LevelInfo,
		logDir:      dir,
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
	}
	logger.logger = newTestLogger(&bytes.Buffer{})

	if err := logger.EnableFileLogging(); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}
	defer logger.Close()

	logger.Info("written to file")
	logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file does not contain message, got %q", string(data))
	}
}

func TestEnableFileLogging_RejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0700); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "logs")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	logger := &AppLogger{logDir: link}
	if err := logger.EnableFileLogging(); err == nil {
		t.Error("EnableFileLogging should refuse a symlinked log directory")
	}
}

func TestCleanList(t *testing.T) {
	got := CleanList([]string{" org.a ", "", "org.b", "org.a", "  "})

	if len(got) != 2 || got[0] != "org.a" || got[1] != "org.b" {
		t.Errorf("CleanList() = %v, want [org.a org.b]", got)
	}

	if got := CleanList(nil); len(got) != 0 {
		t.Errorf("CleanList(nil) = %v, want empty", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileExists(t *testing.T) {
	tempFile, err := os.CreateTemp("", "test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tempFile.Name())
	tempFile.Close()

	if !FileExists(tempFile.Name()) {
		t.Error("FileExists() should return true for existing file")
	}

	if FileExists("/nonexistent/path/to/file") {
		t.Error("FileExists() should return false for non-existing file")
	}
}

func TestGetRuntimeDir_UsesXDG(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", base)

	dir, err := GetRuntimeDir()
	if err != nil {
		t.Fatalf("GetRuntimeDir() error = %v", err)
	}
	if want := filepath.Join(base, ConfigDirName, "run"); dir != want {
		t.Errorf("GetRuntimeDir() = %v, want %v", dir, want)
	}
	if !FileExists(dir) {
		t.Error("GetRuntimeDir() should create the directory")
	}
}

func TestWrapError(t *testing.T) {
	wrapped := WrapError(ErrEngineLaunchFailed, "additional context")

	if wrapped == nil {
		t.Fatal("WrapError should return non-nil error")
	}

	if !strings.Contains(wrapped.Error(), "additional context") {
		t.Error("WrapError should include additional context")
	}

	if !errors.Is(wrapped, ErrEngineLaunchFailed) {
		t.Error("WrapError should keep the wrapped error reachable with errors.Is")
	}

	if WrapError(nil, "context") != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestLogRotation(t *testing.T) {
	tempDir := t.TempDir()
	logFile := filepath.Join(tempDir, "test.log")

	largeContent := strings.Repeat("x", 1024*1024) // 1MB
	if err := os.WriteFile(logFile, []byte(largeContent), 0600); err != nil {
		t.Fatal(err)
	}

	logger := &AppLogger{
		level:       LevelInfo,
		maxFileSize: 512 * 1024,
		maxBackups:  2,
	}

	logger.rotateIfNeeded(logFile)

	info, err := os.Stat(logFile)
	if err == nil && info.Size() > 0 {
		t.Error("Original log file should be removed or empty after rotation")
	}

	matches, _ := filepath.Glob(filepath.Join(tempDir, "test.log.*"))
	if len(matches) == 0 {
		t.Error("Backup file should be created after rotation")
	}
}

func TestCheckRotation_ReopensLogFile(t *testing.T) {
	dir := t.TempDir()
	logger := &AppLogger{
		level:       LevelInfo,
		logDir:      dir,
		maxFileSize: 64,
		maxBackups:  2,
	}
	logger.logger = newTestLogger(&bytes.Buffer{})

	if err := logger.EnableFileLogging(); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}
	defer logger.Close()

	logger.Info(strings.Repeat("x", 128))
	logger.CheckRotation()

	matches, _ := filepath.Glob(filepath.Join(dir, LogFileName+".*"))
	if len(matches) != 1 {
		t.Fatalf("backups = %v, want one", matches)
	}

	logger.Info("after rotation")
	logger.Close()

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "after rotation") || strings.Contains(string(data), "xxxx") {
		t.Errorf("log file after rotation = %q", string(data))
	}
}

func TestCheckRotation_SmallFileUntouched(t *testing.T) {
	dir := t.TempDir()
	logger := &AppLogger{
		level:       LevelInfo,
		logDir:      dir,
		maxFileSize: defaultMaxFileSize,
		maxBackups:  2,
	}
	logger.logger = newTestLogger(&bytes.Buffer{})

	if err := logger.EnableFileLogging(); err != nil {
		t.Fatalf("EnableFileLogging() error = %v", err)
	}
	defer logger.Close()

	logger.Info("small")
	logger.CheckRotation()

	if matches, _ := filepath.Glob(filepath.Join(dir, LogFileName+".*")); len(matches) != 0 {
		t.Errorf("unexpected backups %v", matches)
	}
}

func TestWatchRotation_StopsOnCancel(t *testing.T) {
	logger := &AppLogger{level: LevelInfo, maxFileSize: defaultMaxFileSize}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- logger.WatchRotation(ctx, time.Millisecond) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WatchRotation() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchRotation() did not return after cancel")
	}
}

// Helper to create a test logger
func newTestLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(buf, "", 0)
}

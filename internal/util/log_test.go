package util

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"WARNING", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLoggerFormats(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			logger = nil
			if err := InitLogger("debug", format, ""); err != nil {
				t.Fatalf("InitLogger() error = %v", err)
			}
			if logger == nil {
				t.Fatal("logger should be set after InitLogger")
			}

			Debug("debug")
			Debugf("debug %s", "f")
			Info("info")
			Infof("info %s", "f")
			Warn("warn")
			Warnf("warn %s", "f")
			Error("error")
			Errorf("error %s", "f")
		})
	}
}

func TestInitLoggerWithFile(t *testing.T) {
	logger = nil
	logFile := filepath.Join(t.TempDir(), "analytics.log")

	if err := InitLogger("info", "console", logFile); err != nil {
		t.Fatalf("InitLogger() error = %v", err)
	}
	Infof("session recorded for %s", "GABC")
	Sync()

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("log file should exist")
	}
}

func TestInitLoggerInvalidFile(t *testing.T) {
	logger = nil
	if err := InitLogger("info", "console", "/nonexistent/path/analytics.log"); err == nil {
		t.Error("InitLogger() should fail for an unwritable path")
	}
}

func TestLogDefaultsWhenUninitialized(t *testing.T) {
	logger = nil
	if Log() == nil {
		t.Fatal("Log() should return a logger even when not initialized")
	}
	if Log() != logger {
		t.Error("Log() should cache the default logger")
	}
}

func TestNamed(t *testing.T) {
	logger = nil
	_ = InitLogger("info", "console", "")

	l := Named("engine")
	if l == nil {
		t.Fatal("Named() returned nil")
	}
	l.Infow("named logger", "component", "engine")
}

func BenchmarkInfof(b *testing.B) {
	logger = nil
	_ = InitLogger("info", "console", "")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Infof("benchmark %s %d", "message", i)
	}
}

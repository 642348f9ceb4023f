package logger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	. "stagerun/pkg/logger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagerun.log")
	l, err := New(Config{Level: "debug", Encoding: "json", OutputPath: path, Service: "test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("staged", zap.String("task", "t1"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"message":"staged"`, `"task":"t1"`, `"service":"test"`} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %s", line, want)
		}
	}
}

func TestInit_ReplacesGlobal(t *testing.T) {
	l, err := Init(DefaultConfig("stagerun"))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Get() != l {
		t.Error("Get did not return the logger installed by Init")
	}
}

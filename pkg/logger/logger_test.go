package logger

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"igcrawler/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{
			name:    "info level",
			cfg:     &config.LoggingConfig{Level: "info"},
			wantErr: false,
		},
		{
			name:    "debug level without color",
			cfg:     &config.LoggingConfig{Level: "debug", NoColor: true},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			cfg:     &config.LoggingConfig{Level: "loud"},
			wantErr: true,
		},
		{
			name:    "json format",
			cfg:     &config.LoggingConfig{Level: "warn", Format: "json"},
			wantErr: false,
		},
		{
			name:    "file output",
			cfg:     &config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "crawl.log")},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && l == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{"info", zerolog.InfoLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"fatal", zerolog.FatalLevel, false},
		{"off", zerolog.Disabled, false},
		{"disabled", zerolog.Disabled, false},
		{"invalid", zerolog.InfoLevel, true},
		{"", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel() = %v, want %v", level, tt.expected)
			}
		})
	}
}

func newBufferLogger(t *testing.T) (Logger, *bytes.Buffer) {
	t.Helper()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l, err := NewWithWriter(&buf, "debug")
	if err != nil {
		t.Fatalf("NewWithWriter() error = %v", err)
	}
	return l, &buf
}

func TestLoggerMethods(t *testing.T) {
	l, buf := newBufferLogger(t)

	cases := map[string]func(string){
		"debug message": l.Debug,
		"info message":  l.Info,
		"warn message":  l.Warn,
		"error message": l.Error,
	}
	for msg, fn := range cases {
		t.Run(msg, func(t *testing.T) {
			buf.Reset()
			fn(msg)
			if !strings.Contains(buf.String(), msg) {
				t.Errorf("%q not found in output %q", msg, buf.String())
			}
			if !strings.Contains(buf.String(), `"app":"igcrawler"`) {
				t.Error("app field missing")
			}
		})
	}
}

func TestFieldChaining(t *testing.T) {
	l, buf := newBufferLogger(t)

	l.WithField("component", "proxy_pool").
		WithField("run_id", "r-1").
		WithFields(map[string]interface{}{
			"pool_size": 3,
			"direct":    false,
		}).
		Info("pool ready")

	output := buf.String()
	for _, want := range []string{`"component":"proxy_pool"`, `"run_id":"r-1"`, `"pool_size":3`, `"direct":false`} {
		if !strings.Contains(output, want) {
			t.Errorf("%s not found in output %q", want, output)
		}
	}
}

func TestChildLoggersDoNotShareFields(t *testing.T) {
	l, buf := newBufferLogger(t)

	parent := l.WithField("component", "crawler")
	_ = parent.WithField("identifier", "alice")
	parent.Info("parent only")

	if strings.Contains(buf.String(), "alice") {
		t.Error("child field leaked into parent logger")
	}
}

func TestWithError(t *testing.T) {
	l, buf := newBufferLogger(t)

	if l.WithError(nil) != l {
		t.Error("WithError(nil) should return the same logger")
	}

	l.WithError(errors.New("connection reset")).Error("fetch failed")
	if !strings.Contains(buf.String(), "connection reset") {
		t.Error("error text not found in output")
	}
}

func TestStructuredFieldTypes(t *testing.T) {
	l, buf := newBufferLogger(t)

	l.InfoWithFields("flush", map[string]interface{}{
		"processed": 10,
		"elapsed":   2 * time.Second,
		"at":        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"ids":       []string{"a", "b"},
		"rate":      0.5,
		"custom":    struct{ Name string }{Name: "x"},
	})

	output := buf.String()
	if !strings.Contains(output, `"processed":10`) {
		t.Errorf("processed field missing: %q", output)
	}
	if !strings.Contains(output, `"ids":["a","b"]`) {
		t.Errorf("ids field missing: %q", output)
	}
}

func TestGlobalLogger(t *testing.T) {
	if err := Initialize(&config.LoggingConfig{Level: "debug", NoColor: true}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger() == nil {
		t.Fatal("GetLogger() returned nil")
	}

	Debug("debug message")
	Info("info message")
	WithField("key", "value").Info("with field")
	WithError(errors.New("boom")).Error("with error")
}

func TestTestLoggerCapturesScopedFields(t *testing.T) {
	tl := NewTestLogger()
	child := tl.WithField("component", "retry").WithError(errors.New("boom"))
	child.WarnWithFields("retrying", map[string]interface{}{"attempt": 2})
	tl.Info("plain")

	msgs := tl.GetMessages()
	if len(msgs) != 2 {
		t.Fatalf("captured %d messages, want 2", len(msgs))
	}
	if msgs[0].Fields["component"] != "retry" || msgs[0].Fields["attempt"] != 2 {
		t.Errorf("unexpected fields %v", msgs[0].Fields)
	}
	if msgs[0].Error == nil {
		t.Error("error was not captured")
	}
	if tl.CountMessage("retrying") != 1 || !tl.HasMessage("plain") {
		t.Error("message lookup failed")
	}
	if len(tl.GetMessagesByLevel("WARN")) != 1 {
		t.Error("level filter failed")
	}
}

func TestConsoleWriterHidesStaticFields(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l := build(consoleWriter(&buf, true), zerolog.DebugLevel)
	l.WithField("run_id", "r-9").Info("crawl started")

	out := buf.String()
	if !strings.Contains(out, "crawl started") || !strings.Contains(out, "run_id=r-9") {
		t.Errorf("unexpected console output %q", out)
	}
	if strings.Contains(out, "version=") || strings.Contains(out, "app=") {
		t.Errorf("static fields should be hidden: %q", out)
	}
}

package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Component: ComponentBackup, Handler: slog.NewTextHandler(&buf, nil)})

	logger.Info("backup created", FieldBackupPath, "/b/incomes.db")

	out := buf.String()
	if !strings.Contains(out, "component=backup") {
		t.Errorf("expected component field, got %q", out)
	}
	if !strings.Contains(out, "backup_path=/b/incomes.db") {
		t.Errorf("expected backup_path field, got %q", out)
	}
}

func TestWithComponentReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Component: ComponentApp, Handler: slog.NewTextHandler(&buf, nil)})

	logger.With(FieldUserID, 7).WithComponent(ComponentIncome).Info("record created")

	out := buf.String()
	if n := strings.Count(out, "component="); n != 1 {
		t.Fatalf("expected exactly one component attribute, got %d in %q", n, out)
	}
	if !strings.Contains(out, "component=income") || !strings.Contains(out, "user_id=7") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	logger := FromContext(context.Background())
	if logger == nil || logger.Logger == nil {
		t.Fatal("expected a usable default logger")
	}
	if logger.Component() != "" {
		t.Errorf("Component() = %q, want empty", logger.Component())
	}
}

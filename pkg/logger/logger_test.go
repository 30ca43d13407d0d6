package logger_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	pcontext "github.com/projbuild/projbuild/pkg/context"
	"github.com/projbuild/projbuild/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		visible  []string
		filtered []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}, nil},
		{"info", []string{"INFO", "WARN", "ERROR"}, []string{"DEBUG"}},
		{"warn", []string{"WARN", "ERROR"}, []string{"DEBUG", "INFO"}},
		{"error", []string{"ERROR"}, []string{"DEBUG", "INFO", "WARN"}},
		{"bogus", []string{"INFO"}, []string{"DEBUG"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.CreateLoggerWithOutput(tt.level, &buf)

			log.Debug("message")
			log.Info("message")
			log.Warn("message")
			log.Error("message")

			output := buf.String()
			for _, lvl := range tt.visible {
				if !strings.Contains(output, lvl+":") {
					t.Errorf("expected %s entry at level %s, got %q", lvl, tt.level, output)
				}
			}
			for _, lvl := range tt.filtered {
				if strings.Contains(output, lvl+":") {
					t.Errorf("did not expect %s entry at level %s", lvl, tt.level)
				}
			}
		})
	}
}

func TestLogger_WithProject(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.WithProject("libs/core/core.proj").Info("building project")

	output := buf.String()
	if !strings.Contains(output, "[libs/core/core.proj] building project") {
		t.Errorf("expected project prefix in log output, got %q", output)
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Success("build completed")

	if !strings.Contains(buf.String(), "✅ build completed") {
		t.Error("expected success message in log output")
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("info", &buf)

	log.Info("test message",
		logger.WithField("zeta", 1),
		logger.WithField("alpha", "a"),
		logger.WithError(errors.New("boom")),
	)

	output := buf.String()
	if !strings.Contains(output, "{alpha=a, error=boom, zeta=1}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_MultipleProjects(t *testing.T) {
	var buf bytes.Buffer
	baseLog := logger.CreateLoggerWithOutput("info", &buf)

	app := baseLog.WithProject("app.proj")
	lib := baseLog.WithProject("lib.proj")

	app.Info("app message")
	lib.Info("lib message")

	output := buf.String()
	if !strings.Contains(output, "[app.proj] app message") {
		t.Error("expected app project in output")
	}
	if !strings.Contains(output, "[lib.proj] lib message") {
		t.Error("expected lib project in output")
	}
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("info", &buf)

	ctx := pcontext.WithRunID(context.Background(), "run_test")
	ctx = pcontext.WithOperation(ctx, "build")

	logger.WithContext(ctx, base).WithProject("a.proj").Info("traced")

	output := buf.String()
	if !strings.Contains(output, "run_id=run_test") {
		t.Errorf("expected run_id field, got %q", output)
	}
	if !strings.Contains(output, "operation=build") {
		t.Errorf("expected operation field, got %q", output)
	}
	if !strings.Contains(output, "[a.proj]") {
		t.Errorf("expected project prefix, got %q", output)
	}
}

func TestLogger_WithContextEveryLevel(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("debug", &buf)
	log := logger.WithContext(pcontext.WithRunID(context.Background(), "run_levels"), base)

	emit := map[string]func(string, ...logger.Field){
		"debug message":   log.Debug,
		"info message":    log.Info,
		"warn message":    log.Warn,
		"error message":   log.Error,
		"success message": log.Success,
	}
	for msg, fn := range emit {
		fn(msg, logger.WithField("extra", "kept"))
	}

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "run_id=run_levels") || !strings.Contains(line, "extra=kept") {
			t.Errorf("expected tracing and call fields on %q", line)
		}
	}
	for msg := range emit {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("missing %q in output", msg)
		}
	}
}

func TestLogger_ContextWithoutTracing(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("info", &buf)

	logger.WithContext(context.Background(), base).Info("plain")

	if strings.Contains(buf.String(), "run_id") {
		t.Error("did not expect run_id without a run in context")
	}
}

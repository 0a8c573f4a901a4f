package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup_LevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := Setup(Options{Level: "warn", NoColors: true, Output: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if l.GetLevel() != logrus.WarnLevel {
		t.Errorf("level: got %v, want warn", l.GetLevel())
	}

	Info(Fields{"patient": "p0"}, "hidden")
	Warn(Fields{"patient": "p1"}, "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "p1") {
		t.Errorf("warn entry missing from output: %q", out)
	}
}

func TestSetup_EnvLevel(t *testing.T) {
	t.Setenv(EnvLevel, "debug")
	var buf bytes.Buffer
	if _, err := Setup(Options{Output: &buf, NoColors: true}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !IsDebug() {
		t.Error("debug level from environment was not applied")
	}
	Debug(nil, "debug entry")
	if !strings.Contains(buf.String(), "debug entry") {
		t.Error("debug entry missing from output")
	}
}

func TestSetup_InvalidLevel(t *testing.T) {
	if _, err := Setup(Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestSetup_File(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "run.log")
	if _, err := Setup(Options{Level: "info", File: file, Output: &buf, NoColors: true}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Error(Fields{"err": "boom"}, "written twice")
	if !strings.Contains(buf.String(), "written twice") {
		t.Error("entry missing from primary output")
	}
}

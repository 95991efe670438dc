// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	l := New(cfg).WithComponent("nftadapter")

	l.Info("rule applied", "group_id", 7, "rule_id", 42)

	out := buf.String()
	if !strings.Contains(out, "nftadapter:") {
		t.Errorf("expected component tag in output, got %q", out)
	}
	if !strings.Contains(out, "rule applied") {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "group_id=7") {
		t.Errorf("expected key=value field in output, got %q", out)
	}
}

func TestLoggerSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	cfg.Level = LevelInfo
	l := New(cfg)

	l.Debug("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected debug to be filtered at info level, got %q", buf.String())
	}

	l.SetLevel(LevelDebug)
	l.Debug("should appear")
	if buf.Len() == 0 {
		t.Error("expected debug line after SetLevel(LevelDebug)")
	}
}

func TestWithFieldsAndWithError(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	l := New(cfg)

	l = l.WithFields(map[string]any{"table": "phantom"})
	l.WithError(nil).Info("noop")

	out := buf.String()
	if !strings.Contains(out, "table=phantom") {
		t.Errorf("expected bound field in output, got %q", out)
	}
}

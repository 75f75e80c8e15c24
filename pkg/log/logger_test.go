// Tests for the plotdrive structured logger
//
// Copyright (C) 2026  Plotdrive Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test")
	l.SetWriter(&buf)
	l.SetLevel(WARN)

	l.Debug("should not appear")
	l.Info("should not appear")
	l.Warn("warning message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("log output contains filtered messages: %q", out)
	}
	if !strings.Contains(out, "warning message") || !strings.Contains(out, "error message") {
		t.Errorf("log output missing expected messages: %q", out)
	}
}

func TestTextFormatFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("planner")
	l.SetWriter(&buf)
	l.SetLevel(DEBUG)

	l.WithFields(Fields{"dist": 1.25, "case": 3}).Debug("segment compiled")

	out := buf.String()
	for _, want := range []string{"[planner]", "segment compiled", "dist=1.25", "case=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q: %q", want, out)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("feed")
	l.SetWriter(&buf)
	l.SetFormat(FormatJSON)

	l.WithField("cmds", 42).Info("feed complete")

	var entry jsonLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", buf.String(), err)
	}
	if entry.Level != "INFO" {
		t.Errorf("entry.Level = %q, want INFO", entry.Level)
	}
	if entry.Component != "feed" {
		t.Errorf("entry.Component = %q, want feed", entry.Component)
	}
	if entry.Message != "feed complete" {
		t.Errorf("entry.Message = %q, want %q", entry.Message, "feed complete")
	}
	if v, ok := entry.Fields["cmds"]; !ok || v != float64(42) {
		t.Errorf("entry.Fields[cmds] = %v, want 42", v)
	}
}

func TestWithPrefixInheritsSettings(t *testing.T) {
	var buf bytes.Buffer
	parent := New("parent")
	parent.SetWriter(&buf)
	parent.SetLevel(DEBUG)

	child := parent.WithPrefix("child")
	child.Debug("from child")

	if !strings.Contains(buf.String(), "[child]") {
		t.Errorf("child output missing prefix: %q", buf.String())
	}
}

func TestConfigureRetunesExistingLoggers(t *testing.T) {
	child := GetLogger("retune")

	var buf bytes.Buffer
	Configure(DEBUG, &buf)
	defer Configure(INFO, nil)

	child.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("Configure did not retune child logger, output %q", buf.String())
	}
}

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("dropped")
	l.Info("dropped too")
	l.Warn("kept")
	l.Error("kept as well")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("below-threshold lines leaked: %q", out)
	}
	if !strings.Contains(out, "WARN kept") || !strings.Contains(out, "ERROR kept as well") {
		t.Fatalf("expected warn and error lines, got %q", out)
	}
}

func TestWithScopesEveryLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug).With("collection", "messages_case1")

	l.Info("index rebuilt", "rows", 42)

	line := buf.String()
	if !strings.Contains(line, "collection=messages_case1") {
		t.Fatalf("scoped field missing: %q", line)
	}
	if !strings.Contains(line, "rows=42") {
		t.Fatalf("call-site field missing: %q", line)
	}
}

func TestWithTaskStampsTaskID(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug).WithTask("t-123")

	l.Info("stage complete", "stage", "encoding")

	line := buf.String()
	if !strings.Contains(line, "task_id=t-123") {
		t.Fatalf("task id missing: %q", line)
	}
	if !strings.Contains(line, "stage=encoding") {
		t.Fatalf("stage field missing: %q", line)
	}
}

func TestDerivedLoggerDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, LevelDebug)
	_ = parent.WithTask("t-1")

	parent.Info("no scope here")
	if strings.Contains(buf.String(), "task_id") {
		t.Fatalf("parent logger picked up the child's scope: %q", buf.String())
	}
}

func TestValuesWithSpacesAreQuoted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Warn("snapshot corrupt", "reason", "gob decode failed", "empty", "")

	line := buf.String()
	if !strings.Contains(line, `reason="gob decode failed"`) {
		t.Fatalf("multi-word value not quoted: %q", line)
	}
	if !strings.Contains(line, `empty=""`) {
		t.Fatalf("empty value not visible: %q", line)
	}
}

func TestTrailingKeyWithoutValueIsVisible(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.Info("odd keyvals", "orphan")

	if !strings.Contains(buf.String(), "orphan=(missing)") {
		t.Fatalf("orphan key dropped: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopDiscardsAndChains(t *testing.T) {
	l := Nop().WithTask("t-1").With("k", "v")
	l.Error("goes nowhere")
}

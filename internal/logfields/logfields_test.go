package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"Build", Build("release"), KeyBuild, "release"},
		{"Task", Task("compile"), KeyTask, "compile"},
		{"RunID", RunID("r1"), KeyRunID, "r1"},
		{"Strategy", Strategy("kahn"), KeyStrategy, "kahn"},
		{"Status", Status("running"), KeyStatus, "running"},
		{"Handle", Handle("h1"), KeyHandle, "h1"},
		{"Worker", Worker("w1"), KeyWorker, "w1"},
		{"ScheduleID", ScheduleID("s1"), KeyScheduleID, "s1"},
		{"Path", Path("/tmp/defs.yaml"), KeyPath, "/tmp/defs.yaml"},
	}
	for _, c := range cases {
		if c.attr.Key != c.wantKey {
			t.Fatalf("%s: key = %q, want %q", c.name, c.attr.Key, c.wantKey)
		}
		if got := c.attr.Value.String(); got != c.wantVal {
			t.Fatalf("%s: value = %q, want %q", c.name, got, c.wantVal)
		}
	}
}

func TestNumericAndErrorHelpers(t *testing.T) {
	if a := Layer(2); a.Key != KeyLayer || a.Value.Int64() != 2 {
		t.Fatalf("unexpected layer attr: %v", a)
	}
	if a := Attempt(3); a.Value.Int64() != 3 {
		t.Fatalf("unexpected attempt attr: %v", a)
	}
	if a := Duration(1500 * time.Microsecond); a.Value.Float64() != 1.5 {
		t.Fatalf("unexpected duration attr: %v", a)
	}
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("nil error should be empty, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Value.String() != "boom" {
		t.Fatalf("unexpected error attr: %v", a)
	}
}

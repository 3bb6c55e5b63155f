package stdout

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/variables"
)

func compile(t *testing.T, a *Adapter, templates ...ops.Template) *ops.Plan {
	t.Helper()
	bindings, err := ops.NewBindings(map[string]string{
		"id":   "Mod(100)",
		"user": "Mod(3); Format(user-%d)",
	})
	if err != nil {
		t.Fatalf("NewBindings() error = %v", err)
	}
	plan, err := ops.Compile(templates, bindings, a, ops.SequenceConcat)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return plan
}

func runCycles(t *testing.T, plan *ops.Plan, n int64, vars variables.Store) {
	t.Helper()
	for cycle := int64(0); cycle < n; cycle++ {
		op := plan.Select(cycle).Dispenser.Dispense(cycle)
		if _, err := op.Run(context.Background(), vars); err != nil {
			t.Fatalf("Run(%d) error = %v", cycle, err)
		}
	}
}

func TestWritesRenderedLines(t *testing.T) {
	var out bytes.Buffer
	a := New(Options{Stdout: &out})
	plan := compile(t, a, ops.Template{Name: "line", Ratio: 1, Fields: map[string]any{"statement": "{user} wrote {id}"}})
	runCycles(t, plan, 3, variables.NewStore())
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := "user-0 wrote 0\nuser-1 wrote 1\nuser-2 wrote 2\n"
	if out.String() != want {
		t.Fatalf("output = %q, want %q", out.String(), want)
	}
}

func TestFieldsFormats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"", "id=7,user=user-1\n"},
		{"csv", "7,user-1\n"},
		{"json", `{"id":"7","user":"user-1"}` + "\n"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		a := New(Options{Stdout: &out, Format: tt.format})
		plan := compile(t, a, ops.Template{Name: "f", Ratio: 1, Fields: map[string]any{"fields": []any{"id", "user"}, "json": tt.format == "json"}})
		op := plan.Select(7).Dispenser.Dispense(7)
		if _, err := op.Run(context.Background(), nil); err != nil {
			t.Fatalf("%s: Run() error = %v", tt.format, err)
		}
		_ = a.Close()
		if out.String() != tt.want {
			t.Errorf("%s: output = %q, want %q", tt.format, out.String(), tt.want)
		}
	}
	if _, err := Format("xml", []string{"a"}); err == nil {
		t.Errorf("expected error for unknown format")
	}
}

func TestCapturesFeedLaterOps(t *testing.T) {
	var out bytes.Buffer
	a := New(Options{Stdout: &out})
	plan := compile(t, a,
		ops.Template{Name: "create", Ratio: 1, Fields: map[string]any{
			"stmt":    `{"token":"tok-{id}"}`,
			"json":    true,
			"capture": "token=$.token",
		}},
		ops.Template{Name: "use", Ratio: 1, Fields: map[string]any{"stmt": "using {{token}} and {{missing|none}}"}},
	)
	vars := variables.NewStore()
	runCycles(t, plan, 2, vars)
	_ = a.Close()
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[1] != "using tok-0 and none" {
		t.Fatalf("lines = %q", lines)
	}
}

func TestInvalidJSONIsNamed(t *testing.T) {
	a := New(Options{Stdout: &bytes.Buffer{}})
	plan := compile(t, a, ops.Template{Name: "bad", Ratio: 1, Fields: map[string]any{"stmt": "not json {id}", "json": true}})
	_, err := plan.Select(0).Dispenser.Dispense(0).Run(context.Background(), nil)
	var invalid *InvalidJSONError
	if !errors.As(err, &invalid) || a.ErrorName(err) != "InvalidJSON" {
		t.Fatalf("Run() error = %v, want InvalidJSONError", err)
	}
}

func TestWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	a := New(Options{Output: path})
	plan := compile(t, a, ops.Template{Name: "f", Ratio: 1, Fields: map[string]any{"stmt": "{id}", "newline": false}})
	runCycles(t, plan, 3, nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "012" {
		t.Fatalf("file = %q, want 012", data)
	}
}

func TestMappingErrors(t *testing.T) {
	bad := []map[string]any{
		{},
		{"stmt": "a", "raw": "b"},
		{"stmt": "a", "capture": "oops"},
		{"fields": 3},
	}
	for _, fields := range bad {
		_, err := ops.Compile([]ops.Template{{Name: "bad", Ratio: 1, Fields: fields}}, nil, New(Options{Stdout: &bytes.Buffer{}}), ops.SequenceBucket)
		if err == nil {
			t.Errorf("Compile(%v) expected error", fields)
		}
	}
}

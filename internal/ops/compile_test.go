package ops_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/variables"
)

type echoOp struct {
	cycle int64
	text  string
}

func (o echoOp) Run(context.Context, variables.Store) (int, error) { return 0, nil }

type countingMapper struct {
	maps atomic.Int64
}

func (m *countingMapper) Map(p *ops.ParsedOp) (ops.Dispenser, error) {
	m.maps.Add(1)
	if err := p.Required("text"); err != nil {
		return nil, err
	}
	text, _ := p.StringFunc("text")
	return ops.DispenserFunc(func(cycle int64) ops.Op {
		return echoOp{cycle: cycle, text: text(cycle)}
	}), nil
}

type testAdapter struct {
	mapper    *countingMapper
	remappers []ops.Remapper
}

func (a *testAdapter) Name() string { return "test" }
func (a *testAdapter) Mapper() ops.OpMapper { return a.mapper }
func (a *testAdapter) Close() error { return nil }
func (a *testAdapter) Remappers() []ops.Remapper { return a.remappers }

func newTestAdapter() *testAdapter { return &testAdapter{mapper: &countingMapper{}} }

func TestCompileMapsOnceAndDispensesPerCycle(t *testing.T) {
	bindings, err := ops.NewBindings(map[string]string{"key": "Mod(1000); Format(k%03d)"})
	if err != nil {
		t.Fatalf("NewBindings() error = %v", err)
	}
	adapter := newTestAdapter()
	plan, err := ops.Compile([]ops.Template{
		{Name: "write", Ratio: 1, Fields: map[string]any{"text": "put {key}"}},
		{Name: "read", Ratio: 1, Fields: map[string]any{"text": "get {key}"}},
	}, bindings, adapter, ops.SequenceBucket)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	seen := make(map[string]bool)
	for cycle := int64(0); cycle < 1000; cycle++ {
		op := plan.Select(cycle).Dispenser.Dispense(cycle).(echoOp)
		if op.cycle != cycle {
			t.Fatalf("op for cycle %d carries cycle %d", cycle, op.cycle)
		}
		seen[op.text] = true
	}
	if got := adapter.mapper.maps.Load(); got != 2 {
		t.Fatalf("mapper ran %d times, want 2", got)
	}
	if len(seen) != 1000 {
		t.Fatalf("dispensed %d distinct ops, want 1000", len(seen))
	}
	if plan.Select(0).Name != "write" || plan.Select(1).Name != "read" {
		t.Fatalf("unexpected order %s %s", plan.Select(0).Name, plan.Select(1).Name)
	}
}

func TestCompileRunsRemappersOncePerTemplate(t *testing.T) {
	var calls int
	adapter := newTestAdapter()
	adapter.remappers = []ops.Remapper{
		func(fields map[string]any) (map[string]any, error) {
			calls++
			if v, ok := fields["stmt"]; ok {
				fields["text"] = v
				delete(fields, "stmt")
			}
			return fields, nil
		},
	}
	original := map[string]any{"stmt": "hello"}
	_, err := ops.Compile([]ops.Template{{Name: "a", Ratio: 3, Fields: original}}, nil, adapter, ops.SequenceConcat)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("remapper ran %d times, want 1", calls)
	}
	if _, ok := original["stmt"]; !ok {
		t.Fatalf("remapper mutated the template's own fields")
	}
}

func TestCompileErrorsNameTheTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template ops.Template
		want     string
	}{
		{"missing field", ops.Template{Name: "nofield", Ratio: 1, Fields: map[string]any{}}, "missing required"},
		{"unknown binding", ops.Template{Name: "badref", Ratio: 1, Fields: map[string]any{"text": "{ghost}"}}, "unknown binding"},
		{"unconsumed", ops.Template{Name: "extra", Ratio: 1, Fields: map[string]any{"text": "x", "txet": "y"}}, "txet"},
		{"negative ratio", ops.Template{Name: "neg", Ratio: -1}, "negative ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ops.Compile([]ops.Template{tt.template}, nil, newTestAdapter(), ops.SequenceBucket)
			var cfgErr *ops.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Compile() error = %v, want *ConfigError", err)
			}
			if cfgErr.Template != tt.template.Name {
				t.Errorf("error names %q, want %q", cfgErr.Template, tt.template.Name)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	if _, err := ops.Compile([]ops.Template{{Name: "off", Ratio: 0}}, nil, newTestAdapter(), ops.SequenceBucket); err == nil {
		t.Fatalf("expected error when every template is excluded")
	}
}

func TestSequencers(t *testing.T) {
	templates := []ops.Template{
		{Name: "a", Ratio: 3, Fields: map[string]any{"text": "a"}},
		{Name: "b", Ratio: 1, Fields: map[string]any{"text": "b"}},
	}
	tests := []struct {
		kind ops.SequencerType
		want string
	}{
		{ops.SequenceBucket, "abaa"},
		{ops.SequenceConcat, "aaab"},
		{ops.SequenceInterval, "abaa"},
	}
	for _, tt := range tests {
		plan, err := ops.Compile(templates, nil, newTestAdapter(), tt.kind)
		if err != nil {
			t.Fatalf("Compile(%s) error = %v", tt.kind, err)
		}
		var sb strings.Builder
		for c := int64(0); c < int64(plan.Len()); c++ {
			sb.WriteString(plan.Select(c).Name)
		}
		if sb.String() != tt.want {
			t.Errorf("%s sequence = %q, want %q", tt.kind, sb.String(), tt.want)
		}
		if plan.Select(int64(plan.Len())).Name != plan.Select(0).Name {
			t.Errorf("%s sequence does not wrap", tt.kind)
		}
	}

	if _, err := ops.ParseSequencerType("zigzag"); err == nil {
		t.Errorf("expected error for unknown sequencer")
	}
}

func TestTagFilter(t *testing.T) {
	templates := []ops.Template{
		{Name: "schema", Tags: map[string]string{"phase": "schema"}},
		{Name: "write", Tags: map[string]string{"phase": "main", "kind": "write"}},
		{Name: "read", Tags: map[string]string{"phase": "main", "kind": "read"}},
	}
	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"schema", "write", "read"}},
		{"phase:main", []string{"write", "read"}},
		{"phase:main,kind:w.*", []string{"write"}},
		{"kind", []string{"write", "read"}},
		{"name:read", []string{"read"}},
		{"phase:mai", nil},
	}
	for _, tt := range tests {
		f, err := ops.ParseTagFilter(tt.filter)
		if err != nil {
			t.Fatalf("ParseTagFilter(%q) error = %v", tt.filter, err)
		}
		var got []string
		for _, tpl := range f.Filter(templates) {
			got = append(got, tpl.Name)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("filter %q = %v, want %v", tt.filter, got, tt.want)
		}
	}
	if _, err := ops.ParseTagFilter("k:("); err == nil {
		t.Errorf("expected error for invalid regex")
	}
}

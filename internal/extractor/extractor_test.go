package extractor

import (
	"testing"

	"github.com/torosent/cyclebench/internal/variables"
)

// mockLogger is a test logger that captures warnings
type mockLogger struct {
	warnings []string
}

func (m *mockLogger) Warn(format string, args ...interface{}) {
	m.warnings = append(m.warnings, format)
}

func TestExtractAll(t *testing.T) {
	body := []byte(`{"user": {"id": 123, "profile": {"name": "Alice"}}, "items": [{"id": 1}, {"id": 2}]}`)
	tests := []struct {
		name string
		ex   Extractor
		want string
	}{
		{"simple path", Extractor{JSONPath: "user.id", Variable: "v"}, "123"},
		{"dollar prefix", Extractor{JSONPath: "$.user.profile.name", Variable: "v"}, "Alice"},
		{"array index", Extractor{JSONPath: "items.1.id", Variable: "v"}, "2"},
		{"root", Extractor{JSONPath: "$", Variable: "v"}, `{"user": {"id": 123, "profile": {"name": "Alice"}}, "items": [{"id": 1}, {"id": 2}]}`},
		{"regex group", Extractor{Regex: `"name": "(\w+)"`, Variable: "v"}, "Alice"},
		{"regex full match", Extractor{Regex: `\d{3}`, Variable: "v"}, "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAll(body, []Extractor{tt.ex}, nil)
			if got["v"] != tt.want {
				t.Errorf("got %q, want %q", got["v"], tt.want)
			}
		})
	}
}

func TestExtractMissesLogWarnings(t *testing.T) {
	logger := &mockLogger{}
	got := ExtractAll([]byte(`{"a": 1}`), []Extractor{
		{JSONPath: "b", Variable: "b"},
		{Regex: `zzz`, Variable: "z"},
		{Regex: `(`, Variable: "bad"},
	}, logger)
	if got["b"] != "" || got["z"] != "" || got["bad"] != "" {
		t.Errorf("expected empty values, got %v", got)
	}
	if len(logger.warnings) != 3 {
		t.Errorf("expected 3 warnings, got %d", len(logger.warnings))
	}
}

func TestParse(t *testing.T) {
	exs, err := Parse(`id=$.user.id, code=/code-(\d+),x/ , name=user.name`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(exs) != 3 {
		t.Fatalf("got %d extractors, want 3: %+v", len(exs), exs)
	}
	if exs[0].Variable != "id" || exs[0].JSONPath != "$.user.id" {
		t.Errorf("first = %+v", exs[0])
	}
	if exs[1].Variable != "code" || exs[1].re == nil || exs[1].Regex != `code-(\d+),x` {
		t.Errorf("second = %+v", exs[1])
	}
	if exs[2].Variable != "name" || exs[2].JSONPath != "user.name" {
		t.Errorf("third = %+v", exs[2])
	}

	for _, bad := range []string{"noequals", "=path", "x=/(/"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) expected error", bad)
		}
	}
	if exs, err := Parse("  "); err != nil || exs != nil {
		t.Errorf("Parse(blank) = %v, %v", exs, err)
	}
}

func TestCaptureStoresIntoVariables(t *testing.T) {
	exs, err := Parse("token=$.token, seq=/seq=(\\d+)/")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	store := variables.NewStore()
	Capture([]byte(`{"token": "abc", "note": "seq=9"}`), exs, store, nil)
	if v, _ := store.Get("token"); v != "abc" {
		t.Errorf("token = %q", v)
	}
	if v, _ := store.Get("seq"); v != "9" {
		t.Errorf("seq = %q", v)
	}
}

func TestGJSONPath(t *testing.T) {
	tests := map[string]string{
		"user.id":   "user.id",
		"$":         "@this",
		"$.user.id": "user.id",
		"$[1].id":   "1.id",
		"$[0]":      "0",
	}
	for in, want := range tests {
		if got := gjsonPath(in); got != want {
			t.Errorf("gjsonPath(%q) = %q, want %q", in, got, want)
		}
	}
	if got := ExtractAll([]byte(`[{"id": 7}, {"id": 9}]`), []Extractor{{JSONPath: "$[1].id", Variable: "v"}}, nil); got["v"] != "9" {
		t.Errorf("$[1].id = %q, want 9", got["v"])
	}
}

package ops

import (
	"testing"
	"time"
)

func testBindings(t *testing.T) *Bindings {
	t.Helper()
	b, err := NewBindings(map[string]string{
		"bucket": "Mod(4)",
		"name":   "Format(n%d)",
	})
	if err != nil {
		t.Fatalf("NewBindings() error = %v", err)
	}
	return b
}

func TestParsedOpAccessors(t *testing.T) {
	p, err := newParsedOp("t1", map[string]any{
		"stmt":    "select {name} from t where b={bucket} and v={{token}}",
		"bucket":  "{bucket}",
		"limit":   25,
		"enabled": "true",
		"sleep":   "15ms",
		"raw":     `{"json": true}`,
	}, nil, testBindings(t))
	if err != nil {
		t.Fatalf("newParsedOp() error = %v", err)
	}

	if !p.Has("stmt") || p.Has("nothing") {
		t.Fatalf("Has() wrong")
	}
	if p.IsStatic("stmt") || !p.IsStatic("limit") || !p.IsStatic("raw") {
		t.Fatalf("IsStatic() wrong")
	}

	stmt, ok := p.StringFunc("stmt")
	if !ok {
		t.Fatalf("StringFunc(stmt) not found")
	}
	if got := stmt(6); got != "select n6 from t where b=2 and v={{token}}" {
		t.Errorf("stmt(6) = %q", got)
	}

	bucket, _, err := p.LongFunc("bucket")
	if err != nil || bucket(7) != 3 {
		t.Errorf("LongFunc(bucket) = %p, %v", bucket, err)
	}
	if limit, err := p.StaticInt("limit", 0); err != nil || limit != 25 {
		t.Errorf("StaticInt(limit) = %d, %v", limit, err)
	}
	if on, err := p.StaticBool("enabled", false); err != nil || !on {
		t.Errorf("StaticBool(enabled) = %v, %v", on, err)
	}
	if d, err := p.StaticDuration("sleep", 0); err != nil || d != 15*time.Millisecond {
		t.Errorf("StaticDuration(sleep) = %v, %v", d, err)
	}
	if s, err := p.StaticString("missing", "dflt"); err != nil || s != "dflt" {
		t.Errorf("StaticString(missing) = %q, %v", s, err)
	}

	if extra := p.Unconsumed(); len(extra) != 1 || extra[0] != "raw" {
		t.Errorf("Unconsumed() = %v, want [raw]", extra)
	}
}

func TestParsedOpErrors(t *testing.T) {
	if _, err := newParsedOp("t", map[string]any{"x": "{nope}"}, nil, testBindings(t)); err == nil {
		t.Fatalf("expected unknown binding error")
	}

	p, err := newParsedOp("t", map[string]any{
		"dyn":   "v{bucket}",
		"words": "hello",
	}, nil, testBindings(t))
	if err != nil {
		t.Fatalf("newParsedOp() error = %v", err)
	}
	if _, err := p.StaticString("dyn", ""); err == nil {
		t.Errorf("StaticString on a dynamic field should fail")
	}
	if _, _, err := p.LongFunc("dyn"); err == nil {
		t.Errorf("LongFunc on a composite template should fail")
	}
	if _, err := p.StaticInt("words", 0); err == nil {
		t.Errorf("StaticInt on text should fail")
	}
	if err := p.Required("words", "absent"); err == nil {
		t.Errorf("Required should report the missing field")
	}
}

package adapters

import (
	"testing"

	"github.com/torosent/cyclebench/internal/ops"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"diag", "STDOUT", ""} {
		a, err := New(name, Options{})
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		if _, ok := a.(ops.FieldRemapping); !ok {
			t.Errorf("%s adapter should remap fields", a.Name())
		}
		if _, ok := a.(ops.ErrorNamer); !ok {
			t.Errorf("%s adapter should name errors", a.Name())
		}
		_ = a.Close()
	}
	if _, err := New("cassandra", Options{}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

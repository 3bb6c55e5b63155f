package feeder

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestCSVFeederIndexesByCycle(t *testing.T) {
	path := writeFile(t, "users.csv", `user_id,email,name
1,alice@example.com,Alice
2,bob@example.com,Bob
3,charlie@example.com,Charlie`)

	f, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer f.Close()

	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3", f.Len())
	}
	if got := f.At(0)["name"]; got != "Alice" {
		t.Errorf("At(0) name = %q", got)
	}
	if got := f.At(4)["name"]; got != "Bob" {
		t.Errorf("At(4) name = %q, want wrap-around to Bob", got)
	}

	email, err := f.Column("email")
	if err != nil {
		t.Fatalf("Column(email) error = %v", err)
	}
	if got := email(5); got != "charlie@example.com" {
		t.Errorf("email(5) = %q", got)
	}
	if _, err := f.Column("phone"); err == nil {
		t.Errorf("expected error for unknown column")
	}
}

func TestJSONFeeder(t *testing.T) {
	path := writeFile(t, "items.json", `[
  {"sku": "A-1", "price": 10.5, "tags": ["x"]},
  {"sku": "B-2", "price": 3}
]`)

	f, err := NewJSONFeeder(path)
	if err != nil {
		t.Fatalf("NewJSONFeeder() error = %v", err)
	}
	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.Len())
	}
	rec := f.At(0)
	if rec["sku"] != "A-1" || rec["price"] != "10.5" || rec["tags"] != `["x"]` {
		t.Errorf("At(0) = %v", rec)
	}
	if f.At(3)["sku"] != "B-2" {
		t.Errorf("At(3) = %v", f.At(3))
	}
}

func TestFeederConcurrentLookups(t *testing.T) {
	path := writeFile(t, "data.csv", "n\n0\n1\n2\n3\n")
	f, err := NewCSVFeeder(path)
	if err != nil {
		t.Fatalf("NewCSVFeeder() error = %v", err)
	}
	col, err := f.Column("n")
	if err != nil {
		t.Fatalf("Column() error = %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for c := int64(w); c < 1000; c += 8 {
				want := string(rune('0' + c%4))
				if got := col(c); got != want {
					t.Errorf("col(%d) = %q, want %q", c, got, want)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}

func TestFeederErrors(t *testing.T) {
	if _, err := NewCSVFeeder(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Errorf("expected error for missing file")
	}
	if _, err := NewCSVFeeder(writeFile(t, "empty.csv", "a,b\n")); !errors.Is(err, ErrEmpty) {
		t.Errorf("header-only CSV error = %v, want ErrEmpty", err)
	}
	if _, err := NewJSONFeeder(writeFile(t, "bad.json", `{"not": "array"}`)); err == nil {
		t.Errorf("expected error for non-array JSON")
	}
	if _, err := NewJSONFeeder(writeFile(t, "invalid.json", `[{"a":`)); err == nil {
		t.Errorf("expected error for invalid JSON")
	}
	if _, err := NewJSONFeeder(writeFile(t, "empty.json", `[]`)); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty array error = %v, want ErrEmpty", err)
	}
	if _, err := Load("data.xml", ""); err == nil {
		t.Errorf("expected error for unsupported type")
	}
}

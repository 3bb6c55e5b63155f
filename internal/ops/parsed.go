package ops

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParsedOp is the mapping-time view of one template. String fields that
// reference bindings with {name} are compiled into functions of the
// cycle. {{var}} references are left in place for ops to expand from the
// worker's variables at run time.
//
// Every accessor marks the field consumed. Fields nobody reads fail the
// compile, which catches misspelled field names.
type ParsedOp struct {
	name     string
	fields   map[string]*field
	tags     map[string]string
	consumed map[string]bool
}

type field struct {
	value any
	// str is set for strings that reference at least one binding.
	str func(int64) string
	// long is set when the string is exactly one numeric binding.
	long func(int64) int64
}

func (f *field) dynamic() bool { return f.str != nil }

func newParsedOp(name string, fields map[string]any, tags map[string]string, bindings *Bindings) (*ParsedOp, error) {
	p := &ParsedOp{
		name:     name,
		fields:   make(map[string]*field, len(fields)),
		tags:     tags,
		consumed: make(map[string]bool, len(fields)),
	}
	for key, value := range fields {
		f := &field{value: value}
		if s, ok := value.(string); ok {
			str, long, err := compileTemplate(s, bindings)
			if err != nil {
				return nil, errors.Wrapf(err, "field %s", key)
			}
			f.str, f.long = str, long
		}
		p.fields[key] = f
	}
	return p, nil
}

// Name is the template name.
func (p *ParsedOp) Name() string { return p.name }

// Tags returns the template tags.
func (p *ParsedOp) Tags() map[string]string { return p.tags }

// Has reports whether the template defines key. It does not consume it.
func (p *ParsedOp) Has(key string) bool {
	_, ok := p.fields[key]
	return ok
}

// IsStatic reports whether key is defined and does not depend on the
// cycle.
func (p *ParsedOp) IsStatic(key string) bool {
	f, ok := p.fields[key]
	return ok && !f.dynamic()
}

// Required consumes keys and fails when any of them is missing.
func (p *ParsedOp) Required(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if !p.Has(key) {
			missing = append(missing, key)
			continue
		}
		p.consumed[key] = true
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func (p *ParsedOp) take(key string) (*field, bool) {
	f, ok := p.fields[key]
	if ok {
		p.consumed[key] = true
	}
	return f, ok
}

func (p *ParsedOp) static(key string) (*field, bool, error) {
	f, ok := p.take(key)
	if !ok {
		return nil, false, nil
	}
	if f.dynamic() {
		return nil, false, errors.Errorf("field %s must not reference bindings", key)
	}
	return f, true, nil
}

// StaticString returns key as a string, or def when it is not set.
func (p *ParsedOp) StaticString(key, def string) (string, error) {
	f, ok, err := p.static(key)
	if err != nil || !ok {
		return def, err
	}
	switch v := f.value.(type) {
	case string:
		return v, nil
	case nil:
		return def, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// StaticInt returns key as an integer, or def when it is not set.
func (p *ParsedOp) StaticInt(key string, def int64) (int64, error) {
	f, ok, err := p.static(key)
	if err != nil || !ok {
		return def, err
	}
	n, err := toInt64(f.value)
	return n, errors.Wrapf(err, "field %s", key)
}

// StaticBool returns key as a boolean, or def when it is not set.
func (p *ParsedOp) StaticBool(key string, def bool) (bool, error) {
	f, ok, err := p.static(key)
	if err != nil || !ok {
		return def, err
	}
	switch v := f.value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, errors.Wrapf(err, "field %s", key)
	default:
		return def, errors.Errorf("field %s: expected a boolean, got %T", key, f.value)
	}
}

// StaticDuration returns key as a duration. Bare numbers are
// milliseconds.
func (p *ParsedOp) StaticDuration(key string, def time.Duration) (time.Duration, error) {
	f, ok, err := p.static(key)
	if err != nil || !ok {
		return def, err
	}
	if s, isString := f.value.(string); isString {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, nil
		}
	}
	n, err := toInt64(f.value)
	if err != nil {
		return def, errors.Wrapf(err, "field %s", key)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// StringFunc returns key as a function of the cycle. Static values are
// returned for every cycle. ok is false when key is not set.
func (p *ParsedOp) StringFunc(key string) (fn func(int64) string, ok bool) {
	f, ok := p.take(key)
	if !ok {
		return nil, false
	}
	if f.dynamic() {
		return f.str, true
	}
	s := fmt.Sprint(f.value)
	if f.value == nil {
		s = ""
	}
	return func(int64) string { return s }, true
}

// LongFunc returns key as an integer function of the cycle. The field
// must be a static integer or exactly one numeric binding reference such
// as "{bucket}".
func (p *ParsedOp) LongFunc(key string) (func(int64) int64, bool, error) {
	f, ok := p.take(key)
	if !ok {
		return nil, false, nil
	}
	if f.dynamic() {
		if f.long == nil {
			return nil, true, errors.Errorf("field %s is not a single numeric binding", key)
		}
		return f.long, true, nil
	}
	n, err := toInt64(f.value)
	if err != nil {
		return nil, true, errors.Wrapf(err, "field %s", key)
	}
	return func(int64) int64 { return n }, true, nil
}

// Unconsumed lists the fields no accessor has read, sorted.
func (p *ParsedOp) Unconsumed() []string {
	var out []string
	for key := range p.fields {
		if !p.consumed[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, errors.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, errors.WithStack(err)
	default:
		return 0, errors.Errorf("expected an integer, got %T", v)
	}
}

// compileTemplate resolves {name} references in s. It returns nil
// functions when s has no references. long is set when s is exactly one
// reference to a numeric binding.
func compileTemplate(s string, bindings *Bindings) (str func(int64) string, long func(int64) int64, err error) {
	type piece struct {
		lit string
		fn  func(int64) string
	}
	var (
		pieces []piece
		lit    strings.Builder
		refs   []*Binding
	)
	flush := func() {
		if lit.Len() > 0 {
			pieces = append(pieces, piece{lit: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "{{") {
			end := strings.Index(s[i+2:], "}}")
			if end < 0 {
				lit.WriteString(s[i:])
				break
			}
			lit.WriteString(s[i : i+2+end+2])
			i += 2 + end + 2
			continue
		}
		if s[i] == '{' {
			end := strings.IndexByte(s[i+1:], '}')
			if end > 0 && isIdent(s[i+1:i+1+end]) {
				name := s[i+1 : i+1+end]
				b, ok := bindings.Lookup(name)
				if !ok {
					return nil, nil, errors.Errorf("unknown binding %q", name)
				}
				flush()
				pieces = append(pieces, piece{fn: b.String})
				refs = append(refs, b)
				i += end + 2
				continue
			}
		}
		lit.WriteByte(s[i])
		i++
	}
	flush()

	if len(refs) == 0 {
		return nil, nil, nil
	}
	if len(pieces) == 1 {
		return pieces[0].fn, refs[0].Long, nil
	}
	return func(cycle int64) string {
		var sb strings.Builder
		for _, p := range pieces {
			if p.fn != nil {
				sb.WriteString(p.fn(cycle))
			} else {
				sb.WriteString(p.lit)
			}
		}
		return sb.String()
	}, nil, nil
}

func isIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return s != ""
}

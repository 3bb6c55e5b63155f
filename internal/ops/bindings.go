package ops

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/feeder"
)

// CycleBinding is the name that always resolves to the cycle itself.
const CycleBinding = "cycle"

// Binding is a compiled function of the cycle. Long is nil once the
// pipeline has produced a string.
type Binding struct {
	Name   string
	Long   func(cycle int64) int64
	String func(cycle int64) string
}

// Bindings is a named set of compiled cycle functions.
type Bindings struct {
	defs    map[string]*Binding
	feeders map[string]feeder.Feeder
}

// BindingOption configures NewBindings.
type BindingOption func(*Bindings)

// WithFeeder makes a feeder available to the Feed stage under name.
func WithFeeder(name string, f feeder.Feeder) BindingOption {
	return func(b *Bindings) { b.feeders[name] = f }
}

// NewBindings compiles every definition. A definition is a pipeline of
// stages separated by semicolons, for example "Mod(10); Add(3);
// Format(user-%04d)".
func NewBindings(defs map[string]string, opts ...BindingOption) (*Bindings, error) {
	b := &Bindings{
		defs:    make(map[string]*Binding, len(defs)+1),
		feeders: make(map[string]feeder.Feeder),
	}
	for _, opt := range opts {
		opt(b)
	}
	identity := func(c int64) int64 { return c }
	b.defs[CycleBinding] = &Binding{Name: CycleBinding, Long: identity, String: formatLong(identity)}

	for name, def := range defs {
		if name == CycleBinding {
			return nil, errors.Errorf("binding name %q is reserved", CycleBinding)
		}
		binding, err := b.compile(name, def)
		if err != nil {
			return nil, errors.Wrapf(err, "binding %s", name)
		}
		b.defs[name] = binding
	}
	return b, nil
}

// Lookup returns the binding called name.
func (b *Bindings) Lookup(name string) (*Binding, bool) {
	if b == nil {
		return nil, false
	}
	binding, ok := b.defs[name]
	return binding, ok
}

// Names lists the defined bindings in sorted order.
func (b *Bindings) Names() []string {
	names := make([]string, 0, len(b.defs))
	for name := range b.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type stage struct {
	name string
	args []string
}

func parseStages(def string) ([]stage, error) {
	var stages []stage
	for _, raw := range strings.Split(def, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, rest, hasArgs := strings.Cut(raw, "(")
		name = strings.TrimSpace(name)
		st := stage{name: name}
		if hasArgs {
			if !strings.HasSuffix(rest, ")") {
				return nil, errors.Errorf("stage %q is missing a closing parenthesis", raw)
			}
			inner := strings.TrimSuffix(rest, ")")
			switch {
			case strings.TrimSpace(inner) == "":
			case name == "Format":
				st.args = []string{inner}
			default:
				for _, a := range strings.Split(inner, ",") {
					st.args = append(st.args, strings.TrimSpace(a))
				}
			}
		}
		if name == "" {
			return nil, errors.Errorf("stage %q has no name", raw)
		}
		stages = append(stages, st)
	}
	if len(stages) == 0 {
		return nil, errors.New("empty pipeline")
	}
	return stages, nil
}

func (b *Bindings) compile(name, def string) (*Binding, error) {
	stages, err := parseStages(def)
	if err != nil {
		return nil, err
	}

	long := func(c int64) int64 { return c }
	var str func(int64) string

	for _, st := range stages {
		if fn, ok, err := numericStage(st); err != nil {
			return nil, err
		} else if ok {
			if str != nil {
				return nil, errors.Errorf("stage %s needs a numeric input", st.name)
			}
			prev := long
			long = func(c int64) int64 { return fn(prev(c)) }
			continue
		}

		switch st.name {
		case "ToString":
			if err := wantArgs(st, 0); err != nil {
				return nil, err
			}
			if str == nil {
				str = formatLong(long)
			}
		case "Format":
			if err := wantArgs(st, 1); err != nil {
				return nil, err
			}
			pattern := st.args[0]
			if str == nil {
				prev := long
				str = func(c int64) string { return fmt.Sprintf(pattern, prev(c)) }
			} else {
				prev := str
				str = func(c int64) string { return fmt.Sprintf(pattern, prev(c)) }
			}
		case "ULID":
			if str != nil {
				return nil, errors.New("stage ULID needs a numeric input")
			}
			prev := long
			str = func(c int64) string { return cycleULID(prev(c)) }
		case "UUID":
			if str != nil {
				return nil, errors.New("stage UUID needs a numeric input")
			}
			prev := long
			str = func(c int64) string { return cycleUUID(prev(c)) }
		case "Feed":
			if str != nil {
				return nil, errors.New("stage Feed needs a numeric input")
			}
			if err := wantArgs(st, 2); err != nil {
				return nil, err
			}
			f, ok := b.feeders[st.args[0]]
			if !ok {
				return nil, errors.Errorf("unknown feeder %q", st.args[0])
			}
			column, err := f.Column(st.args[1])
			if err != nil {
				return nil, errors.Wrapf(err, "feeder %s", st.args[0])
			}
			prev := long
			str = func(c int64) string { return column(prev(c)) }
		default:
			return nil, errors.Errorf("unknown stage %q", st.name)
		}
	}

	if str == nil {
		return &Binding{Name: name, Long: long, String: formatLong(long)}, nil
	}
	return &Binding{Name: name, String: str}, nil
}

// numericStage returns the int64 function for a numeric stage, or
// ok=false when st is not one.
func numericStage(st stage) (fn func(int64) int64, ok bool, err error) {
	switch st.name {
	case "Identity":
		return func(v int64) int64 { return v }, true, wantArgs(st, 0)
	case "Hash":
		return hashLong, true, wantArgs(st, 0)
	case "Add", "Mul", "Div", "Mod":
		n, err := longArgs(st, 1)
		if err != nil {
			return nil, true, err
		}
		k := n[0]
		switch st.name {
		case "Add":
			return func(v int64) int64 { return v + k }, true, nil
		case "Mul":
			return func(v int64) int64 { return v * k }, true, nil
		case "Div":
			if k == 0 {
				return nil, true, errors.New("Div(0)")
			}
			return func(v int64) int64 { return v / k }, true, nil
		default:
			if k <= 0 {
				return nil, true, errors.Errorf("Mod(%d) needs a positive modulus", k)
			}
			return func(v int64) int64 { return floorMod(v, k) }, true, nil
		}
	case "Range":
		n, err := longArgs(st, 2)
		if err != nil {
			return nil, true, err
		}
		lo, hi := n[0], n[1]
		if hi <= lo {
			return nil, true, errors.Errorf("Range(%d,%d) is empty", lo, hi)
		}
		width := hi - lo
		return func(v int64) int64 { return lo + floorMod(v, width) }, true, nil
	}
	return nil, false, nil
}

func wantArgs(st stage, n int) error {
	if len(st.args) != n {
		return errors.Errorf("stage %s takes %d argument(s), got %d", st.name, n, len(st.args))
	}
	return nil
}

func longArgs(st stage, n int) ([]int64, error) {
	if err := wantArgs(st, n); err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i, a := range st.args {
		v, err := strconv.ParseInt(strings.ReplaceAll(a, "_", ""), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %s argument %q", st.name, a)
		}
		out[i] = v
	}
	return out, nil
}

func floorMod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

func formatLong(fn func(int64) int64) func(int64) string {
	return func(c int64) string { return strconv.FormatInt(fn(c), 10) }
}

func cycleBytes(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

func hashLong(v int64) int64 {
	return int64(xxhash.Sum64(cycleBytes(v)) & math.MaxInt64)
}

// cycleULID derives a ULID from v alone so the same cycle always yields
// the same id.
func cycleULID(v int64) string {
	var id ulid.ULID
	_ = id.SetTime(uint64(v) % (ulid.MaxTime() + 1))
	entropy := make([]byte, 10)
	binary.BigEndian.PutUint64(entropy, xxhash.Sum64(cycleBytes(v)))
	binary.BigEndian.PutUint16(entropy[8:], uint16(v))
	_ = id.SetEntropy(entropy)
	return id.String()
}

func cycleUUID(v int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, cycleBytes(v)).String()
}

package ops

import (
	"maps"
	"strconv"
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// CompiledOp is a mapped template ready to dispense ops.
type CompiledOp struct {
	Index     int
	Name      string
	Ratio     int
	Tags      map[string]string
	Dispenser Dispenser
}

// Plan is the compiled, sequenced set of ops for an activity.
type Plan struct {
	ops []*CompiledOp
	seq []*CompiledOp
}

// Compile maps every template exactly once and lays the results out by
// ratio. Templates with a zero ratio are skipped. Errors name the
// offending template.
func Compile(templates []Template, bindings *Bindings, adapter Adapter, kind SequencerType) (*Plan, error) {
	if adapter == nil {
		return nil, &ConfigError{Err: errors.New("no adapter")}
	}
	if bindings == nil {
		var err error
		if bindings, err = NewBindings(nil); err != nil {
			return nil, &ConfigError{Err: err}
		}
	}
	var remappers []Remapper
	if fr, ok := adapter.(FieldRemapping); ok {
		remappers = fr.Remappers()
	}
	mapper := adapter.Mapper()

	plan := &Plan{}
	var ratios []int
	for i, t := range templates {
		name := t.Name
		if name == "" {
			name = "op" + strconv.Itoa(i)
		}
		ratio := t.Ratio
		if ratio < 0 {
			return nil, &ConfigError{Template: name, Err: errors.Errorf("negative ratio %d", ratio)}
		}
		if ratio == 0 {
			continue
		}

		fields := maps.Clone(t.Fields)
		if fields == nil {
			fields = map[string]any{}
		}
		for _, remap := range remappers {
			var err error
			if fields, err = remap(fields); err != nil {
				return nil, &ConfigError{Template: name, Err: errors.Wrap(err, "remapping fields")}
			}
		}

		t.Name = name
		parsed, err := newParsedOp(name, fields, t.tagsWithName(), bindings)
		if err != nil {
			return nil, &ConfigError{Template: name, Err: err}
		}
		dispenser, err := mapper.Map(parsed)
		if err != nil {
			return nil, &ConfigError{Template: name, Err: err}
		}
		if dispenser == nil {
			return nil, &ConfigError{Template: name, Err: errors.Errorf("%s adapter cannot map this template", adapter.Name())}
		}
		if extra := parsed.Unconsumed(); len(extra) > 0 {
			return nil, &ConfigError{Template: name, Err: errors.Errorf("unrecognized field(s): %s", strings.Join(extra, ", "))}
		}

		plan.ops = append(plan.ops, &CompiledOp{
			Index:     len(plan.ops),
			Name:      name,
			Ratio:     ratio,
			Tags:      parsed.Tags(),
			Dispenser: dispenser,
		})
		ratios = append(ratios, ratio)
	}
	if len(plan.ops) == 0 {
		return nil, &ConfigError{Err: errors.New("no op templates to run")}
	}

	for _, idx := range sequence(kind, ratios) {
		plan.seq = append(plan.seq, plan.ops[idx])
	}

	grip.Debug(message.Fields{
		"message":   "compiled op plan",
		"adapter":   adapter.Name(),
		"ops":       len(plan.ops),
		"sequence":  len(plan.seq),
		"sequencer": string(kind),
	})
	return plan, nil
}

// Select returns the compiled op for cycle.
func (p *Plan) Select(cycle int64) *CompiledOp {
	return p.seq[cycle%int64(len(p.seq))]
}

// Len is the length of one pass through the sequence.
func (p *Plan) Len() int { return len(p.seq) }

// Ops returns the compiled ops in template order.
func (p *Plan) Ops() []*CompiledOp { return p.ops }

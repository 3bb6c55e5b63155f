package config

import (
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/torosent/cyclebench/internal/ops"
)

// Workload is the parsed workload file:
//
//	bindings:
//	  key: Mod(1000); Format(k%04d)
//	feeders:
//	  users: {path: users.csv, type: csv}
//	tags:
//	  phase: main
//	ops:
//	  - name: write
//	    ratio: 3
//	    stmt: "put {key}"
//	  - name: read
//	    stmt: "get {key}"
//
// ops may also be a map from op name to a statement string or to the
// op's fields.
type Workload struct {
	Bindings map[string]string
	Feeders  map[string]FeederConfig
	Tags     map[string]string
	Ops      []OpTemplate
}

type FeederConfig struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"` // "csv" or "json"
}

type OpTemplate struct {
	Name   string
	Ratio  int
	Tags   map[string]string
	Fields map[string]any
}

type rawWorkload struct {
	Bindings map[string]string       `yaml:"bindings"`
	Feeders  map[string]FeederConfig `yaml:"feeders"`
	Tags     map[string]string       `yaml:"tags"`
	Ops      yaml.Node               `yaml:"ops"`
}

// LoadWorkload reads a workload file. Relative feeder paths resolve
// against the workload's directory.
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading workload")
	}
	w, err := ParseWorkload(data)
	if err != nil {
		return nil, errors.Wrapf(err, "workload %s", path)
	}
	dir := filepath.Dir(path)
	for name, f := range w.Feeders {
		if f.Path != "" && !filepath.IsAbs(f.Path) {
			f.Path = filepath.Join(dir, f.Path)
			w.Feeders[name] = f
		}
	}
	return w, nil
}

// ParseWorkload decodes workload YAML.
func ParseWorkload(data []byte) (*Workload, error) {
	var raw rawWorkload
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing workload yaml")
	}
	w := &Workload{
		Bindings: raw.Bindings,
		Feeders:  raw.Feeders,
		Tags:     raw.Tags,
	}
	var err error
	switch raw.Ops.Kind {
	case 0:
		return nil, errors.New("workload has no ops")
	case yaml.SequenceNode:
		w.Ops, err = decodeOpList(&raw.Ops)
	case yaml.MappingNode:
		w.Ops, err = decodeOpMap(&raw.Ops)
	default:
		return nil, errors.Errorf("ops must be a list or a map (line %d)", raw.Ops.Line)
	}
	if err != nil {
		return nil, err
	}
	if len(w.Ops) == 0 {
		return nil, errors.New("workload has no ops")
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func decodeOpList(node *yaml.Node) ([]OpTemplate, error) {
	out := make([]OpTemplate, 0, len(node.Content))
	for idx, item := range node.Content {
		op, err := decodeOp("", item)
		if err != nil {
			return nil, errors.Wrapf(err, "ops[%d]", idx)
		}
		out = append(out, op)
	}
	return out, nil
}

func decodeOpMap(node *yaml.Node) ([]OpTemplate, error) {
	out := make([]OpTemplate, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		op, err := decodeOp(name, node.Content[i+1])
		if err != nil {
			return nil, errors.Wrapf(err, "ops.%s", name)
		}
		out = append(out, op)
	}
	return out, nil
}

func decodeOp(name string, node *yaml.Node) (OpTemplate, error) {
	op := OpTemplate{Name: name, Ratio: 1}
	if node.Kind == yaml.ScalarNode {
		op.Fields = map[string]any{"stmt": node.Value}
		return op, nil
	}
	if node.Kind != yaml.MappingNode {
		return OpTemplate{}, errors.Errorf("line %d: op must be a statement or a map", node.Line)
	}
	var fields map[string]any
	if err := node.Decode(&fields); err != nil {
		return OpTemplate{}, errors.WithStack(err)
	}

	if raw, ok := fields["name"]; ok {
		s, _ := asString(raw)
		if op.Name != "" && s != op.Name {
			return OpTemplate{}, errors.Errorf("name %q conflicts with map key %q", s, op.Name)
		}
		op.Name = strings.TrimSpace(s)
		delete(fields, "name")
	}
	if raw, ok := fields["ratio"]; ok {
		ratio, err := asInt(raw)
		if err != nil {
			return OpTemplate{}, errors.Wrap(err, "ratio")
		}
		op.Ratio = ratio
		delete(fields, "ratio")
	}
	if raw, ok := fields["tags"]; ok {
		tags, err := toStringKeyMap(raw)
		if err != nil {
			return OpTemplate{}, errors.Wrap(err, "tags")
		}
		op.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			op.Tags[k], _ = asString(v)
		}
		delete(fields, "tags")
	}
	op.Fields = fields
	return op, nil
}

func (w *Workload) validate() error {
	var issues []string
	seen := map[string]bool{}
	for idx, op := range w.Ops {
		if op.Ratio < 0 {
			issues = append(issues, "ops["+op.label(idx)+"]: ratio must be >= 0")
		}
		if op.Name == "" {
			continue
		}
		if seen[op.Name] {
			issues = append(issues, "ops["+op.label(idx)+"]: duplicate name")
		}
		seen[op.Name] = true
	}
	names := make([]string, 0, len(w.Feeders))
	for name := range w.Feeders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := w.Feeders[name]
		if strings.TrimSpace(f.Path) == "" {
			issues = append(issues, "feeders."+name+": path is required")
		}
		switch strings.ToLower(f.Type) {
		case "", "csv", "json":
		default:
			issues = append(issues, "feeders."+name+": type must be 'csv' or 'json', got "+f.Type)
		}
	}
	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (o OpTemplate) label(idx int) string {
	if o.Name != "" {
		return o.Name
	}
	return strconv.Itoa(idx)
}

// Templates converts the ops to compile templates. Workload level tags
// apply to every op that does not set them itself.
func (w *Workload) Templates() []ops.Template {
	out := make([]ops.Template, 0, len(w.Ops))
	for _, op := range w.Ops {
		tags := maps.Clone(w.Tags)
		if tags == nil {
			tags = map[string]string{}
		}
		maps.Copy(tags, op.Tags)
		out = append(out, ops.Template{
			Name:   op.Name,
			Ratio:  op.Ratio,
			Fields: maps.Clone(op.Fields),
			Tags:   tags,
		})
	}
	return out
}

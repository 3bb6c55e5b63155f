// Package stdout is a driver that renders each op as a line of text and
// writes it to standard output or a file.
//
// Template fields:
//
//	stmt      text to render; {binding} and {{var}} references are expanded
//	newline   append a newline when the text lacks one (default true)
//	filename  output target, "stdout" or a path (default from the adapter)
//	json      reject rendered text that is not valid JSON
//	capture   values to keep for later ops, as in "id=$.id, n=/n=(\d+)/"
//
// Templates without stmt may list fields to print instead; see Format.
package stdout

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/torosent/cyclebench/internal/extractor"
	"github.com/torosent/cyclebench/internal/ops"
	"github.com/torosent/cyclebench/internal/pool"
	"github.com/torosent/cyclebench/internal/variables"
)

// Name is the driver name.
const Name = "stdout"

// Target names standard output.
const Target = "stdout"

// InvalidJSONError is returned when json validation is on and the
// rendered text is not JSON.
type InvalidJSONError struct {
	Cycle int64
}

func (e *InvalidJSONError) Error() string     { return "rendered op is not valid JSON" }
func (e *InvalidJSONError) ErrorName() string { return "InvalidJSON" }

// Options configures the adapter.
type Options struct {
	// Output is the default filename for templates that do not set one.
	Output string
	// Format is used to build a statement for templates that only list
	// fields: "assignments" (a=1,b=2), "json" or "csv".
	Format string
	// Stdout replaces os.Stdout, mostly for tests.
	Stdout io.Writer
}

// Adapter is the stdout driver.
type Adapter struct {
	opts   Options
	spaces *pool.Cache[*writer]
}

// New returns a stdout adapter.
func New(opts Options) *Adapter {
	if opts.Output == "" {
		opts.Output = Target
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	a := &Adapter{opts: opts}
	a.spaces = pool.NewCache(a.openWriter)
	return a
}

func (a *Adapter) Name() string         { return Name }
func (a *Adapter) Mapper() ops.OpMapper { return mapper{a} }
func (a *Adapter) Close() error         { return a.spaces.Close() }

// ErrorName names errors raised by stdout ops.
func (a *Adapter) ErrorName(err error) string {
	var invalid *InvalidJSONError
	if errors.As(err, &invalid) {
		return invalid.ErrorName()
	}
	return ""
}

// Remappers accepts "statement" and "raw" as names for stmt and builds
// stmt from a "fields" list when none is given.
func (a *Adapter) Remappers() []ops.Remapper {
	return []ops.Remapper{renameStatement, a.formatFields}
}

func renameStatement(fields map[string]any) (map[string]any, error) {
	for _, alias := range []string{"statement", "raw"} {
		v, ok := fields[alias]
		if !ok {
			continue
		}
		if _, exists := fields["stmt"]; exists {
			return nil, errors.Errorf("both stmt and %s are set", alias)
		}
		fields["stmt"] = v
		delete(fields, alias)
	}
	return fields, nil
}

func (a *Adapter) formatFields(fields map[string]any) (map[string]any, error) {
	raw, ok := fields["fields"]
	if !ok {
		return fields, nil
	}
	if _, exists := fields["stmt"]; exists {
		return nil, errors.New("both stmt and fields are set")
	}
	var names []string
	switch v := raw.(type) {
	case string:
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	case []any:
		for _, n := range v {
			names = append(names, strings.TrimSpace(fmt.Sprint(n)))
		}
	default:
		return nil, errors.Errorf("fields must be a list, got %T", raw)
	}
	if len(names) == 0 {
		return nil, errors.New("fields is empty")
	}
	stmt, err := Format(a.opts.Format, names)
	if err != nil {
		return nil, err
	}
	delete(fields, "fields")
	fields["stmt"] = stmt
	return fields, nil
}

// Format builds a statement that prints the named bindings.
func Format(format string, names []string) (string, error) {
	refs := make([]string, len(names))
	for i, n := range names {
		refs[i] = "{" + n + "}"
	}
	switch strings.ToLower(format) {
	case "", "assignments":
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = n + "=" + refs[i]
		}
		return strings.Join(parts, ","), nil
	case "csv":
		return strings.Join(refs, ","), nil
	case "json":
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = `"` + n + `":"` + refs[i] + `"`
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	}
	return "", errors.Errorf("unknown format %q (want assignments, csv or json)", format)
}

// SortedNames returns binding names for a generated statement, without
// the built-in cycle binding.
func SortedNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != ops.CycleBinding {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// writer is one output target shared by every op that writes to it.
type writer struct {
	name string
	mu   sync.Mutex
	buf  *bufio.Writer
	file *os.File
}

func (w *writer) write(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.buf.WriteString(line)
	return errors.Wrapf(err, "writing to %s", w.name)
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	catcher := grip.NewBasicCatcher()
	catcher.Wrapf(w.buf.Flush(), "flushing %s", w.name)
	if w.file != nil {
		catcher.Wrapf(w.file.Close(), "closing %s", w.name)
	}
	return catcher.Resolve()
}

func (a *Adapter) openWriter(name string) (*writer, error) {
	if name == Target {
		return &writer{name: name, buf: bufio.NewWriter(a.opts.Stdout)}, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening output %s", name)
	}
	grip.Debug(message.Fields{"message": "opened stdout target", "file": name})
	return &writer{name: name, buf: bufio.NewWriter(f), file: f}, nil
}

type mapper struct{ a *Adapter }

func (m mapper) Map(p *ops.ParsedOp) (ops.Dispenser, error) {
	if err := p.Required("stmt"); err != nil {
		return nil, err
	}
	stmt, _ := p.StringFunc("stmt")
	newline, err := p.StaticBool("newline", true)
	if err != nil {
		return nil, err
	}
	validate, err := p.StaticBool("json", false)
	if err != nil {
		return nil, err
	}
	filename, err := p.StaticString("filename", m.a.opts.Output)
	if err != nil {
		return nil, err
	}
	captureSpec, err := p.StaticString("capture", "")
	if err != nil {
		return nil, err
	}
	captures, err := extractor.Parse(captureSpec)
	if err != nil {
		return nil, err
	}
	out, err := m.a.spaces.Get(filename)
	if err != nil {
		return nil, err
	}

	return ops.DispenserFunc(func(cycle int64) ops.Op {
		return &stdoutOp{
			cycle:    cycle,
			text:     stmt(cycle),
			newline:  newline,
			validate: validate,
			captures: captures,
			out:      out,
		}
	}), nil
}

type stdoutOp struct {
	cycle    int64
	text     string
	newline  bool
	validate bool
	captures []extractor.Extractor
	out      *writer
}

func (o *stdoutOp) Run(ctx context.Context, vars variables.Store) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.WithStack(err)
	}
	text := variables.Expand(o.text, vars)
	if o.validate && !gjson.Valid(text) {
		return 0, &InvalidJSONError{Cycle: o.cycle}
	}
	if len(o.captures) > 0 {
		extractor.Capture([]byte(text), o.captures, vars, extractor.GripLogger{})
	}
	if o.newline && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := o.out.write(text); err != nil {
		return 0, err
	}
	return 0, nil
}

// Package faults classifies op errors and decides what a worker does with
// them.
//
// A router is configured from a spec such as
//
//	"Timeout.*:retry,warn;Invalid.*:count,code=3;stop"
//
// Entries are separated by semicolons. Each entry has optional comma
// separated name patterns (default ".*") and a list of handlers. The first
// entry whose pattern matches the error name wins.
package faults

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// DefaultSpec stops the activity on the first error.
const DefaultSpec = "stop"

// DefaultErrorCode is the result code recorded for an error no handler
// overrides.
const DefaultErrorCode = 127

// Detail is the verdict for one error.
type Detail struct {
	Name       string
	Retryable  bool
	Fatal      bool
	ResultCode int
	// Counted is false when a handler declared the error a success.
	Counted bool
}

// Namer maps an error to the name patterns match against.
type Namer func(error) string

// Option configures Parse.
type Option func(*Router)

// WithNamer overrides how errors are named.
func WithNamer(n Namer) Option {
	return func(r *Router) {
		if n != nil {
			r.namer = n
		}
	}
}

// WithWarnInterval sets how often the warn handler logs per error name.
func WithWarnInterval(d time.Duration) Option {
	return func(r *Router) { r.warnEvery = d }
}

// Router classifies errors. It is safe for concurrent use.
type Router struct {
	spec      string
	entries   []entry
	namer     Namer
	warnEvery time.Duration

	cache  sync.Map // name -> []handler
	counts sync.Map // name -> *atomic.Int64
	warned sync.Map // name -> *rate.Sometimes
}

type entry struct {
	patterns []*regexp.Regexp
	handlers []handler
}

type handlerKind int

const (
	handleStop handlerKind = iota
	handleWarn
	handleError
	handleIgnore
	handleCount
	handleRetry
	handleCode
	handleSuccess
)

type handler struct {
	kind handlerKind
	code int
}

// Parse builds a router from spec. An empty spec means DefaultSpec.
func Parse(spec string, opts ...Option) (*Router, error) {
	r := &Router{
		spec:      strings.TrimSpace(spec),
		namer:     Name,
		warnEvery: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.spec == "" {
		r.spec = DefaultSpec
	}

	for _, raw := range strings.Split(r.spec, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		e, err := parseEntry(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "error handler entry %q", raw)
		}
		r.entries = append(r.entries, e)
	}
	if len(r.entries) == 0 {
		return nil, errors.Errorf("error handler spec %q has no entries", spec)
	}
	return r, nil
}

func parseEntry(raw string) (entry, error) {
	var e entry
	patterns, handlers := ".*", raw
	if i := strings.LastIndex(raw, ":"); i >= 0 {
		patterns, handlers = raw[:i], raw[i+1:]
	}
	for _, p := range strings.Split(patterns, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			return entry{}, errors.Wrapf(err, "pattern %q", p)
		}
		e.patterns = append(e.patterns, re)
	}
	for _, h := range strings.Split(handlers, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		parsed, err := parseHandler(h)
		if err != nil {
			return entry{}, err
		}
		e.handlers = append(e.handlers, parsed)
	}
	if len(e.handlers) == 0 {
		return entry{}, errors.New("no handlers")
	}
	return e, nil
}

func parseHandler(s string) (handler, error) {
	name, arg, hasArg := strings.Cut(s, "=")
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "stop":
		return handler{kind: handleStop}, nil
	case "warn":
		return handler{kind: handleWarn}, nil
	case "error":
		return handler{kind: handleError}, nil
	case "ignore":
		return handler{kind: handleIgnore}, nil
	case "count", "counter":
		return handler{kind: handleCount}, nil
	case "retry":
		return handler{kind: handleRetry}, nil
	case "success":
		return handler{kind: handleSuccess}, nil
	case "code":
		if !hasArg {
			return handler{}, errors.New("code handler needs a value, as in code=42")
		}
		code, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return handler{}, errors.Wrapf(err, "code handler value %q", arg)
		}
		if code < -128 || code > 127 {
			return handler{}, errors.Errorf("code %d does not fit in a result record", code)
		}
		return handler{kind: handleCode, code: code}, nil
	}
	return handler{}, errors.Errorf("unknown error handler %q", name)
}

// String returns the spec the router was built from.
func (r *Router) String() string { return r.spec }

// Handle classifies err raised by cycle after elapsed service time.
func (r *Router) Handle(err error, cycle int64, elapsed time.Duration) Detail {
	if err == nil {
		return Detail{}
	}
	name := r.namer(err)
	d := Detail{Name: name, ResultCode: DefaultErrorCode, Counted: true}

	handlers := r.handlersFor(name)
	if handlers == nil {
		// Nothing matched: treat it like the default spec.
		d.Fatal = true
	}
	for _, h := range handlers {
		switch h.kind {
		case handleStop:
			d.Fatal = true
			grip.Error(message.WrapError(err, message.Fields{
				"message": "stopping on error",
				"error":   name,
				"cycle":   cycle,
				"elapsed": elapsed.String(),
			}))
		case handleWarn:
			r.throttle(name).Do(func() {
				grip.Warning(message.WrapError(err, message.Fields{
					"message": "op error",
					"error":   name,
					"cycle":   cycle,
				}))
			})
		case handleError:
			grip.Error(message.WrapError(err, message.Fields{
				"message": "op error",
				"error":   name,
				"cycle":   cycle,
			}))
		case handleIgnore:
		case handleCount:
			r.counter(name).Add(1)
		case handleRetry:
			d.Retryable = true
		case handleCode:
			d.ResultCode = h.code
		case handleSuccess:
			d.ResultCode = 0
			d.Counted = false
		}
	}
	return d
}

func (r *Router) handlersFor(name string) []handler {
	if v, ok := r.cache.Load(name); ok {
		return v.([]handler)
	}
	var found []handler
	for _, e := range r.entries {
		if e.matches(name) {
			found = e.handlers
			break
		}
	}
	r.cache.Store(name, found)
	return found
}

func (e entry) matches(name string) bool {
	if len(e.patterns) == 0 {
		return true
	}
	for _, re := range e.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (r *Router) counter(name string) *atomic.Int64 {
	v, _ := r.counts.LoadOrStore(name, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (r *Router) throttle(name string) *rate.Sometimes {
	v, _ := r.warned.LoadOrStore(name, &rate.Sometimes{First: 1, Interval: r.warnEvery})
	return v.(*rate.Sometimes)
}

// Counts returns the totals kept by the count handler, by error name.
func (r *Router) Counts() map[string]int64 {
	out := make(map[string]int64)
	r.counts.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Name is the default namer: the error's own name when it has one,
// otherwise the bare type name of the innermost cause.
func Name(err error) string {
	if err == nil {
		return ""
	}
	if named, ok := err.(interface{ ErrorName() string }); ok {
		return named.ErrorName()
	}
	cause := errors.Cause(err)
	if named, ok := cause.(interface{ ErrorName() string }); ok {
		return named.ErrorName()
	}
	typeName := strings.TrimPrefix(fmt.Sprintf("%T", cause), "*")
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		typeName = typeName[i+1:]
	}
	return typeName
}

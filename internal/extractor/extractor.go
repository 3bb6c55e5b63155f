// Package extractor pulls values out of op output with JSON paths or
// regular expressions so later ops can reference them.
package extractor

import (
	"regexp"
	"strings"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/torosent/cyclebench/internal/variables"
)

// Logger interface for warning output.
type Logger interface {
	Warn(format string, args ...interface{})
}

// GripLogger sends extraction warnings to the grip debug stream. Misses
// are expected in normal runs, so they are not logged at warning level.
type GripLogger struct{}

func (GripLogger) Warn(format string, args ...interface{}) {
	grip.Debug(message.NewFormatted(format, args...))
}

// Extractor defines one capture rule.
type Extractor struct {
	// JSONPath is a JSON path expression (e.g., "$.user.id", "user.id")
	JSONPath string

	// Regex is a regex pattern with optional capture group
	Regex string

	// Variable is the variable name to store the extracted value
	Variable string

	re *regexp.Regexp
}

// Parse reads a capture list such as "id=$.user.id, token=/tok-(\w+)/".
// A value wrapped in slashes is a regular expression; anything else is a
// JSON path. Regular expressions are compiled here, once.
func Parse(spec string) ([]Extractor, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []Extractor
	for _, part := range splitCaptures(spec) {
		name, expr, ok := strings.Cut(part, "=")
		name, expr = strings.TrimSpace(name), strings.TrimSpace(expr)
		if !ok || name == "" || expr == "" {
			return nil, errors.Errorf("capture %q must look like name=path", part)
		}
		ex := Extractor{Variable: name}
		if len(expr) >= 2 && strings.HasPrefix(expr, "/") && strings.HasSuffix(expr, "/") {
			re, err := regexp.Compile(expr[1 : len(expr)-1])
			if err != nil {
				return nil, errors.Wrapf(err, "capture %s", name)
			}
			ex.Regex, ex.re = re.String(), re
		} else {
			ex.JSONPath = expr
		}
		out = append(out, ex)
	}
	return out, nil
}

// splitCaptures splits on commas that are not inside a /regex/.
func splitCaptures(spec string) []string {
	var (
		parts   []string
		start   int
		inRegex bool
	)
	for i := 0; i < len(spec); i++ {
		switch spec[i] {
		case '/':
			if i > 0 && spec[i-1] == '\\' {
				continue
			}
			inRegex = !inRegex
		case ',':
			if !inRegex {
				parts = append(parts, spec[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, spec[start:])
}

// ExtractAll applies all extractors to body and returns extracted
// key-value pairs. Misses are logged and yield empty values.
// The logger parameter can be nil to suppress warnings.
func ExtractAll(body []byte, extractors []Extractor, logger Logger) map[string]string {
	result := make(map[string]string, len(extractors))
	for _, extractor := range extractors {
		result[extractor.Variable] = extractor.extract(body, logger)
	}
	return result
}

// Capture applies extractors to body and stores the results in store.
func Capture(body []byte, extractors []Extractor, store variables.Store, logger Logger) {
	if store == nil {
		return
	}
	for name, value := range ExtractAll(body, extractors, logger) {
		store.Set(name, value)
	}
}

func (e Extractor) extract(body []byte, logger Logger) string {
	if e.JSONPath != "" {
		return lookupJSON(body, e.JSONPath, logger)
	}
	re := e.re
	if re == nil && e.Regex != "" {
		re = compilePattern(e.Regex, logger)
	}
	if re == nil {
		return ""
	}
	return lookupRegex(body, re, logger)
}

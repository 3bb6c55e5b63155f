package extractor

import (
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// gjsonPath rewrites "$", "$.a.b" and "$[0].a" into gjson syntax.
func gjsonPath(path string) string {
	rest, rooted := strings.CutPrefix(path, "$")
	if !rooted {
		return path
	}
	switch {
	case rest == "":
		return "@this"
	case rest[0] == '.':
		return rest[1:]
	case rest[0] == '[':
		// $[2].id becomes 2.id
		if end := strings.IndexByte(rest, ']'); end > 0 {
			return rest[1:end] + rest[end+1:]
		}
	}
	return rest
}

func lookupJSON(body []byte, path string, logger Logger) string {
	res := gjson.GetBytes(body, gjsonPath(path))
	if res.Exists() {
		return res.String()
	}
	if logger != nil {
		logger.Warn("capture path %s matched nothing", path)
	}
	return ""
}

// compiled caches patterns of extractors built without Parse, which
// would otherwise compile once per cycle.
var compiled sync.Map // map[string]*regexp.Regexp

func compilePattern(pattern string, logger Logger) *regexp.Regexp {
	if re, ok := compiled.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		if logger != nil {
			logger.Warn("capture pattern %s does not compile: %v", pattern, err)
		}
		return nil
	}
	actual, _ := compiled.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

// lookupRegex returns the first group of the first match, or the whole
// match when the pattern has no groups.
func lookupRegex(body []byte, re *regexp.Regexp, logger Logger) string {
	m := re.FindSubmatch(body)
	switch {
	case m == nil:
		if logger != nil {
			logger.Warn("capture pattern %s matched nothing", re)
		}
		return ""
	case len(m) > 1:
		return string(m[1])
	default:
		return string(m[0])
	}
}

package ops

import (
	"maps"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Template is one op declared by a workload.
type Template struct {
	Name   string
	Ratio  int
	Fields map[string]any
	Tags   map[string]string
}

// tagsWithName returns the template tags plus the implicit "name" tag.
func (t Template) tagsWithName() map[string]string {
	tags := make(map[string]string, len(t.Tags)+1)
	maps.Copy(tags, t.Tags)
	if _, ok := tags["name"]; !ok {
		tags["name"] = t.Name
	}
	return tags
}

// TagFilter selects templates by tag. Every condition must hold.
type TagFilter struct {
	conds []tagCond
}

type tagCond struct {
	key string
	re  *regexp.Regexp
}

// ParseTagFilter reads "key:regex,key2:regex2". A bare key only requires
// the tag to exist. Regexes match the whole tag value.
func ParseTagFilter(spec string) (TagFilter, error) {
	var f TagFilter
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, expr, hasExpr := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			return TagFilter{}, errors.Errorf("tag condition %q has no key", part)
		}
		cond := tagCond{key: key}
		if hasExpr {
			re, err := regexp.Compile("^(?:" + strings.TrimSpace(expr) + ")$")
			if err != nil {
				return TagFilter{}, errors.Wrapf(err, "tag condition %q", part)
			}
			cond.re = re
		}
		f.conds = append(f.conds, cond)
	}
	return f, nil
}

// Empty reports whether the filter accepts everything.
func (f TagFilter) Empty() bool { return len(f.conds) == 0 }

// Matches reports whether tags satisfy every condition.
func (f TagFilter) Matches(tags map[string]string) bool {
	for _, c := range f.conds {
		v, ok := tags[c.key]
		if !ok || (c.re != nil && !c.re.MatchString(v)) {
			return false
		}
	}
	return true
}

// Filter returns the templates whose tags, including the implicit name
// tag, match f.
func (f TagFilter) Filter(templates []Template) []Template {
	if f.Empty() {
		return templates
	}
	var out []Template
	for _, t := range templates {
		if f.Matches(t.tagsWithName()) {
			out = append(out, t)
		}
	}
	return out
}

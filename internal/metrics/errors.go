package metrics

import (
	"strings"
	"unicode"
)

var errorLabels = map[string]string{
	"errorString":           "Error",
	"fundamental":           "Error",
	"withStack":             "Error",
	"withMessage":           "Error",
	"deadlineExceededError": "Context deadline exceeded",
	"InvalidJSON":           "Invalid JSON",
	"PanicError":            "Worker panic",
}

// FriendlyErrorName turns an error router name, which is either a name an
// adapter chose or a Go type such as *diag.FaultError, into a report label.
func FriendlyErrorName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "*")
	if name == "" {
		return "Unknown error"
	}
	if label, ok := errorLabels[name]; ok {
		return label
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	pkg, typ, qualified := strings.Cut(name, ".")
	if !qualified {
		pkg, typ = "", name
	}
	if label, ok := errorLabels[typ]; ok {
		return label
	}

	label := strings.Join(splitWords(typ), " ")
	if label == "" {
		return name
	}
	if pkg == "" || pkg == "main" {
		return label
	}
	return label + " (" + pkg + ")"
}

// splitWords breaks a Go identifier at case and digit boundaries. Acronyms
// stay upper case and other words are title cased.
func splitWords(ident string) []string {
	runes := []rune(ident)
	var words []string
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && !wordBoundary(runes, i) {
			continue
		}
		words = append(words, titleWord(string(runes[start:i])))
		start = i
	}
	return words
}

func wordBoundary(r []rune, i int) bool {
	prev, cur := r[i-1], r[i]
	switch {
	case unicode.IsDigit(cur):
		return !unicode.IsDigit(prev)
	case !unicode.IsUpper(cur):
		return false
	case unicode.IsLower(prev):
		return true
	}
	// The last capital of an acronym starts the next word: JSONError.
	return unicode.IsUpper(prev) && i+1 < len(r) && unicode.IsLower(r[i+1])
}

func titleWord(w string) string {
	if strings.ToUpper(w) == w && strings.IndexFunc(w, unicode.IsLetter) >= 0 {
		return w
	}
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

package executor

import (
	"regexp"
	"sync"
)

// tokenPattern matches the $(VARIABLE) token syntax spec §4.5 describes for
// RemappedInlineFile directives.
var tokenPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// warnOnce tracks which unknown tokens have already produced a warning
// across the run, so a token referenced by many directives only warns once
// (spec §4.5: "emit a warning once per token").
type warnOnce struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newWarnOnce() *warnOnce {
	return &warnOnce{seen: make(map[string]bool)}
}

func (w *warnOnce) shouldWarn(token string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[token] {
		return false
	}
	w.seen[token] = true
	return true
}

// substituteVariables replaces every $(TOKEN) occurrence in text with its
// Variable Table value. Unknown tokens are left verbatim (spec §4.5); the
// caller is responsible for warning on each one returned in unknown.
func substituteVariables(text string, vars map[string]string) (result string, unknown []string) {
	seen := make(map[string]bool)
	result = tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		if !seen[name] {
			seen[name] = true
			unknown = append(unknown, name)
		}
		return match
	})
	return result, unknown
}

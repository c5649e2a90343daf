package manifest

import "strings"

// NormalizeForUniqueness applies the case-insensitive normalization used to
// check the "unique target path" invariant (spec §3) and the case-insensitive
// lookup fallback (spec §4.2, §4.5). It deliberately does not touch the
// authored casing of the path itself — only this derived key is folded —
// per the design note in spec §9 ("do not globally case-fold paths").
func NormalizeForUniqueness(path string) string {
	return strings.ToLower(path)
}

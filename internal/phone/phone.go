// Package phone canonicalizes phone numbers into comparable grouping keys.
//
// Messages arrive with numbers recorded in whatever format the writing
// subsystem used at the time ("+61412345678", "61412345678", raw digits
// with spaces). All lookups by phone therefore go through variant sets
// rather than exact string comparison.
package phone

// Canonical returns the digits-only form of a phone string, with no
// leading "+". Non-digit characters are stripped. An input with no
// digits yields "".
func Canonical(raw string) string {
	var b []byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' {
			b = append(b, c)
		}
	}
	return string(b)
}

// Variants returns the bounded set of historical storage formats for a
// phone string: the raw input as stored, the canonical digits, and the
// canonical digits with a leading "+". Duplicates and empty strings are
// excluded. An empty result means the number is unresolvable; callers
// must treat that as "no match", never as a wildcard.
func Variants(raw string) []string {
	canonical := Canonical(raw)
	candidates := []string{raw, canonical}
	if canonical != "" {
		candidates = append(candidates, "+"+canonical)
	}

	var out []string
	seen := make(map[string]bool, len(candidates))
	for _, v := range candidates {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

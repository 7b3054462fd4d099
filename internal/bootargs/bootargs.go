// Package bootargs parses an nvram style boot-args string ("-v shikigva=0x20 shiki-id=Mac-...").
package bootargs

import (
	"strings"
	"unicode"
)

// Args is a parsed boot-args string. Flags are stored with an empty value.
type Args struct {
	order  []string
	values map[string]string
}

// Parse splits s on whitespace; "key=value" tokens carry a value, anything else is a flag.
// Quoted values ("shiki-id=\"Mac-...\"") are unquoted. The first occurrence of a key wins.
func Parse(s string) Args {
	a := Args{values: make(map[string]string)}
	for _, tok := range split(s) {
		key, val, _ := strings.Cut(tok, "=")
		if key == "" {
			continue
		}
		if _, dup := a.values[key]; dup {
			continue
		}
		a.order = append(a.order, key)
		a.values[key] = strings.Trim(val, `"`)
	}
	return a
}

func split(s string) []string {
	var (
		toks    []string
		cur     strings.Builder
		inQuote bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			if cur.Len() > 0 {
				toks = append(toks, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		toks = append(toks, cur.String())
	}
	return toks
}

// Has reports whether name is present, as a flag or with a value
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Value returns the value of name and whether it was present
func (a Args) Value(name string) (string, bool) {
	v, ok := a.values[name]
	return v, ok
}

// First returns the first of names that is present
func (a Args) First(names ...string) (string, bool) {
	for _, n := range names {
		if a.Has(n) {
			return n, true
		}
	}
	return "", false
}

// Keys returns the argument names in the order they appeared
func (a Args) Keys() []string {
	return append([]string(nil), a.order...)
}

func (a Args) String() string {
	parts := make([]string, 0, len(a.order))
	for _, k := range a.order {
		if v := a.values[k]; v != "" {
			parts = append(parts, k+"="+v)
		} else {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, " ")
}

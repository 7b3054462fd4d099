// Package signature finds byte signatures (with optional wildcard bytes) inside binary images.
package signature

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyPattern = errors.New("empty pattern")

// Pattern is an immutable byte signature. A masked byte is a wildcard and matches any value.
type Pattern struct {
	bytes []byte
	mask  []bool // true == wildcard
}

// Literal returns a pattern with no wildcard bytes
func Literal(b []byte) Pattern {
	return Pattern{
		bytes: append([]byte(nil), b...),
		mask:  make([]bool, len(b)),
	}
}

// New returns a pattern where every true entry in wildcards marks a wildcard byte
func New(b []byte, wildcards []bool) (Pattern, error) {
	if len(b) != len(wildcards) {
		return Pattern{}, fmt.Errorf("pattern has %d bytes but %d mask entries", len(b), len(wildcards))
	}
	return Pattern{
		bytes: append([]byte(nil), b...),
		mask:  append([]bool(nil), wildcards...),
	}, nil
}

// Parse parses an IDA style signature such as "0F 85 ?? ?? ?? ??"
func Parse(s string) (Pattern, error) {
	var p Pattern
	for _, tok := range strings.Fields(s) {
		switch tok {
		case "??", "?":
			p.bytes = append(p.bytes, 0)
			p.mask = append(p.mask, true)
		default:
			if len(tok) != 2 {
				return Pattern{}, fmt.Errorf("bad token %q", tok)
			}
			v, err := strconv.ParseUint(tok, 16, 8)
			if err != nil {
				return Pattern{}, fmt.Errorf("bad hex %q: %v", tok, err)
			}
			p.bytes = append(p.bytes, byte(v))
			p.mask = append(p.mask, false)
		}
	}
	if len(p.bytes) == 0 {
		return Pattern{}, ErrEmptyPattern
	}
	return p, nil
}

// MustParse is like Parse but panics on a malformed signature; for static tables only.
func MustParse(s string) Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("signature: MustParse(%q): %v", s, err))
	}
	return p
}

// Len returns the pattern length in bytes
func (p Pattern) Len() int {
	return len(p.bytes)
}

// IsWildcard reports whether byte i of the pattern is a wildcard
func (p Pattern) IsWildcard(i int) bool {
	return p.mask[i]
}

// Bytes returns a copy of the pattern bytes (wildcards are zero)
func (p Pattern) Bytes() []byte {
	return append([]byte(nil), p.bytes...)
}

// MatchAt reports whether the pattern matches buf at off
func (p Pattern) MatchAt(buf []byte, off int) bool {
	if off < 0 || off+len(p.bytes) > len(buf) {
		return false
	}
	for i := range p.bytes {
		if p.mask[i] {
			continue
		}
		if buf[off+i] != p.bytes[i] {
			return false
		}
	}
	return true
}

func (p Pattern) String() string {
	parts := make([]string, 0, len(p.bytes))
	for i, b := range p.bytes {
		if p.mask[i] {
			parts = append(parts, "??")
		} else {
			parts = append(parts, fmt.Sprintf("%02X", b))
		}
	}
	return strings.Join(parts, " ")
}

package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePONum parses a payload object type number in either the literal
// ":N" form or the dotted "a.b.c.d" form.
func ParsePONum(s string) (uint32, error) {
	if rest, ok := strings.CutPrefix(s, ":"); ok {
		v, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return 0, malformed("po number %q", s)
		}
		return uint32(v), nil
	}
	v, err := ParseDotForm(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return v, nil
}

// ParseDotForm packs "a.b.c.d" (each 0-255) big-endian into 32 bits.
func ParseDotForm(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrBadDotForm, s)
	}
	var out uint32
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadDotForm, s)
		}
		out = out<<8 | uint32(v)
	}
	return out, nil
}

// Package ponum names the payload and routing object type numbers the
// client itself produces or interprets.
package ponum

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// Payload object numbers.
const (
	ROEntityWKey uint32 = 50         // 0.0.0.50, entity with signing key
	Blob         uint32 = 0x01000000 // 1.0.0.0/8, opaque binary
	Text         uint32 = 0x40000000 // 64.0.0.0/4, human readable text
)

// Routing object numbers.
const (
	RODAccessChainHash     uint8 = 0x01
	RODAccessChain         uint8 = 0x02
	RODPermissionChainHash uint8 = 0x11
	RODPermissionChain     uint8 = 0x12
	ROAccessDOT            uint8 = 0x20
	ROPermissionDOT        uint8 = 0x21
	ROEntity               uint8 = 0x30
	ROEntityWithKey        uint8 = 0x32
	ROOriginVK             uint8 = 0x50
	ROExpiry               uint8 = 0x40
	RORevocation           uint8 = 0x80
)

// Format renders v in dotted form.
func Format(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", v>>24, (v>>16)&0xff, (v>>8)&0xff, v&0xff)
}

// Parse accepts the dotted form, the literal ":N" form, or a bare decimal.
func Parse(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ".") || strings.HasPrefix(s, ":") {
		return frame.ParsePONum(s)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ponum: %q: %w", s, err)
	}
	return uint32(v), nil
}

// Matches reports whether v falls in prefix/bits, e.g. Matches(v, Text, 4).
func Matches(v, prefix uint32, bits int) bool {
	if bits <= 0 {
		return true
	}
	if bits > 32 {
		bits = 32
	}
	mask := ^uint32(0) << (32 - bits)
	return v&mask == prefix&mask
}

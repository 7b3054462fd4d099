package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blacktop/shiki/internal/colors"
)

var (
	colorFaint   = colors.FaintHiBlue().SprintFunc()
	zeroRunMatch = regexp.MustCompile(`\s(00\s)+|\.`)
)

func toChar(b byte) byte {
	if b < 32 || b > 126 {
		return '.'
	}
	return b
}

// HexDump returns a `hexdump -C` style dump of data with offsets starting at vaddr
func HexDump(data []byte, vaddr uint64) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	for line := 0; line < len(data); line += 16 {
		chunk := data[line:min(line+16, len(data))]
		fmt.Fprintf(&sb, "%08x  ", vaddr+uint64(line))
		ascii := make([]byte, 0, 16)
		for i := 0; i < 16; i++ {
			if i < len(chunk) {
				fmt.Fprintf(&sb, "%02x ", chunk[i])
				ascii = append(ascii, toChar(chunk[i]))
			} else {
				sb.WriteString("   ")
			}
			if i == 7 {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, " |%s|\n", ascii)
	}
	return zeroRunMatch.ReplaceAllStringFunc(sb.String(), func(s string) string {
		return colorFaint(s)
	})
}

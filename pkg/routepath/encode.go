package routepath

import (
	"strings"
	"unicode/utf8"
)

const upperhex = "0123456789ABCDEF"

// encodeURIKeep are the bytes a URI keeps unescaped besides alphanumerics.
const encodeURIKeep = ";,/?:@&=+$-_.!~*'()#"

// EncodeURI escapes p the way browsers escape a full URI: reserved
// characters stay, everything else outside the unreserved set is
// percent-encoded as UTF-8. A literal "%" is escaped too.
func EncodeURI(p string) string {
	needs := false
	for i := 0; i < len(p); i++ {
		if !keepURIByte(p[i]) {
			needs = true
			break
		}
	}
	if !needs {
		return p
	}

	var b strings.Builder
	b.Grow(len(p) + 8)
	for i := 0; i < len(p); {
		c := p[i]
		if keepURIByte(c) {
			b.WriteByte(c)
			i++
			continue
		}
		if c >= utf8.RuneSelf {
			_, size := utf8.DecodeRuneInString(p[i:])
			for j := 0; j < size; j++ {
				writeEscaped(&b, p[i+j])
			}
			i += size
			continue
		}
		writeEscaped(&b, c)
		i++
	}
	return b.String()
}

func writeEscaped(b *strings.Builder, c byte) {
	b.WriteByte('%')
	b.WriteByte(upperhex[c>>4])
	b.WriteByte(upperhex[c&15])
}

func keepURIByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c >= utf8.RuneSelf:
		return false
	}
	return strings.IndexByte(encodeURIKeep, c) >= 0
}

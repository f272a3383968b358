package edge

import "strings"

// SplitCookies splits a folded Set-Cookie value into its cookies.
//
// A comma only separates two cookies when the text after it reads as a
// "name=" pair, so commas inside attributes such as
// "Expires=Wed, 21 Oct 2015 07:28:00 GMT" are kept.
func SplitCookies(s string) []string {
	var out []string
	n := len(s)
	pos := 0

	skipSpace := func() bool {
		for pos < n && isSpace(s[pos]) {
			pos++
		}
		return pos < n
	}
	plain := func() bool {
		c := s[pos]
		return c != '=' && c != ';' && c != ','
	}

	for pos < n {
		start := pos
		split := false

		for skipSpace() {
			if s[pos] != ',' {
				pos++
				continue
			}
			comma := pos
			pos++
			skipSpace()
			next := pos
			for pos < n && plain() {
				pos++
			}
			if pos < n && s[pos] == '=' {
				split = true
				pos = next
				out = append(out, strings.TrimSpace(s[start:comma]))
				start = pos
			} else {
				pos = comma + 1
			}
		}

		if !split || pos >= n {
			if c := strings.TrimSpace(s[start:n]); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

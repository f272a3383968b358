package routematch

import (
	"fmt"
	"strconv"
	"strings"
)

type lexKind int

const (
	lexOpen lexKind = iota
	lexClose
	lexPattern
	lexName
	lexChar
	lexEscapedChar
	lexModifier
	lexEnd
)

type lexToken struct {
	kind  lexKind
	index int
	value string
}

// defaultPattern matches a single path segment.
const defaultPattern = `[^\/]+?`

// prefixChars are the characters that become a parameter prefix when they
// directly precede it.
const prefixChars = "./"

// Key describes a parameter declared by a pattern.
type Key struct {
	// Name is the declared name, or the decimal index for unnamed groups.
	Name string

	// Unnamed is true for "(pattern)" groups without a name.
	Unnamed bool

	Prefix   string
	Suffix   string
	Pattern  string
	Modifier string
}

// Repeat reports whether the key captures a list of segments.
func (k Key) Repeat() bool {
	return k.Modifier == "*" || k.Modifier == "+"
}

// Optional reports whether the key may be absent.
func (k Key) Optional() bool {
	return k.Modifier == "*" || k.Modifier == "?"
}

// token is either literal text (key == nil) or a parameter.
type token struct {
	text string
	key  *Key
}

func isNameChar(c byte) bool {
	return c == '_' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

func lex(str string) ([]lexToken, error) {
	var tokens []lexToken
	i := 0

	for i < len(str) {
		c := str[i]

		switch c {
		case '*', '+', '?':
			tokens = append(tokens, lexToken{kind: lexModifier, index: i, value: string(c)})
			i++

		case '\\':
			if i+1 >= len(str) {
				return nil, fmt.Errorf("dangling escape at %d", i)
			}
			tokens = append(tokens, lexToken{kind: lexEscapedChar, index: i, value: string(str[i+1])})
			i += 2

		case '{':
			tokens = append(tokens, lexToken{kind: lexOpen, index: i, value: "{"})
			i++

		case '}':
			tokens = append(tokens, lexToken{kind: lexClose, index: i, value: "}"})
			i++

		case ':':
			j := i + 1
			for j < len(str) && isNameChar(str[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("missing parameter name at %d", i)
			}
			tokens = append(tokens, lexToken{kind: lexName, index: i, value: str[i+1 : j]})
			i = j

		case '(':
			count := 1
			j := i + 1
			var pattern strings.Builder

			if j < len(str) && str[j] == '?' {
				return nil, fmt.Errorf("pattern cannot start with \"?\" at %d", j)
			}

			for j < len(str) {
				if str[j] == '\\' && j+1 < len(str) {
					pattern.WriteString(str[j : j+2])
					j += 2
					continue
				}

				if str[j] == ')' {
					count--
					if count == 0 {
						j++
						break
					}
				} else if str[j] == '(' {
					count++
					if j+1 >= len(str) || str[j+1] != '?' {
						return nil, fmt.Errorf("capturing groups are not allowed at %d", j)
					}
				}

				pattern.WriteByte(str[j])
				j++
			}

			if count != 0 {
				return nil, fmt.Errorf("unbalanced pattern at %d", i)
			}
			if pattern.Len() == 0 {
				return nil, fmt.Errorf("missing pattern at %d", i)
			}

			tokens = append(tokens, lexToken{kind: lexPattern, index: i, value: pattern.String()})
			i = j

		default:
			tokens = append(tokens, lexToken{kind: lexChar, index: i, value: string(c)})
			i++
		}
	}

	tokens = append(tokens, lexToken{kind: lexEnd, index: i})
	return tokens, nil
}

// parser walks lexer output.
type parser struct {
	tokens []lexToken
	pos    int
}

func (p *parser) tryConsume(kind lexKind) (string, bool) {
	if p.pos < len(p.tokens) && p.tokens[p.pos].kind == kind {
		v := p.tokens[p.pos].value
		p.pos++
		return v, true
	}
	return "", false
}

func (p *parser) mustConsume(kind lexKind) error {
	if _, ok := p.tryConsume(kind); ok {
		return nil
	}
	t := p.tokens[p.pos]
	return fmt.Errorf("unexpected %q at %d", t.value, t.index)
}

func (p *parser) consumeText() string {
	var b strings.Builder
	for {
		if v, ok := p.tryConsume(lexChar); ok {
			b.WriteString(v)
			continue
		}
		if v, ok := p.tryConsume(lexEscapedChar); ok {
			b.WriteString(v)
			continue
		}
		return b.String()
	}
}

// parse splits a path-to-regexp source into literal and parameter tokens.
func parse(source string) ([]token, error) {
	lexed, err := lex(source)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", source, err)
	}

	p := &parser{tokens: lexed}
	var result []token
	var path strings.Builder
	unnamed := 0

	flush := func() {
		if path.Len() > 0 {
			result = append(result, token{text: path.String()})
			path.Reset()
		}
	}

	for p.pos < len(p.tokens) {
		char, hasChar := p.tryConsume(lexChar)
		name, hasName := p.tryConsume(lexName)
		pattern, hasPattern := p.tryConsume(lexPattern)

		if hasName || hasPattern {
			prefix := char
			if !strings.Contains(prefixChars, prefix) {
				path.WriteString(prefix)
				prefix = ""
			}
			flush()

			key := &Key{Name: name, Prefix: prefix, Pattern: pattern}
			if !hasName {
				key.Name = strconv.Itoa(unnamed)
				key.Unnamed = true
				unnamed++
			}
			if !hasPattern {
				key.Pattern = defaultPattern
			}
			key.Modifier, _ = p.tryConsume(lexModifier)
			result = append(result, token{key: key})
			continue
		}

		if hasChar {
			path.WriteString(char)
			continue
		}
		if v, ok := p.tryConsume(lexEscapedChar); ok {
			path.WriteString(v)
			continue
		}

		flush()

		if _, ok := p.tryConsume(lexOpen); ok {
			prefix := p.consumeText()
			name, hasName := p.tryConsume(lexName)
			pattern, hasPattern := p.tryConsume(lexPattern)
			suffix := p.consumeText()

			if err := p.mustConsume(lexClose); err != nil {
				return nil, fmt.Errorf("parse %q: %w", source, err)
			}

			key := &Key{Name: name, Prefix: prefix, Suffix: suffix, Pattern: pattern}
			switch {
			case hasName && !hasPattern:
				key.Pattern = defaultPattern
			case !hasName && hasPattern:
				key.Name = strconv.Itoa(unnamed)
				key.Unnamed = true
				unnamed++
			}
			key.Modifier, _ = p.tryConsume(lexModifier)

			// A group without a parameter (empty Pattern) is literal text
			// carrying a modifier.
			result = append(result, token{key: key})
			continue
		}

		if err := p.mustConsume(lexEnd); err != nil {
			return nil, fmt.Errorf("parse %q: %w", source, err)
		}
	}

	return result, nil
}

// escapeString escapes regex metacharacters in literal route text.
func escapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '+', '*', '?', '=', '^', '!', ':', '$', '{', '}', '(', ')', '[', ']', '|', '/', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// groupName is the regex group carrying the i-th key.
func groupName(i int) string {
	return "k" + strconv.Itoa(i)
}

// toExpr renders tokens as an anchored expression. Every parameter is a
// named group so positional numbering never matters.
func toExpr(tokens []token, strict bool) (string, []Key) {
	var b strings.Builder
	var keys []Key

	b.WriteString("^")
	for _, t := range tokens {
		if t.key == nil {
			b.WriteString(escapeString(t.text))
			continue
		}

		k := t.key
		prefix := escapeString(k.Prefix)
		suffix := escapeString(k.Suffix)

		if k.Pattern == "" {
			fmt.Fprintf(&b, "(?:%s%s)%s", prefix, suffix, k.Modifier)
			continue
		}

		group := groupName(len(keys))
		keys = append(keys, *k)

		if prefix != "" || suffix != "" {
			if k.Repeat() {
				mod := ""
				if k.Modifier == "*" {
					mod = "?"
				}
				fmt.Fprintf(&b, "(?:%s(?<%s>(?:%s)(?:%s%s(?:%s))*)%s)%s",
					prefix, group, k.Pattern, suffix, prefix, k.Pattern, suffix, mod)
			} else {
				fmt.Fprintf(&b, "(?:%s(?<%s>%s)%s)%s", prefix, group, k.Pattern, suffix, k.Modifier)
			}
			continue
		}

		if k.Repeat() {
			fmt.Fprintf(&b, "(?<%s>(?:%s)%s)", group, k.Pattern, k.Modifier)
		} else {
			fmt.Fprintf(&b, "(?<%s>%s)%s", group, k.Pattern, k.Modifier)
		}
	}

	if !strict {
		b.WriteString(`[\/]?`)
	}
	b.WriteString("$")

	return b.String(), keys
}

// Keys returns the parameters declared by a path-to-regexp source.
func Keys(source string) ([]Key, error) {
	tokens, err := parse(source)
	if err != nil {
		return nil, err
	}
	var keys []Key
	for _, t := range tokens {
		if t.key != nil && t.key.Pattern != "" {
			keys = append(keys, *t.key)
		}
	}
	return keys, nil
}

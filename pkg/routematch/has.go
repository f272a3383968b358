package routematch

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dlclark/regexp2"
)

// Condition types.
const (
	ConditionHeader = "header"
	ConditionCookie = "cookie"
	ConditionQuery  = "query"
	ConditionHost   = "host"
)

// Condition restricts a route to requests carrying (or lacking) a header,
// cookie, query parameter or host. Value, when set, is a regex that must
// match the whole value; its named groups become route params.
type Condition struct {
	Type  string `json:"type" mapstructure:"type"`
	Key   string `json:"key,omitempty" mapstructure:"key"`
	Value string `json:"value,omitempty" mapstructure:"value"`
}

// CompiledCondition is a Condition with its value expression compiled.
type CompiledCondition struct {
	Condition
	re *regexp2.Regexp
}

// CompileCondition validates c and compiles its value.
func CompileCondition(c Condition) (*CompiledCondition, error) {
	switch c.Type {
	case ConditionHeader, ConditionCookie, ConditionQuery:
		if c.Key == "" {
			return nil, fmt.Errorf("%s condition requires a key", c.Type)
		}
	case ConditionHost:
	default:
		return nil, fmt.Errorf("invalid condition type %q", c.Type)
	}

	cc := &CompiledCondition{Condition: c}
	if c.Value != "" {
		re, err := regexp2.Compile("^"+c.Value+"$", regexp2.ExplicitCapture)
		if err != nil {
			return nil, fmt.Errorf("condition %s %q: %w", c.Type, c.Key, err)
		}
		re.MatchTimeout = MatchTimeout
		cc.re = re
	}
	return cc, nil
}

// CompileConditions compiles a list of conditions.
func CompileConditions(conds []Condition) ([]*CompiledCondition, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	out := make([]*CompiledCondition, 0, len(conds))
	for _, c := range conds {
		cc, err := CompileCondition(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, nil
}

// MatchHas reports whether every has condition holds and no missing
// condition does. Values captured by the conditions are returned as params.
func MatchHas(r *http.Request, has, missing []*CompiledCondition) (Params, bool) {
	params := Params{}
	for _, c := range has {
		if !c.match(r, params) {
			return nil, false
		}
	}
	for _, c := range missing {
		if c.match(r, Params{}) {
			return nil, false
		}
	}
	return params, true
}

func (c *CompiledCondition) lookup(r *http.Request) string {
	switch c.Type {
	case ConditionHeader:
		return strings.Join(r.Header.Values(c.Key), ", ")
	case ConditionCookie:
		if ck, err := r.Cookie(c.Key); err == nil {
			return ck.Value
		}
	case ConditionQuery:
		if vs := r.URL.Query()[c.Key]; len(vs) > 0 {
			return vs[len(vs)-1]
		}
	case ConditionHost:
		host := r.Host
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		return strings.ToLower(host)
	}
	return ""
}

func (c *CompiledCondition) match(r *http.Request, params Params) bool {
	value := c.lookup(r)
	if value == "" {
		return false
	}

	if c.re == nil {
		params[safeParamName(c.Key)] = value
		return true
	}

	m, err := c.re.FindStringMatch(value)
	if err != nil || m == nil {
		return false
	}

	named := false
	for _, g := range m.Groups() {
		if g.Name == "0" || len(g.Captures) == 0 {
			continue
		}
		params[g.Name] = g.String()
		named = true
	}
	if !named && c.Type == ConditionHost && m.String() != "" {
		params["host"] = m.String()
	}
	return true
}

// safeParamName keeps only ASCII letters of a condition key.
func safeParamName(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			b.WriteByte(c)
		}
	}
	return b.String()
}

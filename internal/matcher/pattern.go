package matcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hakim/seceval/internal/models"
)

// Compiled is a pattern ready to be run against source lines.
type Compiled struct {
	Kind models.PatternKind
	re   *regexp.Regexp
}

// Compile validates and compiles a rule pattern.
//
// regex expressions are used as-is (prefix "(?i)" for case-insensitive
// rules). ast and semantic expressions are token sequences such as
// "eval (" that match with any amount of whitespace between tokens; they
// approximate structural matching without parsing the source.
func Compile(p models.Pattern) (*Compiled, error) {
	expr := strings.TrimSpace(p.Expression)
	if expr == "" {
		return nil, fmt.Errorf("pattern expression is empty")
	}

	kind := p.Kind
	if kind == "" {
		kind = models.PatternRegex
	}

	var source string
	switch kind {
	case models.PatternRegex:
		source = p.Expression
	case models.PatternAST, models.PatternSemantic:
		source = tokenExpression(expr)
	default:
		return nil, fmt.Errorf("unknown pattern kind %q", kind)
	}

	re, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compiling %s pattern: %w", kind, err)
	}
	return &Compiled{Kind: kind, re: re}, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(p models.Pattern) *Compiled {
	c, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return c
}

// MatchLine returns the byte span of the first match in line.
func (c *Compiled) MatchLine(line string) (start, end int, ok bool) {
	loc := c.re.FindStringIndex(line)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

func (c *Compiled) String() string {
	return c.re.String()
}

// tokenExpression turns "a . b (" into a regexp that tolerates whitespace
// between tokens. Identifier tokens are anchored at word boundaries.
func tokenExpression(expr string) string {
	tokens := strings.Fields(expr)
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		q := regexp.QuoteMeta(tok)
		if isWord(tok[0]) {
			q = `\b` + q
		}
		if isWord(tok[len(tok)-1]) {
			q += `\b`
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, `\s*`)
}

func isWord(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Package matcher applies compiled rules to file content line by line.
package matcher

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hakim/seceval/internal/models"
)

const (
	minConfidence = 70
	maxConfidence = 100

	// DefaultThreshold is the confidence below which the heuristic drops a
	// match when suppression is enabled.
	DefaultThreshold = 75
)

// CompiledRule pairs a rule snapshot with its compiled pattern.
type CompiledRule struct {
	Def  models.Rule
	Expr *Compiled
}

// Options controls the optional confidence heuristic.
type Options struct {
	// Suppression enables the fuzzy heuristic: each match draws a confidence
	// in [70,100] from a generator seeded with Seed, and matches below
	// Threshold are dropped. When false every match is reported with a
	// confidence derived from how much of the line the match covers.
	Suppression bool
	Seed        uint64
	Threshold   int

	// Now and NewID default to time.Now and uuid generation.
	Now   func() time.Time
	NewID func() string
}

// Matcher is stateless between calls and safe for concurrent use.
type Matcher struct {
	opts Options
}

// New creates a Matcher.
func New(opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	return &Matcher{opts: opts}
}

// Match runs rule against content and returns one finding per matching line
// (minus heuristically suppressed lines). Each finding spans exactly the
// triggering line.
func (m *Matcher) Match(rule CompiledRule, content []byte, meta models.FileMeta) ([]models.Finding, error) {
	if rule.Expr == nil {
		return nil, fmt.Errorf("%w: rule %s has no compiled pattern", models.ErrMatchingWarning, rule.Def.ID)
	}
	if len(content) == 0 {
		return nil, nil
	}

	var findings []models.Finding
	lines := strings.Split(string(content), "\n")
	for i, raw := range lines {
		line := strings.TrimSuffix(raw, "\r")
		start, end, ok := rule.Expr.MatchLine(line)
		if !ok {
			continue
		}

		confidence := coverageConfidence(line, end-start)
		if m.opts.Suppression {
			confidence = m.drawConfidence(rule.Def.ID, meta.Path, i+1)
			if confidence < m.opts.Threshold {
				continue
			}
		}

		findings = append(findings, m.newFinding(rule.Def, meta, i+1, line, confidence))
	}
	return findings, nil
}

func (m *Matcher) newFinding(rule models.Rule, meta models.FileMeta, lineNo int, line string, confidence int) models.Finding {
	return models.Finding{
		ID:           m.opts.NewID(),
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Severity:     rule.Severity,
		Category:     rule.Category,
		Description:  rule.Description,
		FilePath:     meta.Path,
		StartLine:    lineNo,
		EndLine:      lineNo,
		StartColumn:  1,
		EndColumn:    max(len(line), 1),
		Snippet:      strings.TrimSpace(line),
		CWE:          rule.CWE,
		RiskScore:    rule.RiskScore,
		Confidence:   confidence,
		Status:       models.FindingOpen,
		DiscoveredAt: m.opts.Now(),
		Remediation:  rule.Docs.Secure,
		References:   append([]string(nil), rule.Docs.References...),
	}
}

// drawConfidence seeds a generator from (Seed, rule, file, line) so the draw
// does not depend on the order rules are evaluated in.
func (m *Matcher) drawConfidence(ruleID, path string, line int) int {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%d", ruleID, path, line)
	rng := rand.New(rand.NewPCG(m.opts.Seed, h.Sum64()))
	return minConfidence + rng.IntN(maxConfidence-minConfidence+1)
}

// coverageConfidence maps the share of the trimmed line covered by the match
// onto [70,100].
func coverageConfidence(line string, matchLen int) int {
	trimmed := len(strings.TrimSpace(line))
	if trimmed == 0 {
		return minConfidence
	}
	ratio := math.Min(float64(matchLen)/float64(trimmed), 1)
	return minConfidence + int(math.Round(ratio*float64(maxConfidence-minConfidence)))
}

package agent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kestrellabs/kestrel/internal/metrics"
)

// Small and local models rarely emit well-formed structured output, so
// reflection parsing is a line-oriented best-effort scanner with safe
// defaults for every field. ParseReflection never fails; callers can rely
// on the result being a usable Reflection for any input at all.

const maxFollowUpQueries = 2

// minQueryLen filters out noise lines (stray punctuation, bullets that
// lost their text) from model-produced query lists.
const minQueryLen = 10

var (
	fieldRe  = regexp.MustCompile(`(?i)^[\s*#>-]*(COMPLETENESS|DEPTH|GAPS|VERDICT|ADDITIONAL_QUERIES)\**\s*:\s*(.*)$`)
	intRe    = regexp.MustCompile(`\d+`)
	bulletRe = regexp.MustCompile(`^[\s*•\-]*(?:\d+[.)]\s*)?`)
	// Word boundaries keep INSUFFICIENT from matching as SUFFICIENT; an
	// unrecognized token falls through to the MORE default.
	verdictRe = regexp.MustCompile(`\b(MORE|SUFFICIENT)\b`)
)

// ParseReflection extracts the structured reflection signals from free-form
// model text. Defaults: completeness=5, depth=5, gaps="", verdict=MORE,
// no follow-up queries. Scores clamp to [1,10]. Defaulting toward MORE
// fails toward doing more work rather than silently under-researching;
// defaulting scores to the midpoint avoids short-circuiting the loop in
// either direction.
func ParseReflection(raw string) Reflection {
	r := Reflection{
		Completeness: 5,
		Depth:        5,
		Verdict:      VerdictMore,
		Raw:          raw,
	}

	var (
		sawCompleteness bool
		sawDepth        bool
		sawVerdict      bool
		collectQueries  bool
		queryLines      []string
	)

	for _, line := range strings.Split(raw, "\n") {
		if m := fieldRe.FindStringSubmatch(line); m != nil {
			collectQueries = false
			field := strings.ToUpper(m[1])
			value := strings.TrimSpace(m[2])

			switch field {
			case "COMPLETENESS":
				if n, ok := firstInt(value); ok {
					r.Completeness = clampScore(n)
					sawCompleteness = true
				}
			case "DEPTH":
				if n, ok := firstInt(value); ok {
					r.Depth = clampScore(n)
					sawDepth = true
				}
			case "GAPS":
				if !strings.EqualFold(value, "none") {
					r.Gaps = value
				}
			case "VERDICT":
				switch verdictRe.FindString(strings.ToUpper(value)) {
				case VerdictSufficient:
					r.Verdict = VerdictSufficient
					sawVerdict = true
				case VerdictMore:
					r.Verdict = VerdictMore
					sawVerdict = true
				}
			case "ADDITIONAL_QUERIES":
				collectQueries = true
				if value != "" {
					queryLines = append(queryLines, value)
				}
			}
			continue
		}

		if collectQueries {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				queryLines = append(queryLines, trimmed)
			}
		}
	}

	r.FollowUpQueries = sanitizeQueries(queryLines, maxFollowUpQueries)

	if !sawCompleteness {
		metrics.ReflectionParseFallbacks.WithLabelValues("completeness").Inc()
	}
	if !sawDepth {
		metrics.ReflectionParseFallbacks.WithLabelValues("depth").Inc()
	}
	if !sawVerdict {
		metrics.ReflectionParseFallbacks.WithLabelValues("verdict").Inc()
	}

	return r
}

// sanitizeQueries strips list markers, drops lines shorter than minQueryLen,
// removes case-insensitive duplicates preserving first occurrence, and caps
// the result at limit (0 means no cap). Applied to plans and follow-ups
// alike.
func sanitizeQueries(lines []string, limit int) []string {
	seen := make(map[string]struct{}, len(lines))
	var out []string
	for _, line := range lines {
		q := strings.TrimSpace(bulletRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if len(q) < minQueryLen || strings.EqualFold(q, "none") {
			continue
		}
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func firstInt(s string) (int, bool) {
	tok := intRe.FindString(s)
	if tok == "" {
		return 0, false
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, false
	}
	return n, true
}

func clampScore(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

package repair

import (
	"encoding/json"
	"regexp"
	"strings"
)

// parseStructured parses s as JSON and accepts only objects and arrays.
func parseStructured(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// directStrategy parses the raw text as-is.
type directStrategy struct{}

func (*directStrategy) Name() string { return "direct" }

func (*directStrategy) Repair(raw string) (any, bool) {
	return parseStructured(strings.TrimSpace(raw))
}

// spanStrategy extracts the first greedy {...} or [...] span (DOTALL) and
// parses that.
type spanStrategy struct{}

var (
	reObjSpan = regexp.MustCompile(`(?s)\{.*\}`)
	reArrSpan = regexp.MustCompile(`(?s)\[.*\]`)
)

func (*spanStrategy) Name() string { return "span" }

func (*spanStrategy) Repair(raw string) (any, bool) {
	for _, re := range []*regexp.Regexp{reObjSpan, reArrSpan} {
		if m := re.FindString(raw); m != "" {
			if v, ok := parseStructured(m); ok {
				return v, true
			}
		}
	}
	return nil, false
}

// fenceStrategy strips markdown code fences and common escape artifacts,
// then retries a direct parse.
type fenceStrategy struct{}

var (
	reFence      = regexp.MustCompile("```json\\s*|```\\s*|~~~json\\s*|~~~\\s*")
	reHorizSpace = regexp.MustCompile(`[ \t]+`)

	fenceReplacer = strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		`"[{`, "[{",
		`}]"`, "}]",
	)
)

func (*fenceStrategy) Name() string { return "fence" }

func (*fenceStrategy) Repair(raw string) (any, bool) {
	cleaned := reFence.ReplaceAllString(raw, "")
	cleaned = fenceReplacer.Replace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, `\`, " ")
	cleaned = reHorizSpace.ReplaceAllString(cleaned, " ")
	return parseStructured(strings.TrimSpace(cleaned))
}

// syntaxStrategy delegates to a Repairer and accepts its output only when
// the result itself parses as valid JSON.
type syntaxStrategy struct {
	rep Repairer
}

func (*syntaxStrategy) Name() string { return "syntax" }

func (s *syntaxStrategy) Repair(raw string) (any, bool) {
	fixed, err := s.rep.RepairJSON(raw)
	if err != nil {
		return nil, false
	}
	return parseStructured(fixed)
}

// literalStrategy evaluates the text as a literal data-structure
// expression in the Python style (single quotes, True/False/None). No code
// is executed; the text is rewritten into JSON and parsed. Only mappings
// are accepted.
type literalStrategy struct{}

var (
	reLitTrue  = regexp.MustCompile(`\bTrue\b`)
	reLitFalse = regexp.MustCompile(`\bFalse\b`)
	reLitNone  = regexp.MustCompile(`\bNone\b`)
)

func (*literalStrategy) Name() string { return "literal" }

func (*literalStrategy) Repair(raw string) (any, bool) {
	s := reLitTrue.ReplaceAllString(raw, "true")
	s = reLitFalse.ReplaceAllString(s, "false")
	s = reLitNone.ReplaceAllString(s, "null")
	s = singleToDouble(s)
	s = reTrailingComma.ReplaceAllString(s, "$1")

	v, ok := parseStructured(strings.TrimSpace(s))
	if !ok {
		return nil, false
	}
	if _, isMap := v.(map[string]any); !isMap {
		return nil, false
	}
	return v, true
}

// salvageStrategy scans for "key": "value" pairs and assembles them into a
// flat object. It succeeds only when at least one pair is found; the engine
// supplies the final empty-object fallback.
type salvageStrategy struct{}

var reKVPair = regexp.MustCompile(`"([^"]+)"\s*:\s*"([^"]+)"`)

func (*salvageStrategy) Name() string { return "salvage" }

func (*salvageStrategy) Repair(raw string) (any, bool) {
	matches := reKVPair.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, false
	}
	out := make(map[string]any, len(matches))
	for _, m := range matches {
		out[m[1]] = m[2]
	}
	return out, true
}

// Package repair turns unreliable model output into structured data via an
// ordered chain of independent fallback strategies. The chain never fails:
// at worst it yields an empty object.
package repair

import (
	"log/slog"
	"strings"
)

// Strategy attempts one way of recovering a structured value from raw text.
// Implementations must be pure: no mutation of shared state, no side effects.
type Strategy interface {
	Name() string
	Repair(raw string) (any, bool)
}

// Engine runs the strategy chain with early exit on the first success.
type Engine struct {
	strategies []Strategy
	log        *slog.Logger
}

// Option adjusts the engine at construction time.
type Option func(*Engine)

// WithRepairer swaps the syntax-repair step's implementation, e.g. for a
// higher-quality external repair library. Its output is accepted only if it
// parses as valid JSON; otherwise the chain falls through.
func WithRepairer(r Repairer) Option {
	return func(e *Engine) {
		for i, s := range e.strategies {
			if _, ok := s.(*syntaxStrategy); ok {
				e.strategies[i] = &syntaxStrategy{rep: r}
			}
		}
	}
}

// WithStrategies replaces the whole chain. Mainly for tests.
func WithStrategies(strategies ...Strategy) Option {
	return func(e *Engine) { e.strategies = strategies }
}

// NewEngine builds the default chain: direct parse, span extraction, fence
// stripping, syntax repair, literal fallback, key/value salvage.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		strategies: []Strategy{
			&directStrategy{},
			&spanStrategy{},
			&fenceStrategy{},
			&syntaxStrategy{rep: BuiltinRepairer{}},
			&literalStrategy{},
			&salvageStrategy{},
		},
		log: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Repair produces a best-effort structured value for one raw completion.
// It never returns an error; exhausting every strategy yields an empty
// object. The input is never mutated; strategies work on copies.
func (e *Engine) Repair(raw string) any {
	if strings.TrimSpace(raw) == "" {
		e.log.Debug("repair.empty_input")
		return map[string]any{}
	}

	working := trimToStructure(raw)
	for _, s := range e.strategies {
		v, ok := s.Repair(working)
		if !ok {
			continue
		}
		e.log.Debug("repair.ok", "strategy", s.Name())
		return v
	}

	e.log.Warn("repair.chain.exhausted", "input_len", len(raw))
	return map[string]any{}
}

// trimToStructure cuts leading prose and trailing explanation around the
// outermost brace/bracket pair, when one exists.
func trimToStructure(s string) string {
	start := -1
	for _, ch := range []string{"{", "["} {
		if i := strings.Index(s, ch); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	end := -1
	for _, ch := range []string{"}", "]"} {
		if i := strings.LastIndex(s, ch); i > end {
			end = i
		}
	}
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

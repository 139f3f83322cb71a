// Package normalize maps repaired model output onto canonical term records,
// re-attaching each record to its originating row via the correlation index.
package normalize

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// TermRecord is the canonical extracted-term shape handed to the export
// sink. Term is mandatory; a record is never dropped for a missing term,
// the sentinel value stands in instead.
type TermRecord struct {
	RowID   string `json:"row_id"`
	Term    string `json:"term"`
	Type    string `json:"type,omitempty"`
	Context string `json:"context,omitempty"`
}

const (
	// UnknownRow marks records whose correlation id has no index entry.
	UnknownRow = "unknown"
	// UnknownTerm is the sentinel stored when no term field resolves.
	UnknownTerm = "未知术语"
)

// fieldSynonyms maps each canonical field to its accepted keys, in priority
// order; the first non-empty match wins.
var fieldSynonyms = []struct {
	target string
	keys   []string
}{
	{"term", []string{"term", "术语", "name", "名称", "术语名称", "术语名"}},
	{"type", []string{"type", "类型", "术语类型"}},
	{"context", []string{"context", "上下文", "句子", "sentence"}},
}

// entryKind tags the shape of one term entry in the repaired object.
type entryKind int

const (
	entryBare       entryKind = iota // a plain string
	entryStructured                  // a key/value mapping
	entryOther                       // anything else; stringified
)

// entry is the tagged variant for a single term entry.
type entry struct {
	kind entryKind
	bare string
	obj  map[string]any
}

func classifyEntry(v any) (entry, bool) {
	switch t := v.(type) {
	case nil:
		return entry{}, false
	case string:
		if strings.TrimSpace(t) == "" {
			return entry{}, false
		}
		return entry{kind: entryBare, bare: t}, true
	case map[string]any:
		return entry{kind: entryStructured, obj: t}, true
	default:
		return entry{kind: entryOther, bare: fmt.Sprintf("%v", t)}, true
	}
}

// Normalize converts one repaired object into term records for the row
// identified by correlationID. An unknown correlation id yields records
// with RowID "unknown" rather than discarding them. It never fails; a
// shape with no usable terms yields zero records.
func Normalize(correlationID string, repaired any, index map[string]string, logger *slog.Logger) []TermRecord {
	if logger == nil {
		logger = slog.Default()
	}

	rowID, ok := index[correlationID]
	if !ok || rowID == "" {
		rowID = UnknownRow
		logger.Warn("normalize.correlation.unknown", "correlation_id", correlationID)
	}

	terms := termList(repaired)
	records := make([]TermRecord, 0, len(terms))
	for _, raw := range terms {
		e, ok := classifyEntry(raw)
		if !ok {
			continue
		}
		records = append(records, e.toRecord(rowID))
	}
	return records
}

// termList extracts the term entries: a "terms" key is preferred when it
// holds a sequence; a top-level sequence is used directly; anything else
// counts as zero terms.
func termList(repaired any) []any {
	switch t := repaired.(type) {
	case map[string]any:
		if seq, ok := t["terms"].([]any); ok {
			return seq
		}
		return nil
	case []any:
		return t
	default:
		return nil
	}
}

func (e entry) toRecord(rowID string) TermRecord {
	rec := TermRecord{RowID: rowID}
	switch e.kind {
	case entryBare, entryOther:
		rec.Term = e.bare
		return rec
	}

	for _, f := range fieldSynonyms {
		for _, key := range f.keys {
			v, ok := e.obj[key]
			if !ok {
				continue
			}
			s := stringValue(v)
			if s == "" {
				continue
			}
			switch f.target {
			case "term":
				rec.Term = s
			case "type":
				rec.Type = s
			case "context":
				rec.Context = s
			}
			break
		}
	}

	// No term field resolved: fall back to the first non-empty value in
	// the entry, then to the sentinel.
	if rec.Term == "" {
		keys := make([]string, 0, len(e.obj))
		for k := range e.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := stringValue(e.obj[k]); s != "" {
				rec.Term = s
				break
			}
		}
	}
	if rec.Term == "" {
		rec.Term = UnknownTerm
	}
	return rec
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

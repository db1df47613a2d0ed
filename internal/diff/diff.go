// Package diff computes exact structural deltas between content
// snapshots and applies them back. Applying a delta to its source
// snapshot reproduces the target snapshot byte-for-byte; deltas are
// transforms, not display summaries.
package diff

import (
	"sort"

	"prompt-versioning/internal/content"
)

// autoKeyFields are tried in order when no explicit sequence key is
// configured for a path.
var autoKeyFields = []string{"name", "id", "key"}

// Engine computes deltas. SequenceKeys maps a sequence field path (in
// Path.String() form, e.g. "variables") to the element field that
// identifies elements across edits; sequences without a configured or
// detectable key are aligned by position.
type Engine struct {
	seqKeys map[string]string
}

func NewEngine(sequenceKeys map[string]string) *Engine {
	return &Engine{seqKeys: sequenceKeys}
}

// Diff returns the ordered delta transforming old into new. It is pure
// and deterministic: objects are walked in sorted key order, sequences
// are aligned with an LCS match. Diff(a, a) is empty.
func (e *Engine) Diff(oldV, newV content.Value) Changes {
	var out Changes
	e.walk(Path{}, oldV, newV, &out)
	return out
}

func (e *Engine) walk(p Path, oldV, newV content.Value, out *Changes) {
	switch {
	case oldV == nil && newV == nil:
		return
	case oldV == nil:
		*out = append(*out, added(p, newV))
		return
	case newV == nil:
		*out = append(*out, removed(p, oldV))
		return
	}
	if oldV.Kind() != newV.Kind() {
		*out = append(*out, modified(p, oldV, newV))
		return
	}
	switch ov := oldV.(type) {
	case content.Object:
		nv := newV.(content.Object)
		for _, k := range unionKeys(ov, nv) {
			oc, inOld := ov[k]
			nc, inNew := nv[k]
			child := p.Child(k)
			switch {
			case !inOld:
				*out = append(*out, added(child, nc))
			case !inNew:
				*out = append(*out, removed(child, oc))
			default:
				e.walk(child, oc, nc, out)
			}
		}
	case content.Sequence:
		e.walkSequence(p, ov, newV.(content.Sequence), out)
	default:
		if !content.Equal(oldV, newV) {
			*out = append(*out, modified(p, oldV, newV))
		}
	}
}

func unionKeys(a, b content.Object) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// walkSequence aligns two sequences and emits element-level changes.
// Indices in emitted paths address the sequence as already transformed
// by the preceding changes, so sequential application is exact. When
// more than half the elements differ the whole field is reported as a
// single Modified entry to avoid diff noise on wholesale rewrites.
func (e *Engine) walkSequence(p Path, oldS, newS content.Sequence, out *Changes) {
	keyField := e.sequenceKey(p, oldS, newS)

	match := func(a, b content.Value) bool { return content.Equal(a, b) }
	if keyField != "" {
		match = func(a, b content.Value) bool {
			return elementKey(a, keyField) == elementKey(b, keyField)
		}
	}

	pairs := lcsPairs(oldS, newS, match)

	var buf Changes
	equalKeeps := 0
	w := 0 // index into the sequence as transformed so far
	ai, bi := 0, 0
	emitGap := func(dels, inss content.Sequence) {
		if keyField != "" {
			// key-identified elements: a changed key really is a
			// removal plus an addition, never an in-place rewrite
			for _, d := range dels {
				buf = append(buf, removed(p.At(w), d))
			}
			for _, n := range inss {
				buf = append(buf, added(p.At(w), n))
				w++
			}
			return
		}
		paired := len(dels)
		if len(inss) < paired {
			paired = len(inss)
		}
		for j := 0; j < paired; j++ {
			e.walk(p.At(w), dels[j], inss[j], &buf)
			w++
		}
		for _, d := range dels[paired:] {
			buf = append(buf, removed(p.At(w), d))
		}
		for _, n := range inss[paired:] {
			buf = append(buf, added(p.At(w), n))
			w++
		}
	}

	for _, pr := range pairs {
		emitGap(oldS[ai:pr.a], newS[bi:pr.b])
		if content.Equal(oldS[pr.a], newS[pr.b]) {
			equalKeeps++
		} else {
			// same key, different body
			e.walk(p.At(w), oldS[pr.a], newS[pr.b], &buf)
		}
		w++
		ai, bi = pr.a+1, pr.b+1
	}
	emitGap(oldS[ai:], newS[bi:])

	maxLen := len(oldS)
	if len(newS) > maxLen {
		maxLen = len(newS)
	}
	if maxLen > 0 && (maxLen-equalKeeps)*2 > maxLen {
		*out = append(*out, modified(p, oldS, newS))
		return
	}
	*out = append(*out, buf...)
}

// sequenceKey picks the natural key for aligning elements of the
// sequence at path p: an explicit configuration wins, otherwise a
// conventional identifying field present on every element of both
// sides and unique within each side.
func (e *Engine) sequenceKey(p Path, oldS, newS content.Sequence) string {
	if k, ok := e.seqKeys[p.String()]; ok {
		return k
	}
	for _, cand := range autoKeyFields {
		if keyedBy(oldS, cand) && keyedBy(newS, cand) {
			return cand
		}
	}
	return ""
}

func keyedBy(s content.Sequence, field string) bool {
	seen := make(map[string]struct{}, len(s))
	for _, el := range s {
		obj, ok := el.(content.Object)
		if !ok {
			return false
		}
		kv, ok := obj[field].(content.String)
		if !ok {
			return false
		}
		if _, dup := seen[string(kv)]; dup {
			return false
		}
		seen[string(kv)] = struct{}{}
	}
	return true
}

func elementKey(v content.Value, field string) string {
	obj, ok := v.(content.Object)
	if !ok {
		return ""
	}
	kv, _ := obj[field].(content.String)
	return string(kv)
}

type matchPair struct{ a, b int }

// lcsPairs returns the longest common subsequence of the two slices
// under the given match predicate, as increasing index pairs.
func lcsPairs(a, b content.Sequence, match func(x, y content.Value) bool) []matchPair {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if match(a[i], b[j]) {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	var pairs []matchPair
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case match(a[i], b[j]):
			pairs = append(pairs, matchPair{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return pairs
}

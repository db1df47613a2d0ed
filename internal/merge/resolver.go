// Package merge reconciles two independently edited content snapshots
// against their common ancestor. Conflicts are surfaced, never silently
// resolved: a conflicted result keeps the ancestor's value in place and
// is never persisted by this package.
package merge

import (
	"fmt"
	"sort"

	"prompt-versioning/internal/content"
	"prompt-versioning/internal/diff"
)

// Conflict names one field both sides changed to different values.
type Conflict struct {
	Path   diff.Path
	Base   content.Value // ancestor's value, retained in the tentative content
	ValueA content.Value // nil when side A removed the field
	ValueB content.Value
}

// Result is the outcome of a three-way merge. Content is the merged
// document when Merged(), otherwise the partially applied document with
// ancestor values left at every conflicted path.
type Result struct {
	Content   content.Value
	Applied   diff.Changes
	Conflicts []Conflict
}

// Merged reports whether the merge completed without conflicts.
func (r Result) Merged() bool { return len(r.Conflicts) == 0 }

// Resolver performs three-way merges on top of the diff engine.
type Resolver struct {
	engine *diff.Engine
}

func NewResolver(engine *diff.Engine) *Resolver {
	return &Resolver{engine: engine}
}

// domain is the unit of conflict detection: the group of changes from
// one side under one independent subtree. A change's domain is its path
// truncated before the first sequence index, so all edits inside one
// sequence field share a domain; two sides editing the same sequence
// cannot be interleaved positionally and must be reconciled whole.
type domain struct {
	path    diff.Path
	changes diff.Changes
}

func domainPath(p diff.Path) diff.Path {
	for i, seg := range p {
		if seg.IsIndex() {
			return p[:i]
		}
	}
	return p
}

func groupByDomain(cs diff.Changes) map[string]*domain {
	out := make(map[string]*domain)
	for _, ch := range cs {
		dp := domainPath(ch.Path)
		key := dp.String()
		d, ok := out[key]
		if !ok {
			d = &domain{path: dp}
			out[key] = d
		}
		d.changes = append(d.changes, ch)
	}
	return out
}

// Merge reconciles versions a and b of the same document against their
// common ancestor base. A field changed by exactly one side takes that
// side's value; a field changed by both sides to the same value is
// applied once; a field changed by both sides to different values is
// reported as a Conflict and keeps the base value.
func (r *Resolver) Merge(base, a, b content.Value) (Result, error) {
	domsA := groupByDomain(r.engine.Diff(base, a))
	domsB := groupByDomain(r.engine.Diff(base, b))

	conflictedA := make(map[string]bool)
	conflictedB := make(map[string]bool)
	var conflicts []Conflict

	// Compare every A-domain against every B-domain that overlaps it
	// (equal path or ancestor/descendant). Domain counts are small:
	// they are bounded by the number of top-level fields touched.
	for keyA, dA := range domsA {
		for keyB, dB := range domsB {
			if !dA.path.HasPrefix(dB.path) && !dB.path.HasPrefix(dA.path) {
				continue
			}
			shorter := dA.path
			if len(dB.path) < len(dA.path) {
				shorter = dB.path
			}
			va := valueAt(a, shorter)
			vb := valueAt(b, shorter)
			if content.Equal(va, vb) {
				// both sides arrived at the same result; take one copy,
				// preferring the shallower domain which subsumes the other
				if len(dA.path) <= len(dB.path) {
					conflictedB[keyB] = true
				} else {
					conflictedA[keyA] = true
				}
				continue
			}
			conflicts = append(conflicts, Conflict{
				Path:   shorter,
				Base:   valueAt(base, shorter),
				ValueA: va,
				ValueB: vb,
			})
			conflictedA[keyA] = true
			conflictedB[keyB] = true
		}
	}

	var applied diff.Changes
	for _, key := range sortedKeys(domsA) {
		if !conflictedA[key] {
			applied = append(applied, domsA[key].changes...)
		}
	}
	for _, key := range sortedKeys(domsB) {
		if !conflictedB[key] {
			applied = append(applied, domsB[key].changes...)
		}
	}

	merged, err := diff.Apply(base, applied)
	if err != nil {
		return Result{}, fmt.Errorf("apply merged changes: %w", err)
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Path.String() < conflicts[j].Path.String()
	})
	return Result{Content: merged, Applied: applied, Conflicts: conflicts}, nil
}

func sortedKeys(m map[string]*domain) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueAt navigates object fields; domain paths never contain sequence
// indices. Returns nil when the path is absent.
func valueAt(doc content.Value, p diff.Path) content.Value {
	cur := doc
	for _, seg := range p {
		obj, ok := cur.(content.Object)
		if !ok {
			return nil
		}
		cur, ok = obj[seg.Field]
		if !ok {
			return nil
		}
	}
	return cur
}

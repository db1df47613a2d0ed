package diff

import (
	"fmt"

	"prompt-versioning/internal/content"
)

// Apply transforms base by the ordered delta and returns the result.
// base is never mutated. Apply(a, engine.Diff(a, b)) equals b exactly;
// a delta that does not fit the document (missing path, wrong shape)
// is an error, signalling either a corrupted delta or a mismatched
// base snapshot.
func Apply(base content.Value, changes Changes) (content.Value, error) {
	cur := base
	if cur != nil {
		cur = content.Clone(cur)
	}
	for i, ch := range changes {
		var err error
		switch ch.Op {
		case OpAdded:
			cur, err = setAt(cur, ch.Path, content.Clone(ch.New), true)
		case OpModified:
			cur, err = setAt(cur, ch.Path, content.Clone(ch.New), false)
		case OpRemoved:
			cur, err = removeAt(cur, ch.Path)
		default:
			err = fmt.Errorf("unknown change op %q", ch.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("apply change %d (%s %s): %w", i, ch.Op, ch.Path, err)
		}
	}
	return cur, nil
}

func setAt(doc content.Value, p Path, v content.Value, insert bool) (content.Value, error) {
	if len(p) == 0 {
		if insert && doc != nil {
			return nil, fmt.Errorf("document already present")
		}
		if !insert && doc == nil {
			return nil, fmt.Errorf("no document to modify")
		}
		return v, nil
	}
	seg := p[0]
	if seg.IsIndex() {
		seq, ok := doc.(content.Sequence)
		if !ok {
			return nil, fmt.Errorf("expected sequence at index segment, got %v", kindOf(doc))
		}
		if len(p) == 1 {
			if insert {
				if seg.Index > len(seq) {
					return nil, fmt.Errorf("insert index %d out of range (len %d)", seg.Index, len(seq))
				}
				out := make(content.Sequence, 0, len(seq)+1)
				out = append(out, seq[:seg.Index]...)
				out = append(out, v)
				out = append(out, seq[seg.Index:]...)
				return out, nil
			}
			if seg.Index >= len(seq) {
				return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, len(seq))
			}
			seq[seg.Index] = v
			return seq, nil
		}
		if seg.Index >= len(seq) {
			return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, len(seq))
		}
		child, err := setAt(seq[seg.Index], p[1:], v, insert)
		if err != nil {
			return nil, err
		}
		seq[seg.Index] = child
		return seq, nil
	}
	obj, ok := doc.(content.Object)
	if !ok {
		return nil, fmt.Errorf("expected object at field %q, got %v", seg.Field, kindOf(doc))
	}
	if len(p) == 1 {
		_, exists := obj[seg.Field]
		if insert && exists {
			return nil, fmt.Errorf("field %q already present", seg.Field)
		}
		if !insert && !exists {
			return nil, fmt.Errorf("field %q not present", seg.Field)
		}
		obj[seg.Field] = v
		return obj, nil
	}
	childDoc, exists := obj[seg.Field]
	if !exists {
		return nil, fmt.Errorf("field %q not present", seg.Field)
	}
	child, err := setAt(childDoc, p[1:], v, insert)
	if err != nil {
		return nil, err
	}
	obj[seg.Field] = child
	return obj, nil
}

func removeAt(doc content.Value, p Path) (content.Value, error) {
	if len(p) == 0 {
		if doc == nil {
			return nil, fmt.Errorf("no document to remove")
		}
		return nil, nil
	}
	seg := p[0]
	if seg.IsIndex() {
		seq, ok := doc.(content.Sequence)
		if !ok {
			return nil, fmt.Errorf("expected sequence at index segment, got %v", kindOf(doc))
		}
		if seg.Index >= len(seq) {
			return nil, fmt.Errorf("index %d out of range (len %d)", seg.Index, len(seq))
		}
		if len(p) == 1 {
			out := make(content.Sequence, 0, len(seq)-1)
			out = append(out, seq[:seg.Index]...)
			out = append(out, seq[seg.Index+1:]...)
			return out, nil
		}
		child, err := removeAt(seq[seg.Index], p[1:])
		if err != nil {
			return nil, err
		}
		seq[seg.Index] = child
		return seq, nil
	}
	obj, ok := doc.(content.Object)
	if !ok {
		return nil, fmt.Errorf("expected object at field %q, got %v", seg.Field, kindOf(doc))
	}
	childDoc, exists := obj[seg.Field]
	if !exists {
		return nil, fmt.Errorf("field %q not present", seg.Field)
	}
	if len(p) == 1 {
		delete(obj, seg.Field)
		return obj, nil
	}
	child, err := removeAt(childDoc, p[1:])
	if err != nil {
		return nil, err
	}
	obj[seg.Field] = child
	return obj, nil
}

func kindOf(v content.Value) content.Kind {
	if v == nil {
		return "absent"
	}
	return v.Kind()
}

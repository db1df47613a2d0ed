package diff

import (
	"encoding/json"
	"fmt"

	"prompt-versioning/internal/content"
)

// Op classifies a field change.
type Op string

const (
	OpAdded    Op = "added"
	OpRemoved  Op = "removed"
	OpModified Op = "modified"
)

// Change is one field-level edit. Old is nil for Added, New is nil for
// Removed, both are set for Modified.
type Change struct {
	Op   Op
	Path Path
	Old  content.Value
	New  content.Value
}

// Changes is an ordered delta between two content snapshots. Order is
// significant: Apply interprets each path against the document as
// already transformed by the preceding changes.
type Changes []Change

// Empty reports whether the delta carries no edits.
func (cs Changes) Empty() bool { return len(cs) == 0 }

func added(p Path, v content.Value) Change {
	return Change{Op: OpAdded, Path: p, New: v}
}

func removed(p Path, v content.Value) Change {
	return Change{Op: OpRemoved, Path: p, Old: v}
}

func modified(p Path, oldV, newV content.Value) Change {
	return Change{Op: OpModified, Path: p, Old: oldV, New: newV}
}

type changeWire struct {
	Op       Op              `json:"op"`
	Path     string          `json:"path"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
}

// MarshalJSON encodes the change with its path in display form and the
// values in canonical content JSON.
func (c Change) MarshalJSON() ([]byte, error) {
	w := changeWire{Op: c.Op, Path: c.Path.String()}
	if c.Old != nil {
		data, err := content.EncodeJSON(c.Old)
		if err != nil {
			return nil, err
		}
		w.OldValue = data
	}
	if c.New != nil {
		data, err := content.EncodeJSON(c.New)
		if err != nil {
			return nil, err
		}
		w.NewValue = data
	}
	return json.Marshal(w)
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var w changeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	path, err := ParsePath(w.Path)
	if err != nil {
		return err
	}
	switch w.Op {
	case OpAdded, OpRemoved, OpModified:
	default:
		return fmt.Errorf("unknown change op %q", w.Op)
	}
	c.Op = w.Op
	c.Path = path
	c.Old, c.New = nil, nil
	if len(w.OldValue) > 0 {
		if c.Old, err = content.DecodeJSON(w.OldValue); err != nil {
			return err
		}
	}
	if len(w.NewValue) > 0 {
		if c.New, err = content.DecodeJSON(w.NewValue); err != nil {
			return err
		}
	}
	return nil
}

package diff

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment addresses one step into a content tree: either a named object
// field or a sequence index.
type Segment struct {
	Field string
	Index int
}

// FieldSeg addresses an object field.
func FieldSeg(name string) Segment { return Segment{Field: name, Index: -1} }

// IndexSeg addresses a sequence element.
func IndexSeg(i int) Segment { return Segment{Index: i} }

// IsIndex reports whether the segment addresses a sequence element.
func (s Segment) IsIndex() bool { return s.Index >= 0 }

// Path is a dotted/indexed address into a content tree, e.g. steps[2]
// or variables["target audience"].type. The empty path addresses the
// document root and renders as "$".
type Path []Segment

// Child extends the path with an object field.
func (p Path) Child(field string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = FieldSeg(field)
	return out
}

// At extends the path with a sequence index.
func (p Path) At(index int) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = IndexSeg(index)
	return out
}

// HasPrefix reports whether prefix addresses p itself or one of its
// ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, seg := range prefix {
		if p[i] != seg {
			return false
		}
	}
	return true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (p Path) String() string {
	if len(p) == 0 {
		return "$"
	}
	var b strings.Builder
	for i, seg := range p {
		switch {
		case seg.IsIndex():
			fmt.Fprintf(&b, "[%d]", seg.Index)
		case isIdentifier(seg.Field):
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Field)
		default:
			fmt.Fprintf(&b, "[%q]", seg.Field)
		}
	}
	return b.String()
}

// ParsePath is the inverse of String. It accepts the formats String
// produces; anything else is an error.
func ParsePath(s string) (Path, error) {
	if s == "$" || s == "" {
		return Path{}, nil
	}
	var p Path
	i := 0
	for i < len(s) {
		switch {
		case s[i] == '.':
			if i == 0 || i == len(s)-1 {
				return nil, fmt.Errorf("invalid path %q", s)
			}
			i++
		case s[i] == '[' && i+1 < len(s) && s[i+1] == '"':
			// quoted key: the name itself may contain ']' or an escaped
			// quote, so scan to the closing unescaped quote
			j := i + 2
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) || j+1 >= len(s) || s[j+1] != ']' {
				return nil, fmt.Errorf("unterminated key in path %q", s)
			}
			key, err := strconv.Unquote(s[i+1 : j+1])
			if err != nil {
				return nil, fmt.Errorf("invalid key in path %q: %w", s, err)
			}
			p = append(p, FieldSeg(key))
			i = j + 2
		case s[i] == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated bracket in path %q", s)
			}
			idx, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index in path %q", s)
			}
			p = append(p, IndexSeg(idx))
			i += end + 1
		default:
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			name := s[i:j]
			if !isIdentifier(name) {
				return nil, fmt.Errorf("invalid field %q in path %q", name, s)
			}
			p = append(p, FieldSeg(name))
			i = j
		}
	}
	return p, nil
}

package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EncodeJSON serializes a content tree to canonical JSON: object keys
// sorted, no insignificant whitespace. The encoding is the wire and
// storage format for content and the input to Hash.
func EncodeJSON(v Value) ([]byte, error) {
	iv := ToInterface(v)
	// encoding/json sorts map keys, which gives us canonical key order.
	data, err := json.Marshal(iv)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return data, nil
}

// DecodeJSON parses canonical (or any) JSON into a content tree.
func DecodeJSON(data []byte) (Value, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return FromInterface(raw)
}

// ToInterface converts a content tree to the generic shapes produced by
// encoding/json, for schema validation and serialization.
func ToInterface(v Value) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	case Null:
		return nil
	case Sequence:
		out := make([]interface{}, len(val))
		for i, el := range val {
			out[i] = ToInterface(el)
		}
		return out
	case Object:
		out := make(map[string]interface{}, len(val))
		for k, el := range val {
			out[k] = ToInterface(el)
		}
		return out
	}
	return nil
}

// FromInterface converts generic JSON shapes into the closed value set.
// Unknown Go types are rejected rather than smuggled through untyped.
func FromInterface(raw interface{}) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(val), nil
	case float64:
		return Number(val), nil
	case int:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case bool:
		return Bool(val), nil
	case []interface{}:
		out := make(Sequence, len(val))
		for i, el := range val {
			cv, err := FromInterface(el)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case map[string]interface{}:
		out := make(Object, len(val))
		for k, el := range val {
			cv, err := FromInterface(el)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content value type %T", raw)
	}
}

// Hash returns the hex-encoded SHA-256 digest of the canonical encoding
// of v. A pure function of content: equal trees hash equal.
func Hash(v Value) (string, error) {
	data, err := EncodeJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

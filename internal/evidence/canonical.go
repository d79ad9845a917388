package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON serializes a payload deterministically: object keys are
// emitted in sorted order at every nesting level, and numbers that arrived
// as json.Number are written back verbatim so a decode/re-encode cycle is
// byte-stable. Two payloads that are structurally equal always produce the
// same bytes, which is what makes the content hash reproducible.
func CanonicalJSON(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload parses canonical (or any) JSON bytes into a payload map,
// preserving number representations via json.Number so the result can be
// re-canonicalized to the identical bytes.
func DecodePayload(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing payload JSON: %w", err)
	}
	return payload, nil
}

// writeCanonical recursively emits v as JSON with sorted object keys.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil

	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil

	case json.Number:
		buf.WriteString(val.String())
		return nil

	case string:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyData, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyData)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		// Concrete Go values (ints, floats, structs, typed maps/slices):
		// round-trip through encoding/json into the generic forms above.
		// json.Marshal gives a deterministic representation for scalars;
		// composites are re-decoded with UseNumber and recursed.
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonicalizing %T: %w", val, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("canonicalizing %T: %w", val, err)
		}
		// Scalars decode to json.Number/string/bool/nil and hit those
		// cases on recursion without looping back here.
		return writeCanonical(buf, generic)
	}
}

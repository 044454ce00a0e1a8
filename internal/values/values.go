package values

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Wrapper keys.
const (
	KeyInteger = "$integer"
	KeyBinary  = "$binary"
	KeySet     = "$set"
	KeyMap     = "$map"
)

// Errors
var (
	ErrIntegerLength = errors.New("values: $integer must be 8 bytes")
	ErrMalformed     = errors.New("values: malformed wrapper")
)

// Set is an unordered collection of values.
type Set []any

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   any
	Value any
}

// Map is a collection of pairs whose keys need not be strings.
type Map []MapEntry

// Encode returns v with every int64, []byte, Set and Map replaced by its
// wrapper object. Slices and string-keyed maps are walked recursively.
func Encode(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
		return map[string]any{KeyInteger: base64.StdEncoding.EncodeToString(buf[:])}, nil

	case []byte:
		return map[string]any{KeyBinary: base64.StdEncoding.EncodeToString(x)}, nil

	case Set:
		out := make([]any, len(x))
		for i, elem := range x {
			enc, err := Encode(elem)
			if err != nil {
				return nil, fmt.Errorf("$set[%d]: %w", i, err)
			}
			out[i] = enc
		}
		return map[string]any{KeySet: out}, nil

	case Map:
		out := make([]any, len(x))
		for i, e := range x {
			k, err := Encode(e.Key)
			if err != nil {
				return nil, fmt.Errorf("$map[%d] key: %w", i, err)
			}
			val, err := Encode(e.Value)
			if err != nil {
				return nil, fmt.Errorf("$map[%d] value: %w", i, err)
			}
			out[i] = []any{k, val}
		}
		return map[string]any{KeyMap: out}, nil

	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			enc, err := Encode(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			enc, err := Encode(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = enc
		}
		return out, nil

	default:
		return v, nil
	}
}

// Marshal encodes v and renders it as JSON.
func Marshal(v any) ([]byte, error) {
	enc, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// Decode reverses Encode on a value produced by encoding/json.
func Decode(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			dec, err := Decode(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = dec
		}
		return out, nil

	case map[string]any:
		if raw, ok := x[KeyBinary]; ok {
			return decodeBinary(raw)
		}
		if raw, ok := x[KeyInteger]; ok {
			return decodeInteger(raw)
		}
		if raw, ok := x[KeySet]; ok {
			return decodeSet(raw)
		}
		if raw, ok := x[KeyMap]; ok {
			return decodeMap(raw)
		}

		out := make(map[string]any, len(x))
		for k, elem := range x {
			dec, err := Decode(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = dec
		}
		return out, nil

	default:
		return v, nil
	}
}

// Unmarshal parses JSON and decodes wrapper objects.
func Unmarshal(data []byte) (any, error) {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return Decode(raw)
}

func decodeBase64(key string, raw any) ([]byte, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want string", ErrMalformed, key, raw)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return b, nil
}

func decodeBinary(raw any) ([]byte, error) {
	return decodeBase64(KeyBinary, raw)
}

func decodeInteger(raw any) (int64, error) {
	b, err := decodeBase64(KeyInteger, raw)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: got %d", ErrIntegerLength, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func decodeSet(raw any) (Set, error) {
	elems, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: $set is %T, want array", ErrMalformed, raw)
	}
	out := make(Set, len(elems))
	for i, elem := range elems {
		dec, err := Decode(elem)
		if err != nil {
			return nil, fmt.Errorf("$set[%d]: %w", i, err)
		}
		out[i] = dec
	}
	return out, nil
}

func decodeMap(raw any) (Map, error) {
	pairs, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: $map is %T, want array", ErrMalformed, raw)
	}
	out := make(Map, len(pairs))
	for i, p := range pairs {
		pair, ok := p.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: $map[%d] is not a [key, value] pair", ErrMalformed, i)
		}
		k, err := Decode(pair[0])
		if err != nil {
			return nil, fmt.Errorf("$map[%d] key: %w", i, err)
		}
		v, err := Decode(pair[1])
		if err != nil {
			return nil, fmt.Errorf("$map[%d] value: %w", i, err)
		}
		out[i] = MapEntry{Key: k, Value: v}
	}
	return out, nil
}

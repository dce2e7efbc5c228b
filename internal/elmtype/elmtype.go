// Package elmtype derives Elm type annotations from Go types.
//
// Only types that can cross an Elm port are accepted: Bool, Int, Float,
// String, Maybe, List, records, unit and Json.Encode.Value.
package elmtype

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// ErrUnsupported is returned for Go types with no port-compatible Elm type.
var ErrUnsupported = errors.New("type cannot cross an Elm port")

var rawMessageType = reflect.TypeOf(json.RawMessage(nil))

// Of returns the Elm annotation for t.
func Of(t reflect.Type) (string, error) {
	return convert(t, nil)
}

// Input returns the annotation for t wrapped in parentheses, ready to be
// used as a function argument type.
func Input(t reflect.Type) (string, error) {
	s, err := Of(t)
	if err != nil {
		return "", err
	}
	return "(" + s + ")", nil
}

// For is Of for a type parameter.
func For[T any]() (string, error) {
	return Of(reflect.TypeOf((*T)(nil)).Elem())
}

// InputFor is Input for a type parameter.
func InputFor[T any]() (string, error) {
	return Input(reflect.TypeOf((*T)(nil)).Elem())
}

func convert(t reflect.Type, visiting []reflect.Type) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: nil type", ErrUnsupported)
	}
	if t == rawMessageType {
		return "Json.Encode.Value", nil
	}
	for _, v := range visiting {
		if v == t {
			return "", fmt.Errorf("%w: %s is recursive", ErrUnsupported, t)
		}
	}

	switch t.Kind() {
	case reflect.Bool:
		return "Bool", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Int", nil
	case reflect.Float32, reflect.Float64:
		return "Float", nil
	case reflect.String:
		return "String", nil
	case reflect.Pointer:
		inner, err := convert(t.Elem(), append(visiting, t))
		if err != nil {
			return "", err
		}
		return "Maybe " + argument(inner), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "", fmt.Errorf("%w: %s encodes as base64 text, use string", ErrUnsupported, t)
		}
		fallthrough
	case reflect.Array:
		inner, err := convert(t.Elem(), append(visiting, t))
		if err != nil {
			return "", err
		}
		return "List " + argument(inner), nil
	case reflect.Struct:
		return record(t, append(visiting, t))
	case reflect.Map:
		return "", fmt.Errorf("%w: %s (Elm ports cannot carry Dict values)", ErrUnsupported, t)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, t)
}

type field struct {
	name string
	elm  string
}

func record(t reflect.Type, visiting []reflect.Type) (string, error) {
	fields, err := recordFields(t, visiting)
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return "()", nil
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.name + " : " + f.elm
	}
	return "{ " + strings.Join(parts, ", ") + " }", nil
}

// recordFields follows encoding/json naming: json tags win, "-" skips,
// untagged embedded structs are flattened.
func recordFields(t reflect.Type, visiting []reflect.Type) ([]field, error) {
	var fields []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
			inner, err := recordFields(sf.Type, append(visiting, sf.Type))
			if err != nil {
				return nil, err
			}
			fields = append(fields, inner...)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		if !isFieldName(name) {
			return nil, fmt.Errorf("%w: field %s of %s maps to %q, not a valid Elm record field", ErrUnsupported, sf.Name, t, name)
		}
		elm, err := convert(sf.Type, visiting)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		fields = append(fields, field{name: name, elm: elm})
	}
	return fields, nil
}

// isFieldName reports whether s is a lower-case Elm identifier.
func isFieldName(s string) bool {
	for i, r := range s {
		switch {
		case i == 0 && !unicode.IsLower(r):
			return false
		case r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r):
			return false
		}
	}
	return s != ""
}

// argument parenthesizes compound annotations used as type arguments.
func argument(s string) string {
	if strings.ContainsRune(s, ' ') && !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "(") {
		return "(" + s + ")"
	}
	return s
}

package registry

import (
	"fmt"
	"regexp"
	"strconv"
)

// Object is one JSON object from a registry response. The typed getters
// distinguish an absent key from a key holding the wrong type; both qualify
// as ErrMalformed but carry different markers.
type Object map[string]any

// GetString returns the string value at name.
func (o Object) GetString(name string) (string, error) {
	raw, ok := o[name]
	if !ok {
		return "", absent(name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", wrongType(name, "string")
	}
	return s, nil
}

// GetUint returns the unsigned integer value at name. JSON numbers decode
// as float64; negative or fractional values are rejected.
func (o Object) GetUint(name string) (uint64, error) {
	raw, ok := o[name]
	if !ok {
		return 0, absent(name)
	}
	f, ok := raw.(float64)
	if !ok || f < 0 || f != float64(uint64(f)) {
		return 0, wrongType(name, "unsigned integer")
	}
	return uint64(f), nil
}

// GetFloat returns the numeric value at name.
func (o Object) GetFloat(name string) (float64, error) {
	raw, ok := o[name]
	if !ok {
		return 0, absent(name)
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, wrongType(name, "number")
	}
	return f, nil
}

// GetBool returns the boolean value at name.
func (o Object) GetBool(name string) (bool, error) {
	raw, ok := o[name]
	if !ok {
		return false, absent(name)
	}
	b, ok := raw.(bool)
	if !ok {
		return false, wrongType(name, "boolean")
	}
	return b, nil
}

// GetObject returns the nested object at name.
func (o Object) GetObject(name string) (Object, error) {
	raw, ok := o[name]
	if !ok {
		return nil, absent(name)
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, wrongType(name, "object")
	}
	return Object(m), nil
}

// GetArray returns the array at name.
func (o Object) GetArray(name string) ([]any, error) {
	raw, ok := o[name]
	if !ok {
		return nil, absent(name)
	}
	a, ok := raw.([]any)
	if !ok {
		return nil, wrongType(name, "array")
	}
	return a, nil
}

// GetObjectArray returns the array at name with every entry asserted to be
// an object.
func (o Object) GetObjectArray(name string) ([]Object, error) {
	arr, err := o.GetArray(name)
	if err != nil {
		return nil, err
	}
	out := make([]Object, 0, len(arr))
	for i, raw := range arr {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, wrongType(fmt.Sprintf("%s[%d]", name, i), "object")
		}
		out = append(out, Object(m))
	}
	return out, nil
}

func absent(name string) error {
	return fmt.Errorf("%w: field %q: %w", ErrMalformed, name, ErrKeyAbsent)
}

func wrongType(name, want string) error {
	return fmt.Errorf("%w: field %q is not a %s: %w", ErrMalformed, name, want, ErrWrongType)
}

var trailingNumberRe = regexp.MustCompile(`/(\d+)/?$`)

// TrailingNumber extracts the numeric resource id terminating a registry
// resource URL, e.g. "/esv/v1/vendors/2" yields 2.
func TrailingNumber(url string) (uint64, error) {
	m := trailingNumberRe.FindStringSubmatch(url)
	if m == nil {
		return 0, fmt.Errorf("%w: no trailing id in %q", ErrMalformed, url)
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: trailing id in %q: %v", ErrMalformed, url, err)
	}
	return id, nil
}

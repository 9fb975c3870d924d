package registry

import (
	"encoding/json"
	"fmt"
)

// protocolVersion is the registry protocol version sent with every request
// and expected in every response envelope.
const protocolVersion = "1.0"

// WrapVersion builds the two-entry request envelope the registry expects:
// a version object followed by the payload object.
func WrapVersion(payload Object) []any {
	return []any{
		map[string]any{"esvVersion": protocolVersion},
		payload,
	}
}

// StripVersion parses a response body and removes the version envelope,
// returning the payload entry. Responses that are not the expected
// two-entry array are ErrMalformed.
func StripVersion(body []byte) (Object, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON array: %v", ErrMalformed, err)
	}
	if len(arr) < 2 {
		return nil, fmt.Errorf("%w: response envelope has %d entries, want 2", ErrMalformed, len(arr))
	}

	var version map[string]any
	if err := json.Unmarshal(arr[0], &version); err != nil {
		return nil, fmt.Errorf("%w: version entry: %v", ErrMalformed, err)
	}
	if _, ok := version["esvVersion"]; !ok {
		return nil, fmt.Errorf("%w: version entry missing esvVersion", ErrMalformed)
	}

	var payload map[string]any
	if err := json.Unmarshal(arr[1], &payload); err != nil {
		return nil, fmt.Errorf("%w: payload entry: %v", ErrMalformed, err)
	}
	return Object(payload), nil
}

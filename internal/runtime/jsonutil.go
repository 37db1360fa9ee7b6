package runtime

import "encoding/json"

// toJSONString renders v as a JSON string, passing already-encoded JSON
// strings through unchanged so callers can feed either a Go value or a raw
// JSON payload to gjson/jsonpath-backed helpers.
func toJSONString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

package library

import (
	"fmt"
	"strconv"
	"strings"
)

// toFloat64 converts a value to float64.
// Handles the integer and float types a decoder may hand over, and numeric
// strings.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// toBool converts a value to bool.
// Only booleans and the strings "true"/"false" convert.
func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// toString formats a value the way print shows it.
func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func numberArg(element string, args map[string]any, slot string) (float64, error) {
	v, ok := args[slot]
	if !ok {
		return 0, fmt.Errorf("%s: missing value for %s", element, slot)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("%s: %s must be a number, got %T", element, slot, v)
	}
	return f, nil
}

func boolArg(element string, args map[string]any, slot string) (bool, error) {
	v, ok := args[slot]
	if !ok {
		return false, fmt.Errorf("%s: missing value for %s", element, slot)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %s must be a boolean, got %T", element, slot, v)
	}
	return b, nil
}

func textArg(element string, args map[string]any, slot string) (string, error) {
	v, ok := args[slot]
	if !ok {
		return "", fmt.Errorf("%s: missing value for %s", element, slot)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: %s must be text, got %T", element, slot, v)
	}
	return s, nil
}

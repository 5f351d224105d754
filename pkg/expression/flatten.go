// Package expression evaluates user-authored edge conditions over a flattened execution context.
package expression

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Flatten turns nested data into a single-level map of dotted keys to float64 or string.
// Booleans become 1 or 0, arrays and objects are also exposed as JSON strings, nil leaves are dropped.
func Flatten(data map[string]any) map[string]any {
	flat := make(map[string]any)

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		flattenValue(flat, key, data[key])
	}

	return flat
}

func flattenValue(flat map[string]any, key string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case bool:
		if v {
			flat[key] = float64(1)
		} else {
			flat[key] = float64(0)
		}
	case string:
		flat[key] = v
	case float64:
		flat[key] = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			flat[key] = v.String()

			return
		}

		flat[key] = f
	case map[string]any:
		flat[key] = toJSON(v)

		for child, childValue := range v {
			flattenValue(flat, key+"."+child, childValue)
		}
	case []any:
		flat[key] = toJSON(v)
	default:
		if f, ok := toFloat(value); ok {
			flat[key] = f

			return
		}

		// named maps, typed slices and structs are normalized through JSON
		body, err := json.Marshal(value)
		if err != nil {
			return
		}

		var normalized any

		err = json.Unmarshal(body, &normalized)
		if err != nil {
			return
		}

		flattenValue(flat, key, normalized)
	}
}

func toFloat(value any) (float64, bool) {
	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func toJSON(value any) string {
	body, err := json.Marshal(value)
	if err != nil {
		return ""
	}

	return string(body)
}

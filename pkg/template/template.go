// Package template renders {{path}} placeholders against an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Interpolate replaces every {{path}} in input with the value found at path in data.
// Paths that do not resolve are kept as written so broken templates stay visible.
func Interpolate(input string, data map[string]any) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)

		value, found := Lookup(data, groups[1])
		if !found {
			return match
		}

		return Stringify(value)
	})
}

// Lookup resolves a dot separated path through nested maps and slices.
func Lookup(data map[string]any, path string) (any, bool) {
	var current any = data

	for _, segment := range strings.Split(strings.TrimSpace(path), ".") {
		if segment == "" {
			return nil, false
		}

		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			value, ok := reflectLookup(current, segment)
			if !ok {
				return nil, false
			}

			current = value
		}
	}

	return current, true
}

// reflectLookup covers named map types such as models.TriggerInput and typed slices.
func reflectLookup(current any, segment string) (any, bool) {
	if current == nil {
		return nil, false
	}

	value := reflect.ValueOf(current)

	switch value.Kind() {
	case reflect.Map:
		if value.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		item := value.MapIndex(reflect.ValueOf(segment).Convert(value.Type().Key()))
		if !item.IsValid() {
			return nil, false
		}

		return item.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= value.Len() {
			return nil, false
		}

		return value.Index(index).Interface(), true
	default:
		return nil, false
	}
}

// Stringify renders a resolved value: nil is empty, composites are JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case json.Number:
		return v.String()
	}

	kind := reflect.ValueOf(value).Kind()
	if kind == reflect.Map || kind == reflect.Slice || kind == reflect.Array || kind == reflect.Struct || kind == reflect.Pointer {
		body, err := json.Marshal(value)
		if err == nil {
			return string(body)
		}
	}

	return fmt.Sprint(value)
}

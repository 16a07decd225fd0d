package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

// Validate checks args against s: required fields, primitive types, enum
// membership and array element types. Arguments not declared in s are
// ignored. A nil value counts as absent. All problems are reported, in
// declaration order, joined into one error.
func Validate(s Schema, args map[string]any) error {
	var errs []error
	for _, p := range s.Params {
		val, ok := args[p.Name]
		if !ok || val == nil {
			if p.Required {
				errs = append(errs, fmt.Errorf("missing required field: %s", p.Name))
			}
			continue
		}
		if err := checkValue(p, val, p.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkValue(p Param, val any, path string) error {
	if err := checkType(p.Type, val); err != nil {
		return fmt.Errorf("field %s: %w", path, err)
	}
	if len(p.Enum) > 0 && !inEnum(val, p.Enum) {
		return fmt.Errorf("field %s: expected one of %v but got %v", path, p.Enum, val)
	}
	if p.Type == Array && p.Items != nil {
		arr, _ := val.([]any)
		for i, item := range arr {
			if err := checkValue(*p.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkType(t Type, val any) error {
	ok := true
	switch t {
	case String:
		_, ok = val.(string)
	case Boolean:
		_, ok = val.(bool)
	case Number:
		ok = isNumber(val)
	case Integer:
		ok = isInteger(val)
	case Array:
		_, ok = val.([]any)
	case Object:
		_, ok = val.(map[string]any)
	case "":
		return nil
	default:
		return fmt.Errorf("unsupported schema type %q", t)
	}
	if !ok {
		return fmt.Errorf("expected %s but got %T", t, val)
	}
	return nil
}

func inEnum(val any, enum []string) bool {
	s, ok := val.(string)
	if !ok {
		s = fmt.Sprint(val)
	}
	return slices.Contains(enum, s)
}

func isNumber(val any) bool {
	switch v := val.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(val any) bool {
	switch v := val.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}

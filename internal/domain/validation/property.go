package validation

import "reflect"

// ValidatePropertyValue rejects v unless it is a scalar (bool, string,
// or number) or a flat sequence of scalars, per spec §3's graph node/
// relationship property invariant. Nested maps and nested sequences
// are rejected.
func ValidatePropertyValue(v any) error {
	return validateScalarOrFlatSequence(v, false)
}

func validateScalarOrFlatSequence(v any, insideSequence bool) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice, reflect.Array:
		if insideSequence {
			return invalidInput("nested sequences are not allowed in a property value", "")
		}
		for i := 0; i < rv.Len(); i++ {
			if err := validateScalarOrFlatSequence(rv.Index(i).Interface(), true); err != nil {
				return err
			}
		}
		return nil
	default:
		return invalidInput("property value must be a scalar or a flat sequence of scalars", rv.Kind().String())
	}
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package form

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Layouts accepted for time.Time fields, tried in order. The first matches
// the value of an HTML datetime-local input.
var timeLayouts = []string{
	"2006-01-02T15:04",
	time.RFC3339,
	"2006-01-02",
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	timePtrType = reflect.TypeOf(&time.Time{})
)

type options struct {
	uncheckedFalse bool
}

type Option func(*options)

// UncheckedFalse treats a missing bool field as false. Browsers leave
// unchecked checkboxes out of a submitted form, so full form updates need it.
func UncheckedFalse() Option {
	return func(o *options) { o.uncheckedFalse = true }
}

// Unmarshal copies form values into the fields of target tagged with
// `form:"name"`. Fields without a value in input keep their current value,
// so Unmarshal can be used to apply a partial update.
func Unmarshal(input url.Values, target any, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return &InvalidUnmarshalError{Type: reflect.TypeOf(target)}
	}

	v := val.Elem()
	ttype := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := ttype.Field(i)
		fieldName := field.Tag.Get("form")
		if fieldName == "" || fieldName == "-" {
			continue
		}

		fieldVal := v.Field(i)
		value, exists := input[fieldName]
		if !exists || len(value) == 0 {
			if o.uncheckedFalse && field.Type.Kind() == reflect.Bool {
				fieldVal.SetBool(false)
			}
			continue
		}
		// NOTE: Take only the first value.
		fieldValRaw := strings.TrimSpace(value[0])

		if field.Type == timePtrType {
			if fieldValRaw == "" {
				fieldVal.Set(reflect.Zero(timePtrType))
				continue
			}
			t, err := parseTime(fieldValRaw)
			if err != nil {
				return &FieldError{Field: fieldName, Err: err}
			}
			fieldVal.Set(reflect.ValueOf(&t))
			continue
		}

		if field.Type == timeType {
			if fieldValRaw == "" {
				fieldVal.Set(reflect.ValueOf(time.Time{}))
				continue
			}
			t, err := parseTime(fieldValRaw)
			if err != nil {
				return &FieldError{Field: fieldName, Err: err}
			}
			fieldVal.Set(reflect.ValueOf(t))
			continue
		}

		switch field.Type.Kind() {
		case reflect.String:
			fieldVal.SetString(fieldValRaw)
		case reflect.Bool:
			boolValue := strings.ToLower(fieldValRaw) == "true" || fieldValRaw == "on"
			fieldVal.SetBool(boolValue)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if fieldValRaw == "" {
				fieldVal.SetInt(0)
				continue
			}
			intValue, err := strconv.ParseInt(fieldValRaw, 10, field.Type.Bits())
			if err != nil {
				return &FieldError{Field: fieldName, Err: err}
			}
			fieldVal.SetInt(intValue)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if fieldValRaw == "" {
				fieldVal.SetUint(0)
				continue
			}
			uintValue, err := strconv.ParseUint(fieldValRaw, 10, field.Type.Bits())
			if err != nil {
				return &FieldError{Field: fieldName, Err: err}
			}
			fieldVal.SetUint(uintValue)
		}
	}
	return nil
}

func parseTime(raw string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

type InvalidUnmarshalError struct {
	Type reflect.Type
}

func (e *InvalidUnmarshalError) Error() string {
	if e.Type == nil {
		return "form: Unmarshal(nil)"
	}

	if e.Type.Kind() != reflect.Pointer {
		return "form: Unmarshal(non-pointer " + e.Type.String() + ")"
	}
	return "form: Unmarshal(nil " + e.Type.String() + ")"
}

type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("form: field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// isoLayout matches the ISO-8601 form with millisecond precision
const isoLayout = "2006-01-02T15:04:05.000Z"

// Lookup resolves a dotted path inside vars. An exact key match wins over
// path traversal. Returns nil when any segment is missing.
func Lookup(vars Vars, path string) any {
	if vars == nil || path == "" {
		return nil
	}
	if v, ok := vars[path]; ok {
		return v
	}

	var cur any = vars
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(cur, segment)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func child(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		c, ok := m[key]
		return c, ok
	case map[string]string:
		c, ok := m[key]
		return c, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		c := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !c.IsValid() {
			return nil, false
		}
		return c.Interface(), true
	case reflect.Struct:
		return structField(rv, key)
	}
	return nil, false
}

// structField matches an exported field by json tag first, then by name
func structField(rv reflect.Value, key string) (any, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if tag == key || (tag == "" && strings.EqualFold(f.Name, key)) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}

// Stringify converts a variable value to text. Times use ISO-8601 UTC,
// composite values are JSON encoded.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(isoLayout)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(isoLayout)
	case json.Number:
		return x.String()
	case error:
		return x.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return Stringify(rv.Elem().Interface())
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(v)
	case reflect.String:
		return rv.String()
	}

	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

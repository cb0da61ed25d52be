package anythread

import (
	"reflect"
	"runtime"
)

// isNil reports whether the given interface value is nil (either untyped nil
// or a nil pointer).
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// funcName returns the fully qualified name of a function value, or "" if fn
// is not a non-nil function.
func funcName(fn any) string {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return ""
	}
	if f := runtime.FuncForPC(rv.Pointer()); f != nil {
		return f.Name()
	}
	return ""
}

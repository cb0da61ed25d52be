package anythread

import (
	"fmt"
	"reflect"
)

var (
	targetType = reflect.TypeFor[Target]()
	errorType  = reflect.TypeFor[error]()
)

// Redirect replaces the function pointed to by fptr with one of the same
// signature that redirects calls per [Redirector]. It supports any method
// expression, including variadic ones, where the first parameter implements
// [Target]. For example:
//
//	resize := (*Window).Resize
//	if err := anythread.Redirect(r, &resize); err != nil {
//		return err
//	}
//	resize(w, 640, 480)
//
// It fails with [ErrNotMethod] if fptr does not point to a non-nil function
// whose first parameter implements Target. If the last result is an error,
// a non-nil error is delivered as a [*RemoteError], as with [Call]. Other
// results, including those returned alongside an error, are passed through
// unchanged. Panics are re-raised on the calling goroutine.
//
// A nil target at call time results in a panic, unless the last result is an
// error, in which case [ErrNilTarget] is returned.
func Redirect(r *Redirector, fptr any) error {
	pv := reflect.ValueOf(fptr)
	if pv.Kind() != reflect.Ptr || pv.IsNil() || pv.Elem().Kind() != reflect.Func {
		return fmt.Errorf("%w: expected pointer to func, got %T", ErrNotMethod, fptr)
	}
	fv := pv.Elem()
	if fv.IsNil() {
		return fmt.Errorf("%w: nil func", ErrNotMethod)
	}
	ft := fv.Type()
	// fv is the caller's variable, and is overwritten below
	orig := reflect.ValueOf(fv.Interface())
	if ft.NumIn() == 0 || !ft.In(0).Implements(targetType) {
		return fmt.Errorf("%w: first parameter of %v does not implement anythread.Target", ErrNotMethod, ft)
	}

	name := funcName(orig.Interface())
	variadic := ft.IsVariadic()
	errIndex := -1
	if n := ft.NumOut(); n != 0 && ft.Out(n-1) == errorType {
		errIndex = n - 1
	}

	invoke := func(args []reflect.Value) []reflect.Value {
		if variadic {
			return orig.CallSlice(args)
		}
		return orig.Call(args)
	}

	fv.Set(reflect.MakeFunc(ft, func(args []reflect.Value) []reflect.Value {
		target, _ := args[0].Interface().(Target)

		results, err := call(r, target, name, func() ([]reflect.Value, error) {
			results := invoke(args)
			if errIndex >= 0 && !results[errIndex].IsNil() {
				return results, results[errIndex].Interface().(error)
			}
			return results, nil
		})

		if err == nil {
			return results
		}
		if errIndex < 0 {
			// only reachable for failures prior to submission, e.g. nil target
			panic(err)
		}
		if results == nil {
			results = make([]reflect.Value, ft.NumOut())
			for i := range results {
				results[i] = reflect.Zero(ft.Out(i))
			}
		}
		ev := reflect.New(errorType).Elem()
		ev.Set(reflect.ValueOf(err))
		results[errIndex] = ev
		return results
	}))

	return nil
}

package facts

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Normalize converts a fact mapping with keys of any type into an engine.Facts
// with string keys. Nested maps keep their values untouched.
func Normalize(v any) (engine.Facts, error) {
	switch m := v.(type) {
	case nil:
		return engine.Facts{}, nil
	case engine.Facts:
		return m.Clone(), nil
	case map[string]any:
		return engine.Facts(m).Clone(), nil
	case map[any]any:
		out := make(engine.Facts, len(m))
		for k, val := range m {
			if err := addFact(out, k, val); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Map {
		return nil, fmt.Errorf("facts must be a mapping, got %T", v)
	}

	out := make(engine.Facts, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		if err := addFact(out, iter.Key().Interface(), iter.Value().Interface()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// addFact stores val under the string form of key. Distinct keys with the
// same string form, such as 1 and "1", are rejected.
func addFact(out engine.Facts, key, val any) error {
	name := fmt.Sprint(key)
	if _, dup := out[name]; dup {
		return fmt.Errorf("fact name %q is declared more than once", name)
	}
	out[name] = val
	return nil
}

// SortedKeys returns the fact names in lexical order.
func SortedKeys(env engine.Facts) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

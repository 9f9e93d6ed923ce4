package manifest

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// RenderValue renders a Go value as a configuration-language literal that
// parses back to the original value.
func RenderValue(v any) (string, error) {
	var b strings.Builder
	if err := renderValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderValue(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("undef")
	case string:
		b.WriteString(QuoteString(val))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return renderFloat(b, float64(val))
	case float64:
		return renderFloat(b, val)
	case *engine.Params:
		return renderHash(b, val.Items())
	case engine.Params:
		return renderHash(b, val.Items())
	case []any:
		return renderArray(b, len(val), func(i int) any { return val[i] })
	case map[string]any:
		return renderHash(b, sortedPairs(val))
	default:
		return renderReflect(b, v)
	}
	return nil
}

// renderReflect handles typed slices and maps such as []string or map[string]int.
func renderReflect(b *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return renderArray(b, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		pairs := make([]engine.Param, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, engine.Param{
				Name:  fmt.Sprint(iter.Key().Interface()),
				Value: iter.Value().Interface(),
			})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
		return renderHash(b, pairs)
	case reflect.Pointer:
		if rv.IsNil() {
			b.WriteString("undef")
			return nil
		}
		return renderValue(b, rv.Elem().Interface())
	case reflect.String:
		b.WriteString(QuoteString(rv.String()))
		return nil
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		return renderFloat(b, rv.Float())
	default:
		return fmt.Errorf("cannot render value of type %T", v)
	}
}

func renderFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("cannot render non-finite float %v", f)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	b.WriteString(s)
	return nil
}

func renderArray(b *strings.Builder, n int, at func(int) any) error {
	b.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := renderValue(b, at(i)); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
	}
	b.WriteByte(']')
	return nil
}

func renderHash(b *strings.Builder, pairs []engine.Param) error {
	if len(pairs) == 0 {
		b.WriteString("{}")
		return nil
	}
	b.WriteString("{ ")
	for i, p := range pairs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(QuoteString(p.Name))
		b.WriteString(" => ")
		if err := renderValue(b, p.Value); err != nil {
			return fmt.Errorf("key %q: %w", p.Name, err)
		}
	}
	b.WriteString(" }")
	return nil
}

func sortedPairs(m map[string]any) []engine.Param {
	pairs := make([]engine.Param, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, engine.Param{Name: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs
}

// QuoteString renders s as a string literal. Plain strings are single-quoted.
// Strings containing the interpolation sigil or control characters are
// double-quoted with the sigil escaped so they never interpolate.
func QuoteString(s string) string {
	if !needsDoubleQuotes(s) {
		var b strings.Builder
		b.Grow(len(s) + 2)
		b.WriteByte('\'')
		for _, r := range s {
			if r == '\'' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('\'')
		return b.String()
	}
	return `"` + EscapeSpecialChars(s) + `"`
}

// EscapeSpecialChars escapes s for use inside a double-quoted literal.
func EscapeSpecialChars(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '$':
			b.WriteString(`\$`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func needsDoubleQuotes(s string) bool {
	return strings.ContainsAny(s, "$\n\r\t")
}

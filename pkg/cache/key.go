package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// DomainCatalogKey prefixes every key digest. The version suffix allows the
// encoding to change without colliding with digests persisted by older builds.
const DomainCatalogKey = "froyospec/catalog-key/v1"

// Key identifies one compilation: node identity, fact environment and
// manifest. Keys are compared structurally through Digest, so re-synthesized
// manifests and rebuilt fact maps hit the same entry.
type Key struct {
	Node     string
	Facts    engine.Facts
	Manifest string
}

// Digest returns the canonical SHA-256 digest of the key.
// Format: SHA256(domain + 0x00 + canonical(key)).
func (k Key) Digest() (string, error) {
	var buf bytes.Buffer
	writeString(&buf, k.Node)
	if err := encodeCanonical(&buf, map[string]any(k.Facts)); err != nil {
		return "", fmt.Errorf("facts: %w", err)
	}
	writeString(&buf, k.Manifest)

	h := sha256.New()
	h.Write([]byte(DomainCatalogKey))
	h.Write([]byte{0x00})
	h.Write(buf.Bytes())
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two keys are structurally equal.
func (k Key) Equal(other Key) bool {
	a, errA := k.Digest()
	b, errB := other.Digest()
	return errA == nil && errB == nil && a == b
}

// encodeCanonical writes a type-tagged, order-independent encoding of v.
// Map entries are sorted by their encoded key; ordered params keep their order.
func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("z;")
		return nil
	case string:
		writeString(buf, val)
		return nil
	case bool:
		if val {
			buf.WriteString("b1;")
		} else {
			buf.WriteString("b0;")
		}
		return nil
	case *engine.Params:
		items := val.Items()
		fmt.Fprintf(buf, "p%d[", len(items))
		for _, item := range items {
			writeString(buf, item.Name)
			if err := encodeCanonical(buf, item.Value); err != nil {
				return fmt.Errorf("%s: %w", item.Name, err)
			}
		}
		buf.WriteByte(']')
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString("i" + strconv.FormatInt(rv.Int(), 10) + ";")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString("i" + strconv.FormatUint(rv.Uint(), 10) + ";")
	case reflect.Float32, reflect.Float64:
		buf.WriteString("f" + strconv.FormatFloat(rv.Float(), 'g', -1, 64) + ";")
	case reflect.String:
		writeString(buf, rv.String())
	case reflect.Bool:
		return encodeCanonical(buf, rv.Bool())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			buf.WriteString("l0[]")
			return nil
		}
		fmt.Fprintf(buf, "l%d[", rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := encodeCanonical(buf, rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case reflect.Map:
		return encodeMap(buf, rv)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			buf.WriteString("z;")
			return nil
		}
		return encodeCanonical(buf, rv.Elem().Interface())
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return fmt.Errorf("cannot encode value of type %T", v)
	default:
		// Structs and other scalars: fall back to their formatted value.
		s := fmt.Sprintf("%T:%+v", v, v)
		buf.WriteString("x")
		writeString(buf, s)
	}
	return nil
}

func encodeMap(buf *bytes.Buffer, rv reflect.Value) error {
	type entry struct {
		key   []byte
		value reflect.Value
	}

	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb bytes.Buffer
		if err := encodeCanonical(&kb, iter.Key().Interface()); err != nil {
			return fmt.Errorf("map key: %w", err)
		}
		entries = append(entries, entry{key: kb.Bytes(), value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	fmt.Fprintf(buf, "m%d{", len(entries))
	for _, e := range entries {
		buf.Write(e.key)
		if err := encodeCanonical(buf, e.value.Interface()); err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString("s" + strconv.Itoa(len(s)) + ":")
	buf.WriteString(s)
}

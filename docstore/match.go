package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Match reports whether doc satisfies filter.
//
// Each filter entry is a field equality, or an operator document using $in,
// $nin, $ne or $exists. An empty filter matches every document. Backends that
// cannot push filters down to the server use this for client-side evaluation.
func Match(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, present := doc[field]
		if ops, ok := operatorDoc(want); ok {
			if !matchOperators(got, present, ops) {
				return false
			}
			continue
		}
		if !present || !Equal(got, want) {
			return false
		}
	}
	return true
}

func operatorDoc(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		if f, isFilter := v.(Filter); isFilter {
			m, ok = map[string]any(f), true
		}
	}
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchOperators(got any, present bool, ops map[string]any) bool {
	for op, arg := range ops {
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		case "$ne":
			if present && Equal(got, arg) {
				return false
			}
		case "$in":
			if !present || !containsValue(arg, got) {
				return false
			}
		case "$nin":
			if present && containsValue(arg, got) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func containsValue(list, v any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if Equal(rv.Index(i).Interface(), v) {
			return true
		}
	}
	return false
}

// Equal compares two field values, treating all numeric types as equal when
// they hold the same number.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two field values: nil < numbers < strings < anything else
// (compared by their printed form).
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		return 0
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	}
	return strings.Compare(toString(a), toString(b))
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	if _, ok := v.(string); ok {
		return 2
	}
	return 3
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toString(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}

// Clone returns a deep copy of doc. Nested maps and slices are copied; other
// values are shared.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return Clone(t)
	case map[string]any:
		return map[string]any(Clone(Document(t)))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// Apply sorts, skips, limits and projects docs according to opts. It is used
// by backends that evaluate queries client-side. docs is sorted in place.
func Apply(docs []Document, opts *FindOptions) []Document {
	if opts == nil {
		return docs
	}
	if len(opts.Sort) > 0 {
		sort.SliceStable(docs, func(i, j int) bool {
			for _, s := range opts.Sort {
				c := Compare(docs[i][s.Field], docs[j][s.Field])
				if c == 0 {
					continue
				}
				if s.Order == Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if opts.Skip > 0 {
		if opts.Skip >= int64(len(docs)) {
			return nil
		}
		docs = docs[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < int64(len(docs)) {
		docs = docs[:opts.Limit]
	}
	if len(opts.Projection) > 0 {
		for i, d := range docs {
			docs[i] = project(d, opts.Projection)
		}
	}
	return docs
}

func project(doc Document, fields []string) Document {
	out := make(Document, len(fields)+1)
	if v, ok := doc[FieldKey]; ok {
		out[FieldKey] = v
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

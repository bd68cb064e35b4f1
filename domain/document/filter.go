package document

// Filter is a predicate over document metadata. The algebra mirrors ordinary
// boolean logic over flat scalar maps: equality, membership, conjunction, and
// disjunction.
type Filter interface {
	Match(meta Metadata) bool
}

// eqFilter matches documents where key equals value.
type eqFilter struct {
	key   string
	value any
}

func (f eqFilter) Match(meta Metadata) bool {
	v, ok := meta[f.key]
	if !ok {
		return false
	}
	return scalarEqual(v, f.value)
}

// inFilter matches documents where key is one of the given values.
type inFilter struct {
	key    string
	values []any
}

func (f inFilter) Match(meta Metadata) bool {
	v, ok := meta[f.key]
	if !ok {
		return false
	}
	for _, candidate := range f.values {
		if scalarEqual(v, candidate) {
			return true
		}
	}
	return false
}

// andFilter matches documents satisfying every sub-filter.
type andFilter struct {
	filters []Filter
}

func (f andFilter) Match(meta Metadata) bool {
	for _, sub := range f.filters {
		if !sub.Match(meta) {
			return false
		}
	}
	return true
}

// orFilter matches documents satisfying any sub-filter.
type orFilter struct {
	filters []Filter
}

func (f orFilter) Match(meta Metadata) bool {
	for _, sub := range f.filters {
		if sub.Match(meta) {
			return true
		}
	}
	return false
}

// Eq matches documents whose metadata key equals value.
func Eq(key string, value any) Filter {
	return eqFilter{key: key, value: value}
}

// In matches documents whose metadata key is one of values.
func In(key string, values ...any) Filter {
	return inFilter{key: key, values: values}
}

// InStrings matches documents whose metadata key is one of the given strings.
func InStrings(key string, values []string) Filter {
	anyValues := make([]any, len(values))
	for i, v := range values {
		anyValues[i] = v
	}
	return inFilter{key: key, values: anyValues}
}

// And matches documents satisfying all of the given filters.
func And(filters ...Filter) Filter {
	return andFilter{filters: filters}
}

// Or matches documents satisfying any of the given filters.
func Or(filters ...Filter) Filter {
	return orFilter{filters: filters}
}

// Func adapts a plain predicate into a Filter, for constraints the scalar
// algebra cannot express.
type Func func(meta Metadata) bool

// Match implements Filter.
func (f Func) Match(meta Metadata) bool { return f(meta) }

// scalarEqual compares metadata scalars, tolerating the int/float64 blurring
// introduced by JSON round-trips.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	// Kind vs string comparisons show up when callers filter on typed consts.
	as, aIsStr := asString(a)
	bs, bIsStr := asString(b)
	if aIsStr && bIsStr {
		return as == bs
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case Kind:
		return string(s), true
	}
	return "", false
}

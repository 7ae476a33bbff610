package value

import "math"

// rank gives each Kind its position in the canonical cross-type ordering:
// null < bool < number < string < sequence < mapping. Int and Float share
// a rank since they compare numerically against each other.
func rank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	case KindArray:
		return 4
	case KindDoc:
		return 5
	default:
		return 6
	}
}

// Compare implements the total order over Values used by indexes, $sort,
// and range-scan bounds: null < bool < number < string < sequence < mapping,
// with same-kind values compared by their natural order and numbers
// compared after promotion to float64 regardless of Int/Float tagging.
func Compare(a, b Value) int {
	ra, rb := rank(a.kind), rank(b.kind)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		return cmpBool(a.b, b.b)
	case KindInt, KindFloat:
		an, _ := a.Numeric()
		bn, _ := b.Numeric()
		return cmpFloat(an, bn)
	case KindString:
		return cmpString(a.s, b.s)
	case KindArray:
		return cmpArray(a.arr, b.arr)
	case KindDoc:
		return cmpDoc(a.doc, b.doc)
	default:
		return 0
	}
}

// Equal reports whether Compare(a, b) == 0.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// cmpFloat orders NaN as less than every other number (and equal to any
// other NaN), so it is a consistent extremum instead of comparing unequal
// to everything under a plain a<b/a>b test, which would make NaN both
// unfindable by range scan and unstable under sort.
func cmpFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return -1
	case bNaN:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpArray(a, b []Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

// cmpDoc compares by sorted key, then by value at each shared key; this
// gives mappings a deterministic order without caring about insertion
// order, which callers never observe for a map[string]Value anyway.
func cmpDoc(a, b Document) int {
	ak, bk := SortedKeys(a), SortedKeys(b)
	n := len(ak)
	if len(bk) < n {
		n = len(bk)
	}
	for i := 0; i < n; i++ {
		if c := cmpString(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := Compare(a[ak[i]], b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ak), len(bk))
}

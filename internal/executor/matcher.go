// Package executor binds the lock manager, transaction manager, WAL,
// validator, index manager, and storage layer into the query operations
// the client surface exposes.
package executor

import (
	"math"
	"regexp"

	"github.com/corvusdb/corvus/internal/types"
)

// Match evaluates whether doc satisfies a MongoDB-flavoured query: the
// top-level logical operators $and/$or/$nor/$not, falling through to a
// per-field conjunction that supports $eq/$ne/$gt/$lt/$gte/$lte/$in/$nin/
// $exists/$regex/$not/$type/$size/$all/$elemMatch/$mod, or a direct
// equality comparison when the condition isn't an operator map.
func Match(doc types.Document, query map[string]interface{}) bool {
	if sub, ok := query["$and"]; ok {
		for _, q := range asQueryList(sub) {
			if !Match(doc, q) {
				return false
			}
		}
		return true
	}
	if sub, ok := query["$or"]; ok {
		for _, q := range asQueryList(sub) {
			if Match(doc, q) {
				return true
			}
		}
		return false
	}
	if sub, ok := query["$nor"]; ok {
		for _, q := range asQueryList(sub) {
			if Match(doc, q) {
				return false
			}
		}
		return true
	}
	if sub, ok := query["$not"]; ok {
		if q, ok := sub.(map[string]interface{}); ok {
			return !Match(doc, q)
		}
	}

	for field, condition := range query {
		if !evaluateCondition(doc, field, condition) {
			return false
		}
	}
	return true
}

func asQueryList(v interface{}) []map[string]interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if q, ok := item.(map[string]interface{}); ok {
			out = append(out, q)
		}
	}
	return out
}

func evaluateCondition(doc types.Document, field string, condition interface{}) bool {
	value, present := doc[field]

	cond, isOpMap := condition.(map[string]interface{})
	if !isOpMap {
		return deepEqual(value, condition)
	}

	for op, expected := range cond {
		switch op {
		case "$eq":
			if !deepEqual(value, expected) {
				return false
			}
		case "$ne":
			if deepEqual(value, expected) {
				return false
			}
		case "$gt":
			if value == nil || !numericCompare(value, expected, func(a, b float64) bool { return a > b }) {
				return false
			}
		case "$lt":
			if value == nil || !numericCompare(value, expected, func(a, b float64) bool { return a < b }) {
				return false
			}
		case "$gte":
			if value == nil || !numericCompare(value, expected, func(a, b float64) bool { return a >= b }) {
				return false
			}
		case "$lte":
			if value == nil || !numericCompare(value, expected, func(a, b float64) bool { return a <= b }) {
				return false
			}
		case "$in":
			if !memberOf(value, expected) {
				return false
			}
		case "$nin":
			if memberOf(value, expected) {
				return false
			}
		case "$exists":
			want, _ := expected.(bool)
			if want && !present {
				return false
			}
			if !want && present {
				return false
			}
		case "$regex":
			s, ok := value.(string)
			pattern, _ := expected.(string)
			if !ok {
				return false
			}
			re, err := regexp.Compile(pattern)
			if err != nil || !re.MatchString(s) {
				return false
			}
		case "$not":
			if evaluateCondition(doc, field, expected) {
				return false
			}
		case "$type":
			if !matchesType(value, expected) {
				return false
			}
		case "$size":
			arr, ok := value.([]interface{})
			n, numOK := toFloat(expected)
			if !ok || !numOK || float64(len(arr)) != n {
				return false
			}
		case "$all":
			arr, ok := value.([]interface{})
			wanted, listOK := expected.([]interface{})
			if !ok || !listOK {
				return false
			}
			for _, w := range wanted {
				if !memberOf(w, arr) {
					return false
				}
			}
		case "$elemMatch":
			arr, ok := value.([]interface{})
			sub, subOK := expected.(map[string]interface{})
			if !ok || !subOK {
				return false
			}
			found := false
			for _, elem := range arr {
				if m, ok := elem.(map[string]interface{}); ok && Match(m, sub) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$mod":
			pair, ok := expected.([]interface{})
			n, numOK := toFloat(value)
			if !ok || len(pair) != 2 || !numOK {
				return false
			}
			divisor, dOK := toFloat(pair[0])
			remainder, rOK := toFloat(pair[1])
			if !dOK || !rOK || math.Mod(n, divisor) != remainder {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func deepEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if al, ok := a.([]interface{}); ok {
		bl, ok := b.([]interface{})
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !deepEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func memberOf(value interface{}, list interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if deepEqual(value, item) {
			return true
		}
	}
	return false
}

func numericCompare(a, b interface{}, cmp func(a, b float64) bool) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	return cmp(af, bf)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func matchesType(value interface{}, want interface{}) bool {
	name, _ := want.(string)
	switch name {
	case "double":
		_, ok := value.(float64)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "int":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "null":
		return value == nil
	default:
		return false
	}
}

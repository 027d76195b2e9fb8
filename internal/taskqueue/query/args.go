package query

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// RequiredFieldsFilter flattens a required-fields document into dotted
// equality constraints under the given parent key, suitable as a
// conservative DB-side pre-filter. A nil leaf only requires the field
// to exist.
//
//	{"model": {"type": "resnet"}, "dataset": "cifar10"}
//	  => {"args.model.type": "resnet", "args.dataset": "cifar10"}
func RequiredFieldsFilter(required map[string]interface{}, parentKey string) bson.M {
	out := bson.M{}
	flattenRequired(required, parentKey, out)
	return out
}

func flattenRequired(required map[string]interface{}, prefix string, out bson.M) {
	for k, v := range required {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch nested := v.(type) {
		case map[string]interface{}:
			flattenRequired(nested, path, out)
		case nil:
			out[path] = bson.M{"$exists": true}
		default:
			out[path] = v
		}
	}
}

// ArgsMatch reports whether args structurally satisfies required:
// every dotted path resolves, nested documents are matched
// recursively, nil leaves require mere presence, and scalar leaves
// require equality. The DB pre-filter is conservative about nested
// array shapes; this is the authoritative check.
func ArgsMatch(required, args map[string]interface{}) bool {
	for k, want := range required {
		got, ok := resolvePath(args, k)
		if !ok {
			return false
		}
		if !valueMatch(want, got) {
			return false
		}
	}
	return true
}

func valueMatch(want, got interface{}) bool {
	if want == nil {
		return true
	}
	if nested, ok := asMap(want); ok {
		gotMap, ok := asMap(got)
		if !ok {
			return false
		}
		return ArgsMatch(nested, gotMap)
	}
	return scalarEqual(want, got)
}

// resolvePath walks a dotted path through nested documents
func resolvePath(doc map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = doc
	for _, part := range parts {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case bson.M:
		return m, true
	case bson.D:
		out := make(map[string]interface{}, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

// scalarEqual compares leaves across the numeric representations JSON
// decoding and BSON decoding produce for the same stored value.
func scalarEqual(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	if as, ok := asSlice(a); ok {
		bs, ok := asSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valueMatch(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if _, ok := asMap(b); ok {
		return false
	}
	if _, ok := asSlice(b); ok {
		return false
	}
	return a == b
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case bson.A:
		return s, true
	default:
		return nil, false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

package errnorm

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Kind tags the shape of a decoded error body.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is an error body of unknown shape. Text holds the string contents,
// or the literal for numbers and booleans. Object fields keep document
// order so that flattening is deterministic.
type Value struct {
	Kind   Kind
	Text   string
	Items  []Value
	Fields []Field
}

type Field struct {
	Key   string
	Value Value
}

// ParseBody decodes a response body. Bodies that are not valid JSON are
// treated as a bare string.
func ParseBody(body []byte) Value {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Value{Kind: KindNull}
	}
	if !gjson.ValidBytes(body) {
		return Value{Kind: KindString, Text: string(body)}
	}
	return fromResult(gjson.ParseBytes(body))
}

func fromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.String:
		return Value{Kind: KindString, Text: r.Str}
	case gjson.Number:
		return Value{Kind: KindNumber, Text: r.Raw}
	case gjson.True, gjson.False:
		return Value{Kind: KindBool, Text: r.Raw}
	case gjson.JSON:
		if r.IsArray() {
			v := Value{Kind: KindArray}
			r.ForEach(func(_, item gjson.Result) bool {
				v.Items = append(v.Items, fromResult(item))
				return true
			})
			return v
		}
		v := Value{Kind: KindObject}
		r.ForEach(func(key, item gjson.Result) bool {
			v.Fields = append(v.Fields, Field{Key: key.String(), Value: fromResult(item)})
			return true
		})
		return v
	default:
		return Value{Kind: KindNull}
	}
}

// messageKeys are checked, in this order, before any other object field.
var messageKeys = []string{"detail", "error", "message", "msg", "reason", "description"}

const aggregateKey = "non_field_errors"

// Flatten collects every displayable string in v. Strings found under
// ordinary object fields are prefixed with their dotted key path.
func Flatten(v Value) []string {
	return flatten(v, "", nil)
}

func flatten(v Value, path string, out []string) []string {
	switch v.Kind {
	case KindString:
		s := strings.TrimSpace(v.Text)
		if s == "" {
			return out
		}
		return append(out, withPath(path, truncate(s, maxFragmentLen)))
	case KindNumber, KindBool:
		return append(out, withPath(path, v.Text))
	case KindArray:
		for _, item := range v.Items {
			out = flatten(item, path, out)
		}
		return out
	case KindObject:
		used := make([]bool, len(v.Fields))
		take := func(key string) {
			for i, f := range v.Fields {
				if !used[i] && f.Key == key {
					used[i] = true
					out = flatten(f.Value, path, out)
				}
			}
		}
		for _, key := range messageKeys {
			take(key)
		}
		take(aggregateKey)
		for i, f := range v.Fields {
			if !used[i] {
				out = flatten(f.Value, joinPath(path, f.Key), out)
			}
		}
		return out
	default:
		return out
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func withPath(path, s string) string {
	if path == "" {
		return s
	}
	return path + ": " + s
}

// truncate caps s at max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

package config

import (
	"slices"
	"strings"
)

// Settings holding credentials. Listing shows only their last four runes.
var secretKeys = map[string]bool{
	"api.token":      true,
	"server.token":   true,
	"llm.api_key":    true,
	"telegram.token": true,
}

const maskPrefix = "***"

// IsSecretKey reports whether the dotted key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten maps every leaf of a nested JSON object to its dotted path, so
// {"chat": {"page_size": 20}} becomes {"chat.page_size": 20}. Empty
// objects have no leaves and vanish.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(path string, node map[string]any)
	walk = func(path string, node map[string]any) {
		for k, v := range node {
			if path != "" {
				k = path + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten rebuilds the nested object from dotted paths. A leaf that is
// in the way of a deeper path is replaced by an object.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for path, v := range flat {
		node := root
		for {
			head, rest, more := strings.Cut(path, ".")
			if !more {
				node[head] = v
				break
			}
			child, ok := node[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[head] = child
			}
			node, path = child, rest
		}
	}
	return root
}

// Keys returns the dotted keys of flat in lexical order.
func Keys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MaskSecrets copies flat, replacing each non-empty secret with "***"
// followed by its last four runes.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && s != "" && secretKeys[k] {
			out[k] = mask(s)
		}
	}
	return out
}

func mask(s string) string {
	r := []rune(s)
	if len(r) > 4 {
		r = r[len(r)-4:]
	}
	return maskPrefix + string(r)
}

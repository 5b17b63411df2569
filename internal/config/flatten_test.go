package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{"empty", map[string]any{}, map[string]any{}},
		{"empty nested map produces nothing", map[string]any{"chat": map[string]any{}}, map[string]any{}},
		{
			"nested",
			map[string]any{
				"api":       map[string]any{"base_url": "http://localhost:8080", "timeout_seconds": 30.0},
				"log_level": "info",
			},
			map[string]any{"api.base_url": "http://localhost:8080", "api.timeout_seconds": 30.0, "log_level": "info"},
		},
		{
			"deeply nested",
			map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}},
			map[string]any{"a.b.c": "deep"},
		},
		{
			"mixed types",
			map[string]any{"str": "hello", "num": 42.0, "bool": true, "nested": map[string]any{"val": "inside"}},
			map[string]any{"str": "hello", "num": 42.0, "bool": true, "nested.val": "inside"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Flatten(tt.in)); diff != "" {
				t.Errorf("Flatten (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnflatten(t *testing.T) {
	flat := map[string]any{
		"chat.page_size":      20.0,
		"chat.banner_ms":      3500.0,
		"server.rate_limit":   0.5,
		"server.listen":       ":8080",
		"log_level":           "info",
		"custom.deep.setting": "x",
	}
	want := map[string]any{
		"chat":      map[string]any{"page_size": 20.0, "banner_ms": 3500.0},
		"server":    map[string]any{"rate_limit": 0.5, "listen": ":8080"},
		"log_level": "info",
		"custom":    map[string]any{"deep": map[string]any{"setting": "x"}},
	}
	if diff := cmp.Diff(want, Unflatten(flat)); diff != "" {
		t.Errorf("Unflatten (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"data_dir":  "/home/test/.coachchat",
		"log_level": "debug",
		"api": map[string]any{
			"base_url": "https://coach.example.com",
			"token":    "tok-123456",
		},
		"llm": map[string]any{
			"api_key": "sk-test123456",
			"model":   "gpt-4o-mini",
		},
		"telegram": map[string]any{
			"token": "bot-token-abc",
		},
	}
	if diff := cmp.Diff(original, Unflatten(Flatten(original))); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestMaskSecrets_AllSecrets(t *testing.T) {
	flat := map[string]any{
		"api.base_url":   "http://localhost:8080",
		"api.token":      "tok-abcdef9876",
		"server.token":   "srv-secret-5555",
		"llm.api_key":    "sk-test123456",
		"telegram.token": "123456:ABCdefGHIjkl",
		"log_level":      "info",
	}
	want := map[string]any{
		"api.base_url":   "http://localhost:8080",
		"api.token":      "***9876",
		"server.token":   "***5555",
		"llm.api_key":    "***3456",
		"telegram.token": "***Ijkl",
		"log_level":      "info",
	}
	if diff := cmp.Diff(want, MaskSecrets(flat)); diff != "" {
		t.Errorf("MaskSecrets (-want +got):\n%s", diff)
	}
}

func TestMaskSecrets_ShortValues(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"", ""},
		{"ab", "***ab"},
		{"abcd", "***abcd"},
		{"abcde", "***bcde"},
		{"ключ-секрет", "***крет"},
	}
	for _, tt := range tests {
		got := MaskSecrets(map[string]any{"llm.api_key": tt.value})
		if got["llm.api_key"] != tt.want {
			t.Errorf("MaskSecrets(%q) = %v, want %q", tt.value, got["llm.api_key"], tt.want)
		}
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, key := range []string{"api.token", "server.token", "llm.api_key", "telegram.token"} {
		if !IsSecretKey(key) {
			t.Errorf("expected %s to be secret", key)
		}
	}
	for _, key := range []string{"api.base_url", "log_level", "chat.page_size"} {
		if IsSecretKey(key) {
			t.Errorf("expected %s not to be secret", key)
		}
	}
}

func TestKeys(t *testing.T) {
	flat := map[string]any{"llm.model": "m", "api.token": "t", "log_level": "info", "api.base_url": "u"}
	want := []string{"api.base_url", "api.token", "llm.model", "log_level"}
	if diff := cmp.Diff(want, Keys(flat)); diff != "" {
		t.Errorf("Keys (-want +got):\n%s", diff)
	}
}

package context

import (
	"strings"
	"testing"

	"github.com/user/coachchat/internal/types"
	"github.com/user/coachchat/pkg/llm"
)

func TestNewEngine(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("expected non-nil engine")
	}
}

func testThread() *types.Thread {
	return &types.Thread{ThreadID: "th-1", ChallengeID: 42, Status: "active"}
}

func TestBuildPromptBasic(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}

	history := []types.LogEntry{
		{Seq: 1, Role: types.RoleUser, Content: "hello"},
		{Seq: 2, Role: types.RoleAssistant, Content: "hi there"},
	}

	messages, err := e.BuildPrompt(testThread(), history, map[string]any{"language": "go", "attempts": 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleSystem {
		t.Errorf("expected system message first, got %q", messages[0].Role)
	}
	if !strings.Contains(messages[0].Content, "Challenge: 42") {
		t.Error("system prompt should name the challenge")
	}
	if !strings.Contains(messages[0].Content, "- attempts: 3\n- language: go") {
		t.Errorf("context not rendered in sorted order:\n%s", messages[0].Content)
	}
	if messages[1].Role != llm.RoleUser || messages[1].Content != "hello" {
		t.Errorf("unexpected first history message %+v", messages[1])
	}
	if messages[2].Role != llm.RoleAssistant || messages[2].Content != "hi there" {
		t.Errorf("unexpected second history message %+v", messages[2])
	}
}

func TestBuildPromptDropsOldestOverBudget(t *testing.T) {
	e, err := New("gpt-4", 128000, 0)
	if err != nil {
		t.Fatal(err)
	}
	sys, err := e.BuildPrompt(testThread(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sysTokens := e.countTokens(sys[0].Content)

	long := strings.Repeat("word ", 200)
	history := []types.LogEntry{
		{Seq: 1, Role: types.RoleUser, Content: long},
		{Seq: 2, Role: types.RoleAssistant, Content: long},
		{Seq: 3, Role: types.RoleUser, Content: "newest question"},
	}
	// Room for the system prompt, one long message and the newest one.
	e.maxTokens = sysTokens + e.countTokens(long) + e.countTokens("newest question") + 20

	messages, err := e.BuildPrompt(testThread(), history, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected system + 2 newest messages, got %d", len(messages))
	}
	if messages[2].Content != "newest question" || messages[1].Role != llm.RoleAssistant {
		t.Errorf("oldest message should be dropped first: %+v", messages[1:])
	}
}

func TestCustomPrompt(t *testing.T) {
	e, err := New("gpt-4", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}
	tmpl, err := ParsePrompt("Coach for {{.ChallengeID}}")
	if err != nil {
		t.Fatal(err)
	}
	e.SetPrompt(tmpl)
	messages, err := e.BuildPrompt(testThread(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if messages[0].Content != "Coach for 42" {
		t.Errorf("unexpected prompt %q", messages[0].Content)
	}

	if _, err := ParsePrompt("{{.Broken"); err == nil {
		t.Error("expected parse error")
	}
}

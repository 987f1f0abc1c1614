package chat

import (
	"encoding/json"
	"testing"
)

func TestMessage_Text(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: []Part{
		NewTextPart("hello "),
		NewThinkingPart("ignored"),
		NewTextPart("world"),
	}}
	if got := m.Text(); got != "hello world" {
		t.Fatalf("Text = %q", got)
	}
}

func TestHasImageParts(t *testing.T) {
	plain := []Message{UserMessage("hi"), AssistantMessage("hello")}
	if HasImageParts(plain) {
		t.Fatal("text-only messages flagged as vision")
	}

	withImage := append(plain, Message{Role: RoleUser, Content: []Part{
		NewTextPart("look"),
		NewImagePart("https://example.com/a.png", "image/png"),
	}})
	if !HasImageParts(withImage) {
		t.Fatal("image part not detected")
	}
}

func TestOptions_CandidateCount(t *testing.T) {
	if got := (Options{}).CandidateCount(); got != 1 {
		t.Fatalf("CandidateCount() = %d, want 1", got)
	}
	if got := (Options{N: 3}).CandidateCount(); got != 3 {
		t.Fatalf("CandidateCount() = %d, want 3", got)
	}
	if got := (Options{N: -1}).CandidateCount(); got != 1 {
		t.Fatalf("CandidateCount() = %d, want 1", got)
	}
}

func TestRequest_Clone(t *testing.T) {
	orig := &Request{
		Messages:      []Message{UserMessage("a")},
		Tools:         []ToolDefinition{{Name: "search", Parameters: json.RawMessage(`{}`)}},
		RetryOnFilter: true,
		Telemetry:     map[string]string{"k": "v"},
	}

	clone := orig.Clone()
	clone.Messages = append(clone.Messages, UserMessage("b"))
	clone.Tools[0].Name = "changed"
	clone.Telemetry["k"] = "changed"
	clone.RetryOnFilter = false

	if len(orig.Messages) != 1 {
		t.Fatal("clone shares the messages slice")
	}
	if orig.Telemetry["k"] != "v" {
		t.Fatal("clone shares the telemetry map")
	}
	if !orig.RetryOnFilter {
		t.Fatal("clone mutated the original flags")
	}
	// Tool definitions are shallow-copied structs.
	if orig.Tools[0].Name != "search" {
		t.Fatal("clone shares tool definition structs")
	}
}

func TestRequest_SetTelemetry(t *testing.T) {
	var r Request
	r.SetTelemetry("a", "1")
	r.SetTelemetry("b", "2")
	if r.Telemetry["a"] != "1" || r.Telemetry["b"] != "2" {
		t.Fatalf("unexpected telemetry: %v", r.Telemetry)
	}
}

func TestFinishReason_Successful(t *testing.T) {
	cases := []struct {
		reason FinishReason
		want   bool
	}{
		{FinishStop, true},
		{FinishClientTrimmed, true},
		{FinishFunctionCall, true},
		{FinishToolCalls, true},
		{FinishContentFilter, false},
		{FinishLength, false},
		{FinishServerError, false},
		{FinishUnknown, false},
	}
	for _, tc := range cases {
		if got := tc.reason.Successful(); got != tc.want {
			t.Errorf("%q.Successful() = %v, want %v", tc.reason, got, tc.want)
		}
	}
}

func TestResultKind_Terminal(t *testing.T) {
	if KindFilteredRetry.Terminal() {
		t.Fatal("filtered_retry must not be terminal")
	}
	for _, k := range []ResultKind{KindSuccess, KindFiltered, KindRateLimited, KindCanceled, KindUnknown} {
		if !k.Terminal() {
			t.Errorf("%q should be terminal", k)
		}
	}
}

func TestResult_Accessors(t *testing.T) {
	r := &Result{Kind: KindSuccess, Texts: []string{"one", "two"}}
	if !r.OK() {
		t.Fatal("OK() = false for success")
	}
	if r.FirstText() != "one" {
		t.Fatalf("FirstText = %q", r.FirstText())
	}

	empty := &Result{Kind: KindServerError}
	if empty.OK() {
		t.Fatal("OK() = true for server_error")
	}
	if empty.FirstText() != "" {
		t.Fatalf("FirstText = %q, want empty", empty.FirstText())
	}
}

func TestCandidate_Text(t *testing.T) {
	c := Candidate{Message: Message{Role: RoleAssistant, Content: []Part{
		NewTextPart("a"), NewTextPart("b"),
	}}}
	if got := c.Text(); got != "ab" {
		t.Fatalf("Text = %q", got)
	}
}

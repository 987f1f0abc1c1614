package config

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func endpointNode(t *testing.T, content string) yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Unmarshal wraps the mapping in a document node.
	return *node.Content[0]
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Version: "1",
		Endpoints: map[string]yaml.Node{
			"primary": endpointNode(t, "kind: openai\nmodel: gpt-test"),
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingVersion(t *testing.T) {
	cfg := validConfig(t)
	cfg.Version = ""
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "version field is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	cfg := validConfig(t)
	cfg.Version = "2"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("error = %v", err)
	}
}

func TestValidate_NoEndpoints(t *testing.T) {
	cfg := &Config{Version: "1"}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "at least one endpoint") {
		t.Fatalf("error = %v", err)
	}
}

func TestValidate_MissingKind(t *testing.T) {
	cfg := validConfig(t)
	cfg.Endpoints["nameless"] = endpointNode(t, "model: gpt-test")
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "kind is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestValidate_UnknownKind(t *testing.T) {
	cfg := validConfig(t)
	cfg.Endpoints["bad"] = endpointNode(t, "kind: telepathy")
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), `unknown kind "telepathy"`) {
		t.Fatalf("error = %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Version: "9",
		Endpoints: map[string]yaml.Node{
			"bad": endpointNode(t, "kind: telepathy"),
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "unsupported version") || !strings.Contains(msg, "unknown kind") {
		t.Fatalf("errors not joined: %v", err)
	}
}

func TestBuildEndpoints(t *testing.T) {
	cfg := &Config{
		Version: "1",
		Endpoints: map[string]yaml.Node{
			"gpt":    endpointNode(t, "kind: openai\nmodel: gpt-test"),
			"claude": endpointNode(t, "kind: anthropic\nmodel: claude-test"),
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eps, err := BuildEndpoints(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("built %d endpoints, want 2", len(eps))
	}
	if eps["gpt"].Model() != "gpt-test" {
		t.Fatalf("gpt model = %q", eps["gpt"].Model())
	}
	if eps["claude"].Model() != "claude-test" {
		t.Fatalf("claude model = %q", eps["claude"].Model())
	}
}

func TestBuildEndpoints_InvalidEntry(t *testing.T) {
	cfg := &Config{
		Version: "1",
		Endpoints: map[string]yaml.Node{
			"broken": endpointNode(t, "kind: openai"),
		},
	}
	if _, err := BuildEndpoints(cfg); err == nil {
		t.Fatal("expected an error for a model-less endpoint")
	}
}

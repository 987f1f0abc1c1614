package config

import (
	"fmt"

	"chatfetch/modules/endpoint/anthropic"
	"chatfetch/modules/endpoint/openai"
	"chatfetch/pkg/endpoint"
)

// BuildEndpoints constructs an endpoint for every configured entry.
// Validate must have passed before calling.
func BuildEndpoints(cfg *Config) (map[string]endpoint.Endpoint, error) {
	out := make(map[string]endpoint.Endpoint, len(cfg.Endpoints))

	for name, node := range cfg.Endpoints {
		var hdr endpointHeader
		if err := node.Decode(&hdr); err != nil {
			return nil, fmt.Errorf("config: endpoint %q: %w", name, err)
		}

		switch hdr.Kind {
		case KindOpenAI:
			var ec openai.Config
			if err := node.Decode(&ec); err != nil {
				return nil, fmt.Errorf("config: endpoint %q: %w", name, err)
			}
			ep, err := openai.New(ec)
			if err != nil {
				return nil, fmt.Errorf("config: endpoint %q: %w", name, err)
			}
			out[name] = ep

		case KindAnthropic:
			var ec anthropic.Config
			if err := node.Decode(&ec); err != nil {
				return nil, fmt.Errorf("config: endpoint %q: %w", name, err)
			}
			ep, err := anthropic.New(ec)
			if err != nil {
				return nil, fmt.Errorf("config: endpoint %q: %w", name, err)
			}
			out[name] = ep

		default:
			return nil, fmt.Errorf("config: endpoint %q: unknown kind %q", name, hdr.Kind)
		}
	}

	return out, nil
}

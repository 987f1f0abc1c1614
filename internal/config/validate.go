package config

import (
	"errors"
	"fmt"
)

// Validate checks the structural validity of a Config. It verifies the
// version field, ensures at least one endpoint is configured, and checks
// that every endpoint entry names a supported kind.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Endpoints) == 0 {
		errs = append(errs, errors.New("config: at least one endpoint must be configured"))
	}

	for name, node := range cfg.Endpoints {
		var hdr endpointHeader
		if err := node.Decode(&hdr); err != nil {
			errs = append(errs, fmt.Errorf("config: endpoint %q: failed to decode: %w", name, err))
			continue
		}
		switch hdr.Kind {
		case KindOpenAI, KindAnthropic:
		case "":
			errs = append(errs, fmt.Errorf("config: endpoint %q: kind is required", name))
		default:
			errs = append(errs, fmt.Errorf("config: endpoint %q: unknown kind %q", name, hdr.Kind))
		}
	}

	return errors.Join(errs...)
}

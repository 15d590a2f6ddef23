package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overrides remaps provider-side parameters without touching the enumeration.
//
//	models:
//	  gpt-4.1:
//	    provider_model: gpt-4.1-2025-04-14
//	    max_tokens: 8000
type Overrides struct {
	Models map[string]ParamOverride `yaml:"models"`
}

// ParamOverride holds the optional fields of one model override. Zero values keep the default.
type ParamOverride struct {
	ProviderModel string   `yaml:"provider_model"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
}

// LoadOverrides reads a YAML override file.
func LoadOverrides(path string) (*Overrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read overrides: %w", err)
	}
	return ParseOverrides(raw)
}

// ParseOverrides decodes and validates override YAML.
func ParseOverrides(raw []byte) (*Overrides, error) {
	var overrides Overrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("catalog: decode overrides: %w", err)
	}

	for key, override := range overrides.Models {
		id := ModelID(strings.TrimSpace(key))
		if !id.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModel, key)
		}
		if override.Temperature != nil && (*override.Temperature < 0 || *override.Temperature > 2) {
			return nil, fmt.Errorf("catalog: temperature for %s out of range: %v", id, *override.Temperature)
		}
		if override.MaxTokens < 0 {
			return nil, fmt.Errorf("catalog: max_tokens for %s must not be negative", id)
		}
	}

	return &overrides, nil
}

// WithOverrides returns a copy of c with provider parameters replaced. c itself is not modified.
func (c *Catalog) WithOverrides(overrides *Overrides) *Catalog {
	entries := make(map[ModelID]entry, len(c.entries))
	for id, e := range c.entries {
		entries[id] = e
	}

	if overrides != nil {
		for key, override := range overrides.Models {
			id := ModelID(strings.TrimSpace(key))
			e, ok := entries[id]
			if !ok {
				continue
			}
			if model := strings.TrimSpace(override.ProviderModel); model != "" {
				e.params.ProviderModel = model
			}
			if override.Temperature != nil {
				e.params.Temperature = *override.Temperature
			}
			if override.MaxTokens > 0 {
				e.params.MaxTokens = override.MaxTokens
			}
			entries[id] = e
		}
	}

	return &Catalog{entries: entries}
}

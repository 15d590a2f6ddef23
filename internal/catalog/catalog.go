// Package catalog is the static registry of the language models a conversation can be routed to.
//
// The enumeration is closed and fixed at build time. Display metadata is used for cost
// reporting and the UI only; routing decisions never consult it.
package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownModel is returned when an identifier is not part of the enumeration.
var ErrUnknownModel = errors.New("catalog: unknown model")

// ModelID identifies a backend model.
type ModelID string

const (
	GPT41     ModelID = "gpt-4.1"
	GPT41Mini ModelID = "gpt-4.1-mini"
	GPT41Nano ModelID = "gpt-4.1-nano"
	GPT4o     ModelID = "gpt-4o"
	O1        ModelID = "o1"
	O3        ModelID = "o3"
	O3Pro     ModelID = "o3-pro"
	O4Mini    ModelID = "o4-mini"
)

var orderedIDs = []ModelID{GPT41, GPT41Mini, GPT41Nano, GPT4o, O1, O3, O3Pro, O4Mini}

// IDs returns every model identifier in declaration order.
func IDs() []ModelID {
	return append([]ModelID(nil), orderedIDs...)
}

func (id ModelID) String() string {
	return string(id)
}

// Valid reports whether id belongs to the enumeration.
func (id ModelID) Valid() bool {
	for _, known := range orderedIDs {
		if id == known {
			return true
		}
	}
	return false
}

// CostTier is the relative price bracket of a model.
type CostTier string

const (
	CostLow    CostTier = "low"
	CostMedium CostTier = "medium"
	CostHigh   CostTier = "high"
)

// ModelInfo is the catalog entry for one model.
type ModelInfo struct {
	ID            ModelID  `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description" yaml:"description"`
	CostTier      CostTier `json:"costTier" yaml:"cost_tier"`
	ContextWindow int      `json:"contextWindow" yaml:"context_window"`
	Capabilities  []string `json:"capabilities" yaml:"capabilities"`
}

// Params are the provider-side generation parameters of a model.
type Params struct {
	ProviderModel string  `json:"providerModel" yaml:"provider_model"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	MaxTokens     int     `json:"maxTokens" yaml:"max_tokens"`
}

type entry struct {
	info   ModelInfo
	params Params
}

// Catalog is immutable once constructed and safe for concurrent use.
type Catalog struct {
	entries map[ModelID]entry
}

// New returns the built-in catalog.
func New() *Catalog {
	entries := make(map[ModelID]entry, len(builtin))
	for _, e := range builtin {
		entries[e.info.ID] = e
	}
	return &Catalog{entries: entries}
}

var defaultCatalog = New()

// Default returns the process-wide built-in catalog.
func Default() *Catalog {
	return defaultCatalog
}

// Lookup resolves id against the built-in catalog.
func Lookup(id ModelID) (ModelInfo, error) {
	return defaultCatalog.Lookup(id)
}

// Lookup returns the display metadata of id.
func (c *Catalog) Lookup(id ModelID) (ModelInfo, error) {
	e, ok := c.entries[id]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return cloneInfo(e.info), nil
}

// Params returns the generation parameters of id.
func (c *Catalog) Params(id ModelID) (Params, error) {
	e, ok := c.entries[id]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return e.params, nil
}

// List returns every entry in declaration order.
func (c *Catalog) List() []ModelInfo {
	result := make([]ModelInfo, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		if e, ok := c.entries[id]; ok {
			result = append(result, cloneInfo(e.info))
		}
	}
	return result
}

func cloneInfo(info ModelInfo) ModelInfo {
	info.Capabilities = append([]string(nil), info.Capabilities...)
	return info
}

var builtin = []entry{
	{
		info: ModelInfo{
			ID:            GPT41,
			Name:          "GPT-4.1",
			Description:   "Most capable model for deep analysis and complex tasks",
			CostTier:      CostHigh,
			ContextWindow: 1000000,
			Capabilities:  []string{"complex reasoning", "code generation", "long context"},
		},
		params: Params{ProviderModel: string(GPT41), Temperature: 0.7, MaxTokens: 4000},
	},
	{
		info: ModelInfo{
			ID:            GPT41Mini,
			Name:          "GPT-4.1 Mini",
			Description:   "Efficient model with strong general capabilities",
			CostTier:      CostMedium,
			ContextWindow: 1000000,
			Capabilities:  []string{"balanced performance", "cost efficiency", "long context"},
		},
		params: Params{ProviderModel: string(GPT41Mini), Temperature: 0.5, MaxTokens: 2000},
	},
	{
		info: ModelInfo{
			ID:            GPT41Nano,
			Name:          "GPT-4.1 Nano",
			Description:   "Fastest, most economical option for simpler tasks",
			CostTier:      CostLow,
			ContextWindow: 1000000,
			Capabilities:  []string{"speed", "cost efficiency", "basic tasks"},
		},
		params: Params{ProviderModel: string(GPT41Nano), Temperature: 0.3, MaxTokens: 1000},
	},
	{
		info: ModelInfo{
			ID:            GPT4o,
			Name:          "GPT-4o",
			Description:   "Versatile model with strong multimodal capabilities",
			CostTier:      CostMedium,
			ContextWindow: 128000,
			Capabilities:  []string{"text", "image", "audio", "general purpose"},
		},
		params: Params{ProviderModel: string(GPT4o), Temperature: 0.6, MaxTokens: 3000},
	},
	{
		info: ModelInfo{
			ID:            O1,
			Name:          "o1",
			Description:   "Model focused on careful, methodical reasoning",
			CostTier:      CostMedium,
			ContextWindow: 200000,
			Capabilities:  []string{"step-by-step reasoning", "reliability", "thoroughness"},
		},
		params: Params{ProviderModel: string(O1), Temperature: 0.1, MaxTokens: 4000},
	},
	{
		info: ModelInfo{
			ID:            O3,
			Name:          "o3",
			Description:   "Powerful model for complex reasoning tasks",
			CostTier:      CostHigh,
			ContextWindow: 200000,
			Capabilities:  []string{"structured reasoning", "complex problems", "reliability"},
		},
		params: Params{ProviderModel: string(O3), Temperature: 0.1, MaxTokens: 4000},
	},
	{
		info: ModelInfo{
			ID:            O3Pro,
			Name:          "o3 Pro",
			Description:   "Most capable reasoning model for critical applications",
			CostTier:      CostHigh,
			ContextWindow: 200000,
			Capabilities:  []string{"maximum reasoning", "sensitive tasks", "highest accuracy"},
		},
		params: Params{ProviderModel: string(O3Pro), Temperature: 0.1, MaxTokens: 4000},
	},
	{
		info: ModelInfo{
			ID:            O4Mini,
			Name:          "o4-mini",
			Description:   "Compact visual reasoning model for quick tasks",
			CostTier:      CostLow,
			ContextWindow: 150000,
			Capabilities:  []string{"vision", "rapid response", "efficiency"},
		},
		params: Params{ProviderModel: string(O4Mini), Temperature: 0.4, MaxTokens: 1500},
	},
}

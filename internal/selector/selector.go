// Package selector routes a user message to a model with ordered keyword and length heuristics.
//
// The rule table below is the single source of truth for routing. Rules are evaluated in
// order against the lower-cased text and the first match wins:
//
//  1. Reasoning: math, proofs, logic, algorithms -> o3. A research, legal, scientific or
//     strategic keyword selects o3-pro, on its own or together with a reasoning keyword.
//  2. Code: software keywords, or more than LongContextThreshold characters -> gpt-4.1.
//  3. Fast: visual, rapid and document-extraction keywords -> o4-mini.
//  4. Creative: writing keywords -> gpt-4.1-nano below ShortCreativeThreshold characters,
//     gpt-4.1-mini otherwise.
//  5. Default -> gpt-4o.
package selector

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wuwenbin0122/modelchat/internal/catalog"
)

const (
	// LongContextThreshold is the length (in characters) above which text is routed to the
	// long-context code model.
	LongContextThreshold = 2000
	// ShortCreativeThreshold splits creative requests between the nano and mini variants.
	ShortCreativeThreshold = 100
)

// Category is the rule that produced a routing decision.
type Category int

const (
	CategoryDefault Category = iota
	CategoryReasoning
	CategoryCode
	CategoryFast
	CategoryCreative
)

func (c Category) String() string {
	switch c {
	case CategoryDefault:
		return "default"
	case CategoryReasoning:
		return "reasoning"
	case CategoryCode:
		return "code"
	case CategoryFast:
		return "fast"
	case CategoryCreative:
		return "creative"
	default:
		return fmt.Sprintf("Category(%d)", c)
	}
}

var (
	reasoningKeywords = []string{
		"math", "calcul", "equation", "proof", "prove", "theorem", "logic", "algorithm",
		"competitive programming", "solve", "problem", "reasoning",
	}
	escalationKeywords = []string{"research", "legal", "scientific", "strategic"}
	codeKeywords       = []string{
		"code", "program", "debug", "function", "class", "method", "implementation",
		"codebase", "development", "software",
	}
	fastKeywords     = []string{"visual", "image", "quick", "rapid", "fast", "document", "extract", "analytics"}
	creativeKeywords = []string{"creative", "write", "generate", "idea", "suggest", "opinion", "story", "narrative"}
)

// Decision explains a routing result.
type Decision struct {
	Model     catalog.ModelID `json:"model"`
	Category  Category        `json:"-"`
	Keyword   string          `json:"keyword,omitempty"`
	Escalated bool            `json:"escalated,omitempty"`
	Length    int             `json:"length"`
}

// Reason renders the decision for logs and CLI output.
func (d Decision) Reason() string {
	switch {
	case d.Category == CategoryDefault:
		return "no category matched"
	case d.Keyword == "":
		return fmt.Sprintf("%s: length %d", d.Category, d.Length)
	case d.Escalated:
		return fmt.Sprintf("%s: %q with escalation keyword", d.Category, d.Keyword)
	default:
		return fmt.Sprintf("%s: %q", d.Category, d.Keyword)
	}
}

// Select returns the model for text. It is pure, total and deterministic.
func Select(text string) catalog.ModelID {
	return Explain(text).Model
}

// Explain returns the full routing decision for text.
func Explain(text string) Decision {
	lower := strings.ToLower(text)
	length := utf8.RuneCountInString(text)

	kw, reasoning := firstMatch(lower, reasoningKeywords)
	escalator, escalate := firstMatch(lower, escalationKeywords)
	if escalate {
		if !reasoning {
			kw = escalator
		}
		return Decision{Model: catalog.O3Pro, Category: CategoryReasoning, Keyword: kw, Escalated: true, Length: length}
	}
	if reasoning {
		return Decision{Model: catalog.O3, Category: CategoryReasoning, Keyword: kw, Length: length}
	}

	if kw, ok := firstMatch(lower, codeKeywords); ok {
		return Decision{Model: catalog.GPT41, Category: CategoryCode, Keyword: kw, Length: length}
	}
	if length > LongContextThreshold {
		return Decision{Model: catalog.GPT41, Category: CategoryCode, Length: length}
	}

	if kw, ok := firstMatch(lower, fastKeywords); ok {
		return Decision{Model: catalog.O4Mini, Category: CategoryFast, Keyword: kw, Length: length}
	}

	if kw, ok := firstMatch(lower, creativeKeywords); ok {
		if length < ShortCreativeThreshold {
			return Decision{Model: catalog.GPT41Nano, Category: CategoryCreative, Keyword: kw, Length: length}
		}
		return Decision{Model: catalog.GPT41Mini, Category: CategoryCreative, Keyword: kw, Length: length}
	}

	return Decision{Model: catalog.GPT4o, Category: CategoryDefault, Length: length}
}

func firstMatch(lower string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

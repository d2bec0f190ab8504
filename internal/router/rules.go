package router

import "github.com/specifiedcodes/devos-orchestrator/internal/catalog"

// DefaultRule supplies an ordered candidate list for one task type when
// no force/override/preset stage has already produced a decision.
type DefaultRule struct {
	DefaultModel          string
	FallbackModels        []string
	QualityTierPreference catalog.QualityTier
}

// Candidates returns DefaultModel followed by FallbackModels, in order.
func (r DefaultRule) Candidates() []string {
	out := make([]string, 0, 1+len(r.FallbackModels))
	out = append(out, r.DefaultModel)
	out = append(out, r.FallbackModels...)
	return out
}

// defaultRoutingRules is the static per-task-type rules table consulted
// once no force/override/preset stage has already produced a decision.
var defaultRoutingRules = map[TaskType]DefaultRule{
	TaskSimpleChat: {
		DefaultModel:          "gemini-2.0-flash",
		FallbackModels:        []string{"gpt-4o-mini", "claude-3-5-haiku-20241022"},
		QualityTierPreference: catalog.TierEconomy,
	},
	TaskSummarization: {
		DefaultModel:          "gemini-2.0-flash",
		FallbackModels:        []string{"gpt-4o-mini", "claude-3-5-haiku-20241022"},
		QualityTierPreference: catalog.TierEconomy,
	},
	TaskCoding: {
		DefaultModel:          "claude-sonnet-4-20250514",
		FallbackModels:        []string{"gpt-4o", "deepseek-chat", "gemini-2.0-pro"},
		QualityTierPreference: catalog.TierStandard,
	},
	TaskPlanning: {
		DefaultModel:          "claude-sonnet-4-20250514",
		FallbackModels:        []string{"gpt-4o", "gemini-2.0-pro"},
		QualityTierPreference: catalog.TierStandard,
	},
	TaskReview: {
		DefaultModel:          "claude-sonnet-4-20250514",
		FallbackModels:        []string{"gpt-4o", "gemini-2.0-pro"},
		QualityTierPreference: catalog.TierStandard,
	},
	TaskComplexReasoning: {
		DefaultModel:          "claude-opus-4-20250514",
		FallbackModels:        []string{"claude-sonnet-4-20250514", "gpt-4o", "deepseek-reasoner"},
		QualityTierPreference: catalog.TierPremium,
	},
	TaskEmbedding: {
		DefaultModel:          "text-embedding-3-small",
		FallbackModels:        []string{"text-embedding-004", "text-embedding-3-large"},
		QualityTierPreference: catalog.TierEconomy,
	},
}

// Package router implements the Task Router: multi-stage
// model selection over the model catalog and provider registry, with
// alternatives tracking and cost estimation.
package router

import "github.com/specifiedcodes/devos-orchestrator/internal/catalog"

// TaskType is the routing request's work-kind discriminator, used both
// to key the default rules table and to filter catalog listings.
type TaskType string

const (
	TaskSimpleChat       TaskType = "simple_chat"
	TaskSummarization    TaskType = "summarization"
	TaskCoding           TaskType = "coding"
	TaskPlanning         TaskType = "planning"
	TaskReview           TaskType = "review"
	TaskComplexReasoning TaskType = "complex_reasoning"
	TaskEmbedding        TaskType = "embedding"
)

// Preset is the workspace's coarse routing strategy
type Preset string

const (
	PresetAuto     Preset = "auto"
	PresetEconomy  Preset = "economy"
	PresetQuality  Preset = "quality"
	PresetBalanced Preset = "balanced"
)

// TaskRoutingRequest is the caller-supplied routing input. Optional
// fields are pointers so "unset" is distinguishable from the zero value.
type TaskRoutingRequest struct {
	TaskType              TaskType
	EstimatedInputTokens  *int
	EstimatedOutputTokens *int
	RequiresTools         bool
	RequiresVision        bool
	RequiresStreaming     bool
	ContextSizeTokens     *int
	WorkspaceID           string
	ProjectID             string
	ForceModel            string
	ForceProvider         string
}

// TaskOverride is one workspace's per-taskType model preference pair.
type TaskOverride struct {
	PreferredModel string
	FallbackModel  string
}

// WorkspaceRoutingConfig is the workspace-scoped routing policy.
type WorkspaceRoutingConfig struct {
	WorkspaceID      string
	EnabledProviders []string
	Preset           Preset
	TaskOverrides    map[TaskType]TaskOverride
}

// Alternative records one rejected candidate: "each
// rejected candidate is appended to alternatives with its reason."
type Alternative struct {
	Model         string
	Provider      string
	EstimatedCost float64
	Reason        string
}

// RoutingDecision is the Router's output
type RoutingDecision struct {
	SelectedModel string
	Provider      string
	Reason        string
	EstimatedCost float64
	Alternatives  []Alternative
}

// RoutingError is raised when no catalog model can satisfy a routing
// request: carries the full attempt history.
type RoutingError struct {
	TaskType        TaskType
	Request         TaskRoutingRequest
	AttemptedModels []string
}

func (e *RoutingError) Error() string {
	return "no model satisfies routing request for task type " + string(e.TaskType)
}

// defaultEstimatedInputTokens / defaultEstimatedOutputTokens are the
// cost-estimation defaults used when a caller omits its own estimate.
const (
	defaultEstimatedInputTokens  = 1000
	defaultEstimatedOutputTokens = 500
)

// missingPricingCost is the in-band sentinel estimateCost returns when a
// modelId has no resolvable pricing: "distinct from
// legitimate zero."
const missingPricingCost = -1

// qualityTierRank orders quality tiers for the "quality" preset's
// descending-by-tier sort.
var qualityTierRank = map[catalog.QualityTier]int{
	catalog.TierPremium:  3,
	catalog.TierStandard: 2,
	catalog.TierEconomy:  1,
}

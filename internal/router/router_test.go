package router

import (
	"context"
	"testing"

	"github.com/specifiedcodes/devos-orchestrator/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog is a hand-rolled CatalogSource fake backed by an in-memory
// slice, a concrete fake rather than
// mocking framework.
type fakeCatalog struct {
	models []catalog.Model
}

func (f *fakeCatalog) ListModels(ctx context.Context, filter catalog.ListFilter) ([]catalog.Model, error) {
	var out []catalog.Model
	for _, m := range f.models {
		if filter.Provider != "" && m.Provider != filter.Provider {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeCatalog) GetModel(ctx context.Context, modelID string) (*catalog.Model, error) {
	for _, m := range f.models {
		if m.ModelID == modelID {
			model := m
			return &model, nil
		}
	}
	return nil, nil
}

func fullCatalog() *fakeCatalog {
	return &fakeCatalog{models: []catalog.Model{
		{
			ModelID: "claude-sonnet-4-20250514", Provider: "anthropic", Available: true,
			SupportsTools: true, SupportsStreaming: true, ContextWindow: 200000,
			InputPricePer1M: 3.0, OutputPricePer1M: 15.0, QualityTier: catalog.TierStandard,
			SuitableFor: []string{"coding", "planning", "review", "simple_chat"},
		},
		{
			ModelID: "claude-opus-4-20250514", Provider: "anthropic", Available: true,
			SupportsTools: true, SupportsStreaming: true, ContextWindow: 200000,
			InputPricePer1M: 15.0, OutputPricePer1M: 75.0, QualityTier: catalog.TierPremium,
			SuitableFor: []string{"complex_reasoning", "coding"},
		},
		{
			ModelID: "gpt-4o", Provider: "openai", Available: true,
			SupportsTools: true, SupportsVision: true, SupportsStreaming: true, ContextWindow: 128000,
			InputPricePer1M: 2.5, OutputPricePer1M: 10.0, QualityTier: catalog.TierStandard,
			SuitableFor: []string{"coding", "planning", "review", "complex_reasoning"},
		},
		{
			ModelID: "gemini-2.0-flash", Provider: "google", Available: true,
			SupportsStreaming: true, ContextWindow: 1000000,
			InputPricePer1M: 0.10, OutputPricePer1M: 0.40, QualityTier: catalog.TierEconomy,
			SuitableFor: []string{"simple_chat", "summarization"},
		},
		{
			ModelID: "deepseek-chat", Provider: "deepseek", Available: true,
			SupportsTools: true, SupportsStreaming: true, ContextWindow: 64000,
			InputPricePer1M: 0.27, OutputPricePer1M: 1.10, QualityTier: catalog.TierStandard,
			SuitableFor: []string{"coding"},
		},
		{
			ModelID: "text-embedding-3-small", Provider: "openai", Available: true,
			SupportsEmbedding: true, ContextWindow: 8191,
			InputPricePer1M: 0.02, OutputPricePer1M: 0, QualityTier: catalog.TierEconomy,
			SuitableFor: []string{"embedding"},
		},
	}}
}

func allProviders() []string {
	return []string{"anthropic", "openai", "google", "deepseek"}
}

func TestRouteEmptyEnabledProvidersIsRoutingError(t *testing.T) {
	r := New(fullCatalog(), nil)
	_, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding}, WorkspaceRoutingConfig{})
	require.Error(t, err)
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
}

func TestRouteCodingUnderFullAvailability(t *testing.T) {
	r := New(fullCatalog(), nil)
	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding, WorkspaceID: "w"},
		WorkspaceRoutingConfig{WorkspaceID: "w", EnabledProviders: allProviders(), Preset: PresetAuto})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", decision.SelectedModel)
	assert.Equal(t, "anthropic", decision.Provider)
	assert.InDelta(t, 0.0105, decision.EstimatedCost, 0.0001)
}

func TestRouteFallbackByAvailability(t *testing.T) {
	r := New(fullCatalog(), nil)
	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding, WorkspaceID: "w"},
		WorkspaceRoutingConfig{WorkspaceID: "w", EnabledProviders: []string{"openai", "google", "deepseek"}, Preset: PresetAuto})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", decision.SelectedModel)
	assert.Equal(t, "openai", decision.Provider)

	var sonnetAlt *Alternative
	for i := range decision.Alternatives {
		if decision.Alternatives[i].Model == "claude-sonnet-4-20250514" {
			sonnetAlt = &decision.Alternatives[i]
		}
	}
	require.NotNil(t, sonnetAlt, "expected claude-sonnet-4-20250514 among alternatives")
	assert.Contains(t, sonnetAlt.Reason, "no BYOK key")
}

func TestRouteForceModelSucceedsEvenOnCapabilityMismatch(t *testing.T) {
	r := New(fullCatalog(), nil)
	req := TaskRoutingRequest{TaskType: TaskCoding, ForceModel: "gemini-2.0-flash", RequiresTools: true}
	decision, err := r.Route(context.Background(), req, WorkspaceRoutingConfig{EnabledProviders: allProviders()})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", decision.SelectedModel)
	assert.Contains(t, decision.Reason, "warning")
}

func TestRouteForceModelFallsThroughWhenProviderNotEnabled(t *testing.T) {
	r := New(fullCatalog(), nil)
	req := TaskRoutingRequest{TaskType: TaskCoding, ForceModel: "claude-sonnet-4-20250514"}
	decision, err := r.Route(context.Background(), req, WorkspaceRoutingConfig{EnabledProviders: []string{"openai", "deepseek"}})
	require.NoError(t, err)
	assert.NotEqual(t, "claude-sonnet-4-20250514", decision.SelectedModel)
	assert.NotEmpty(t, decision.Alternatives)
}

func TestRouteForceProvider(t *testing.T) {
	r := New(fullCatalog(), nil)
	req := TaskRoutingRequest{TaskType: TaskCoding, ForceProvider: "deepseek"}
	decision, err := r.Route(context.Background(), req, WorkspaceRoutingConfig{EnabledProviders: allProviders()})
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", decision.SelectedModel)
	assert.Equal(t, "deepseek", decision.Provider)
}

func TestRouteWorkspaceTaskOverride(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{
		EnabledProviders: allProviders(),
		TaskOverrides: map[TaskType]TaskOverride{
			TaskCoding: {PreferredModel: "gpt-4o"},
		},
	}
	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", decision.SelectedModel)
}

func TestRoutePresetEconomyPicksCheapest(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{EnabledProviders: allProviders(), Preset: PresetEconomy}
	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", decision.SelectedModel)
}

func TestRoutePresetQualityPicksHighestTier(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{EnabledProviders: allProviders(), Preset: PresetQuality}
	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-20250514", decision.SelectedModel)
}

func TestRouteEmbeddingTaskRequiresEmbeddingCapability(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{EnabledProviders: allProviders()}
	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskEmbedding}, cfg)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", decision.SelectedModel)
}

func TestRouteNoQualifyingModelRaisesRoutingError(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{EnabledProviders: []string{"deepseek"}}
	req := TaskRoutingRequest{TaskType: TaskCoding, RequiresVision: true}
	_, err := r.Route(context.Background(), req, cfg)
	require.Error(t, err)
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, TaskCoding, routingErr.TaskType)
}

func TestEstimateCostReturnsSentinelForUnknownModel(t *testing.T) {
	r := New(fullCatalog(), nil)
	cost, err := r.EstimateCost(context.Background(), "does-not-exist", 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, float64(missingPricingCost), cost)
}

func TestEstimateCostComputesFromCatalogPricing(t *testing.T) {
	r := New(fullCatalog(), nil)
	cost, err := r.EstimateCost(context.Background(), "claude-sonnet-4-20250514", 1000, 500)
	require.NoError(t, err)
	assert.InDelta(t, 0.0105, cost, 0.0001)
}

func TestIsModelAvailable(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{EnabledProviders: []string{"anthropic"}}

	ok, err := r.IsModelAvailable(context.Background(), "claude-sonnet-4-20250514", cfg)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.IsModelAvailable(context.Background(), "gpt-4o", cfg)
	require.NoError(t, err)
	assert.False(t, ok, "gpt-4o's provider openai is not in enabledProviders")
}

func TestGetAvailableModelsGroupsByTaskType(t *testing.T) {
	r := New(fullCatalog(), nil)
	cfg := WorkspaceRoutingConfig{EnabledProviders: allProviders()}
	grouped, err := r.GetAvailableModels(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, grouped[TaskCoding])
	assert.NotEmpty(t, grouped[TaskEmbedding])
}

func TestSetAndGetRoutingRulesHotSwap(t *testing.T) {
	r := New(fullCatalog(), nil)
	custom := map[TaskType]DefaultRule{
		TaskCoding: {DefaultModel: "gpt-4o"},
	}
	r.SetRoutingRules(custom)

	got := r.GetRoutingRules()
	assert.Equal(t, "gpt-4o", got[TaskCoding].DefaultModel)

	decision, err := r.Route(context.Background(), TaskRoutingRequest{TaskType: TaskCoding},
		WorkspaceRoutingConfig{EnabledProviders: allProviders()})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", decision.SelectedModel)
}

package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/specifiedcodes/devos-orchestrator/internal/catalog"
)

// CatalogSource is the subset of *catalog.Client the Router depends on,
// kept narrow so tests can substitute a hand-rolled fake instead of
// standing up an HTTP server.
type CatalogSource interface {
	ListModels(ctx context.Context, filter catalog.ListFilter) ([]catalog.Model, error)
	GetModel(ctx context.Context, modelID string) (*catalog.Model, error)
}

// RegistrySource is the subset of *registry.Registry the Router depends
// on for the "provider enabled at the registry level" half of
// isModelAvailable.
type RegistrySource interface {
	IsEnabled(id string) bool
}

// Router selects a model for a routing request in priority order:
// forceModel, forceProvider, workspace task overrides, preset, default
// rules, registry fallback.
type Router struct {
	catalog  CatalogSource
	registry RegistrySource

	mu    sync.RWMutex
	rules map[TaskType]DefaultRule
}

func New(catalogSource CatalogSource, registrySource RegistrySource) *Router {
	rules := make(map[TaskType]DefaultRule, len(defaultRoutingRules))
	for k, v := range defaultRoutingRules {
		rules[k] = v
	}
	return &Router{catalog: catalogSource, registry: registrySource, rules: rules}
}

// GetRoutingRules returns the Router's current default rules table.
func (r *Router) GetRoutingRules() map[TaskType]DefaultRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[TaskType]DefaultRule, len(r.rules))
	for k, v := range r.rules {
		out[k] = v
	}
	return out
}

// SetRoutingRules hot-swaps the Router's default rules table, letting
// operators adjust routing without restarting the process.
func (r *Router) SetRoutingRules(rules map[TaskType]DefaultRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

func (r *Router) rule(taskType TaskType) (DefaultRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[taskType]
	return rule, ok
}

// selection tracks the in-flight routing attempt's rejected candidates
// and already-tried model IDs, threaded through every stage.
type selection struct {
	enabled     map[string]bool
	attempted   map[string]bool
	alternatives []Alternative
}

func newSelection(enabledProviders []string) *selection {
	enabled := make(map[string]bool, len(enabledProviders))
	for _, p := range enabledProviders {
		enabled[p] = true
	}
	return &selection{enabled: enabled, attempted: make(map[string]bool)}
}

func (s *selection) reject(modelID, provider, reason string, cost float64) {
	s.attempted[modelID] = true
	s.alternatives = append(s.alternatives, Alternative{
		Model: modelID, Provider: provider, EstimatedCost: cost, Reason: reason,
	})
}

// Route produces a RoutingDecision for req under cfg
func (r *Router) Route(ctx context.Context, req TaskRoutingRequest, cfg WorkspaceRoutingConfig) (*RoutingDecision, error) {
	if len(cfg.EnabledProviders) == 0 {
		return nil, &RoutingError{TaskType: req.TaskType, Request: req}
	}

	input, output := resolveTokens(req)
	sel := newSelection(cfg.EnabledProviders)

	if req.ForceModel != "" {
		if decision, ok, err := r.tryForceModel(ctx, req, sel, input, output); err != nil {
			return nil, err
		} else if ok {
			return decision, nil
		}
	}

	if req.ForceProvider != "" {
		if decision, ok, err := r.tryForceProvider(ctx, req, cfg, sel, input, output); err != nil {
			return nil, err
		} else if ok {
			return decision, nil
		}
	}

	if override, ok := cfg.TaskOverrides[req.TaskType]; ok {
		if decision, ok, err := r.tryOverride(ctx, req, sel, override, input, output); err != nil {
			return nil, err
		} else if ok {
			return decision, nil
		}
	}

	if cfg.Preset == PresetEconomy || cfg.Preset == PresetQuality {
		if decision, ok, err := r.tryPreset(ctx, req, cfg, sel, input, output); err != nil {
			return nil, err
		} else if ok {
			return decision, nil
		}
	}

	if decision, ok, err := r.tryDefaultRules(ctx, req, sel, input, output); err != nil {
		return nil, err
	} else if ok {
		return decision, nil
	}

	if decision, ok, err := r.tryRegistryFallback(ctx, req, cfg, sel, input, output); err != nil {
		return nil, err
	} else if ok {
		return decision, nil
	}

	attempted := make([]string, 0, len(sel.attempted))
	for m := range sel.attempted {
		attempted = append(attempted, m)
	}
	sort.Strings(attempted)
	return nil, &RoutingError{TaskType: req.TaskType, Request: req, AttemptedModels: attempted}
}

// tryForceModel implements stage 1: exists-in-catalog + provider-enabled
// is sufficient to select; capability mismatch only appends a warning.
func (r *Router) tryForceModel(ctx context.Context, req TaskRoutingRequest, sel *selection, input, output int) (*RoutingDecision, bool, error) {
	model, err := r.catalog.GetModel(ctx, req.ForceModel)
	if err != nil {
		return nil, false, fmt.Errorf("force model lookup failed: %w", err)
	}
	if model == nil {
		sel.reject(req.ForceModel, "", "forced model not found in catalog", missingPricingCost)
		return nil, false, nil
	}
	if !sel.enabled[model.Provider] {
		sel.reject(model.ModelID, model.Provider, "forced model's provider is not enabled", missingPricingCost)
		return nil, false, nil
	}

	reason := fmt.Sprintf("forced model %s", model.ModelID)
	if ok, capReason := validateCapability(*model, req); !ok {
		reason += fmt.Sprintf(" (warning: capability mismatch: %s)", capReason)
	}
	return &RoutingDecision{
		SelectedModel: model.ModelID,
		Provider:      model.Provider,
		Reason:        reason,
		EstimatedCost: costFor(*model, input, output),
		Alternatives:  sel.alternatives,
	}, true, nil
}

// tryForceProvider implements stage 2.
func (r *Router) tryForceProvider(ctx context.Context, req TaskRoutingRequest, cfg WorkspaceRoutingConfig, sel *selection, input, output int) (*RoutingDecision, bool, error) {
	if !sel.enabled[req.ForceProvider] {
		sel.reject("", req.ForceProvider, "forced provider is not enabled", missingPricingCost)
		return nil, false, nil
	}

	candidates, err := r.suitableModels(ctx, req.TaskType, catalog.ListFilter{Provider: req.ForceProvider})
	if err != nil {
		return nil, false, err
	}
	sortByInputPriceAscending(candidates)

	for _, model := range candidates {
		if ok, reason := validateCapability(model, req); !ok {
			sel.reject(model.ModelID, model.Provider, reason, costFor(model, input, output))
			continue
		}
		return decisionFor(model, "forced provider "+req.ForceProvider, sel, input, output), true, nil
	}
	return nil, false, nil
}

// tryOverride implements stage 3.
func (r *Router) tryOverride(ctx context.Context, req TaskRoutingRequest, sel *selection, override TaskOverride, input, output int) (*RoutingDecision, bool, error) {
	for _, modelID := range []string{override.PreferredModel, override.FallbackModel} {
		if modelID == "" || sel.attempted[modelID] {
			continue
		}
		model, ok, reason, err := r.genericModelCheck(ctx, modelID, req, sel)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			sel.reject(modelID, "", reason, missingPricingCost)
			continue
		}
		return decisionFor(*model, "workspace override: "+modelID, sel, input, output), true, nil
	}
	return nil, false, nil
}

// tryPreset implements stage 4.
func (r *Router) tryPreset(ctx context.Context, req TaskRoutingRequest, cfg WorkspaceRoutingConfig, sel *selection, input, output int) (*RoutingDecision, bool, error) {
	candidates, err := r.enabledSuitableModels(ctx, req.TaskType, cfg.EnabledProviders)
	if err != nil {
		return nil, false, err
	}

	if cfg.Preset == PresetEconomy {
		sortByInputPriceAscending(candidates)
	} else {
		sortByTierDescending(candidates)
	}

	for _, model := range candidates {
		if sel.attempted[model.ModelID] {
			continue
		}
		if ok, reason := validateCapability(model, req); !ok {
			sel.reject(model.ModelID, model.Provider, reason, costFor(model, input, output))
			continue
		}
		return decisionFor(model, "preset "+string(cfg.Preset), sel, input, output), true, nil
	}
	return nil, false, nil
}

// tryDefaultRules implements stage 5.
func (r *Router) tryDefaultRules(ctx context.Context, req TaskRoutingRequest, sel *selection, input, output int) (*RoutingDecision, bool, error) {
	rule, ok := r.rule(req.TaskType)
	if !ok {
		return nil, false, nil
	}

	for _, modelID := range rule.Candidates() {
		if modelID == "" || sel.attempted[modelID] {
			continue
		}
		model, ok, reason, err := r.genericModelCheck(ctx, modelID, req, sel)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			sel.reject(modelID, "", reason, missingPricingCost)
			continue
		}
		return decisionFor(*model, "default rule for "+string(req.TaskType), sel, input, output), true, nil
	}
	return nil, false, nil
}

// tryRegistryFallback implements stage 6.
func (r *Router) tryRegistryFallback(ctx context.Context, req TaskRoutingRequest, cfg WorkspaceRoutingConfig, sel *selection, input, output int) (*RoutingDecision, bool, error) {
	candidates, err := r.enabledSuitableModels(ctx, req.TaskType, cfg.EnabledProviders)
	if err != nil {
		return nil, false, err
	}
	sortByInputPriceAscending(candidates)

	for _, model := range candidates {
		if sel.attempted[model.ModelID] {
			continue
		}
		if ok, reason := validateCapability(model, req); !ok {
			sel.reject(model.ModelID, model.Provider, reason, costFor(model, input, output))
			continue
		}
		return decisionFor(model, "registry fallback", sel, input, output), true, nil
	}
	return nil, false, nil
}

// genericModelCheck resolves modelID through the catalog and validates
// both provider-enablement and capability used by the override and default-rule stages
// (unlike forceModel, a capability mismatch here rejects the candidate).
func (r *Router) genericModelCheck(ctx context.Context, modelID string, req TaskRoutingRequest, sel *selection) (*catalog.Model, bool, string, error) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return nil, false, "", fmt.Errorf("model lookup for %s failed: %w", modelID, err)
	}
	if model == nil {
		return nil, false, "model not found in catalog", nil
	}
	if !sel.enabled[model.Provider] {
		return nil, false, "provider not enabled, no BYOK key configured for " + model.Provider, nil
	}
	if ok, reason := validateCapability(*model, req); !ok {
		return nil, false, reason, nil
	}
	return model, true, "", nil
}

// suitableModels lists catalog models for taskType matching filter,
// narrowing to rows whose SuitableFor actually names taskType (the
// catalog's own taskType query parameter is an additional hint, not a
// substitute, since not every deployed registry honors it).
func (r *Router) suitableModels(ctx context.Context, taskType TaskType, filter catalog.ListFilter) ([]catalog.Model, error) {
	filter.TaskType = string(taskType)
	models, err := r.catalog.ListModels(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("catalog listing failed: %w", err)
	}
	out := make([]catalog.Model, 0, len(models))
	for _, m := range models {
		if !m.Available {
			continue
		}
		if suitableFor(m, taskType) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *Router) enabledSuitableModels(ctx context.Context, taskType TaskType, enabledProviders []string) ([]catalog.Model, error) {
	var out []catalog.Model
	for _, providerID := range enabledProviders {
		models, err := r.suitableModels(ctx, taskType, catalog.ListFilter{Provider: providerID})
		if err != nil {
			return nil, err
		}
		out = append(out, models...)
	}
	return out, nil
}

// IsModelAvailable reports whether modelID both exists and is usable
// under cfg: "exists ∧ available ∧ provider enabled
// in registry ∧ provider in enabled list."
func (r *Router) IsModelAvailable(ctx context.Context, modelID string, cfg WorkspaceRoutingConfig) (bool, error) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return false, err
	}
	if model == nil || !model.Available {
		return false, nil
	}
	enabled := newSelection(cfg.EnabledProviders)
	if !enabled.enabled[model.Provider] {
		return false, nil
	}
	if r.registry != nil && !r.registry.IsEnabled(model.Provider) {
		return false, nil
	}
	return true, nil
}

// GetAvailableModels groups every available=true catalog model from an
// enabled provider by the task types it is suitable for.
func (r *Router) GetAvailableModels(ctx context.Context, cfg WorkspaceRoutingConfig) (map[TaskType][]catalog.Model, error) {
	out := make(map[TaskType][]catalog.Model)
	for _, providerID := range cfg.EnabledProviders {
		models, err := r.catalog.ListModels(ctx, catalog.ListFilter{Provider: providerID})
		if err != nil {
			return nil, fmt.Errorf("catalog listing failed: %w", err)
		}
		for _, m := range models {
			if !m.Available {
				continue
			}
			for _, taskType := range m.SuitableFor {
				tt := TaskType(taskType)
				out[tt] = append(out[tt], m)
			}
		}
	}
	return out, nil
}

// EstimateCost resolves modelID through the catalog and applies the
// standard cost formula, returning the missingPricingCost sentinel when
// the model cannot be found.
func (r *Router) EstimateCost(ctx context.Context, modelID string, input, output int) (float64, error) {
	model, err := r.catalog.GetModel(ctx, modelID)
	if err != nil {
		return missingPricingCost, err
	}
	if model == nil {
		return missingPricingCost, nil
	}
	return costFor(*model, input, output), nil
}

func resolveTokens(req TaskRoutingRequest) (int, int) {
	input := defaultEstimatedInputTokens
	if req.EstimatedInputTokens != nil {
		input = *req.EstimatedInputTokens
	}
	output := defaultEstimatedOutputTokens
	if req.EstimatedOutputTokens != nil {
		output = *req.EstimatedOutputTokens
	}
	return input, output
}

func costFor(model catalog.Model, input, output int) float64 {
	return (float64(input)*model.InputPricePer1M + float64(output)*model.OutputPricePer1M) / 1e6
}

func decisionFor(model catalog.Model, reason string, sel *selection, input, output int) *RoutingDecision {
	return &RoutingDecision{
		SelectedModel: model.ModelID,
		Provider:      model.Provider,
		Reason:        reason,
		EstimatedCost: costFor(model, input, output),
		Alternatives:  sel.alternatives,
	}
}

// validateCapability checks a candidate model against a request's
// capability requirements.
func validateCapability(model catalog.Model, req TaskRoutingRequest) (bool, string) {
	if req.RequiresTools && !model.SupportsTools {
		return false, "requires tool support"
	}
	if req.RequiresVision && !model.SupportsVision {
		return false, "requires vision support"
	}
	if req.RequiresStreaming && !model.SupportsStreaming {
		return false, "requires streaming support"
	}
	if req.ContextSizeTokens != nil && model.ContextWindow < *req.ContextSizeTokens {
		return false, "context window too small"
	}
	if req.TaskType != TaskEmbedding {
		if len(model.SuitableFor) == 1 && model.SuitableFor[0] == string(TaskEmbedding) {
			return false, "model is embedding-only"
		}
	} else if !model.SupportsEmbedding {
		return false, "model does not support embedding"
	}
	return true, ""
}

func suitableFor(model catalog.Model, taskType TaskType) bool {
	for _, t := range model.SuitableFor {
		if TaskType(t) == taskType {
			return true
		}
	}
	return false
}

func sortByInputPriceAscending(models []catalog.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].InputPricePer1M < models[j].InputPricePer1M
	})
}

func sortByTierDescending(models []catalog.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		return qualityTierRank[models[i].QualityTier] > qualityTierRank[models[j].QualityTier]
	})
}

// Package app wires the configured collaborators into a ready shopping service.
package app

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/copilotkit-support/AI-shopping-assistant/config"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/infrastructure/cache"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/infrastructure/openai"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/infrastructure/tavily"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/usecase"
)

// Pipeline is the wired shopping service plus the resources it owns
type Pipeline struct {
	Service *usecase.ShoppingService
	cache   *cache.MemoryCache
}

// Close releases the pipeline's background resources
func (p *Pipeline) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}

// NewPipeline builds the shopping service from configuration. Missing API keys
// do not fail here; each turn reports them instead.
func NewPipeline(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	policies, err := SelectPolicies(cfg.Pipeline.Retailers)
	if err != nil {
		return nil, err
	}
	classifier := usecase.NewClassifier(policies)

	schema, err := usecase.NewProductSchema()
	if err != nil {
		return nil, err
	}

	searchClient := tavily.NewClient(cfg.Tavily.APIKey, cfg.Tavily.BaseURL, cfg.Tavily.RequestsPerMinute, logger)
	llmClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Timeout, logger)

	runner := usecase.NewRetailerRunner(
		searchClient,
		classifier,
		usecase.NewPromptBuilder(schema, cfg.Pipeline.MaxContentChars),
		usecase.NewExtractor(llmClient, schema),
		logger.Named("retailer"),
		usecase.RetailerRunnerConfig{
			PerRetailerCap: cfg.Pipeline.PerRetailerCap,
			FollowLimit:    cfg.Pipeline.FollowLimit,
			ExtractTimeout: cfg.Pipeline.ExtractTimeout,
		},
	)

	turnCache := cache.NewMemoryCache(cfg.Cache.MaxEntries, 0)
	service := usecase.NewShoppingService(
		turnCache,
		searchClient,
		runner,
		classifier,
		logger.Named("turn"),
		usecase.ShoppingServiceConfig{
			WorkerPoolSize:   cfg.Pipeline.WorkerPoolSize,
			MaxSearchResults: cfg.Pipeline.MaxSearchResults,
			MergeTarget:      cfg.Pipeline.MergeTarget,
			BufferSize:       cfg.Pipeline.BufferSize,
			CacheTTL:         cfg.Cache.TTL,
			Preflight:        cfg.CheckCredentials,
		},
	)

	return &Pipeline{Service: service, cache: turnCache}, nil
}

// SelectPolicies returns the known retailer policies for the configured
// domains, in configured order
func SelectPolicies(domains []string) ([]usecase.RetailerPolicy, error) {
	known := usecase.DefaultRetailerPolicies()
	selected := make([]usecase.RetailerPolicy, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" || seen[d] {
			continue
		}
		found := false
		for _, p := range known {
			if p.Domain == d {
				selected = append(selected, p)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unsupported retailer %q", d)
		}
		seen[d] = true
	}
	if len(selected) == 0 {
		return nil, errors.New("no retailers configured")
	}
	return selected, nil
}

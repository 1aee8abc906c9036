package domain

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// SearchClient finds candidate product URLs restricted to retailer domains
type SearchClient interface {
	Search(ctx context.Context, request SearchRequest) ([]SearchHit, error)
}

// ExtractClient fetches the raw textual content of a batch of URLs
type ExtractClient interface {
	Extract(ctx context.Context, urls []string) ([]Page, error)
}

// LLMClient asks a language model for a JSON object answer
type LLMClient interface {
	CompleteJSON(ctx context.Context, systemInstruction, userPrompt string) (string, error)
}

// ProgressObserver receives incremental turn progress. Calls must not block.
type ProgressObserver interface {
	OnLog(entry LogEntry)
	OnCanvas(status CanvasStatus)
}

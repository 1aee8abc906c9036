package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// Turn defaults
const (
	DefaultWorkerPoolSize   = 3
	DefaultMaxSearchResults = 8
	DefaultBufferSize       = 10
	DefaultTurnCacheTTL     = 30 * time.Minute
)

// User-facing terminal messages, one per failure class
const (
	MessageMissingCredential = "The shopping assistant is not configured yet: a search or model API key is missing."
	MessageContextTooLong    = "Those product pages were too large for me to read in one go. Try a more specific query."
	MessageInvalidRequest    = "Tell me what product you are looking for and I will search the retailers."
	MessageGenericFailure    = "Sorry, something went wrong while researching products. Please try again."
)

// ShoppingServiceConfig holds configuration for the shopping service
type ShoppingServiceConfig struct {
	WorkerPoolSize   int
	MaxSearchResults int
	MergeTarget      int
	BufferSize       int
	CacheTTL         time.Duration
	// Preflight runs before every turn; a non-nil error aborts the turn
	Preflight func() error
}

// ShoppingService runs one product research turn end to end
type ShoppingService struct {
	cache        domain.CacheRepository
	searchClient domain.SearchClient
	runner       *RetailerRunner
	classifier   *Classifier
	selector     *MergeSelector
	logger       *zap.Logger

	workerPoolSize   int
	maxSearchResults int
	bufferSize       int
	cacheTTL         time.Duration
	preflight        func() error
}

// NewShoppingService creates a new shopping service with dependencies
func NewShoppingService(
	cache domain.CacheRepository,
	searchClient domain.SearchClient,
	runner *RetailerRunner,
	classifier *Classifier,
	logger *zap.Logger,
	config ShoppingServiceConfig,
) *ShoppingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := config.WorkerPoolSize
	if workers <= 0 {
		workers = DefaultWorkerPoolSize
	}
	maxResults := config.MaxSearchResults
	if maxResults <= 0 {
		maxResults = DefaultMaxSearchResults
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	cacheTTL := config.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultTurnCacheTTL
	}

	return &ShoppingService{
		cache:            cache,
		searchClient:     searchClient,
		runner:           runner,
		classifier:       classifier,
		selector:         NewMergeSelector(config.MergeTarget, nil),
		logger:           logger,
		workerPoolSize:   workers,
		maxSearchResults: maxResults,
		bufferSize:       bufferSize,
		cacheTTL:         cacheTTL,
		preflight:        config.Preflight,
	}
}

// WithSelector replaces the merge selector, mainly to seed randomness in tests
func (s *ShoppingService) WithSelector(selector *MergeSelector) *ShoppingService {
	s.selector = selector
	return s
}

// RunTurn researches a query across retailers.
// Flow: preflight -> cache -> per-retailer search and extract -> merge -> unshield -> cache -> return
func (s *ShoppingService) RunTurn(
	ctx context.Context,
	request *domain.TurnRequest,
	observer domain.ProgressObserver,
) (*domain.TurnResult, error) {
	if request == nil || strings.TrimSpace(request.Query) == "" {
		return nil, domain.ErrInvalidRequest
	}
	query := strings.TrimSpace(request.Query)

	retailers, err := s.resolveRetailers(request.Retailers)
	if err != nil {
		return nil, err
	}

	if s.preflight != nil {
		if err := s.preflight(); err != nil {
			return nil, err
		}
	}

	rec := newProgressRecorder(observer)
	cacheKey := turnCacheKey(query, retailers)
	if cached, err := s.getFromCache(ctx, cacheKey); err == nil && cached != nil {
		cached.Source = "Cache"
		rec.canvas(cached.Canvas)
		rec.log("Loaded earlier results for this query", domain.LogStatusCompleted)
		return cached, nil
	}

	rec.canvas(domain.CanvasStatus{Title: "Researching products", Subtitle: query})
	rec.log(fmt.Sprintf("Searching %s", strings.Join(retailers, ", ")), domain.LogStatusProcessing)

	mappings := domain.NewURLMappings()
	perRetailer := make([][]domain.Product, len(retailers))
	failures := make([]error, len(retailers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerPoolSize)
	for i, retailer := range retailers {
		g.Go(func() error {
			urls, err := s.search(gctx, query, retailer)
			if err != nil {
				s.logger.Warn("search failed, retailer contributes nothing",
					zap.String("retailer", retailer), zap.Error(err))
				rec.log(fmt.Sprintf("Search on %s failed", retailer), domain.LogStatusCompleted)
				failures[i] = fmt.Errorf("search %s: %w", retailer, err)
				return nil
			}
			products, err := s.runner.Run(gctx, retailer, urls, mappings, rec.entry)
			if errors.Is(err, domain.ErrContextLengthExceeded) {
				return err
			}
			failures[i] = err
			perRetailer[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("turn aborted", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.logger.Warn("turn canceled", zap.String("query", query), zap.Error(err))
		return nil, err
	}

	failed := 0
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	if failed == len(retailers) {
		err := fmt.Errorf("every retailer failed: %w", errors.Join(failures...))
		s.logger.Error("turn aborted", zap.String("query", query), zap.Error(err))
		return nil, err
	}

	rec.log("Merging results across retailers", domain.LogStatusProcessing)
	byRetailer, all := s.finalize(retailers, perRetailer, mappings.Entries())
	selected := s.selector.Merge(byRetailer, retailers)

	result := &domain.TurnResult{
		TurnID:    uuid.NewString(),
		Query:     query,
		Products:  selected,
		Buffer:    s.buffer(selected, all),
		Source:    "Live",
		CreatedAt: time.Now(),
	}
	result.Canvas = domain.CanvasStatus{
		Title:    fmt.Sprintf("Found %d products", len(selected)),
		Subtitle: query,
	}
	rec.canvas(result.Canvas)
	rec.log(fmt.Sprintf("Selected %d of %d products", len(selected), len(all)), domain.LogStatusCompleted)
	result.Logs = rec.entries()

	s.logger.Info("turn completed",
		zap.String("turn_id", result.TurnID),
		zap.Int("selected", len(selected)),
		zap.Int("available", len(all)),
		zap.Int("failed_retailers", failed),
		zap.Int("mappings", mappings.Len()))

	// Turns with a failed retailer are not cached by query; empty turns not at all
	if len(all) == 0 {
		return result, nil
	}
	if failed == 0 {
		if err := s.setInCache(ctx, cacheKey, result); err != nil {
			s.logger.Warn("failed to cache turn", zap.Error(err))
		}
	}
	if err := s.setInCache(ctx, turnIDCacheKey(result.TurnID), result); err != nil {
		s.logger.Warn("failed to cache turn by id", zap.Error(err))
	}
	return result, nil
}

// ShowMore returns the buffered products of a finished turn
func (s *ShoppingService) ShowMore(ctx context.Context, turnID string) ([]domain.Product, error) {
	if strings.TrimSpace(turnID) == "" {
		return nil, domain.ErrInvalidRequest
	}
	result, err := s.getFromCache(ctx, turnIDCacheKey(turnID))
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, domain.ErrTurnNotFound
		}
		return nil, err
	}
	return result.Buffer, nil
}

// UserMessage maps a turn failure to the terminal assistant message
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrMissingCredential):
		return MessageMissingCredential
	case errors.Is(err, domain.ErrContextLengthExceeded):
		return MessageContextTooLong
	case errors.Is(err, domain.ErrInvalidRequest):
		return MessageInvalidRequest
	default:
		return MessageGenericFailure
	}
}

func (s *ShoppingService) resolveRetailers(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return s.classifier.Domains(), nil
	}
	seen := make(map[string]bool, len(requested))
	var out []string
	for _, r := range requested {
		r = retailerOf("https://" + strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(r), "https://"), "http://"))
		policy, ok := s.classifier.Policy(r)
		if !ok || seen[policy.Domain] {
			continue
		}
		seen[policy.Domain] = true
		out = append(out, policy.Domain)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no supported retailer in %v", domain.ErrInvalidRequest, requested)
	}
	return out, nil
}

func (s *ShoppingService) search(ctx context.Context, query, retailer string) ([]string, error) {
	hits, err := s.searchClient.Search(ctx, domain.SearchRequest{
		Query:      query,
		Domains:    []string{retailer},
		MaxResults: s.maxSearchResults,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(hits))
	urls := make([]string, 0, len(hits))
	for _, hit := range hits {
		u := strings.TrimSpace(hit.URL)
		if u == "" || seen[u] || !strings.Contains(retailerOf(u), retailer) {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls, nil
}

// finalize assigns ids, restores original URLs and drops records whose product
// URL could not be resolved. It returns the per-retailer lists and their
// concatenation in retailer order.
func (s *ShoppingService) finalize(
	retailers []string,
	perRetailer [][]domain.Product,
	mappings []domain.URLMapping,
) (map[string][]domain.Product, []domain.Product) {
	byRetailer := make(map[string][]domain.Product, len(retailers))
	var all []domain.Product
	for i, retailer := range retailers {
		restored := Unshield(perRetailer[i], mappings)
		kept := make([]domain.Product, 0, len(restored))
		for _, p := range restored {
			if p.ProductURL == "" {
				s.logger.Debug("dropping product with unresolved URL",
					zap.String("retailer", retailer), zap.String("title", p.Title))
				continue
			}
			p.ID = uuid.NewString()
			kept = append(kept, p)
		}
		byRetailer[retailer] = kept
		all = append(all, kept...)
	}
	return byRetailer, all
}

// buffer lists the selected products first, then the rest, up to the buffer size
func (s *ShoppingService) buffer(selected, all []domain.Product) []domain.Product {
	inSelection := make(map[string]bool, len(selected))
	out := make([]domain.Product, 0, min(len(all), s.bufferSize))
	for _, p := range selected {
		inSelection[p.ID] = true
		if len(out) < s.bufferSize {
			out = append(out, p)
		}
	}
	for _, p := range all {
		if len(out) >= s.bufferSize {
			break
		}
		if !inSelection[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// turnCacheKey creates a normalized cache key from the query and retailer set.
// Format: "turn:{normalized_query}:{retailers}"
func turnCacheKey(query string, retailers []string) string {
	sorted := append([]string(nil), retailers...)
	sort.Strings(sorted)
	return fmt.Sprintf("turn:%s:%s", normalizeForCacheKey(query), strings.Join(sorted, ","))
}

func turnIDCacheKey(turnID string) string {
	return "turn-id:" + turnID
}

// normalizeForCacheKey lowercases, strips punctuation and collapses whitespace
func normalizeForCacheKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' || r == '$' {
			b.WriteRune(r)
		} else if r == '\t' || r == '\n' {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// getFromCache retrieves a turn result from cache
func (s *ShoppingService) getFromCache(ctx context.Context, key string) (*domain.TurnResult, error) {
	if s.cache == nil {
		return nil, domain.ErrCacheMiss
	}
	value, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if result, ok := value.(*domain.TurnResult); ok {
		copied := *result
		return &copied, nil
	}

	// Stored values come back as generic JSON maps
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, domain.ErrCacheMiss
	}
	var result domain.TurnResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, domain.ErrCacheMiss
	}
	return &result, nil
}

// setInCache stores a turn result in cache
func (s *ShoppingService) setInCache(ctx context.Context, key string, result *domain.TurnResult) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Set(ctx, key, result, s.cacheTTL)
}

// progressRecorder forwards progress to the observer and keeps the log for the result
type progressRecorder struct {
	observer domain.ProgressObserver
	mu       sync.Mutex
	logs     []domain.LogEntry
}

func newProgressRecorder(observer domain.ProgressObserver) *progressRecorder {
	return &progressRecorder{observer: observer}
}

func (p *progressRecorder) log(message string, status domain.LogStatus) {
	p.entry(domain.LogEntry{Message: message, Status: status})
}

func (p *progressRecorder) entry(entry domain.LogEntry) {
	p.mu.Lock()
	p.logs = append(p.logs, entry)
	p.mu.Unlock()
	if p.observer != nil {
		p.observer.OnLog(entry)
	}
}

func (p *progressRecorder) canvas(status domain.CanvasStatus) {
	if p.observer != nil {
		p.observer.OnCanvas(status)
	}
}

func (p *progressRecorder) entries() []domain.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LogEntry, len(p.logs))
	copy(out, p.logs)
	return out
}

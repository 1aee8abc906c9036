package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// Orchestrator defaults
const (
	DefaultPerRetailerCap = 2
	DefaultFollowLimit    = 6
	DefaultExtractTimeout = 120 * time.Second

	maxPageImages = 8
)

// RetailerRunnerConfig holds the per-retailer throughput bounds
type RetailerRunnerConfig struct {
	// PerRetailerCap stops further pages once more than this many products are collected
	PerRetailerCap int
	// FollowLimit bounds the PDP links harvested from listings for a follow-up pass
	FollowLimit    int
	ExtractTimeout time.Duration
}

// RetailerRunner fetches, shields and extracts the pages of one retailer
type RetailerRunner struct {
	extractClient domain.ExtractClient
	classifier    *Classifier
	prompts       *PromptBuilder
	extractor     *Extractor
	logger        *zap.Logger
	newScope      func() string

	perRetailerCap int
	followLimit    int
	extractTimeout time.Duration
}

// NewRetailerRunner creates a runner with its collaborators
func NewRetailerRunner(
	extractClient domain.ExtractClient,
	classifier *Classifier,
	prompts *PromptBuilder,
	extractor *Extractor,
	logger *zap.Logger,
	config RetailerRunnerConfig,
) *RetailerRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	perRetailerCap := config.PerRetailerCap
	if perRetailerCap <= 0 {
		perRetailerCap = DefaultPerRetailerCap
	}
	followLimit := config.FollowLimit
	if followLimit <= 0 {
		followLimit = DefaultFollowLimit
	}
	extractTimeout := config.ExtractTimeout
	if extractTimeout <= 0 {
		extractTimeout = DefaultExtractTimeout
	}

	return &RetailerRunner{
		extractClient:  extractClient,
		classifier:     classifier,
		prompts:        prompts,
		extractor:      extractor,
		logger:         logger,
		newScope:       pageScope,
		perRetailerCap: perRetailerCap,
		followLimit:    followLimit,
		extractTimeout: extractTimeout,
	}
}

// pageScope returns a short unique placeholder segment for one page
func pageScope() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// pageOutcome is what one processed page contributes to the retailer run
type pageOutcome struct {
	products  []domain.Product
	harvested []string
}

// Run processes the retailer's URLs in order and returns its collected products,
// still shielded and without ids. Page failures are skipped. A failed batch
// fetch is returned so the caller can tell an outage from an empty result; a
// context length failure is returned and aborts the whole turn.
func (r *RetailerRunner) Run(
	ctx context.Context,
	retailer string,
	urls []string,
	mappings *domain.URLMappings,
	progress func(domain.LogEntry),
) ([]domain.Product, error) {
	log := r.logger.With(zap.String("retailer", retailer))
	if len(urls) == 0 {
		return nil, nil
	}
	emit(progress, fmt.Sprintf("Extracting %d pages from %s", len(urls), retailer), domain.LogStatusProcessing)

	pages, err := r.fetch(ctx, urls)
	if err != nil {
		log.Warn("extraction collaborator failed, retailer contributes nothing", zap.Error(err))
		emit(progress, fmt.Sprintf("Could not read pages from %s", retailer), domain.LogStatusCompleted)
		return nil, fmt.Errorf("extract %s: %w", retailer, err)
	}

	policy, _ := r.classifier.Policy(retailer)
	var products []domain.Product
	var follow []string

	for _, page := range pages {
		if len(products) > r.perRetailerCap {
			log.Debug("per-retailer cap reached, skipping remaining pages",
				zap.Int("collected", len(products)))
			break
		}
		if strings.TrimSpace(page.RawContent) == "" {
			log.Debug("empty page content, skipping", zap.String("url", page.URL))
			continue
		}

		outcome, err := r.processPage(ctx, retailer, policy, page, r.classifier.IsPDP(page.URL), mappings)
		if err != nil {
			return products, err
		}
		products = append(products, outcome.products...)
		follow = append(follow, outcome.harvested...)
	}

	follow = r.followTargets(follow)
	if len(follow) > 0 && len(products) <= r.perRetailerCap {
		followed, err := r.followPDPs(ctx, retailer, policy, follow, mappings, len(products))
		if err != nil {
			return products, err
		}
		products = append(products, followed...)
	}

	emit(progress, fmt.Sprintf("Found %d products on %s", len(products), retailer), domain.LogStatusCompleted)
	log.Info("retailer run finished", zap.Int("products", len(products)), zap.Int("pages", len(pages)))
	return products, nil
}

// followPDPs runs a detail-mode pass over PDP links harvested from listings,
// keeping exactly one product per page
func (r *RetailerRunner) followPDPs(
	ctx context.Context,
	retailer string,
	policy RetailerPolicy,
	urls []string,
	mappings *domain.URLMappings,
	collected int,
) ([]domain.Product, error) {
	log := r.logger.With(zap.String("retailer", retailer))
	pages, err := r.fetch(ctx, urls)
	if err != nil {
		log.Warn("follow-up extraction failed", zap.Error(err))
		return nil, nil
	}

	var products []domain.Product
	for _, page := range pages {
		if collected+len(products) > r.perRetailerCap {
			break
		}
		if strings.TrimSpace(page.RawContent) == "" {
			continue
		}
		outcome, err := r.processPage(ctx, retailer, policy, page, true, mappings)
		if err != nil {
			return products, err
		}
		if len(outcome.products) > 0 {
			products = append(products, outcome.products[0])
		}
	}
	return products, nil
}

func (r *RetailerRunner) fetch(ctx context.Context, urls []string) ([]domain.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, r.extractTimeout)
	defer cancel()
	return r.extractClient.Extract(ctx, urls)
}

func (r *RetailerRunner) processPage(
	ctx context.Context,
	retailer string,
	policy RetailerPolicy,
	page domain.Page,
	isDetail bool,
	mappings *domain.URLMappings,
) (pageOutcome, error) {
	log := r.logger.With(zap.String("retailer", retailer), zap.String("url", page.URL))

	shielder := NewShielder(r.newScope())
	shielded := shielder.Shield(page.RawContent)
	sourcePlaceholder := shielder.Shield(page.URL)

	var hints domain.Hints
	if policy.StructuredAssist {
		hints = ExtractHints(page.RawContent)
	}
	hints = withPageImages(hints, page.Images)
	shielder.ShieldHints(hints)
	mappings.Append(shielder.Mappings()...)

	prompt := r.prompts.Build(shielded, sourcePlaceholder, hints, isDetail)
	result := r.extractor.Extract(ctx, prompt)
	if !result.OK() {
		if result.Failure != nil && result.Failure.ContextLengthExceeded() {
			log.Error("prompt exceeds model context", zap.Int("prompt_len", len(prompt)))
			return pageOutcome{}, result.Failure
		}
		log.Warn("page extraction failed, skipping", zap.Error(result.Failure))
		return pageOutcome{}, nil
	}

	envelope := result.Envelope
	if envelope.SourceURL == "" {
		envelope.SourceURL = page.URL
	} else if original, ok := shielder.Resolve(envelope.SourceURL); ok {
		envelope.SourceURL = original
	}
	if envelope.Retailer == "" {
		envelope.Retailer = retailer
	}

	products := make([]domain.Product, 0, len(envelope.Products))
	for _, p := range envelope.Products {
		p.Retailer = envelope.Retailer
		p.SourceURL = envelope.SourceURL
		products = append(products, p)
	}

	var outcome pageOutcome
	if policy.EnforcePDP {
		products = r.onlyPDPs(products, shielder)
		if len(products) == 0 && !isDetail {
			outcome.harvested = r.classifier.HarvestPDPLinks(page.RawContent, retailer)
			log.Debug("no PDP products on listing, harvested links", zap.Int("links", len(outcome.harvested)))
		}
	}
	if isDetail && len(products) > 1 {
		products = products[:1]
	}
	outcome.products = products

	log.Debug("page extracted", zap.Int("products", len(products)), zap.Bool("detail", isDetail))
	return outcome, nil
}

// onlyPDPs keeps products whose shielded URL resolves to a retailer PDP
func (r *RetailerRunner) onlyPDPs(products []domain.Product, shielder *Shielder) []domain.Product {
	out := products[:0]
	for _, p := range products {
		original, ok := shielder.Resolve(p.ProductURL)
		if ok && r.classifier.IsPDP(original) {
			out = append(out, p)
		}
	}
	return out
}

func (r *RetailerRunner) followTargets(links []string) []string {
	seen := make(map[string]bool, len(links))
	var out []string
	for _, link := range links {
		if seen[link] || !r.classifier.IsPDP(link) {
			continue
		}
		seen[link] = true
		out = append(out, link)
		if len(out) == r.followLimit {
			break
		}
	}
	return out
}

// withPageImages adds the images the extraction collaborator returned for the
// page as image_urls, unless the page's own structured data already set them
func withPageImages(hints domain.Hints, images []string) domain.Hints {
	if _, ok := hints["image_urls"]; ok {
		return hints
	}
	seen := make(map[string]bool, len(images))
	var urls []string
	for _, img := range images {
		img = strings.TrimSpace(img)
		if img == "" || seen[img] {
			continue
		}
		seen[img] = true
		urls = append(urls, img)
		if len(urls) == maxPageImages {
			break
		}
	}
	if len(urls) == 0 {
		return hints
	}
	if hints == nil {
		hints = domain.Hints{}
	}
	hints["image_urls"] = urls
	return hints
}

func emit(progress func(domain.LogEntry), message string, status domain.LogStatus) {
	if progress != nil {
		progress(domain.LogEntry{Message: message, Status: status})
	}
}

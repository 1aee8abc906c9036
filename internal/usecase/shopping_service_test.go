package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockCacheRepository is a mock implementation of domain.CacheRepository
type MockCacheRepository struct {
	mu   sync.Mutex
	data map[string]interface{}
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{data: make(map[string]interface{})}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if val, ok := m.data[key]; ok {
		return val, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

// MockSearchClient returns fixed hits per retailer domain
type MockSearchClient struct {
	Hits  map[string][]string
	Errs  map[string]error
	calls atomic.Int32
}

func (m *MockSearchClient) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchHit, error) {
	m.calls.Add(1)
	domainName := request.Domains[0]
	if err := m.Errs[domainName]; err != nil {
		return nil, err
	}
	var hits []domain.SearchHit
	for _, u := range m.Hits[domainName] {
		hits = append(hits, domain.SearchHit{URL: u})
	}
	return hits, nil
}

// recordingObserver keeps every progress event
type recordingObserver struct {
	mu       sync.Mutex
	logs     []domain.LogEntry
	canvases []domain.CanvasStatus
}

func (o *recordingObserver) OnLog(entry domain.LogEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, entry)
}

func (o *recordingObserver) OnCanvas(status domain.CanvasStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canvases = append(o.canvases, status)
}

// failingExtractClient fails for one retailer and delegates the rest
type failingExtractClient struct {
	inner    domain.ExtractClient
	failHost string
}

func (f *failingExtractClient) Extract(ctx context.Context, urls []string) ([]domain.Page, error) {
	for _, u := range urls {
		if strings.Contains(u, f.failHost) {
			return nil, domain.ErrExtractFailure
		}
	}
	return f.inner.Extract(ctx, urls)
}

const (
	amazonSearchURL = "https://www.amazon.com/s?k=kettle"
	targetPDPURL    = "https://www.target.com/p/electric-kettle/-/A-1"
	ebaySearchURL   = "https://www.ebay.com/sch/i.html?_nkw=kettle"
)

func fixturePages() map[string]string {
	return map[string]string{
		amazonSearchURL: amazonListing("B1", "B2", "B3"),
		targetPDPURL:    "Electric Kettle 1.7L $24.99 " + targetPDPURL,
		ebaySearchURL:   "Kettles https://www.ebay.com/itm/111 https://www.ebay.com/itm/222",
	}
}

func fixtureSearch() *MockSearchClient {
	return &MockSearchClient{Hits: map[string][]string{
		"amazon.com": {amazonSearchURL, amazonSearchURL, "https://www.walmart.com/ip/1"},
		"target.com": {targetPDPURL},
		"ebay.com":   {ebaySearchURL},
	}}
}

type serviceFixture struct {
	service *ShoppingService
	search  *MockSearchClient
	extract domain.ExtractClient
	llm     *MockLLMClient
	cache   *MockCacheRepository
}

func newServiceFixture(t *testing.T, opts ...func(*serviceFixture)) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		search:  fixtureSearch(),
		extract: &MockExtractClient{Pages: fixturePages()},
		llm:     echoLLM(nil),
		cache:   NewMockCacheRepository(),
	}
	for _, opt := range opts {
		opt(f)
	}

	schema := MustProductSchema()
	classifier := NewClassifier(DefaultRetailerPolicies())
	runner := NewRetailerRunner(f.extract, classifier, NewPromptBuilder(schema, 0), NewExtractor(f.llm, schema), zap.NewNop(), RetailerRunnerConfig{})
	f.service = NewShoppingService(f.cache, f.search, runner, classifier, zap.NewNop(), ShoppingServiceConfig{}).
		WithSelector(NewMergeSelector(DefaultMergeTarget, seeded(5)))
	return f
}

func TestRunTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("researches every retailer and merges fairly", func(t *testing.T) {
		f := newServiceFixture(t)
		observer := &recordingObserver{}

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "  electric kettle "}, observer)

		require.NoError(t, err)
		assert.Equal(t, "electric kettle", result.Query)
		assert.Equal(t, "Live", result.Source)
		assert.NotEmpty(t, result.TurnID)
		require.Len(t, result.Products, 5)

		counts := countByRetailer(result.Products)
		assert.GreaterOrEqual(t, counts["amazon.com"], 1)
		assert.GreaterOrEqual(t, counts["target.com"], 1)
		assert.GreaterOrEqual(t, counts["ebay.com"], 1)

		ids := map[string]bool{}
		for _, p := range result.Products {
			assert.NotEmpty(t, p.ID)
			assert.False(t, ids[p.ID], "ids must be unique")
			ids[p.ID] = true
			assert.NotContains(t, p.ProductURL, ".local/", "placeholders must be restored")
			assert.Contains(t, p.ProductURL, p.Retailer)
		}

		require.Len(t, result.Buffer, 6)
		for i, p := range result.Products {
			assert.Equal(t, p.ID, result.Buffer[i].ID, "buffer lists the selection first")
		}

		assert.NotEmpty(t, observer.canvases)
		assert.NotEmpty(t, observer.logs)
		assert.Len(t, observer.logs, len(result.Logs))
		assert.Equal(t, domain.LogStatusCompleted, result.Logs[len(result.Logs)-1].Status)
	})

	t.Run("a failing search leaves the other retailers intact", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.search.Errs = map[string]error{"target.com": domain.ErrSearchFailure}
		})

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		require.NoError(t, err)
		counts := countByRetailer(result.Products)
		assert.Zero(t, counts["target.com"])
		assert.GreaterOrEqual(t, counts["amazon.com"], 1)
		assert.GreaterOrEqual(t, counts["ebay.com"], 1)
		assert.Len(t, result.Products, 5)
	})

	t.Run("a failing extraction leaves the other retailers intact", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.extract = &failingExtractClient{inner: &MockExtractClient{Pages: fixturePages()}, failHost: "ebay.com"}
		})

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		require.NoError(t, err)
		counts := countByRetailer(result.Products)
		assert.Zero(t, counts["ebay.com"])
		assert.GreaterOrEqual(t, counts["amazon.com"], 1)
		assert.GreaterOrEqual(t, counts["target.com"], 1)
		assert.Len(t, result.Products, 4)
	})

	t.Run("restricts to the requested retailers", func(t *testing.T) {
		f := newServiceFixture(t)

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle", Retailers: []string{"https://www.target.com", "walmart.com"}}, nil)

		require.NoError(t, err)
		require.Len(t, result.Products, 1)
		assert.Equal(t, "target.com", result.Products[0].Retailer)
		assert.Equal(t, targetPDPURL, result.Products[0].ProductURL)
		assert.EqualValues(t, 1, f.search.calls.Load())
	})

	t.Run("serves a repeated query from cache", func(t *testing.T) {
		f := newServiceFixture(t)

		first, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "Electric Kettle!"}, nil)
		require.NoError(t, err)
		searches := f.search.calls.Load()

		observer := &recordingObserver{}
		second, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "electric   kettle"}, observer)

		require.NoError(t, err)
		assert.Equal(t, "Cache", second.Source)
		assert.Equal(t, "Live", first.Source)
		assert.Equal(t, first.TurnID, second.TurnID)
		assert.Equal(t, searches, f.search.calls.Load(), "cache hit must not search again")
		assert.NotEmpty(t, observer.logs)
	})

	t.Run("rejects an empty query", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "   "}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)

		_, err = f.service.RunTurn(ctx, nil, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("rejects only unsupported retailers", func(t *testing.T) {
		f := newServiceFixture(t)
		_, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle", Retailers: []string{"walmart.com"}}, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		assert.Zero(t, f.search.calls.Load())
	})

	t.Run("preflight failure stops the turn before any search", func(t *testing.T) {
		f := newServiceFixture(t)
		f.service.preflight = func() error {
			return fmt.Errorf("%w: SHOPLENS_TAVILY_API_KEY", domain.ErrMissingCredential)
		}

		_, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		assert.ErrorIs(t, err, domain.ErrMissingCredential)
		assert.Equal(t, MessageMissingCredential, UserMessage(err))
		assert.Zero(t, f.search.calls.Load())
	})

	t.Run("context length failure aborts the whole turn", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.llm = &MockLLMClient{Complete: func(prompt string) (string, error) {
				if strings.Contains(prompt, "Electric Kettle 1.7L") {
					return "", domain.ErrContextLengthExceeded
				}
				return echoLLM(nil).Complete(prompt)
			}}
		})

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		assert.Nil(t, result)
		require.Error(t, err)
		assert.Equal(t, MessageContextTooLong, UserMessage(err))
		_, cacheErr := f.cache.Get(ctx, turnCacheKey("kettle", []string{"amazon.com", "target.com", "ebay.com"}))
		assert.ErrorIs(t, cacheErr, domain.ErrCacheMiss)
	})

	t.Run("no products anywhere yields an empty selection", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.search.Hits = map[string][]string{}
		})

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		require.NoError(t, err)
		assert.Empty(t, result.Products)
		assert.Empty(t, result.Buffer)
		assert.Empty(t, f.cache.data, "an empty turn is not cached")
	})

	t.Run("every retailer failing aborts the turn and is not cached", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.search.Errs = map[string]error{
				"amazon.com": domain.ErrSearchFailure,
				"target.com": domain.ErrSearchFailure,
				"ebay.com":   domain.ErrSearchFailure,
			}
		})

		result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, domain.ErrSearchFailure)
		assert.Equal(t, MessageGenericFailure, UserMessage(err))
		assert.Empty(t, f.cache.data)

		f.search.Errs = nil
		recovered, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		require.NoError(t, err)
		assert.Equal(t, "Live", recovered.Source)
		assert.Len(t, recovered.Products, 5)
	})

	t.Run("search and extraction failures together abort the turn", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.search.Errs = map[string]error{"amazon.com": domain.ErrSearchFailure}
			f.extract = &MockExtractClient{Err: domain.ErrExtractFailure}
		})

		_, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		assert.ErrorIs(t, err, domain.ErrSearchFailure)
		assert.ErrorIs(t, err, domain.ErrExtractFailure)
	})

	t.Run("a partial outage is not cached by query", func(t *testing.T) {
		f := newServiceFixture(t, func(f *serviceFixture) {
			f.search.Errs = map[string]error{"target.com": domain.ErrSearchFailure}
		})

		first, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)
		require.NoError(t, err)

		more, err := f.service.ShowMore(ctx, first.TurnID)
		require.NoError(t, err)
		assert.Equal(t, first.Buffer, more)

		f.search.Errs = nil
		second, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)

		require.NoError(t, err)
		assert.Equal(t, "Live", second.Source)
		assert.GreaterOrEqual(t, countByRetailer(second.Products)["target.com"], 1)
	})

	t.Run("a canceled request aborts the turn and is not cached", func(t *testing.T) {
		f := newServiceFixture(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		result, err := f.service.RunTurn(canceled, &domain.TurnRequest{Query: "kettle"}, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, f.cache.data)

		next, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "Live", next.Source)
		assert.Len(t, next.Products, 5)
	})
}

func TestShowMore(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	result, err := f.service.RunTurn(ctx, &domain.TurnRequest{Query: "kettle"}, nil)
	require.NoError(t, err)

	more, err := f.service.ShowMore(ctx, result.TurnID)
	require.NoError(t, err)
	assert.Equal(t, result.Buffer, more)

	_, err = f.service.ShowMore(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTurnNotFound)

	_, err = f.service.ShowMore(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"missing credential", fmt.Errorf("wrap: %w", domain.ErrMissingCredential), MessageMissingCredential},
		{"context length", &ExtractionFailure{Stage: StageCall, Err: domain.ErrContextLengthExceeded}, MessageContextTooLong},
		{"invalid request", domain.ErrInvalidRequest, MessageInvalidRequest},
		{"anything else", errors.New("boom"), MessageGenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestTurnCacheKey(t *testing.T) {
	a := turnCacheKey("Electric Kettle!", []string{"target.com", "amazon.com"})
	b := turnCacheKey("  electric\tkettle ", []string{"amazon.com", "target.com"})
	assert.Equal(t, a, b)
	assert.Equal(t, "turn:electric kettle:amazon.com,target.com", a)

	assert.NotEqual(t, a, turnCacheKey("electric kettle", []string{"amazon.com"}))
}

func TestNormalizeForCacheKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Kettle", "kettle"},
		{"  Under $50  kettle ", "under $50 kettle"},
		{"4-in-1\nblender", "4in1 blender"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeForCacheKey(tt.input), "input %q", tt.input)
	}
}

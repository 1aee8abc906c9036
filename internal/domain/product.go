package domain

// Product represents one structured product record extracted from a retailer page
type Product struct {
	ID                     string            `json:"id,omitempty"`
	Title                  string            `json:"title"`
	PriceText              string            `json:"price_text"`
	ProductURL             string            `json:"product_url"`
	ImageURLs              []string          `json:"image_urls"`
	PriceValue             *float64          `json:"price_value,omitempty"`
	PriceCurrency          *string           `json:"price_currency,omitempty"`
	Availability           *string           `json:"availability,omitempty"`
	RatingValue            *float64          `json:"rating_value,omitempty"`
	RatingCount            *int              `json:"rating_count,omitempty"`
	Model                  *string           `json:"model,omitempty"`
	SKU                    *string           `json:"sku,omitempty"`
	Specifications         map[string]string `json:"specifications,omitempty"`
	Pros                   []string          `json:"pros,omitempty"`
	Cons                   []string          `json:"cons,omitempty"`
	KeyInsightsFromReviews []string          `json:"key_insights_from_reviews,omitempty"`
	ReviewSentiment        *Sentiment        `json:"review_sentiment,omitempty"`
	RecommendationScore    *float64          `json:"recommendation_score_out_of_100,omitempty"`
	WouldBuyAgainScore     *float64          `json:"would_buy_again_score_out_of_100,omitempty"`

	// Stamped by the pipeline, never produced by the model
	Retailer  string `json:"retailer,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// Sentiment is the positive/negative/neutral split of a product's reviews
type Sentiment struct {
	PositiveScore float64 `json:"positive_score"`
	NegativeScore float64 `json:"negative_score"`
	NeutralScore  float64 `json:"neutral_score"`
}

// Envelope is the model's structured answer for a single page
type Envelope struct {
	SourceURL string    `json:"source_url,omitempty"`
	Retailer  string    `json:"retailer,omitempty"`
	Products  []Product `json:"products"`
}

// Page is the raw content returned by the extraction collaborator for one URL
type Page struct {
	URL        string   `json:"url"`
	RawContent string   `json:"raw_content"`
	Images     []string `json:"images,omitempty"`
}

// SearchHit is a candidate URL returned by the search collaborator
type SearchHit struct {
	URL   string  `json:"url"`
	Title string  `json:"title,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// SearchRequest restricts a web search to a set of retailer domains
type SearchRequest struct {
	Query      string   `json:"query"`
	Domains    []string `json:"domains"`
	MaxResults int      `json:"max_results"`
}

// Hints is the advisory structured data scraped from a page's embedded scripts.
// Absent keys are omitted, never null-padded.
type Hints map[string]any

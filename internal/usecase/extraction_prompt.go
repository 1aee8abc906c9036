package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultMaxContentChars bounds the page text placed in one extraction prompt
const DefaultMaxContentChars = 200000

const productSchemaURL = "https://shoplens.local/schemas/products.json"

// productSchemaDocument is the envelope the model must return for one page
const productSchemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "source_url": {"type": "string"},
    "retailer": {"type": "string"},
    "products": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "price_text", "product_url"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "product_url": {"type": "string"},
          "image_urls": {"type": ["array", "null"], "items": {"type": "string"}},
          "price_text": {"type": "string"},
          "price_value": {"type": ["number", "null"]},
          "price_currency": {"type": ["string", "null"]},
          "availability": {"type": ["string", "null"]},
          "rating_value": {"type": ["number", "null"]},
          "rating_count": {"type": ["integer", "null"]},
          "model": {"type": ["string", "null"]},
          "sku": {"type": ["string", "null"]},
          "specifications": {
            "type": ["object", "null"],
            "additionalProperties": {"type": "string"}
          },
          "pros": {"type": ["array", "null"], "items": {"type": "string"}},
          "cons": {"type": ["array", "null"], "items": {"type": "string"}},
          "key_insights_from_reviews": {"type": ["array", "null"], "items": {"type": "string"}},
          "review_sentiment": {
            "type": ["object", "null"],
            "properties": {
              "positive_score": {"type": "number"},
              "negative_score": {"type": "number"},
              "neutral_score": {"type": "number"}
            },
            "required": ["positive_score", "negative_score", "neutral_score"],
            "additionalProperties": false
          },
          "recommendation_score_out_of_100": {"type": ["number", "null"]},
          "would_buy_again_score_out_of_100": {"type": ["number", "null"]}
        },
        "additionalProperties": false
      }
    }
  },
  "required": ["products"],
  "additionalProperties": false
}`

// SystemInstruction is the extraction rule set sent with every page
const SystemInstruction = `You are a precise web data extractor.
Return STRICT JSON matching the provided JSON Schema.

Rules:
- If input is a PDP, emit exactly one rich product object.
- If input is a listing, emit up to ~20 DISTINCT products, each with a PDP product_url (not homepage or category).
- URLs in the page appear as short placeholders (https://prod.local/... and https://img.local/...). Copy them verbatim into product_url and image_urls; never invent URLs.
- Include title, product_url, price_text; add image_urls, availability, rating_value, rating_count, model, sku.
- Provide detailed "specifications" as key→value pairs.
- Provide at least 2 "pros" and at least 2 "cons"; infer them from the product type when the page does not state them.
- Provide at least 5 "key_insights_from_reviews" and a "review_sentiment" with positive_score, negative_score and neutral_score in [0,1] summing to about 1.
- Provide recommendation_score_out_of_100 and would_buy_again_score_out_of_100.
- Parse price_value and price_currency when possible, else set null.
- Output ONLY minified JSON, no commentary.
`

const (
	detailModeHint  = "IMPORTANT: This content is a PRODUCT DETAIL PAGE (PDP). Extract exactly 1 rich product."
	listingModeHint = "IMPORTANT: This content is a LISTING. Extract up to ~20 distinct items and ensure each product_url is a genuine PDP."
)

// ProductSchema is the compiled envelope schema, built once and shared read-only
type ProductSchema struct {
	document string
	compiled *jsonschema.Schema
}

// NewProductSchema compiles the envelope schema
func NewProductSchema() (*ProductSchema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(productSchemaURL, strings.NewReader(productSchemaDocument)); err != nil {
		return nil, fmt.Errorf("failed to load product schema: %w", err)
	}
	compiled, err := compiler.Compile(productSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile product schema: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(productSchemaDocument)); err != nil {
		return nil, fmt.Errorf("failed to compact product schema: %w", err)
	}
	return &ProductSchema{document: compact.String(), compiled: compiled}, nil
}

// MustProductSchema is NewProductSchema for process start-up wiring
func MustProductSchema() *ProductSchema {
	schema, err := NewProductSchema()
	if err != nil {
		panic(err)
	}
	return schema
}

// Validate checks a decoded JSON value against the schema
func (s *ProductSchema) Validate(value interface{}) error {
	return s.compiled.Validate(value)
}

// Document returns the schema as minified JSON for prompt embedding
func (s *ProductSchema) Document() string {
	return s.document
}

// PromptBuilder composes the user prompt for one page's extraction call
type PromptBuilder struct {
	schema          *ProductSchema
	maxContentChars int
}

// NewPromptBuilder creates a builder; a non-positive budget falls back to the default
func NewPromptBuilder(schema *ProductSchema, maxContentChars int) *PromptBuilder {
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	return &PromptBuilder{schema: schema, maxContentChars: maxContentChars}
}

// Build assembles the prompt from shielded page text, its source and the hints
func (b *PromptBuilder) Build(shielded, sourceURL string, hints map[string]any, isDetail bool) string {
	hint := listingModeHint
	if isDetail {
		hint = detailModeHint
	}

	hintsJSON := "{}"
	if len(hints) > 0 {
		if encoded, err := json.Marshal(hints); err == nil {
			hintsJSON = string(encoded)
		}
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "SOURCE_URL: %s\n\n", sourceURL)
	prompt.WriteString("JSON_SCHEMA:\n")
	prompt.WriteString(b.schema.Document())
	prompt.WriteString("\n\nASSIST_STRUCTURED_HINTS:\n")
	prompt.WriteString(hintsJSON)
	prompt.WriteString("\n\nHINTS:\n")
	prompt.WriteString(hint)
	prompt.WriteString("\n\nRAW_WEB_PAGE:\n")
	prompt.WriteString(truncateRunes(shielded, b.maxContentChars))
	return prompt.String()
}

// truncateRunes cuts s to at most max characters without splitting a rune
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

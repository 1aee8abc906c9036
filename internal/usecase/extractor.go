package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
)

// ExtractionStage names the step at which an extraction call failed
type ExtractionStage string

const (
	StageCall     ExtractionStage = "call"
	StageDecode   ExtractionStage = "decode"
	StageValidate ExtractionStage = "validate"
)

// ExtractionFailure describes why one page produced no envelope
type ExtractionFailure struct {
	Stage ExtractionStage
	Err   error
}

func (f *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", f.Stage, f.Err)
}

func (f *ExtractionFailure) Unwrap() error {
	return f.Err
}

// ContextLengthExceeded reports whether the model rejected the prompt as too long
func (f *ExtractionFailure) ContextLengthExceeded() bool {
	return errors.Is(f.Err, domain.ErrContextLengthExceeded)
}

// ExtractionResult holds exactly one of Envelope or Failure
type ExtractionResult struct {
	Envelope *domain.Envelope
	Failure  *ExtractionFailure
}

// OK reports whether the call produced a validated envelope
func (r ExtractionResult) OK() bool {
	return r.Failure == nil && r.Envelope != nil
}

// Extractor calls the language model and validates its answer against the schema.
// It never retries; a failed page is the caller's to skip.
type Extractor struct {
	llm    domain.LLMClient
	schema *ProductSchema
}

// NewExtractor creates an extractor over an LLM client and a compiled schema
func NewExtractor(llm domain.LLMClient, schema *ProductSchema) *Extractor {
	return &Extractor{llm: llm, schema: schema}
}

// Extract runs one extraction call for a prompt
func (e *Extractor) Extract(ctx context.Context, prompt string) ExtractionResult {
	raw, err := e.llm.CompleteJSON(ctx, SystemInstruction, prompt)
	if err != nil {
		return failed(StageCall, err)
	}

	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return failed(StageDecode, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err))
	}
	if _, ok := decoded.(map[string]interface{}); !ok {
		return failed(StageDecode, fmt.Errorf("%w: response is not a JSON object", domain.ErrSchemaViolation))
	}

	if err := e.schema.Validate(decoded); err != nil {
		return failed(StageValidate, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err))
	}

	var envelope domain.Envelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return failed(StageDecode, fmt.Errorf("%w: %v", domain.ErrSchemaViolation, err))
	}
	if envelope.Products == nil {
		envelope.Products = []domain.Product{}
	}
	return ExtractionResult{Envelope: &envelope}
}

func failed(stage ExtractionStage, err error) ExtractionResult {
	return ExtractionResult{Failure: &ExtractionFailure{Stage: stage, Err: err}}
}

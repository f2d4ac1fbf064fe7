// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package llm

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/pkg/errors"
)

// Providers answer in JSON. Output that fails the schema is rejected before
// it can reach the quality evaluator: a malformed answer is a generation
// failure, never a passing low-quality answer.

var (
	answerSchemaOnce sync.Once
	answerSchema     *jsonschema.Resolved
	answerSchemaErr  error
)

func resolvedAnswerSchema() (*jsonschema.Resolved, error) {
	answerSchemaOnce.Do(func() {
		schema, err := jsonschema.For[AnswerResult](nil)
		if err != nil {
			answerSchemaErr = err
			return
		}
		answerSchema, answerSchemaErr = schema.Resolve(nil)
	})
	return answerSchema, answerSchemaErr
}

// ParseAnswerResult parses and validates raw provider output. It rejects on
// the first invalid field with a field-level error message.
func ParseAnswerResult(raw string) (*AnswerResult, error) {
	resolved, err := resolvedAnswerSchema()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build answer schema")
	}

	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return nil, errors.Wrap(err, "provider output is not valid JSON")
	}

	if err := resolved.Validate(instance); err != nil {
		return nil, errors.Wrap(err, "provider output does not match answer schema")
	}

	var result AnswerResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode provider output")
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

// Validate enforces the semantic constraints the schema alone cannot express.
func (r *AnswerResult) Validate() error {
	if r.Answer == "" {
		return errors.New("answer: must not be empty")
	}
	if len(r.Citations) == 0 {
		return errors.New("citations: at least one citation is required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence: %v is outside [0,1]", r.Confidence)
	}
	if r.SourceScore < 0 || r.SourceScore > 100 {
		return fmt.Errorf("sourceScore: %d is outside [0,100]", r.SourceScore)
	}
	for i, citation := range r.Citations {
		if err := citation.Validate(); err != nil {
			return errors.Wrapf(err, "citations[%d]", i)
		}
	}
	return nil
}

// Validate checks the citation invariants: a non-negative half-open offset
// range and an absolute source URL.
func (c *Citation) Validate() error {
	if c.ChunkID == "" {
		return errors.New("chunkId: must not be empty")
	}
	if c.StartOffset < 0 {
		return fmt.Errorf("startOffset: %d is negative", c.StartOffset)
	}
	if c.EndOffset < c.StartOffset {
		return fmt.Errorf("endOffset: %d is before startOffset %d", c.EndOffset, c.StartOffset)
	}
	parsed, err := url.Parse(c.SourceURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("sourceUrl: %q is not an absolute URL", c.SourceURL)
	}
	return nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package extract turns document text into validated claim and reference
// drafts by asking a language model once and checking what comes back.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pdiddy/claim-engine/internal/llm"
	"github.com/pdiddy/claim-engine/internal/schema"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// maxLoggedRaw caps how much model output is written to the log when the
// output cannot be used.
const maxLoggedRaw = 2048

// Output is a validated extraction together with the raw model text.
type Output struct {
	Result    types.ExtractionResult
	Anomalies types.Anomalies
	Raw       string
}

// Orchestrator prompts the model and validates its answer.
type Orchestrator struct {
	client llm.Client
	logger *zap.Logger
}

// New returns an Orchestrator. A nil logger discards output.
func New(client llm.Client, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{client: client, logger: logger}
}

// Extract sends text to the model exactly once. Model errors come back
// already classified by the client; validation failures match
// types.ErrMalformedExtraction. Nothing is retried.
func (o *Orchestrator) Extract(ctx context.Context, text string) (Output, error) {
	if strings.TrimSpace(text) == "" {
		return Output{}, fmt.Errorf("%w: text is empty", types.ErrInvalidInput)
	}

	prompt, err := renderPrompt(text)
	if err != nil {
		return Output{}, fmt.Errorf("rendering prompt: %w", err)
	}

	raw, err := o.client.Complete(ctx, prompt)
	if err != nil {
		return Output{}, fmt.Errorf("calling model: %w", err)
	}

	result, anomalies, err := schema.Validate(raw)
	if err != nil {
		o.logger.Warn("model output rejected",
			zap.Error(err),
			zap.Int("raw_len", len(raw)),
			zap.String("raw", truncate(raw, maxLoggedRaw)),
		)
		return Output{Raw: raw}, err
	}

	if anomalies.Total() > 0 {
		o.logger.Warn("model output repaired",
			zap.Int("unknown_claim_types", anomalies.UnknownClaimTypes),
			zap.Int("dropped_reference_indices", anomalies.DroppedReferenceIndices),
			zap.Int("invalid_dois", anomalies.InvalidDOIs),
			zap.Int("discarded_fields", anomalies.DiscardedFields),
		)
	}
	o.logger.Info("extraction validated",
		zap.Int("claims", len(result.Claims)),
		zap.Int("references", len(result.References)),
	)

	return Output{Result: result, Anomalies: anomalies, Raw: raw}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one extraction batch end to end: validate the
// request, extract with the model, resolve references against the global
// store, and write claims and links in a single transaction.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/claim-engine/internal/extract"
	"github.com/pdiddy/claim-engine/internal/identity"
	"github.com/pdiddy/claim-engine/internal/metrics"
	"github.com/pdiddy/claim-engine/internal/store"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// Extractor produces a validated extraction for text.
type Extractor interface {
	Extract(ctx context.Context, text string) (extract.Output, error)
}

// Tx is the transactional view a batch writes through.
type Tx interface {
	identity.Lookup
	UpsertReferenceIfAbsent(ctx context.Context, ref types.ReferenceDraft, key identity.Key) (int64, bool, error)
	CreateClaim(ctx context.Context, projectID int64, draft types.ClaimDraft, batchID string) (types.Claim, error)
	UpsertClaimReferenceLink(ctx context.Context, claimID, referenceID int64, score *float64, linkContext *string) error
	RecordBatch(ctx context.Context, b types.ExtractionBatch) error
}

// Gateway is the persistence surface the pipeline needs.
type Gateway interface {
	ProjectExists(ctx context.Context, id int64) (bool, error)
	FindBatch(ctx context.Context, projectID int64, idempotencyKey string) (types.ExtractionBatch, error)
	ClaimsByBatch(ctx context.Context, batchID string) ([]types.Claim, error)
	ReferencesByIDs(ctx context.Context, ids []int64) ([]types.Reference, error)
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// StoreGateway adapts *store.Store to Gateway.
func StoreGateway(s *store.Store) Gateway {
	return storeGateway{s}
}

type storeGateway struct {
	*store.Store
}

func (g storeGateway) WithTx(ctx context.Context, fn func(Tx) error) error {
	return g.Store.WithTx(ctx, func(tx *store.Tx) error { return fn(tx) })
}

// Request is one extraction batch.
type Request struct {
	ProjectID int64
	Text      string

	// IdempotencyKey, when set, makes a retried request replay the first
	// committed result instead of creating claims again.
	IdempotencyKey string
}

// Result summarizes a committed (or replayed) batch.
type Result struct {
	BatchID                string
	ProjectID              int64
	Extraction             types.ExtractionResult
	ClaimsCreated          int
	ReferencesCreated      int
	ReferencesDeduplicated int
	Claims                 []types.Claim
	References             []types.Reference
	Anomalies              types.Anomalies
	Replayed               bool
}

// Config holds pipeline limits.
type Config struct {
	// MaxInputChars rejects longer text before the model is called. Zero
	// means unlimited.
	MaxInputChars int
}

// Pipeline wires the extraction stages together.
type Pipeline struct {
	extractor Extractor
	resolver  *identity.Resolver
	gateway   Gateway
	metrics   *metrics.ExtractionMetrics
	logger    *zap.Logger
	cfg       Config
	newID     func() string
}

// New returns a Pipeline. m and logger may be nil.
func New(extractor Extractor, gateway Gateway, cfg Config, m *metrics.ExtractionMetrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractor: extractor,
		resolver:  identity.NewResolver(logger),
		gateway:   gateway,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		newID:     func() string { return uuid.NewString() },
	}
}

// Run executes one batch. Every error is terminal and leaves the store
// unchanged; callers classify it with errors.Is against the types.Err*
// kinds.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	res, err := p.run(ctx, req)
	if err != nil {
		p.metrics.RecordFailure(err)
		p.logger.Warn("extraction batch failed",
			zap.Int64("project_id", req.ProjectID),
			zap.String("kind", metrics.ErrorKind(err)),
			zap.Error(err),
		)
	}
	return res, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (Result, error) {
	if err := p.validate(ctx, req); err != nil {
		return Result{}, err
	}

	if req.IdempotencyKey != "" {
		res, ok, err := p.replay(ctx, req)
		if err != nil || ok {
			return res, err
		}
	}

	out, err := p.extractor.Extract(ctx, req.Text)
	if err != nil {
		return Result{}, err
	}
	p.metrics.RecordAnomalies(out.Anomalies)

	batchID := p.newID()
	log := p.logger.With(zap.String("batch_id", batchID), zap.Int64("project_id", req.ProjectID))
	log.Info("extraction batch started",
		zap.Int("claims", len(out.Result.Claims)),
		zap.Int("references", len(out.Result.References)),
	)

	res := Result{
		BatchID:    batchID,
		ProjectID:  req.ProjectID,
		Extraction: out.Result,
		Anomalies:  out.Anomalies,
	}

	err = p.gateway.WithTx(ctx, func(tx Tx) error {
		return p.write(ctx, tx, req, &res)
	})
	if errors.Is(err, store.ErrBatchExists) {
		// A concurrent request with the same key committed first.
		replayed, ok, rerr := p.replay(ctx, req)
		if rerr != nil {
			return Result{}, rerr
		}
		if ok {
			return replayed, nil
		}
	}
	if err != nil {
		return Result{}, persistenceError(err)
	}

	p.metrics.RecordCommitted(res.ClaimsCreated, res.ReferencesCreated, res.ReferencesDeduplicated)

	// Reused references are reported as stored, not as the model wrote them.
	ids := make([]int64, len(res.References))
	for i, r := range res.References {
		ids[i] = r.ID
	}
	if stored, err := p.gateway.ReferencesByIDs(ctx, ids); err == nil && len(stored) == len(ids) {
		res.References = stored
	} else if err != nil {
		log.Warn("reloading batch references", zap.Error(err))
	}

	log.Info("extraction batch committed",
		zap.Int("claims_created", res.ClaimsCreated),
		zap.Int("references_created", res.ReferencesCreated),
		zap.Int("references_deduplicated", res.ReferencesDeduplicated),
	)
	return res, nil
}

func (p *Pipeline) validate(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text is empty", types.ErrInvalidInput)
	}
	if req.ProjectID <= 0 {
		return fmt.Errorf("%w: project_id must be positive", types.ErrInvalidInput)
	}
	if p.cfg.MaxInputChars > 0 {
		if n := len([]rune(req.Text)); n > p.cfg.MaxInputChars {
			return fmt.Errorf("%w: text has %d characters, limit is %d", types.ErrInvalidInput, n, p.cfg.MaxInputChars)
		}
	}

	ok, err := p.gateway.ProjectExists(ctx, req.ProjectID)
	if err != nil {
		return persistenceError(err)
	}
	if !ok {
		return fmt.Errorf("%w: %w: project %d", types.ErrInvalidInput, types.ErrNotFound, req.ProjectID)
	}
	return nil
}

// write performs every insert of the batch inside tx. References are
// resolved in draft order so a later draft can match one created earlier
// in the same batch.
func (p *Pipeline) write(ctx context.Context, tx Tx, req Request, res *Result) error {
	refIDs := make([]int64, len(res.Extraction.References))
	for i, draft := range res.Extraction.References {
		resolution, err := p.resolver.Resolve(ctx, draft, tx)
		if err != nil {
			return fmt.Errorf("resolving reference %d: %w", i, err)
		}

		if resolution.Action == identity.ActionReuse {
			refIDs[i] = resolution.ReferenceID
			res.ReferencesDeduplicated++
			continue
		}

		id, created, err := tx.UpsertReferenceIfAbsent(ctx, draft, resolution.Key)
		if err != nil {
			return fmt.Errorf("storing reference %d: %w", i, err)
		}
		refIDs[i] = id
		if created {
			res.ReferencesCreated++
		} else {
			res.ReferencesDeduplicated++
		}
	}

	res.Claims = make([]types.Claim, 0, len(res.Extraction.Claims))
	for i, draft := range res.Extraction.Claims {
		claim, err := tx.CreateClaim(ctx, req.ProjectID, draft, res.BatchID)
		if err != nil {
			return fmt.Errorf("storing claim %d: %w", i, err)
		}
		for _, idx := range draft.ReferenceIndices {
			if idx < 0 || idx >= len(refIDs) {
				continue
			}
			refID := refIDs[idx]
			if err := tx.UpsertClaimReferenceLink(ctx, claim.ID, refID, nil, nil); err != nil {
				return fmt.Errorf("linking claim %d: %w", i, err)
			}
			claim.ReferenceIDs = appendUnique(claim.ReferenceIDs, refID)
		}
		res.Claims = append(res.Claims, claim)
	}
	res.ClaimsCreated = len(res.Claims)

	res.References = referencesFromDrafts(refIDs, res.Extraction.References)

	return tx.RecordBatch(ctx, types.ExtractionBatch{
		ID:                     res.BatchID,
		ProjectID:              req.ProjectID,
		IdempotencyKey:         req.IdempotencyKey,
		ClaimsCreated:          res.ClaimsCreated,
		ReferencesCreated:      res.ReferencesCreated,
		ReferencesDeduplicated: res.ReferencesDeduplicated,
		ReferenceIDs:           refIDs,
	})
}

// referencesFromDrafts lists the distinct references of a batch in draft
// order, built from the drafts and keyed by their resolved IDs.
func referencesFromDrafts(refIDs []int64, drafts []types.ReferenceDraft) []types.Reference {
	refs := make([]types.Reference, 0, len(refIDs))
	seen := make(map[int64]bool, len(refIDs))
	for i, id := range refIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		d := drafts[i]
		refs = append(refs, types.Reference{
			ID: id, Title: d.Title, Authors: d.Authors, Year: d.Year,
			Source: d.Source, DOI: d.DOI, URL: d.URL,
		})
	}
	return refs
}

// replay answers a request whose idempotency key already committed. The
// extraction is rebuilt from stored rows, so reused references appear as
// stored rather than as the model wrote them.
func (p *Pipeline) replay(ctx context.Context, req Request) (Result, bool, error) {
	batch, err := p.gateway.FindBatch(ctx, req.ProjectID, req.IdempotencyKey)
	if errors.Is(err, types.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, persistenceError(err)
	}

	claims, err := p.gateway.ClaimsByBatch(ctx, batch.ID)
	if err != nil {
		return Result{}, false, persistenceError(err)
	}

	var distinct []int64
	for _, id := range batch.ReferenceIDs {
		distinct = appendUnique(distinct, id)
	}
	refs, err := p.gateway.ReferencesByIDs(ctx, distinct)
	if err != nil {
		return Result{}, false, persistenceError(err)
	}

	p.metrics.RecordReplayed()
	p.logger.Info("extraction batch replayed",
		zap.String("batch_id", batch.ID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return Result{
		BatchID:                batch.ID,
		ProjectID:              batch.ProjectID,
		Extraction:             storedExtraction(batch.ReferenceIDs, claims, refs),
		ClaimsCreated:          batch.ClaimsCreated,
		ReferencesCreated:      batch.ReferencesCreated,
		ReferencesDeduplicated: batch.ReferencesDeduplicated,
		Claims:                 claims,
		References:             refs,
		Replayed:               true,
	}, true, nil
}

// storedExtraction rebuilds a batch's extraction from its stored claims and
// references. refIDs gives the reference of each draft position; a claim's
// reference_indices point at the first position holding each linked ID.
func storedExtraction(refIDs []int64, claims []types.Claim, refs []types.Reference) types.ExtractionResult {
	byID := make(map[int64]types.Reference, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}
	position := make(map[int64]int, len(refIDs))
	out := types.ExtractionResult{
		Claims:     make([]types.ClaimDraft, 0, len(claims)),
		References: make([]types.ReferenceDraft, 0, len(refIDs)),
	}
	for i, id := range refIDs {
		if _, ok := position[id]; !ok {
			position[id] = i
		}
		r := byID[id]
		out.References = append(out.References, types.ReferenceDraft{
			Title: r.Title, Authors: r.Authors, Year: r.Year,
			Source: r.Source, DOI: r.DOI, URL: r.URL,
		})
	}
	for _, c := range claims {
		indices := make([]int, 0, len(c.ReferenceIDs))
		for _, id := range c.ReferenceIDs {
			if i, ok := position[id]; ok {
				indices = append(indices, i)
			}
		}
		out.Claims = append(out.Claims, types.ClaimDraft{
			Text:             c.Text,
			ClaimType:        c.ClaimType,
			PageNumber:       c.PageNumber,
			ParagraphIndex:   c.ParagraphIndex,
			ReferenceIndices: indices,
		})
	}
	return out
}

// persistenceError tags store failures as types.ErrPersistence unless they
// already carry a more specific kind or come from the context ending.
func persistenceError(err error) error {
	switch {
	case errors.Is(err, types.ErrPersistence),
		errors.Is(err, types.ErrInvalidInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrPersistence, err)
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

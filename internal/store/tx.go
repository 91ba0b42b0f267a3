// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdiddy/claim-engine/internal/identity"
	"github.com/pdiddy/claim-engine/pkg/types"
)

// Tx is one extraction batch's view of the store. Everything written
// through a Tx commits or rolls back together.
type Tx struct {
	tx     *sql.Tx
	driver types.StoreDriver
}

// WithTx runs fn inside a transaction. The transaction commits only when
// fn returns nil; any error, panic, or context cancellation rolls it back.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, driver: s.driver}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (t *Tx) q(query string) string {
	return rebind(t.driver, query)
}

// ReferenceByDOI implements identity.Lookup. Rows written earlier in the
// same transaction are visible.
func (t *Tx) ReferenceByDOI(ctx context.Context, doi string) (int64, bool, error) {
	return referenceByDOI(ctx, t.tx, t.driver, doi)
}

// ReferenceByTitleKey implements identity.Lookup.
func (t *Tx) ReferenceByTitleKey(ctx context.Context, titleKey string) (int64, bool, error) {
	return referenceByTitleKey(ctx, t.tx, t.driver, titleKey)
}

// UpsertReferenceIfAbsent inserts ref unless a row with the same identity
// key already exists, in which case that row's ID is returned with created
// false. References without an identity key are always inserted.
func (t *Tx) UpsertReferenceIfAbsent(ctx context.Context, ref types.ReferenceDraft, key identity.Key) (int64, bool, error) {
	identityKey := key.Identity()
	args := []any{
		ref.Title, nullString(ref.Authors), nullInt(ref.Year), nullString(ref.Source),
		nullString(ref.DOI), nullString(ref.URL),
		nullString(key.DOI), nullString(key.Title), nullString(identityKey), now(),
	}
	const insert = `INSERT INTO refs (title, authors, year, source, doi, url, doi_key, title_key, identity_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var id int64
	if identityKey == "" {
		if err := t.tx.QueryRowContext(ctx, t.q(insert+` RETURNING id`), args...).Scan(&id); err != nil {
			return 0, false, fmt.Errorf("inserting reference: %w", err)
		}
		return id, true, nil
	}

	err := t.tx.QueryRowContext(ctx, t.q(insert+` ON CONFLICT DO NOTHING RETURNING id`), args...).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("upserting reference: %w", err)
	}

	// Another batch committed the same identity between lookup and insert.
	err = t.tx.QueryRowContext(ctx, t.q(`SELECT id FROM refs WHERE identity_key = ? OR (doi_key IS NOT NULL AND doi_key = ?)
		ORDER BY id LIMIT 1`), identityKey, nullString(key.DOI)).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("reloading conflicting reference: %w", err)
	}
	return id, false, nil
}

// CreateClaim inserts a claim for projectID attributed to batchID.
func (t *Tx) CreateClaim(ctx context.Context, projectID int64, draft types.ClaimDraft, batchID string) (types.Claim, error) {
	ts := now()
	claimType := draft.ClaimType
	if claimType == "" {
		claimType = types.DefaultClaimType
	}
	c := types.Claim{
		ProjectID:          projectID,
		Text:               draft.Text,
		ClaimType:          claimType,
		PageNumber:         draft.PageNumber,
		ParagraphIndex:     draft.ParagraphIndex,
		VerificationStatus: types.StatusUnverified,
		BatchID:            batchID,
		ReferenceIDs:       []int64{},
		CreatedAt:          ts,
		UpdatedAt:          ts,
	}

	err := t.tx.QueryRowContext(ctx, t.q(
		`INSERT INTO claims (project_id, text, claim_type, page_number, paragraph_index,
			verification_status, batch_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		projectID, c.Text, string(c.ClaimType), nullInt(c.PageNumber), nullInt(c.ParagraphIndex),
		string(c.VerificationStatus), nullString(batchID), ts, ts,
	).Scan(&c.ID)
	if err != nil {
		return types.Claim{}, fmt.Errorf("inserting claim: %w", err)
	}
	return c, nil
}

// UpsertClaimReferenceLink links a claim to a reference. Linking an
// existing pair updates it; nil score or context keep the stored values.
func (t *Tx) UpsertClaimReferenceLink(ctx context.Context, claimID, referenceID int64, score *float64, linkContext *string) error {
	if score != nil && (*score < 0 || *score > 1) {
		return fmt.Errorf("%w: relevance score %v outside [0,1]", types.ErrInvalidInput, *score)
	}

	var scoreArg sql.NullFloat64
	if score != nil {
		scoreArg = sql.NullFloat64{Float64: *score, Valid: true}
	}
	var contextArg sql.NullString
	if linkContext != nil {
		contextArg = sql.NullString{String: *linkContext, Valid: true}
	}

	_, err := t.tx.ExecContext(ctx, t.q(
		`INSERT INTO claim_refs (claim_id, reference_id, relevance_score, context)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (claim_id, reference_id) DO UPDATE SET
			relevance_score = COALESCE(excluded.relevance_score, claim_refs.relevance_score),
			context = COALESCE(excluded.context, claim_refs.context)`),
		claimID, referenceID, scoreArg, contextArg,
	)
	if err != nil {
		return fmt.Errorf("linking claim %d to reference %d: %w", claimID, referenceID, err)
	}
	return nil
}

// RecordBatch writes the batch summary row and the batch's reference IDs in
// draft order. A second batch with the same project and idempotency key
// fails with ErrBatchExists.
func (t *Tx) RecordBatch(ctx context.Context, b types.ExtractionBatch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now()
	}
	_, err := t.tx.ExecContext(ctx, t.q(
		`INSERT INTO extraction_batches (id, project_id, idempotency_key, claims_created,
			references_created, references_deduplicated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.ProjectID, nullString(b.IdempotencyKey), b.ClaimsCreated,
		b.ReferencesCreated, b.ReferencesDeduplicated, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: project %d key %q", ErrBatchExists, b.ProjectID, b.IdempotencyKey)
		}
		return fmt.Errorf("recording batch: %w", err)
	}

	for pos, refID := range b.ReferenceIDs {
		if _, err := t.tx.ExecContext(ctx, t.q(
			`INSERT INTO batch_refs (batch_id, ordinal, reference_id) VALUES (?, ?, ?)`),
			b.ID, pos, refID,
		); err != nil {
			return fmt.Errorf("recording batch reference %d: %w", pos, err)
		}
	}
	return nil
}

func referenceByDOI(ctx context.Context, q querier, driver types.StoreDriver, doi string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, rebind(driver, `SELECT id FROM refs WHERE doi_key = ?`), doi).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying reference by doi: %w", err)
	}
	return id, true, nil
}

func referenceByTitleKey(ctx context.Context, q querier, driver types.StoreDriver, titleKey string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, rebind(driver,
		`SELECT id FROM refs WHERE title_key = ? ORDER BY id LIMIT 1`), titleKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying reference by title key: %w", err)
	}
	return id, true, nil
}

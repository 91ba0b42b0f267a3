// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// FindBatch returns the committed batch for projectID and idempotencyKey,
// with its reference IDs in draft order, or an error matching
// types.ErrNotFound.
func (s *Store) FindBatch(ctx context.Context, projectID int64, idempotencyKey string) (types.ExtractionBatch, error) {
	var (
		b   types.ExtractionBatch
		key sql.NullString
	)
	err := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT id, project_id, idempotency_key, claims_created, references_created,
			references_deduplicated, created_at
		 FROM extraction_batches WHERE project_id = ? AND idempotency_key = ?`),
		projectID, idempotencyKey,
	).Scan(&b.ID, &b.ProjectID, &key, &b.ClaimsCreated, &b.ReferencesCreated,
		&b.ReferencesDeduplicated, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ExtractionBatch{}, fmt.Errorf("%w: batch for project %d key %q", types.ErrNotFound, projectID, idempotencyKey)
	}
	if err != nil {
		return types.ExtractionBatch{}, fmt.Errorf("querying batch: %w", err)
	}
	b.IdempotencyKey = key.String

	b.ReferenceIDs, err = s.batchReferenceIDs(ctx, b.ID)
	if err != nil {
		return types.ExtractionBatch{}, err
	}
	return b, nil
}

func (s *Store) batchReferenceIDs(ctx context.Context, batchID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT reference_id FROM batch_refs WHERE batch_id = ? ORDER BY ordinal`), batchID)
	if err != nil {
		return nil, fmt.Errorf("querying batch references: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning batch reference: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating batch references: %w", err)
	}
	return ids, nil
}

// ClaimsByBatch returns the claims a batch created, in creation order, with
// their reference links.
func (s *Store) ClaimsByBatch(ctx context.Context, batchID string) ([]types.Claim, error) {
	records, err := s.Retrieve(ctx, QueryOptions{BatchID: batchID, MaxResults: exportLimit})
	if err != nil {
		return nil, err
	}
	claims := make([]types.Claim, len(records))
	for i, r := range records {
		claims[i] = r.Claim
	}
	return claims, nil
}

// ReferencesByIDs returns the references with the given IDs in the order
// asked for. Unknown IDs are skipped.
func (s *Store) ReferencesByIDs(ctx context.Context, ids []int64) ([]types.Reference, error) {
	if len(ids) == 0 {
		return []types.Reference{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT id, title, authors, year, source, doi, url, created_at
		 FROM refs WHERE id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]types.Reference, len(ids))
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		byID[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating references: %w", err)
	}

	refs := make([]types.Reference, 0, len(ids))
	for _, id := range ids {
		if ref, ok := byID[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// ReferenceByDOI implements identity.Lookup against committed rows.
func (s *Store) ReferenceByDOI(ctx context.Context, doi string) (int64, bool, error) {
	return referenceByDOI(ctx, s.db, s.driver, doi)
}

// ReferenceByTitleKey implements identity.Lookup against committed rows.
func (s *Store) ReferenceByTitleKey(ctx context.Context, titleKey string) (int64, bool, error) {
	return referenceByTitleKey(ctx, s.db, s.driver, titleKey)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReference(row scanner) (types.Reference, error) {
	var (
		ref                          types.Reference
		authors, source, doi, refURL sql.NullString
		year                         sql.NullInt64
	)
	if err := row.Scan(&ref.ID, &ref.Title, &authors, &year, &source, &doi, &refURL, &ref.CreatedAt); err != nil {
		return types.Reference{}, fmt.Errorf("scanning reference: %w", err)
	}
	ref.Authors = authors.String
	ref.Year = intPtr(year)
	ref.Source = source.String
	ref.DOI = doi.String
	ref.URL = refURL.String
	return ref, nil
}

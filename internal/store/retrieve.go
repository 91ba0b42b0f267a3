// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// QueryOptions filters stored claims. Zero values mean "any".
type QueryOptions struct {
	ProjectID int64

	ClaimType types.ClaimType

	// BatchID restricts results to one extraction batch.
	BatchID string

	Status types.VerificationStatus

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// ClaimRecord is a claim with its linked references.
type ClaimRecord struct {
	types.Claim `yaml:",inline"`
	References  []types.Reference `json:"references" yaml:"references"`
}

// Retrieve returns claims matching opts ordered by ID, each with its
// references in link order.
func (s *Store) Retrieve(ctx context.Context, opts QueryOptions) ([]ClaimRecord, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(
		`SELECT id, project_id, text, claim_type, page_number, paragraph_index,
			verification_status, batch_id, created_at, updated_at
		FROM claims WHERE 1=1`)

	if opts.ProjectID > 0 {
		qb.WriteString(` AND project_id = ?`)
		args = append(args, opts.ProjectID)
	}
	if opts.ClaimType != "" {
		qb.WriteString(` AND claim_type = ?`)
		args = append(args, string(opts.ClaimType))
	}
	if opts.BatchID != "" {
		qb.WriteString(` AND batch_id = ?`)
		args = append(args, opts.BatchID)
	}
	if opts.Status != "" {
		qb.WriteString(` AND verification_status = ?`)
		args = append(args, string(opts.Status))
	}

	qb.WriteString(` ORDER BY id LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, rebind(s.driver, qb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("querying claims: %w", err)
	}
	defer rows.Close()

	var records []ClaimRecord
	for rows.Next() {
		var (
			c                 types.Claim
			claimType, status string
			page, paragraph   sql.NullInt64
			batchID           sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Text, &claimType, &page, &paragraph,
			&status, &batchID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		c.ClaimType = types.ClaimType(claimType)
		c.VerificationStatus = types.VerificationStatus(status)
		c.PageNumber = intPtr(page)
		c.ParagraphIndex = intPtr(paragraph)
		c.BatchID = batchID.String
		c.ReferenceIDs = []int64{}
		records = append(records, ClaimRecord{Claim: c, References: []types.Reference{}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claims: %w", err)
	}
	rows.Close()

	if err := s.attachReferences(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// attachReferences fills ReferenceIDs and References for records.
func (s *Store) attachReferences(ctx context.Context, records []ClaimRecord) error {
	if len(records) == 0 {
		return nil
	}

	index := make(map[int64]int, len(records))
	args := make([]any, len(records))
	for i, r := range records {
		index[r.ID] = i
		args[i] = r.ID
	}

	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT cr.claim_id, r.id, r.title, r.authors, r.year, r.source, r.doi, r.url, r.created_at
		 FROM claim_refs cr JOIN refs r ON r.id = cr.reference_id
		 WHERE cr.claim_id IN (`+placeholders(len(records))+`)
		 ORDER BY cr.claim_id, cr.id`), args...)
	if err != nil {
		return fmt.Errorf("querying claim references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var claimID int64
		ref, err := scanReference(prefixScanner{rows, &claimID})
		if err != nil {
			return err
		}
		rec := &records[index[claimID]]
		rec.ReferenceIDs = append(rec.ReferenceIDs, ref.ID)
		rec.References = append(rec.References, ref)
	}
	return rows.Err()
}

// prefixScanner scans a leading column into first before handing the rest
// to the wrapped destination list.
type prefixScanner struct {
	rows  *sql.Rows
	first *int64
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}

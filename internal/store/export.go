// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// Export is the claim graph of one query: claims with their link IDs and
// the distinct references they cite.
type Export struct {
	Claims     []types.Claim     `json:"claims" yaml:"claims"`
	References []types.Reference `json:"references" yaml:"references"`
}

const exportLimit = 100000

// ExportYAML writes the claims matching opts and their references to w.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer, opts QueryOptions) error {
	export, err := s.exportGraph(ctx, opts)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the claims matching opts and their references to w.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer, opts QueryOptions) error {
	export, err := s.exportGraph(ctx, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return nil
}

func (s *Store) exportGraph(ctx context.Context, opts QueryOptions) (Export, error) {
	if opts.MaxResults <= 0 || opts.MaxResults > exportLimit {
		opts.MaxResults = exportLimit
	}
	records, err := s.Retrieve(ctx, opts)
	if err != nil {
		return Export{}, fmt.Errorf("querying for export: %w", err)
	}

	export := Export{
		Claims:     make([]types.Claim, len(records)),
		References: []types.Reference{},
	}
	seen := make(map[int64]bool)
	for i, r := range records {
		export.Claims[i] = r.Claim
		for _, ref := range r.References {
			if seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true
			export.References = append(export.References, ref)
		}
	}
	return export, nil
}

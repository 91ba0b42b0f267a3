// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"fmt"
)

// Stats counts rows per table.
type Stats struct {
	Projects   int `json:"projects" yaml:"projects"`
	Claims     int `json:"claims" yaml:"claims"`
	References int `json:"references" yaml:"references"`
	Links      int `json:"links" yaml:"links"`
	Batches    int `json:"batches" yaml:"batches"`
}

// Stats returns current row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dest  *int
	}{
		{"projects", &st.Projects},
		{"claims", &st.Claims},
		{"refs", &st.References},
		{"claim_refs", &st.Links},
		{"extraction_batches", &st.Batches},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+c.table).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return st, nil
}

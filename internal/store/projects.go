// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pdiddy/claim-engine/pkg/types"
)

const defaultProjectStatus = "draft"

// CreateProject inserts a project in draft status.
func (s *Store) CreateProject(ctx context.Context, name, description string) (types.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Project{}, fmt.Errorf("%w: project name is required", types.ErrInvalidInput)
	}

	p := types.Project{
		Name:        name,
		Description: strings.TrimSpace(description),
		Status:      defaultProjectStatus,
		CreatedAt:   now(),
	}
	err := s.db.QueryRowContext(ctx, rebind(s.driver,
		`INSERT INTO projects (name, description, status, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
		p.Name, nullString(p.Description), p.Status, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return types.Project{}, fmt.Errorf("inserting project: %w", err)
	}
	return p, nil
}

// GetProject returns the project with id or an error matching
// types.ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id int64) (types.Project, error) {
	var (
		p    types.Project
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT id, name, description, status, created_at FROM projects WHERE id = ?`), id,
	).Scan(&p.ID, &p.Name, &desc, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Project{}, fmt.Errorf("%w: project %d", types.ErrNotFound, id)
	}
	if err != nil {
		return types.Project{}, fmt.Errorf("querying project: %w", err)
	}
	p.Description = desc.String
	return p, nil
}

// ListProjects returns every project ordered by ID.
func (s *Store) ListProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, status, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []types.Project
	for rows.Next() {
		var (
			p    types.Project
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.Description = desc.String
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectExists reports whether a project with id exists.
func (s *Store) ProjectExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT COUNT(*) FROM projects WHERE id = ?`), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking project: %w", err)
	}
	return n > 0, nil
}

package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT slug, name, icon, sort_order FROM categories ORDER BY sort_order, slug`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.Slug, &c.Name, &c.Icon, &c.SortOrder); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CategoryExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM categories WHERE slug=$1)`, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("category exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT slug, name, description FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.Slug, &d.Name, &d.Description); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PostgresStore) DepartmentExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM departments WHERE slug=$1)`, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("department exists: %w", err)
	}
	return exists, nil
}

// PlatformStats counts issues, resolved issues and active citizens, and the
// mean hours from report to resolution over resolved issues.
func (s *PostgresStore) PlatformStats(ctx context.Context) (PlatformStats, error) {
	var stats PlatformStats
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM issues),
			(SELECT COUNT(*) FROM issues WHERE status = 'resolved'),
			(SELECT COUNT(*) FROM users WHERE is_active AND role = 'citizen'),
			(SELECT AVG(EXTRACT(EPOCH FROM (resolved_at - created_at)) / 3600.0)::float8
				FROM issues WHERE resolved_at IS NOT NULL)
	`).Scan(&stats.IssuesReported, &stats.IssuesResolved, &stats.ActiveMembers, &stats.AvgResolutionHours)
	if err != nil {
		return PlatformStats{}, fmt.Errorf("platform stats: %w", err)
	}
	return stats, nil
}

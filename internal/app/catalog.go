package app

import (
	"context"
	"fmt"

	"townsquare/api/internal/store"
)

type Stats struct {
	IssuesReported    int    `json:"issues_reported"`
	IssuesResolved    int    `json:"issues_resolved"`
	ActiveMembers     int    `json:"active_members"`
	AvgResolutionTime string `json:"avg_resolution_time"`
}

func (s *Service) ListCategories(ctx context.Context) ([]store.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *Service) ListDepartments(ctx context.Context) ([]store.Department, error) {
	return s.store.ListDepartments(ctx)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	raw, err := s.store.PlatformStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		IssuesReported:    raw.IssuesReported,
		IssuesResolved:    raw.IssuesResolved,
		ActiveMembers:     raw.ActiveMembers,
		AvgResolutionTime: formatResolutionHours(raw.AvgResolutionHours),
	}, nil
}

func formatResolutionHours(hours *float64) string {
	if hours == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1fh", *hours)
}

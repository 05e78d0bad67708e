package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
)

func TestFormatResolutionHours(t *testing.T) {
	assert.Equal(t, "N/A", formatResolutionHours(nil))
	h := 36.25
	assert.Equal(t, "36.2h", formatResolutionHours(&h))
}

func TestStatsCountsResolvedIssues(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "N/A", stats.AvgResolutionTime)

	first := addIssue(t, svc, reporter)
	addIssue(t, svc, reporter)
	_, err = svc.Transition(ctx, actorOf(admin), first.ID, store.StatusResolved, "")
	require.NoError(t, err)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.IssuesReported)
	assert.Equal(t, 1, stats.IssuesResolved)
	assert.Equal(t, 1, stats.ActiveMembers)
	assert.NotEqual(t, "N/A", stats.AvgResolutionTime)
}

func TestCatalogListsSeededRows(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	categories, err := svc.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 3)
	assert.Equal(t, "road", categories[0].Slug)

	departments, err := svc.ListDepartments(context.Background())
	require.NoError(t, err)
	assert.Len(t, departments, 2)
}

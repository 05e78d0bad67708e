package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"townsquare/api/internal/export"
	"townsquare/api/internal/rbac"
	"townsquare/api/internal/search"
	"townsquare/api/internal/store"
)

func withBlob(b *fakeBlob) func(*Deps) { return func(d *Deps) { d.Blob = b } }
func withLimiter(l *fakeLimiter) func(*Deps) { return func(d *Deps) { d.Limiter = l } }
func withSearch(s *fakeSearch) func(*Deps) { return func(d *Deps) { d.Search = s } }
func withExporter(e *fakeExporter) func(*Deps) { return func(d *Deps) { d.Exporter = e } }

func TestCreateIssueScenario(t *testing.T) {
	fs := newFakeStore()
	blobs := newFakeBlob()
	index := newFakeSearch()
	svc := newTestService(t, fs, withBlob(blobs), withSearch(index))
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)

	issue, err := svc.CreateIssue(context.Background(), actorOf(reporter), IssueInput{
		Title:       "  Pothole on Main Street ",
		Description: "Deep pothole in the northbound lane near the bakery.",
		Category:    "road",
	}, []Upload{pngUpload("front.png"), pngUpload("side.jpg")})
	require.NoError(t, err)

	assert.Equal(t, "Pothole on Main Street", issue.Title)
	assert.Equal(t, store.StatusReported, issue.Status)
	assert.Equal(t, store.UrgencyNormal, issue.Urgency)
	assert.Equal(t, 0, issue.UpvoteCount)

	timeline := fs.timelineFor(issue.ID)
	require.Len(t, timeline, 1)
	assert.Equal(t, store.StatusReported, timeline[0].Status)

	images, err := fs.ListIssueImages(context.Background(), issue.ID)
	require.NoError(t, err)
	require.Len(t, images, 2)
	for _, img := range images {
		assert.False(t, img.IsAfterImage)
		assert.True(t, strings.HasPrefix(img.ObjectKey, "issue_images/"+issue.ID+"/"), img.ObjectKey)
	}
	assert.Equal(t, 2, blobs.count())
	assert.Contains(t, index.indexed, issue.ID)
}

func TestCreateIssueValidation(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, withBlob(newFakeBlob()))
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	ctx := context.Background()

	_, err := svc.CreateIssue(ctx, actorOf(reporter), IssueInput{Title: "Hole", Description: "short", Category: "road", Urgency: "urgent"}, nil)
	de := requireDomainError(t, err, http.StatusBadRequest, codeValidation)
	fields := de.Details.(map[string][]string)
	assert.Equal(t, []string{"title must be at least 5 characters"}, fields["title"])
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "urgency")

	valid := IssueInput{Title: "Pothole on Main", Description: "Deep pothole near the bakery.", Category: "bridges"}
	_, err = svc.CreateIssue(ctx, actorOf(reporter), valid, nil)
	de = requireDomainError(t, err, http.StatusBadRequest, codeValidation)
	assert.Contains(t, de.Details, "category")

	valid.Category = "road"
	_, err = svc.CreateIssue(ctx, actorOf(reporter), valid, []Upload{pngUpload("notes.exe")})
	requireDomainError(t, err, http.StatusBadRequest, codeValidation)

	many := make([]Upload, 6)
	for i := range many {
		many[i] = pngUpload("p.png")
	}
	_, err = svc.CreateIssue(ctx, actorOf(reporter), valid, many)
	requireDomainError(t, err, http.StatusBadRequest, codeValidation)

	_, err = svc.CreateIssue(ctx, rbac.Actor{}, valid, nil)
	requireDomainError(t, err, http.StatusUnauthorized, codeUnauthorized)
	assert.Empty(t, fs.issues)
}

func TestCreateIssueRateLimit(t *testing.T) {
	fs := newFakeStore()
	limiter := newFakeLimiter(2)
	svc := newTestService(t, fs, withLimiter(limiter))
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)

	addIssue(t, svc, reporter)
	addIssue(t, svc, reporter)

	_, err := svc.CreateIssue(context.Background(), actorOf(reporter), IssueInput{
		Title: "Third report today", Description: "One more thing on the block.", Category: "garbage",
	}, nil)
	de := requireDomainError(t, err, http.StatusTooManyRequests, codeRateLimited)
	assert.Equal(t, []string{"10800"}, de.Details.(map[string][]string)["retry_after"])
	assert.Len(t, fs.issues, 2)
}

func TestCreateIssueFailsOpenWhenLimiterErrors(t *testing.T) {
	fs := newFakeStore()
	limiter := newFakeLimiter(0)
	limiter.err = errors.New("redis: connection refused")
	svc := newTestService(t, fs, withLimiter(limiter))

	issue := addIssue(t, svc, addUser(t, fs, "rhea", rbac.RoleCitizen))
	assert.NotEmpty(t, issue.ID)
}

func TestCreateIssueRollsBackOnUploadFailure(t *testing.T) {
	fs := newFakeStore()
	blobs := newFakeBlob()
	blobs.putErr = errors.New("bucket unavailable")
	limiter := newFakeLimiter(5)
	svc := newTestService(t, fs, withBlob(blobs), withLimiter(limiter))
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)

	_, err := svc.CreateIssue(context.Background(), actorOf(reporter), IssueInput{
		Title: "Pothole on Main", Description: "Deep pothole near the bakery.", Category: "road",
	}, []Upload{pngUpload("front.png")})
	require.Error(t, err)

	assert.Empty(t, fs.issues)
	assert.Empty(t, fs.timeline)
	assert.Equal(t, 1, limiter.released)
	assert.Equal(t, 0, limiter.counts[reporter.ID])
}

func TestAnonymousReporterIsHidden(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	stranger := addUser(t, fs, "sam", rbac.RoleCitizen)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)

	issue, err := svc.CreateIssue(ctx, actorOf(reporter), IssueInput{
		Title: "Graffiti on the library", Description: "Fresh tags on the east wall.", Category: "garbage", IsAnonymous: true,
	}, nil)
	require.NoError(t, err)

	cases := []struct {
		name  string
		actor rbac.Actor
		show  bool
	}{
		{"anonymous visitor", rbac.Actor{}, false},
		{"other citizen", actorOf(stranger), false},
		{"reporter", actorOf(reporter), true},
		{"admin", actorOf(admin), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			detail, err := svc.GetIssue(ctx, tc.actor, issue.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.show, detail.ShowReporter)

			view := newIssueView(tc.actor, detail.Issue)
			assert.Equal(t, tc.show, view.Reporter != nil)
		})
	}
}

func TestGetIssueDetail(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, withBlob(newFakeBlob()))
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)
	issue := addIssue(t, svc, reporter)

	_, err := svc.AddIssueImages(ctx, actorOf(admin), issue.ID, true, []Upload{pngUpload("fixed.png")})
	require.NoError(t, err)
	_, err = svc.CreateOfficialResponse(ctx, actorOf(admin), issue.ID, ResponseInput{Content: "Crew scheduled for Tuesday."})
	require.NoError(t, err)

	detail, err := svc.GetIssue(ctx, actorOf(admin), issue.ID)
	require.NoError(t, err)
	assert.Empty(t, detail.BeforeImages)
	assert.Len(t, detail.AfterImages, 1)
	require.NotNil(t, detail.Response)
	assert.Equal(t, "ada", detail.Response.ResponderName)
	assert.True(t, detail.Capabilities.Has(rbac.CapTransition))

	_, err = svc.GetIssue(ctx, rbac.Actor{}, "missing")
	requireDomainError(t, err, http.StatusNotFound, codeNotFound)
}

func TestAddIssueImagesPermissions(t *testing.T) {
	fs := newFakeStore()
	blobs := newFakeBlob()
	svc := newTestService(t, fs, withBlob(blobs))
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	stranger := addUser(t, fs, "sam", rbac.RoleCitizen)
	resolver := addResolver(t, fs, "ravi", true)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)
	issue := addIssue(t, svc, reporter)

	_, err := svc.AddIssueImages(ctx, actorOf(stranger), issue.ID, false, []Upload{pngUpload("a.png")})
	requireDomainError(t, err, http.StatusForbidden, codePermission)

	_, err = svc.AddIssueImages(ctx, actorOf(admin), issue.ID, false, []Upload{pngUpload("a.png")})
	requireDomainError(t, err, http.StatusForbidden, codePermission)

	_, err = svc.AddIssueImages(ctx, actorOf(reporter), issue.ID, true, []Upload{pngUpload("a.png")})
	requireDomainError(t, err, http.StatusForbidden, codePermission)

	_, err = svc.AddIssueImages(ctx, actorOf(resolver), issue.ID, true, []Upload{pngUpload("a.png")})
	requireDomainError(t, err, http.StatusForbidden, codePermission)

	_, err = svc.Accept(ctx, actorOf(resolver), issue.ID)
	require.NoError(t, err)
	added, err := svc.AddIssueImages(ctx, actorOf(resolver), issue.ID, true, []Upload{pngUpload("after.png")})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.True(t, added[0].IsAfterImage)
	assert.Contains(t, added[0].ObjectKey, "/after_")

	added, err = svc.AddIssueImages(ctx, actorOf(reporter), issue.ID, false, []Upload{pngUpload("b.png")})
	require.NoError(t, err)
	assert.False(t, added[0].IsAfterImage)
	assert.Equal(t, 2, blobs.count())
}

func TestOfficialResponseIsSingle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	resolver := addResolver(t, fs, "ravi", true)
	pending := addResolver(t, fs, "pat", false)
	issue := addIssue(t, svc, reporter)

	_, err := svc.CreateOfficialResponse(ctx, actorOf(pending), issue.ID, ResponseInput{Content: "On it."})
	requireDomainError(t, err, http.StatusForbidden, codePermission)

	_, err = svc.CreateOfficialResponse(ctx, actorOf(resolver), issue.ID, ResponseInput{Content: "On it."})
	require.NoError(t, err)

	_, err = svc.CreateOfficialResponse(ctx, actorOf(resolver), issue.ID, ResponseInput{Content: "Again."})
	requireDomainError(t, err, http.StatusConflict, codeDuplicate)
}

func TestUpdateAndDeleteIssue(t *testing.T) {
	fs := newFakeStore()
	blobs := newFakeBlob()
	index := newFakeSearch()
	svc := newTestService(t, fs, withBlob(blobs), withSearch(index))
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)

	issue, err := svc.CreateIssue(ctx, actorOf(reporter), IssueInput{
		Title: "Pothole on Main", Description: "Deep pothole near the bakery.", Category: "road",
	}, []Upload{pngUpload("front.png")})
	require.NoError(t, err)

	title := "Pothole on Main Street"
	_, err = svc.UpdateIssue(ctx, actorOf(admin), issue.ID, IssuePatch{Title: &title})
	requireDomainError(t, err, http.StatusForbidden, codePermission)

	urgency := store.UrgencyHigh
	updated, err := svc.UpdateIssue(ctx, actorOf(reporter), issue.ID, IssuePatch{Title: &title, Urgency: &urgency})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, store.UrgencyHigh, updated.Urgency)
	assert.Equal(t, store.StatusReported, updated.Status)
	assert.Equal(t, title, index.indexed[issue.ID].Title)

	require.NoError(t, svc.DeleteIssue(ctx, actorOf(admin), issue.ID))
	assert.Empty(t, fs.issues)
	assert.Equal(t, 0, blobs.count())
	assert.Equal(t, []string{issue.ID}, index.deleted)
}

func TestListIssuesFilters(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	other := addUser(t, fs, "otto", rbac.RoleCitizen)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)

	first := addIssue(t, svc, reporter)
	addIssue(t, svc, other)
	_, err := svc.Transition(ctx, actorOf(admin), first.ID, store.StatusResolved, "")
	require.NoError(t, err)

	resolved, err := svc.ListIssues(ctx, rbac.Actor{}, IssueQuery{Statuses: []string{store.StatusResolved}})
	require.NoError(t, err)
	assert.Equal(t, 1, resolved.Total)

	mine, err := svc.ListIssues(ctx, actorOf(other), IssueQuery{Mine: true})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, other.ID, mine.Items[0].ReporterID)

	_, err = svc.ListIssues(ctx, rbac.Actor{}, IssueQuery{Mine: true})
	requireDomainError(t, err, http.StatusUnauthorized, codeUnauthorized)

	_, err = svc.ListIssues(ctx, rbac.Actor{}, IssueQuery{Statuses: []string{"closed"}, Sort: "random", CreatedAfter: "yesterday"})
	de := requireDomainError(t, err, http.StatusBadRequest, codeValidation)
	assert.Len(t, de.Details.(map[string][]string), 3)

	paged, err := svc.ListIssues(ctx, rbac.Actor{}, IssueQuery{Page: 2, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, paged.Total)
	assert.Len(t, paged.Items, 1)
	assert.Equal(t, 2, paged.Page)
}

func TestParseDateBound(t *testing.T) {
	lower, err := parseDateBound("2026-03-01", false)
	require.NoError(t, err)
	upper, err := parseDateBound("2026-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, 24.0, upper.Sub(*lower).Hours())

	none, err := parseDateBound("  ", true)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSearchIssuesHydratesFromStore(t *testing.T) {
	fs := newFakeStore()
	index := newFakeSearch()
	svc := newTestService(t, fs, withSearch(index))
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	issue := addIssue(t, svc, reporter)
	_, err := svc.ToggleBookmark(ctx, actorOf(reporter), issue.ID)
	require.NoError(t, err)

	index.results = []search.Result{{ID: issue.ID, Title: issue.Title}, {ID: "stale-id"}}
	page, err := svc.SearchIssues(ctx, actorOf(reporter), "streetlight", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "meilisearch", page.Engine)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].IsBookmarked)

	_, err = svc.SearchIssues(ctx, actorOf(reporter), " ", 1, 10)
	requireDomainError(t, err, http.StatusBadRequest, codeValidation)
}

func TestSearchIssuesWithoutIndexUsesDatabase(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	addIssue(t, svc, addUser(t, fs, "rhea", rbac.RoleCitizen))

	page, err := svc.SearchIssues(context.Background(), rbac.Actor{}, "LAMP", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "database", page.Engine)
	assert.Equal(t, 1, page.Total)
}

func TestExportIssueReport(t *testing.T) {
	fs := newFakeStore()
	exporter := &fakeExporter{}
	svc := newTestService(t, fs, withExporter(exporter))
	ctx := context.Background()
	reporter := addUser(t, fs, "rhea", rbac.RoleCitizen)
	admin := addUser(t, fs, "ada", rbac.RoleAdmin)
	issue := addIssue(t, svc, reporter)
	_, err := svc.Transition(ctx, actorOf(admin), issue.ID, store.StatusResolved, "Lamp replaced")
	require.NoError(t, err)

	res, err := svc.ExportIssueReport(ctx, rbac.Actor{}, issue.ID, "html")
	require.NoError(t, err)
	assert.Equal(t, issue.ID+".html", res.Filename)
	assert.Equal(t, "rhea", exporter.report.ReporterName)
	require.Len(t, exporter.report.Timeline, 2)
	assert.Equal(t, "Lamp replaced", exporter.report.Timeline[1].Note)
	assert.NotNil(t, exporter.report.ResolvedAt)

	_, err = svc.ExportIssueReport(ctx, rbac.Actor{}, issue.ID, "docx")
	requireDomainError(t, err, http.StatusBadRequest, codeValidation)

	exporter.err = export.ErrPDFDependencyMissing
	_, err = svc.ExportIssueReport(ctx, rbac.Actor{}, issue.ID, "pdf")
	requireDomainError(t, err, http.StatusServiceUnavailable, codeUnavailable)
}

func TestExportWithoutExporterIsUnavailable(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issue := addIssue(t, svc, addUser(t, fs, "rhea", rbac.RoleCitizen))

	_, err := svc.ExportIssueReport(context.Background(), rbac.Actor{}, issue.ID, "")
	requireDomainError(t, err, http.StatusServiceUnavailable, codeUnavailable)
}

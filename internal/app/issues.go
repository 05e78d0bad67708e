package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"townsquare/api/internal/blob"
	"townsquare/api/internal/export"
	"townsquare/api/internal/rbac"
	"townsquare/api/internal/search"
	"townsquare/api/internal/store"
	"townsquare/api/internal/validation"
)

// Upload is one file from a multipart request.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

type IssueInput struct {
	Title       string   `json:"title" validate:"notblank,min=5,max=200"`
	Description string   `json:"description" validate:"notblank,min=10"`
	Category    string   `json:"category" validate:"notblank"`
	Urgency     string   `json:"urgency" validate:"omitempty,oneof=low normal high critical"`
	Address     string   `json:"address" validate:"max=500"`
	Area        string   `json:"area" validate:"max=120"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
	IsAnonymous bool     `json:"is_anonymous"`
}

func (in *IssueInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Urgency = strings.TrimSpace(in.Urgency)
	in.Address = strings.TrimSpace(in.Address)
	in.Area = strings.TrimSpace(in.Area)
	if in.Urgency == "" {
		in.Urgency = store.UrgencyNormal
	}
}

// CreateIssue reports a new issue in the reported state with its first
// timeline row and any attached photos.
func (s *Service) CreateIssue(ctx context.Context, actor rbac.Actor, in IssueInput, images []Upload) (store.Issue, error) {
	if !actor.Authenticated() {
		return store.Issue{}, unauthorizedError()
	}
	if !rbac.Can(actor.Role, rbac.ActionReport) {
		return store.Issue{}, permissionError("")
	}
	in.normalize()
	if fields := validation.Struct(in); fields != nil {
		return store.Issue{}, validationError(fields)
	}
	if err := s.checkUploads(blob.IssueImages, images, 0); err != nil {
		return store.Issue{}, err
	}
	if err := s.checkCategory(ctx, in.Category); err != nil {
		return store.Issue{}, err
	}
	if err := s.takeReportSlot(ctx, actor.ID); err != nil {
		return store.Issue{}, err
	}

	var (
		issue    store.Issue
		uploaded []string
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		issue, err = s.store.CreateIssue(ctx, store.Issue{
			Title:       in.Title,
			Description: in.Description,
			CategoryID:  in.Category,
			Urgency:     in.Urgency,
			Address:     in.Address,
			Area:        in.Area,
			Latitude:    in.Latitude,
			Longitude:   in.Longitude,
			IsAnonymous: in.IsAnonymous,
			ReporterID:  actor.ID,
		})
		if err != nil {
			return err
		}
		if _, err := s.store.AppendTimeline(ctx, store.TimelineEntry{
			IssueID: issue.ID,
			Status:  store.StatusReported,
			Note:    "Issue reported",
			ActorID: stringPtr(actor.ID),
		}); err != nil {
			return err
		}
		uploaded, err = s.storeIssueImages(ctx, actor, issue.ID, false, images)
		return err
	})
	if err != nil {
		s.discardObjects(uploaded)
		s.releaseReportSlot(actor.ID)
		return store.Issue{}, err
	}

	s.log.Info().Str("issue_id", issue.ID).Str("reporter_id", actor.ID).Int("images", len(images)).Msg("issue reported")
	s.indexIssue(issue)
	return issue, nil
}

func (s *Service) checkCategory(ctx context.Context, slug string) error {
	ok, err := s.store.CategoryExists(ctx, slug)
	if err != nil {
		return err
	}
	if !ok {
		return fieldError("category", "category does not exist")
	}
	return nil
}

func (s *Service) takeReportSlot(ctx context.Context, userID string) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, userID)
	if err != nil {
		// Reporting stays available when Redis is down.
		s.log.Warn().Err(err).Str("user_id", userID).Msg("issue rate limit check failed")
		return nil
	}
	if !decision.Allowed {
		s.metrics.IncRateLimited()
		return rateLimitedError(decision.RetryAfter)
	}
	return nil
}

func (s *Service) releaseReportSlot(userID string) {
	if s.limiter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.limiter.Release(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("release issue rate limit")
	}
}

// checkUploads validates count and file types before anything is written.
func (s *Service) checkUploads(category blob.Category, uploads []Upload, existing int) error {
	if len(uploads) == 0 {
		return nil
	}
	if s.blob == nil {
		return unavailableError("File storage is not configured")
	}
	limit := s.cfg.Storage.MaxImages
	if category == blob.IssueImages && existing+len(uploads) > limit {
		return fieldError("images", fmt.Sprintf("at most %d images are allowed", limit))
	}
	for _, u := range uploads {
		if _, err := blob.ContentType(category, u.Filename); err != nil {
			return fieldError("images", fmt.Sprintf("%s is not a supported file type", u.Filename))
		}
		if s.cfg.HTTP.MaxUploadBytes > 0 && u.Size > s.cfg.HTTP.MaxUploadBytes {
			return fieldError("images", fmt.Sprintf("%s is too large", u.Filename))
		}
	}
	return nil
}

func (s *Service) putObject(ctx context.Context, category blob.Category, ownerID, prefix string, u Upload) (string, error) {
	contentType, err := blob.ContentType(category, u.Filename)
	if err != nil {
		return "", err
	}
	key := blob.Key(category, ownerID, prefix, u.Filename)
	if err := s.blob.Put(ctx, key, u.Body, u.Size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) storeIssueImages(ctx context.Context, actor rbac.Actor, issueID string, after bool, uploads []Upload) ([]string, error) {
	prefix := ""
	if after {
		prefix = "after_"
	}
	keys := make([]string, 0, len(uploads))
	for _, u := range uploads {
		key, err := s.putObject(ctx, blob.IssueImages, issueID, prefix, u)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
		if _, err := s.store.AddIssueImage(ctx, store.IssueImage{
			IssueID:      issueID,
			ObjectKey:    key,
			IsAfterImage: after,
			UploadedBy:   actor.ID,
		}); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

// discardObjects removes blobs whose database rows were rolled back or deleted.
func (s *Service) discardObjects(keys []string) {
	if s.blob == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := s.blob.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("delete orphaned object")
		}
	}
}

// ObjectURL returns a browser-usable URL for key, or "" when storage is off.
func (s *Service) ObjectURL(ctx context.Context, key string) string {
	if s.blob == nil || key == "" {
		return ""
	}
	url, err := s.blob.URL(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("presign object url")
		return ""
	}
	return url
}

type IssueDetail struct {
	Issue        store.Issue
	BeforeImages []store.IssueImage
	AfterImages  []store.IssueImage
	Timeline     []store.TimelineEntry
	Response     *store.OfficialResponse
	ShowReporter bool
	Capabilities rbac.CapSet
}

// canSeeReporter hides anonymous reporters from everyone but themselves and admins.
func canSeeReporter(actor rbac.Actor, issue store.Issue) bool {
	return !issue.IsAnonymous || actor.IsAdmin() || (actor.Authenticated() && issue.ReporterID == actor.ID)
}

func (s *Service) GetIssue(ctx context.Context, actor rbac.Actor, id string) (IssueDetail, error) {
	issue, err := s.loadIssue(ctx, id, actor.ID, false)
	if err != nil {
		return IssueDetail{}, err
	}
	images, err := s.store.ListIssueImages(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}
	timeline, err := s.store.ListTimeline(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}
	response, err := s.store.GetOfficialResponse(ctx, id)
	if err != nil {
		return IssueDetail{}, err
	}

	detail := IssueDetail{
		Issue:        issue,
		BeforeImages: []store.IssueImage{},
		AfterImages:  []store.IssueImage{},
		Timeline:     timeline,
		Response:     response,
		ShowReporter: canSeeReporter(actor, issue),
		Capabilities: rbac.Capabilities(actor, issue),
	}
	for _, img := range images {
		if img.IsAfterImage {
			detail.AfterImages = append(detail.AfterImages, img)
		} else {
			detail.BeforeImages = append(detail.BeforeImages, img)
		}
	}
	return detail, nil
}

type IssueQuery struct {
	Statuses      []string
	Categories    []string
	Urgencies     []string
	Area          string
	Search        string
	CreatedAfter  string
	CreatedBefore string
	Mine          bool
	AssignedToMe  bool
	Sort          string
	Page          int
	PageSize      int
}

type IssuePage struct {
	Items    []store.Issue
	Total    int
	Page     int
	PageSize int
}

var validSorts = []string{store.SortNewest, store.SortOldest, store.SortMostUpvotes, store.SortMostComments}

func (s *Service) ListIssues(ctx context.Context, actor rbac.Actor, q IssueQuery) (IssuePage, error) {
	filter, err := buildIssueFilter(actor, q)
	if err != nil {
		return IssuePage{}, err
	}
	page, size := normalizePage(q.Page, q.PageSize)
	filter.Limit = size
	filter.Offset = (page - 1) * size
	items, total, err := s.store.ListIssues(ctx, filter, actor.ID)
	if err != nil {
		return IssuePage{}, err
	}
	return IssuePage{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func (s *Service) ListBookmarks(ctx context.Context, actor rbac.Actor, page, size int) (IssuePage, error) {
	if !actor.Authenticated() {
		return IssuePage{}, unauthorizedError()
	}
	page, size = normalizePage(page, size)
	items, total, err := s.store.ListIssues(ctx, store.IssueFilter{
		BookmarkedBy: actor.ID,
		Limit:        size,
		Offset:       (page - 1) * size,
	}, actor.ID)
	if err != nil {
		return IssuePage{}, err
	}
	return IssuePage{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func buildIssueFilter(actor rbac.Actor, q IssueQuery) (store.IssueFilter, error) {
	fields := map[string][]string{}
	for _, status := range q.Statuses {
		if !store.ValidStatus(status) {
			fields["status"] = append(fields["status"], fmt.Sprintf("%q is not a valid status", status))
		}
	}
	for _, urgency := range q.Urgencies {
		if !store.ValidUrgency(urgency) {
			fields["urgency"] = append(fields["urgency"], fmt.Sprintf("%q is not a valid urgency", urgency))
		}
	}
	sort := strings.TrimSpace(q.Sort)
	if sort == "" {
		sort = store.SortNewest
	}
	if !contains(validSorts, sort) {
		fields["sort"] = append(fields["sort"], "sort must be one of: "+strings.Join(validSorts, ", "))
	}
	after, err := parseDateBound(q.CreatedAfter, false)
	if err != nil {
		fields["created_after"] = append(fields["created_after"], err.Error())
	}
	before, err := parseDateBound(q.CreatedBefore, true)
	if err != nil {
		fields["created_before"] = append(fields["created_before"], err.Error())
	}
	if len(fields) > 0 {
		return store.IssueFilter{}, validationError(fields)
	}
	if (q.Mine || q.AssignedToMe) && !actor.Authenticated() {
		return store.IssueFilter{}, unauthorizedError()
	}

	filter := store.IssueFilter{
		Statuses:      q.Statuses,
		Categories:    q.Categories,
		Urgencies:     q.Urgencies,
		Area:          q.Area,
		Search:        q.Search,
		CreatedAfter:  after,
		CreatedBefore: before,
		Sort:          sort,
	}
	if q.Mine {
		filter.ReporterID = actor.ID
	}
	if q.AssignedToMe {
		filter.AssigneeID = actor.ID
	}
	return filter, nil
}

// parseDateBound accepts RFC3339 or YYYY-MM-DD. A date-only upper bound covers
// the whole day.
func parseDateBound(value string, upper bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errors.New("must be an RFC3339 timestamp or YYYY-MM-DD date")
	}
	if upper {
		t = t.Add(24 * time.Hour)
	}
	return &t, nil
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

type IssuePatch struct {
	Title       *string  `json:"title" validate:"omitempty,notblank,min=5,max=200"`
	Description *string  `json:"description" validate:"omitempty,notblank,min=10"`
	Category    *string  `json:"category" validate:"omitempty,notblank"`
	Urgency     *string  `json:"urgency" validate:"omitempty,oneof=low normal high critical"`
	Address     *string  `json:"address" validate:"omitempty,max=500"`
	Area        *string  `json:"area" validate:"omitempty,max=120"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// UpdateIssue edits the reporter's own issue. Status is not editable here.
func (s *Service) UpdateIssue(ctx context.Context, actor rbac.Actor, id string, patch IssuePatch) (store.Issue, error) {
	if !actor.Authenticated() {
		return store.Issue{}, unauthorizedError()
	}
	patch.Title = trimPtr(patch.Title)
	patch.Description = trimPtr(patch.Description)
	patch.Category = trimPtr(patch.Category)
	patch.Address = trimPtr(patch.Address)
	patch.Area = trimPtr(patch.Area)
	if fields := validation.Struct(patch); fields != nil {
		return store.Issue{}, validationError(fields)
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, id, "", true)
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, issue).Has(rbac.CapEdit) {
			return permissionError("Only the reporter can edit this issue")
		}
		if patch.Title != nil {
			issue.Title = *patch.Title
		}
		if patch.Description != nil {
			issue.Description = *patch.Description
		}
		if patch.Category != nil && *patch.Category != issue.CategoryID {
			if err := s.checkCategory(ctx, *patch.Category); err != nil {
				return err
			}
			issue.CategoryID = *patch.Category
		}
		if patch.Urgency != nil {
			issue.Urgency = *patch.Urgency
		}
		if patch.Address != nil {
			issue.Address = *patch.Address
		}
		if patch.Area != nil {
			issue.Area = *patch.Area
		}
		if patch.Latitude != nil {
			issue.Latitude = patch.Latitude
		}
		if patch.Longitude != nil {
			issue.Longitude = patch.Longitude
		}
		return s.store.UpdateIssueContent(ctx, issue)
	})
	if err != nil {
		return store.Issue{}, err
	}
	issue, err := s.loadIssue(ctx, id, actor.ID, false)
	if err != nil {
		return store.Issue{}, err
	}
	s.indexIssue(issue)
	return issue, nil
}

func (s *Service) DeleteIssue(ctx context.Context, actor rbac.Actor, id string) error {
	if !actor.Authenticated() {
		return unauthorizedError()
	}
	var keys []string
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, id, "", true)
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, issue).Has(rbac.CapDelete) {
			return permissionError("Only the reporter or an admin can delete this issue")
		}
		images, err := s.store.ListIssueImages(ctx, id)
		if err != nil {
			return err
		}
		for _, img := range images {
			keys = append(keys, img.ObjectKey)
		}
		return s.store.DeleteIssue(ctx, id)
	})
	if err != nil {
		return err
	}
	s.discardObjects(keys)
	if s.search != nil {
		s.search.DeleteIssue(id)
	}
	s.log.Info().Str("issue_id", id).Str("actor_id", actor.ID).Msg("issue deleted")
	return nil
}

// AddIssueImages attaches photos. Before-images belong to the reporter;
// after-images are resolution evidence from whoever may change the status.
func (s *Service) AddIssueImages(ctx context.Context, actor rbac.Actor, id string, after bool, uploads []Upload) ([]store.IssueImage, error) {
	if !actor.Authenticated() {
		return nil, unauthorizedError()
	}
	if len(uploads) == 0 {
		return nil, fieldError("images", "at least one image is required")
	}

	var uploaded []string
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, id, "", true)
		if err != nil {
			return err
		}
		if after {
			if !rbac.Capabilities(actor, issue).Has(rbac.CapAttachEvidence) {
				return permissionError("Only an admin or the assigned verified resolver can add resolution photos")
			}
		} else if !rbac.Capabilities(actor, issue).Has(rbac.CapEdit) {
			return permissionError("Only the reporter can add photos to this issue")
		}
		existing, err := s.store.CountIssueImages(ctx, id, after)
		if err != nil {
			return err
		}
		if err := s.checkUploads(blob.IssueImages, uploads, existing); err != nil {
			return err
		}
		uploaded, err = s.storeIssueImages(ctx, actor, id, after, uploads)
		return err
	})
	if err != nil {
		s.discardObjects(uploaded)
		return nil, err
	}
	images, err := s.store.ListIssueImages(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]store.IssueImage, 0, len(uploaded))
	for _, img := range images {
		if contains(uploaded, img.ObjectKey) {
			out = append(out, img)
		}
	}
	return out, nil
}

type ResponseInput struct {
	Content string `json:"content" validate:"notblank,max=5000"`
}

// CreateOfficialResponse posts the single official response for an issue.
func (s *Service) CreateOfficialResponse(ctx context.Context, actor rbac.Actor, id string, in ResponseInput) (store.OfficialResponse, error) {
	if !actor.Authenticated() {
		return store.OfficialResponse{}, unauthorizedError()
	}
	in.Content = strings.TrimSpace(in.Content)
	if fields := validation.Struct(in); fields != nil {
		return store.OfficialResponse{}, validationError(fields)
	}
	var response store.OfficialResponse
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		issue, err := s.loadIssue(ctx, id, "", false)
		if err != nil {
			return err
		}
		if !rbac.Capabilities(actor, issue).Has(rbac.CapRespond) {
			return permissionError("Only admins and verified resolvers can post an official response")
		}
		responder, err := s.store.GetUserByID(ctx, actor.ID)
		if err != nil {
			return err
		}
		response, err = s.store.CreateOfficialResponse(ctx, store.OfficialResponse{
			IssueID:     issue.ID,
			ResponderID: actor.ID,
			Content:     in.Content,
		})
		if store.IsDuplicateOn(err, store.ConstraintOfficialResponse) {
			return conflictError(codeDuplicate, "An official response already exists for this issue")
		}
		response.ResponderName = responder.FullName
		return err
	})
	if err != nil {
		return store.OfficialResponse{}, err
	}
	return response, nil
}

type SearchPage struct {
	Items    []store.Issue
	Total    int
	Page     int
	PageSize int
	Engine   string
}

// SearchIssues queries the search index and hydrates hits from the database so
// results carry per-viewer flags. Without an index it falls back to a
// substring match over title and description.
func (s *Service) SearchIssues(ctx context.Context, actor rbac.Actor, text string, page, size int) (SearchPage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SearchPage{}, fieldError("q", "q is required")
	}
	page, size = normalizePage(page, size)

	if s.search == nil {
		items, total, err := s.store.ListIssues(ctx, store.IssueFilter{
			Search: text,
			Sort:   store.SortNewest,
			Limit:  size,
			Offset: (page - 1) * size,
		}, actor.ID)
		if err != nil {
			return SearchPage{}, err
		}
		return SearchPage{Items: items, Total: total, Page: page, PageSize: size, Engine: "database"}, nil
	}

	resp := s.search.Search(search.Query{Text: text, Limit: size, Offset: (page - 1) * size})
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.ID)
	}
	items, err := s.store.ListIssuesByID(ctx, ids, actor.ID)
	if err != nil {
		return SearchPage{}, err
	}
	return SearchPage{Items: items, Total: resp.Total, Page: page, PageSize: size, Engine: resp.Engine}, nil
}

func (s *Service) indexIssue(issue store.Issue) {
	if s.search == nil {
		return
	}
	s.search.IndexIssue(search.IssueRecord{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Category:    issue.CategoryID,
		Status:      issue.Status,
		Urgency:     issue.Urgency,
		Area:        issue.Area,
		Address:     issue.Address,
		CreatedAt:   issue.CreatedAt.Unix(),
	})
}

// ExportIssueReport renders the resolution report for an issue.
func (s *Service) ExportIssueReport(ctx context.Context, actor rbac.Actor, id, format string) (*export.Result, error) {
	f, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if !ok {
		return nil, fieldError("format", "format must be one of: pdf, html")
	}
	if s.exporter == nil {
		return nil, unavailableError("Report export is not configured")
	}
	detail, err := s.GetIssue(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !detail.Capabilities.Has(rbac.CapView) {
		return nil, permissionError("")
	}

	issue := detail.Issue
	report := export.Report{
		IssueID:      issue.ID,
		Title:        issue.Title,
		Description:  issue.Description,
		Category:     issue.CategoryName,
		Status:       issue.Status,
		Urgency:      issue.Urgency,
		Address:      issue.Address,
		Area:         issue.Area,
		AssigneeName: issue.AssignedName,
		CreatedAt:    issue.CreatedAt,
		ResolvedAt:   issue.ResolvedAt,
		Upvotes:      issue.UpvoteCount,
		Comments:     issue.CommentCount,
	}
	if detail.ShowReporter {
		report.ReporterName = issue.ReporterName
	}
	for _, entry := range detail.Timeline {
		report.Timeline = append(report.Timeline, export.TimelineItem{
			Status:    entry.Status,
			Note:      entry.Note,
			Actor:     entry.ActorName,
			CreatedAt: entry.CreatedAt,
		})
	}
	if detail.Response != nil {
		report.Response = &export.ResponseItem{
			Author:    detail.Response.ResponderName,
			Message:   detail.Response.Content,
			CreatedAt: detail.Response.CreatedAt,
		}
	}

	result, err := s.exporter.Export(ctx, report, f)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return nil, unavailableError("PDF export is not available on this server")
	}
	return result, err
}

package app

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"townsquare/api/internal/store"
)

type pair struct{ user, target string }

// fakeState is everything RunInTx snapshots and restores on rollback.
type fakeState struct {
	users         map[string]store.User
	profiles      map[string]store.ResolverProfile
	issues        map[string]store.Issue
	timeline      []store.TimelineEntry
	images        []store.IssueImage
	responses     map[string]store.OfficialResponse
	upvotes       map[pair]bool
	bookmarks     map[pair]bool
	comments      map[string]store.Comment
	likes         map[pair]bool
	notifications []store.Notification
}

func (s fakeState) clone() fakeState {
	return fakeState{
		users:         maps.Clone(s.users),
		profiles:      maps.Clone(s.profiles),
		issues:        maps.Clone(s.issues),
		timeline:      slices.Clone(s.timeline),
		images:        slices.Clone(s.images),
		responses:     maps.Clone(s.responses),
		upvotes:       maps.Clone(s.upvotes),
		bookmarks:     maps.Clone(s.bookmarks),
		comments:      maps.Clone(s.comments),
		likes:         maps.Clone(s.likes),
		notifications: slices.Clone(s.notifications),
	}
}

// fakeStore is an in-memory DataStore. Transactions are serialized and roll
// back on error. The func fields override single methods.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	fakeState

	categories  []store.Category
	departments []store.Department
	seq         int64
	clock       time.Time

	pingFn               func(context.Context) error
	appendTimelineFn     func(context.Context, store.TimelineEntry) (store.TimelineEntry, error)
	createNotificationFn func(context.Context, store.Notification) (store.Notification, error)
	listIssuesFn         func(context.Context, store.IssueFilter, string) ([]store.Issue, int, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fakeState: fakeState{
			users:     map[string]store.User{},
			profiles:  map[string]store.ResolverProfile{},
			issues:    map[string]store.Issue{},
			responses: map[string]store.OfficialResponse{},
			upvotes:   map[pair]bool{},
			bookmarks: map[pair]bool{},
			comments:  map[string]store.Comment{},
			likes:     map[pair]bool{},
		},
		categories: []store.Category{
			{Slug: "road", Name: "Roads & Potholes", SortOrder: 1},
			{Slug: "streetlight", Name: "Streetlights", SortOrder: 2},
			{Slug: "garbage", Name: "Garbage & Sanitation", SortOrder: 3},
		},
		departments: []store.Department{
			{Slug: "public-works", Name: "Public Works"},
			{Slug: "sanitation", Name: "Sanitation"},
		},
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

// tick advances the fake clock so rows get distinct, ordered timestamps.
func (f *fakeStore) tick() time.Time {
	f.seq++
	return f.clock.Add(time.Duration(f.seq) * time.Second)
}

type fakeTxKey struct{}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	snapshot := f.fakeState.clone()
	f.mu.Unlock()

	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		f.mu.Lock()
		f.fakeState = snapshot
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// --- users

func (f *fakeStore) userLocked(id string) (store.User, bool) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, false
	}
	u.Verified = f.profiles[id].IsVerified
	return u, true
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			u, _ = f.userLocked(id)
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return store.User{}, &store.DuplicateError{Constraint: store.ConstraintUserEmail}
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.IsActive = true
	user.CreatedAt = f.tick()
	user.UpdatedAt = user.CreatedAt
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) CreateResolverProfile(_ context.Context, profile store.ResolverProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.EmployeeID == profile.EmployeeID {
			return &store.DuplicateError{Constraint: store.ConstraintEmployeeID}
		}
	}
	for _, d := range f.departments {
		if d.Slug == profile.DepartmentID {
			profile.DepartmentName = d.Name
		}
	}
	profile.CreatedAt = f.tick()
	f.profiles[profile.UserID] = profile
	return nil
}

func (f *fakeStore) DepartmentExists(_ context.Context, slug string) (bool, error) {
	for _, d := range f.departments {
		if d.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.userLocked(id)
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, id, fullName, phone, address string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	u.FullName, u.Phone, u.Address = fullName, phone, address
	u.UpdatedAt = f.tick()
	f.users[id] = u
	u, _ = f.userLocked(id)
	return u, nil
}

func (f *fakeStore) UpdateUserImage(_ context.Context, id, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.ProfileImageKey = key
	f.users[id] = u
	return nil
}

func (f *fakeStore) SetUserActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.IsActive = active
	f.users[id] = u
	return nil
}

func (f *fakeStore) GetResolverProfile(_ context.Context, userID string) (store.ResolverProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.ResolverProfile{}, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) UpdateResolverDocument(_ context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.IDDocumentKey = key
	f.profiles[userID] = p
	return nil
}

func (f *fakeStore) ListResolvers(_ context.Context, state string) ([]store.PendingResolver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.PendingResolver
	for id, p := range f.profiles {
		match := true
		switch state {
		case "pending":
			match = !p.IsVerified && p.RejectedAt == nil
		case "verified":
			match = p.IsVerified
		case "rejected":
			match = p.RejectedAt != nil
		}
		if match {
			u, _ := f.userLocked(id)
			out = append(out, store.PendingResolver{User: u, Profile: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile.CreatedAt.Before(out[j].Profile.CreatedAt) })
	return out, nil
}

func (f *fakeStore) VerifyResolver(_ context.Context, userID, adminID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	now := f.tick()
	p.IsVerified = true
	p.VerifiedAt = &now
	p.VerifiedBy = &adminID
	p.RejectedAt = nil
	p.RejectionReason = ""
	f.profiles[userID] = p
	return nil
}

func (f *fakeStore) RejectResolver(_ context.Context, userID, _ string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.ErrNotFound
	}
	now := f.tick()
	p.IsVerified = false
	p.VerifiedAt = nil
	p.VerifiedBy = nil
	p.RejectedAt = &now
	p.RejectionReason = reason
	f.profiles[userID] = p
	return nil
}

// --- issues

func (f *fakeStore) decorateLocked(issue store.Issue, viewerID string) store.Issue {
	issue.ReporterName = f.users[issue.ReporterID].FullName
	issue.AssignedName = ""
	if issue.AssignedResolverID != nil {
		issue.AssignedName = f.users[*issue.AssignedResolverID].FullName
	}
	for _, c := range f.categories {
		if c.Slug == issue.CategoryID {
			issue.CategoryName = c.Name
		}
	}
	issue.IsUpvoted = viewerID != "" && f.upvotes[pair{viewerID, issue.ID}]
	issue.IsBookmarked = viewerID != "" && f.bookmarks[pair{viewerID, issue.ID}]
	return issue
}

func (f *fakeStore) CreateIssue(_ context.Context, issue store.Issue) (store.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if issue.ID == "" {
		issue.ID = uuid.NewString()
	}
	issue.Status = store.StatusReported
	issue.CreatedAt = f.tick()
	issue.UpdatedAt = issue.CreatedAt
	f.issues[issue.ID] = issue
	return f.decorateLocked(issue, ""), nil
}

func (f *fakeStore) GetIssue(_ context.Context, id, viewerID string) (store.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return store.Issue{}, store.ErrNotFound
	}
	return f.decorateLocked(issue, viewerID), nil
}

func (f *fakeStore) GetIssueForUpdate(ctx context.Context, id string) (store.Issue, error) {
	return f.GetIssue(ctx, id, "")
}

func (f *fakeStore) ListIssues(ctx context.Context, filter store.IssueFilter, viewerID string) ([]store.Issue, int, error) {
	if f.listIssuesFn != nil {
		return f.listIssuesFn(ctx, filter, viewerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.Issue
	for _, issue := range f.issues {
		if !issueMatches(issue, filter) {
			continue
		}
		if filter.BookmarkedBy != "" && !f.bookmarks[pair{filter.BookmarkedBy, issue.ID}] {
			continue
		}
		matched = append(matched, f.decorateLocked(issue, viewerID))
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch filter.Sort {
		case store.SortOldest:
			return a.CreatedAt.Before(b.CreatedAt)
		case store.SortMostUpvotes:
			if a.UpvoteCount != b.UpvoteCount {
				return a.UpvoteCount > b.UpvoteCount
			}
		case store.SortMostComments:
			if a.CommentCount != b.CommentCount {
				return a.CommentCount > b.CommentCount
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

func issueMatches(issue store.Issue, f store.IssueFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, issue.Status) {
		return false
	}
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, issue.CategoryID) {
		return false
	}
	if len(f.Urgencies) > 0 && !slices.Contains(f.Urgencies, issue.Urgency) {
		return false
	}
	if f.Area != "" && !strings.Contains(strings.ToLower(issue.Area), strings.ToLower(f.Area)) {
		return false
	}
	if f.Search != "" {
		text := strings.ToLower(issue.Title + " " + issue.Description)
		if !strings.Contains(text, strings.ToLower(f.Search)) {
			return false
		}
	}
	if f.ReporterID != "" && issue.ReporterID != f.ReporterID {
		return false
	}
	if f.AssigneeID != "" && issue.AssigneeID() != f.AssigneeID {
		return false
	}
	if f.CreatedAfter != nil && issue.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !issue.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

func (f *fakeStore) ListIssuesByID(_ context.Context, ids []string, viewerID string) ([]store.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Issue, 0, len(ids))
	for _, id := range ids {
		if issue, ok := f.issues[id]; ok {
			out = append(out, f.decorateLocked(issue, viewerID))
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateIssueContent(_ context.Context, issue store.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.issues[issue.ID]
	if !ok {
		return store.ErrNotFound
	}
	current.Title = issue.Title
	current.Description = issue.Description
	current.CategoryID = issue.CategoryID
	current.Urgency = issue.Urgency
	current.Address = issue.Address
	current.Area = issue.Area
	current.Latitude = issue.Latitude
	current.Longitude = issue.Longitude
	current.UpdatedAt = f.tick()
	f.issues[issue.ID] = current
	return nil
}

func (f *fakeStore) DeleteIssue(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.issues[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.issues, id)
	f.timeline = slices.DeleteFunc(f.timeline, func(e store.TimelineEntry) bool { return e.IssueID == id })
	f.images = slices.DeleteFunc(f.images, func(img store.IssueImage) bool { return img.IssueID == id })
	delete(f.responses, id)
	for k, c := range f.comments {
		if c.IssueID == id {
			delete(f.comments, k)
		}
	}
	return nil
}

func (f *fakeStore) SetIssueStatus(_ context.Context, id, status, actorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return store.ErrNotFound
	}
	now := f.tick()
	issue.Status = status
	if status == store.StatusResolved {
		if issue.ResolvedAt == nil {
			issue.ResolvedAt = &now
			issue.ResolvedBy = &actorID
		}
	} else {
		issue.ResolvedAt = nil
		issue.ResolvedBy = nil
	}
	issue.UpdatedAt = now
	f.issues[id] = issue
	return nil
}

func (f *fakeStore) AssignIssue(_ context.Context, id, resolverID string, departmentID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return store.ErrNotFound
	}
	issue.AssignedResolverID = &resolverID
	if departmentID != nil {
		issue.DepartmentID = departmentID
	}
	f.issues[id] = issue
	return nil
}

func (f *fakeStore) ClaimIssue(_ context.Context, id, resolverID string, departmentID *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok || issue.AssignedResolverID != nil {
		return false, nil
	}
	issue.AssignedResolverID = &resolverID
	if departmentID != nil {
		issue.DepartmentID = departmentID
	}
	f.issues[id] = issue
	return true, nil
}

func (f *fakeStore) IssueExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.issues[id]
	return ok, nil
}

func (f *fakeStore) IncrementShareCount(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	issue.ShareCount++
	f.issues[id] = issue
	return issue.ShareCount, nil
}

func (f *fakeStore) AppendTimeline(ctx context.Context, entry store.TimelineEntry) (store.TimelineEntry, error) {
	if f.appendTimelineFn != nil {
		return f.appendTimelineFn(ctx, entry)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.CreatedAt = f.tick()
	entry.ID = f.seq
	if entry.ActorID != nil {
		entry.ActorName = f.users[*entry.ActorID].FullName
	}
	f.timeline = append(f.timeline, entry)
	return entry, nil
}

func (f *fakeStore) ListTimeline(_ context.Context, issueID string) ([]store.TimelineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.TimelineEntry{}
	for _, e := range f.timeline {
		if e.IssueID == issueID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) AddIssueImage(_ context.Context, image store.IssueImage) (store.IssueImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	image.ID = uuid.NewString()
	image.CreatedAt = f.tick()
	f.images = append(f.images, image)
	return image, nil
}

func (f *fakeStore) ListIssueImages(_ context.Context, issueID string) ([]store.IssueImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.IssueImage
	for _, img := range f.images {
		if img.IssueID == issueID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (f *fakeStore) CountIssueImages(_ context.Context, issueID string, after bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, img := range f.images {
		if img.IssueID == issueID && img.IsAfterImage == after {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateOfficialResponse(_ context.Context, response store.OfficialResponse) (store.OfficialResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.responses[response.IssueID]; ok {
		return store.OfficialResponse{}, &store.DuplicateError{Constraint: store.ConstraintOfficialResponse}
	}
	response.ID = uuid.NewString()
	response.CreatedAt = f.tick()
	response.ResponderName = f.users[response.ResponderID].FullName
	f.responses[response.IssueID] = response
	return response, nil
}

func (f *fakeStore) GetOfficialResponse(_ context.Context, issueID string) (*store.OfficialResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.responses[issueID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// --- engagement

func (f *fakeStore) ToggleUpvote(_ context.Context, userID, issueID string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	key := pair{userID, issueID}
	active := !f.upvotes[key]
	if active {
		f.upvotes[key] = true
	} else {
		delete(f.upvotes, key)
	}
	count := 0
	for k := range f.upvotes {
		if k.target == issueID {
			count++
		}
	}
	issue.UpvoteCount = count
	f.issues[issueID] = issue
	return active, count, nil
}

func (f *fakeStore) ToggleBookmark(_ context.Context, userID, issueID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pair{userID, issueID}
	if f.bookmarks[key] {
		delete(f.bookmarks, key)
		return false, nil
	}
	f.bookmarks[key] = true
	return true, nil
}

func (f *fakeStore) RecountComments(_ context.Context, issueID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.issues[issueID]
	if !ok {
		return 0, store.ErrNotFound
	}
	count := 0
	for _, c := range f.comments {
		if c.IssueID == issueID {
			count++
		}
	}
	issue.CommentCount = count
	f.issues[issueID] = issue
	return count, nil
}

func (f *fakeStore) CreateComment(_ context.Context, comment store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	comment.CreatedAt = f.tick()
	comment.UpdatedAt = comment.CreatedAt
	f.comments[comment.ID] = comment
	return comment, nil
}

func (f *fakeStore) commentLocked(c store.Comment, viewerID string) store.Comment {
	c.AuthorName = f.users[c.AuthorID].FullName
	c.IsLiked = viewerID != "" && f.likes[pair{viewerID, c.ID}]
	return c
}

func (f *fakeStore) GetComment(_ context.Context, id string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[id]
	if !ok {
		return store.Comment{}, store.ErrNotFound
	}
	return f.commentLocked(c, ""), nil
}

func (f *fakeStore) ListComments(_ context.Context, issueID, viewerID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Comment{}
	for _, c := range f.comments {
		if c.IssueID == issueID {
			out = append(out, f.commentLocked(c, viewerID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) DeleteComment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comments[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.comments, id)
	for k, c := range f.comments {
		if c.ParentID != nil && *c.ParentID == id {
			delete(f.comments, k)
		}
	}
	return nil
}

func (f *fakeStore) ToggleCommentLike(_ context.Context, userID, commentID string) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[commentID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	key := pair{userID, commentID}
	active := !f.likes[key]
	if active {
		f.likes[key] = true
	} else {
		delete(f.likes, key)
	}
	count := 0
	for k := range f.likes {
		if k.target == commentID {
			count++
		}
	}
	c.LikeCount = count
	f.comments[commentID] = c
	return active, count, nil
}

// --- notifications

func (f *fakeStore) CreateNotification(ctx context.Context, n store.Notification) (store.Notification, error) {
	if f.createNotificationFn != nil {
		return f.createNotificationFn(ctx, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = uuid.NewString()
	n.CreatedAt = f.tick()
	f.notifications = append(f.notifications, n)
	return n, nil
}

func (f *fakeStore) ListNotifications(_ context.Context, recipientID string, filter store.NotificationFilter) ([]store.Notification, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.Notification
	unread := 0
	for i := len(f.notifications) - 1; i >= 0; i-- {
		n := f.notifications[i]
		if n.RecipientID != recipientID {
			continue
		}
		if !n.IsRead {
			unread++
		}
		if filter.Read != nil && n.IsRead != *filter.Read {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		matched = append(matched, n)
	}
	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, unread, nil
}

func (f *fakeStore) notificationIndex(id string) int {
	return slices.IndexFunc(f.notifications, func(n store.Notification) bool { return n.ID == id })
}

func (f *fakeStore) GetNotification(_ context.Context, id string) (store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.notificationIndex(id)
	if i < 0 {
		return store.Notification{}, store.ErrNotFound
	}
	return f.notifications[i], nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.notificationIndex(id)
	if i < 0 {
		return store.ErrNotFound
	}
	f.notifications[i].IsRead = true
	return nil
}

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, recipientID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i := range f.notifications {
		if f.notifications[i].RecipientID == recipientID && !f.notifications[i].IsRead {
			f.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteNotification(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.notificationIndex(id)
	if i < 0 {
		return store.ErrNotFound
	}
	f.notifications = slices.Delete(f.notifications, i, i+1)
	return nil
}

// --- catalog

func (f *fakeStore) ListCategories(context.Context) ([]store.Category, error) {
	return f.categories, nil
}

func (f *fakeStore) CategoryExists(_ context.Context, slug string) (bool, error) {
	return slices.ContainsFunc(f.categories, func(c store.Category) bool { return c.Slug == slug }), nil
}

func (f *fakeStore) ListDepartments(context.Context) ([]store.Department, error) {
	return f.departments, nil
}

func (f *fakeStore) PlatformStats(context.Context) (store.PlatformStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats store.PlatformStats
	var hours float64
	for _, issue := range f.issues {
		stats.IssuesReported++
		if issue.Status == store.StatusResolved {
			stats.IssuesResolved++
		}
		if issue.ResolvedAt != nil {
			hours += issue.ResolvedAt.Sub(issue.CreatedAt).Hours()
		}
	}
	if stats.IssuesResolved > 0 {
		avg := hours / float64(stats.IssuesResolved)
		stats.AvgResolutionHours = &avg
	}
	for _, u := range f.users {
		if u.IsActive && u.Role == "citizen" {
			stats.ActiveMembers++
		}
	}
	return stats, nil
}

// --- test helpers

func (f *fakeStore) timelineFor(issueID string) []store.TimelineEntry {
	entries, _ := f.ListTimeline(context.Background(), issueID)
	return entries
}

func (f *fakeStore) notificationsFor(recipientID string) []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Notification
	for _, n := range f.notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeStore) issue(id string) store.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issues[id]
}

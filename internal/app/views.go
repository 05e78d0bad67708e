package app

import (
	"context"
	"time"

	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
)

// JSON shapes returned by the HTTP layer. Field names are part of the public API.

type personView struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

type categoryView struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

type issueView struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Category         categoryView `json:"category"`
	Status           string       `json:"status"`
	StatusDisplay    string       `json:"status_display"`
	Urgency          string       `json:"urgency"`
	Address          string       `json:"address"`
	Area             string       `json:"area"`
	Latitude         *float64     `json:"latitude"`
	Longitude        *float64     `json:"longitude"`
	IsAnonymous      bool         `json:"is_anonymous"`
	Reporter         *personView  `json:"reporter"`
	AssignedResolver *personView  `json:"assigned_resolver"`
	Department       *string      `json:"department"`
	UpvoteCount      int          `json:"upvote_count"`
	CommentCount     int          `json:"comment_count"`
	ShareCount       int          `json:"share_count"`
	IsUpvoted        bool         `json:"is_upvoted"`
	IsBookmarked     bool         `json:"is_bookmarked"`
	ResolvedAt       *time.Time   `json:"resolved_at"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func newIssueView(actor rbac.Actor, issue store.Issue) issueView {
	v := issueView{
		ID:            issue.ID,
		Title:         issue.Title,
		Description:   issue.Description,
		Category:      categoryView{Slug: issue.CategoryID, Name: issue.CategoryName},
		Status:        issue.Status,
		StatusDisplay: store.StatusLabel(issue.Status),
		Urgency:       issue.Urgency,
		Address:       issue.Address,
		Area:          issue.Area,
		Latitude:      issue.Latitude,
		Longitude:     issue.Longitude,
		IsAnonymous:   issue.IsAnonymous,
		Department:    issue.DepartmentID,
		UpvoteCount:   issue.UpvoteCount,
		CommentCount:  issue.CommentCount,
		ShareCount:    issue.ShareCount,
		IsUpvoted:     issue.IsUpvoted,
		IsBookmarked:  issue.IsBookmarked,
		ResolvedAt:    issue.ResolvedAt,
		CreatedAt:     issue.CreatedAt,
		UpdatedAt:     issue.UpdatedAt,
	}
	if canSeeReporter(actor, issue) {
		v.Reporter = &personView{ID: issue.ReporterID, FullName: issue.ReporterName}
	}
	if issue.AssignedResolverID != nil {
		v.AssignedResolver = &personView{ID: *issue.AssignedResolverID, FullName: issue.AssignedName}
	}
	return v
}

func newIssueViews(actor rbac.Actor, issues []store.Issue) []issueView {
	out := make([]issueView, 0, len(issues))
	for _, issue := range issues {
		out = append(out, newIssueView(actor, issue))
	}
	return out
}

type imageView struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	IsAfterImage bool      `json:"is_after_image"`
	CreatedAt    time.Time `json:"created_at"`
}

type timelineView struct {
	ID            int64       `json:"id"`
	Status        string      `json:"status"`
	StatusDisplay string      `json:"status_display"`
	Note          string      `json:"note"`
	Actor         *personView `json:"actor"`
	CreatedAt     time.Time   `json:"created_at"`
}

type responseView struct {
	ID        string     `json:"id"`
	Responder personView `json:"responder"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

type issueDetailView struct {
	issueView
	Images struct {
		Before []imageView `json:"before"`
		After  []imageView `json:"after"`
	} `json:"images"`
	Timeline         []timelineView `json:"timeline"`
	OfficialResponse *responseView  `json:"official_response"`
	Permissions      []string       `json:"permissions"`
}

func (s *HTTPServer) newImageViews(ctx context.Context, images []store.IssueImage) []imageView {
	out := make([]imageView, 0, len(images))
	for _, img := range images {
		out = append(out, imageView{
			ID:           img.ID,
			URL:          s.service.ObjectURL(ctx, img.ObjectKey),
			IsAfterImage: img.IsAfterImage,
			CreatedAt:    img.CreatedAt,
		})
	}
	return out
}

func newTimelineView(e store.TimelineEntry) timelineView {
	v := timelineView{
		ID:            e.ID,
		Status:        e.Status,
		StatusDisplay: store.StatusLabel(e.Status),
		Note:          e.Note,
		CreatedAt:     e.CreatedAt,
	}
	if e.ActorID != nil {
		v.Actor = &personView{ID: *e.ActorID, FullName: e.ActorName}
	}
	return v
}

func newResponseView(r store.OfficialResponse) responseView {
	return responseView{
		ID:        r.ID,
		Responder: personView{ID: r.ResponderID, FullName: r.ResponderName},
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}

func (s *HTTPServer) newIssueDetailView(ctx context.Context, actor rbac.Actor, d IssueDetail) issueDetailView {
	v := issueDetailView{issueView: newIssueView(actor, d.Issue)}
	v.Images.Before = s.newImageViews(ctx, d.BeforeImages)
	v.Images.After = s.newImageViews(ctx, d.AfterImages)
	v.Timeline = make([]timelineView, 0, len(d.Timeline))
	for _, e := range d.Timeline {
		v.Timeline = append(v.Timeline, newTimelineView(e))
	}
	if d.Response != nil {
		rv := newResponseView(*d.Response)
		v.OfficialResponse = &rv
	}
	v.Permissions = capabilityNames(d.Capabilities)
	return v
}

func capabilityNames(caps rbac.CapSet) []string {
	names := []string{}
	for _, c := range []rbac.Capability{
		rbac.CapView, rbac.CapEngage, rbac.CapEdit, rbac.CapDelete, rbac.CapTransition,
		rbac.CapAssign, rbac.CapAccept, rbac.CapRespond, rbac.CapAttachEvidence,
	} {
		if caps.Has(c) {
			names = append(names, c.String())
		}
	}
	return names
}

type commentView struct {
	ID        string        `json:"id"`
	Author    personView    `json:"author"`
	ParentID  *string       `json:"parent_id"`
	Content   string        `json:"content"`
	LikeCount int           `json:"like_count"`
	IsLiked   bool          `json:"is_liked"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Replies   []commentView `json:"replies,omitempty"`
}

func newCommentView(c store.Comment) commentView {
	return commentView{
		ID:        c.ID,
		Author:    personView{ID: c.AuthorID, FullName: c.AuthorName},
		ParentID:  c.ParentID,
		Content:   c.Content,
		LikeCount: c.LikeCount,
		IsLiked:   c.IsLiked,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func newCommentThreadViews(threads []CommentThread) []commentView {
	out := make([]commentView, 0, len(threads))
	for _, t := range threads {
		v := newCommentView(t.Comment)
		v.Replies = make([]commentView, 0, len(t.Replies))
		for _, r := range t.Replies {
			v.Replies = append(v.Replies, newCommentView(r))
		}
		out = append(out, v)
	}
	return out
}

type notificationView struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	IssueID   *string     `json:"issue_id"`
	Actor     *personView `json:"actor"`
	IsRead    bool        `json:"is_read"`
	CreatedAt time.Time   `json:"created_at"`
}

func newNotificationView(n store.Notification) notificationView {
	v := notificationView{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		IssueID:   n.IssueID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
	if n.ActorID != nil {
		v.Actor = &personView{ID: *n.ActorID, FullName: n.ActorName}
	}
	return v
}

type resolverProfileView struct {
	Department      string     `json:"department"`
	DepartmentName  string     `json:"department_name"`
	Designation     string     `json:"designation"`
	EmployeeID      string     `json:"employee_id"`
	Jurisdiction    string     `json:"jurisdiction"`
	HasIDDocument   bool       `json:"has_id_document"`
	IsVerified      bool       `json:"is_verified"`
	VerifiedAt      *time.Time `json:"verified_at"`
	RejectedAt      *time.Time `json:"rejected_at"`
	RejectionReason string     `json:"rejection_reason"`
}

func newResolverProfileView(p store.ResolverProfile) *resolverProfileView {
	return &resolverProfileView{
		Department:      p.DepartmentID,
		DepartmentName:  p.DepartmentName,
		Designation:     p.Designation,
		EmployeeID:      p.EmployeeID,
		Jurisdiction:    p.Jurisdiction,
		HasIDDocument:   p.IDDocumentKey != "",
		IsVerified:      p.IsVerified,
		VerifiedAt:      p.VerifiedAt,
		RejectedAt:      p.RejectedAt,
		RejectionReason: p.RejectionReason,
	}
}

type userView struct {
	ID              string               `json:"id"`
	Email           string               `json:"email"`
	FullName        string               `json:"full_name"`
	Role            string               `json:"role"`
	Phone           string               `json:"phone"`
	Address         string               `json:"address"`
	ProfileImageURL string               `json:"profile_image_url"`
	IsActive        bool                 `json:"is_active"`
	IsVerified      bool                 `json:"is_verified"`
	CreatedAt       time.Time            `json:"created_at"`
	ResolverProfile *resolverProfileView `json:"resolver_profile,omitempty"`
}

func (s *HTTPServer) newUserView(ctx context.Context, u store.User, rp *store.ResolverProfile) userView {
	v := userView{
		ID:              u.ID,
		Email:           u.Email,
		FullName:        u.FullName,
		Role:            u.Role,
		Phone:           u.Phone,
		Address:         u.Address,
		ProfileImageURL: s.service.ObjectURL(ctx, u.ProfileImageKey),
		IsActive:        u.IsActive,
		IsVerified:      u.Verified,
		CreatedAt:       u.CreatedAt,
	}
	if rp != nil {
		v.ResolverProfile = newResolverProfileView(*rp)
		v.IsVerified = rp.IsVerified
	}
	return v
}

type authView struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         userView  `json:"user"`
}

func (s *HTTPServer) newAuthView(ctx context.Context, res AuthResult) authView {
	return authView{
		AccessToken:  res.Session.Token,
		RefreshToken: res.Session.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    res.Session.ExpiresAt,
		User:         s.newUserView(ctx, res.User, res.Resolver),
	}
}

type pageView struct {
	Results    any `json:"results"`
	Count      int `json:"count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

func newPageView(results any, total, page, size int) pageView {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return pageView{Results: results, Count: total, Page: page, PageSize: size, TotalPages: pages}
}

package store

import "time"

const (
	StatusReported     = "reported"
	StatusAcknowledged = "acknowledged"
	StatusInProgress   = "in-progress"
	StatusResolved     = "resolved"
)

const (
	UrgencyLow      = "low"
	UrgencyNormal   = "normal"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

const (
	NotifyStatusUpdate = "status_update"
	NotifyComment      = "comment"
	NotifyUpvote       = "upvote"
	NotifyMention      = "mention"
	NotifyResolution   = "resolution"
	NotifyAssignment   = "assignment"
	NotifySystem       = "system"
)

// Unique constraints surfaced through DuplicateError.
const (
	ConstraintUserEmail        = "users_email_key"
	ConstraintEmployeeID       = "resolver_profiles_employee_id_key"
	ConstraintOfficialResponse = "official_responses_issue_id_key"
)

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var StatusOptions = []Option{
	{Value: StatusReported, Label: "Reported"},
	{Value: StatusAcknowledged, Label: "Acknowledged"},
	{Value: StatusInProgress, Label: "In Progress"},
	{Value: StatusResolved, Label: "Resolved"},
}

var UrgencyLevels = []Option{
	{Value: UrgencyLow, Label: "Low"},
	{Value: UrgencyNormal, Label: "Normal"},
	{Value: UrgencyHigh, Label: "High"},
	{Value: UrgencyCritical, Label: "Critical"},
}

var NotificationTypes = []string{
	NotifyStatusUpdate, NotifyComment, NotifyUpvote, NotifyMention,
	NotifyResolution, NotifyAssignment, NotifySystem,
}

func ValidStatus(value string) bool {
	return optionContains(StatusOptions, value)
}

func ValidUrgency(value string) bool {
	return optionContains(UrgencyLevels, value)
}

func ValidNotificationType(value string) bool {
	for _, t := range NotificationTypes {
		if t == value {
			return true
		}
	}
	return false
}

func StatusLabel(value string) string {
	for _, o := range StatusOptions {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

func optionContains(options []Option, value string) bool {
	for _, o := range options {
		if o.Value == value {
			return true
		}
	}
	return false
}

type User struct {
	ID              string
	Email           string
	FullName        string
	PasswordHash    string
	Role            string
	Phone           string
	Address         string
	ProfileImageKey string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	// Verified mirrors the resolver profile flag; false for non-resolvers.
	Verified bool
}

type ResolverProfile struct {
	UserID          string
	DepartmentID    string
	DepartmentName  string
	Designation     string
	EmployeeID      string
	Jurisdiction    string
	IDDocumentKey   string
	IsVerified      bool
	VerifiedAt      *time.Time
	VerifiedBy      *string
	RejectedAt      *time.Time
	RejectionReason string
	CreatedAt       time.Time
}

// PendingResolver joins a resolver profile to its user for moderation lists.
type PendingResolver struct {
	User    User
	Profile ResolverProfile
}

type Category struct {
	Slug      string
	Name      string
	Icon      string
	SortOrder int
}

type Department struct {
	Slug        string
	Name        string
	Description string
}

type Issue struct {
	ID                 string
	Title              string
	Description        string
	CategoryID         string
	CategoryName       string
	Status             string
	Urgency            string
	Address            string
	Area               string
	Latitude           *float64
	Longitude          *float64
	IsAnonymous        bool
	ReporterID         string
	ReporterName       string
	AssignedResolverID *string
	AssignedName       string
	DepartmentID       *string
	UpvoteCount        int
	CommentCount       int
	ShareCount         int
	ResolvedAt         *time.Time
	ResolvedBy         *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	// Per-viewer flags, filled by list/detail queries when a viewer is known.
	IsUpvoted    bool
	IsBookmarked bool
}

func (i Issue) OwnerID() string { return i.ReporterID }

func (i Issue) AssigneeID() string {
	if i.AssignedResolverID == nil {
		return ""
	}
	return *i.AssignedResolverID
}

type IssueImage struct {
	ID           string
	IssueID      string
	ObjectKey    string
	IsAfterImage bool
	UploadedBy   string
	CreatedAt    time.Time
}

type TimelineEntry struct {
	ID        int64
	IssueID   string
	Status    string
	Note      string
	ActorID   *string
	ActorName string
	CreatedAt time.Time
}

type OfficialResponse struct {
	ID            string
	IssueID       string
	ResponderID   string
	ResponderName string
	Content       string
	CreatedAt     time.Time
}

type Comment struct {
	ID         string
	IssueID    string
	AuthorID   string
	AuthorName string
	ParentID   *string
	Content    string
	LikeCount  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
	IsLiked    bool
}

func (c Comment) OwnerID() string { return c.AuthorID }

type Notification struct {
	ID          string
	RecipientID string
	Type        string
	Title       string
	Message     string
	IssueID     *string
	ActorID     *string
	ActorName   string
	IsRead      bool
	CreatedAt   time.Time
}

func (n Notification) OwnerID() string { return n.RecipientID }
func (n Notification) Personal() bool  { return true }

// IssueFilter drives the issue list query. Empty fields do not filter.
type IssueFilter struct {
	Statuses      []string
	Categories    []string
	Urgencies     []string
	Area          string
	Search        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	ReporterID    string
	AssigneeID    string
	BookmarkedBy  string
	Sort          string
	Limit         int
	Offset        int
}

const (
	SortNewest       = "newest"
	SortOldest       = "oldest"
	SortMostUpvotes  = "most_upvotes"
	SortMostComments = "most_comments"
)

type NotificationFilter struct {
	Read   *bool
	Type   string
	Limit  int
	Offset int
}

type PlatformStats struct {
	IssuesReported     int
	IssuesResolved     int
	ActiveMembers      int
	AvgResolutionHours *float64
}

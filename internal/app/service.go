package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"townsquare/api/internal/auth"
	"townsquare/api/internal/authpw"
	"townsquare/api/internal/config"
	"townsquare/api/internal/export"
	"townsquare/api/internal/metrics"
	"townsquare/api/internal/ratelimit"
	"townsquare/api/internal/rbac"
	"townsquare/api/internal/search"
	"townsquare/api/internal/session"
	"townsquare/api/internal/store"
	"townsquare/api/internal/util"
)

// DataStore is the persistence surface the service needs. store.PostgresStore
// implements it; tests use an in-memory fake.
type DataStore interface {
	authpw.UserStore
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateUserProfile(ctx context.Context, id, fullName, phone, address string) (store.User, error)
	UpdateUserImage(ctx context.Context, id, key string) error
	SetUserActive(ctx context.Context, id string, active bool) error
	GetResolverProfile(ctx context.Context, userID string) (store.ResolverProfile, error)
	UpdateResolverDocument(ctx context.Context, userID, key string) error
	ListResolvers(ctx context.Context, state string) ([]store.PendingResolver, error)
	VerifyResolver(ctx context.Context, userID, adminID string) error
	RejectResolver(ctx context.Context, userID, adminID, reason string) error

	CreateIssue(ctx context.Context, issue store.Issue) (store.Issue, error)
	GetIssue(ctx context.Context, id, viewerID string) (store.Issue, error)
	GetIssueForUpdate(ctx context.Context, id string) (store.Issue, error)
	ListIssues(ctx context.Context, f store.IssueFilter, viewerID string) ([]store.Issue, int, error)
	ListIssuesByID(ctx context.Context, ids []string, viewerID string) ([]store.Issue, error)
	UpdateIssueContent(ctx context.Context, issue store.Issue) error
	DeleteIssue(ctx context.Context, id string) error
	SetIssueStatus(ctx context.Context, id, status, actorID string) error
	AssignIssue(ctx context.Context, id, resolverID string, departmentID *string) error
	ClaimIssue(ctx context.Context, id, resolverID string, departmentID *string) (bool, error)
	IssueExists(ctx context.Context, id string) (bool, error)
	IncrementShareCount(ctx context.Context, id string) (int, error)
	AppendTimeline(ctx context.Context, entry store.TimelineEntry) (store.TimelineEntry, error)
	ListTimeline(ctx context.Context, issueID string) ([]store.TimelineEntry, error)
	AddIssueImage(ctx context.Context, image store.IssueImage) (store.IssueImage, error)
	ListIssueImages(ctx context.Context, issueID string) ([]store.IssueImage, error)
	CountIssueImages(ctx context.Context, issueID string, after bool) (int, error)
	CreateOfficialResponse(ctx context.Context, response store.OfficialResponse) (store.OfficialResponse, error)
	GetOfficialResponse(ctx context.Context, issueID string) (*store.OfficialResponse, error)

	ToggleUpvote(ctx context.Context, userID, issueID string) (bool, int, error)
	ToggleBookmark(ctx context.Context, userID, issueID string) (bool, error)
	RecountComments(ctx context.Context, issueID string) (int, error)
	CreateComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, id string) (store.Comment, error)
	ListComments(ctx context.Context, issueID, viewerID string) ([]store.Comment, error)
	DeleteComment(ctx context.Context, id string) error
	ToggleCommentLike(ctx context.Context, userID, commentID string) (bool, int, error)

	CreateNotification(ctx context.Context, n store.Notification) (store.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, f store.NotificationFilter) ([]store.Notification, int, int, error)
	GetNotification(ctx context.Context, id string) (store.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error)
	DeleteNotification(ctx context.Context, id string) error

	ListCategories(ctx context.Context) ([]store.Category, error)
	CategoryExists(ctx context.Context, slug string) (bool, error)
	ListDepartments(ctx context.Context) ([]store.Department, error)
	PlatformStats(ctx context.Context) (store.PlatformStats, error)
}

// SessionStore persists refresh tokens and access-token revocations.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string) (ratelimit.Decision, error)
	Release(ctx context.Context, userID string) error
}

type SearchIndex interface {
	Search(q search.Query) search.Response
	IndexIssue(rec search.IssueRecord)
	DeleteIssue(id string)
}

type Exporter interface {
	Export(ctx context.Context, report export.Report, format export.Format) (*export.Result, error)
}

// Deps wires the service. Store is required. Sessions fall back to memory and
// the rest degrade gracefully when nil.
type Deps struct {
	Store    DataStore
	Sessions SessionStore
	Blob     BlobStore
	Limiter  RateLimiter
	Search   SearchIndex
	Exporter Exporter
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	sessions  SessionStore
	blob      BlobStore
	limiter   RateLimiter
	search    SearchIndex
	exporter  Exporter
	metrics   *metrics.Metrics
	log       zerolog.Logger
	passwords *authpw.Service
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewMemoryStore()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  sessions,
		blob:      deps.Blob,
		limiter:   deps.Limiter,
		search:    deps.Search,
		exporter:  deps.Exporter,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		passwords: authpw.NewService(deps.Store),
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap creates the configured admin account on first start.
func (s *Service) Bootstrap(ctx context.Context) error {
	created, err := s.passwords.EnsureAdmin(ctx, s.cfg.Auth.AdminEmail, s.cfg.Auth.AdminPassword, "Administrator")
	if err != nil {
		return err
	}
	if created {
		s.log.Info().Str("email", s.cfg.Auth.AdminEmail).Msg("created bootstrap admin")
	}
	return nil
}

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         rbac.Role
	Verified     bool
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Actor() rbac.Actor {
	return rbac.Actor{ID: s.UserID, Role: s.Role, Verified: s.Verified}
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.Auth.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.Auth.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.FullName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.Auth.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.FullName,
		Role:         rbac.Normalize(user.Role),
		Verified:     user.Verified,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reloads the user so role,
// verification and deactivation take effect immediately.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.Auth.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.FullName,
		Role:      rbac.Normalize(user.Role),
		Verified:  user.Verified,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates a refresh token: the old one is revoked before a new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, store.User, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, store.User{}, fieldError("refresh_token", "refresh_token is required")
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, store.User{}, domainError(http.StatusUnauthorized, codeUnauthorized, "Refresh token invalid or expired", nil)
	}
	if err != nil {
		return Session{}, store.User{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, store.User{}, err
	}
	if !user.IsActive {
		return Session{}, store.User{}, permissionError("Account is deactivated")
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, store.User{}, err
	}
	sess, err := s.issueSession(ctx, user)
	return sess, user, err
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			return err
		}
	}
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	return nil
}

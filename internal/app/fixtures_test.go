package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"townsquare/api/internal/config"
	"townsquare/api/internal/export"
	"townsquare/api/internal/ratelimit"
	"townsquare/api/internal/rbac"
	"townsquare/api/internal/search"
	"townsquare/api/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		HTTP: config.HTTPConfig{MaxUploadBytes: 1 << 20},
		Auth: config.AuthConfig{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
		},
		Storage: config.StorageConfig{MaxImages: 5},
	}
}

func newTestService(t *testing.T, fs *fakeStore, opts ...func(*Deps)) *Service {
	t.Helper()
	deps := Deps{Store: fs, Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&deps)
	}
	return New(testConfig(), deps)
}

func addUser(t *testing.T, fs *fakeStore, name string, role rbac.Role) store.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := fs.CreateUser(context.Background(), store.User{
		Email:        name + "@example.org",
		FullName:     name,
		PasswordHash: string(hash),
		Role:         string(role),
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

// addResolver creates a resolver in public-works, verified or pending.
func addResolver(t *testing.T, fs *fakeStore, name string, verified bool) store.User {
	t.Helper()
	user := addUser(t, fs, name, rbac.RoleResolver)
	if err := fs.CreateResolverProfile(context.Background(), store.ResolverProfile{
		UserID:       user.ID,
		DepartmentID: "public-works",
		Designation:  "Field Engineer",
		EmployeeID:   "EMP-" + name,
		IsVerified:   verified,
	}); err != nil {
		t.Fatalf("create resolver profile: %v", err)
	}
	user.Verified = verified
	return user
}

func actorOf(u store.User) rbac.Actor {
	return rbac.Actor{ID: u.ID, Role: rbac.Normalize(u.Role), Verified: u.Verified}
}

// addIssue reports an issue through the service so it gets its first timeline row.
func addIssue(t *testing.T, svc *Service, reporter store.User) store.Issue {
	t.Helper()
	issue, err := svc.CreateIssue(context.Background(), actorOf(reporter), IssueInput{
		Title:       "Broken streetlight on Elm",
		Description: "The lamp at Elm and 3rd has been dark for a week.",
		Category:    "streetlight",
		Area:        "Riverside",
	}, nil)
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return issue
}

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError %s, got %v", code, err)
	}
	if de.Status != status || de.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%s)", status, code, de.Status, de.Code, de.Message)
	}
	return de
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (b *fakeBlob) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *fakeBlob) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBlob) URL(_ context.Context, key string) (string, error) {
	return "https://media.test/" + key, nil
}

func (b *fakeBlob) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

func pngUpload(name string) Upload {
	data := []byte("\x89PNG fake image bytes")
	return Upload{Filename: name, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

// fakeLimiter allows limit reports per user.
type fakeLimiter struct {
	mu       sync.Mutex
	limit    int
	counts   map[string]int
	err      error
	released int
}

func newFakeLimiter(limit int) *fakeLimiter {
	return &fakeLimiter{limit: limit, counts: map[string]int{}}
}

func (l *fakeLimiter) Allow(_ context.Context, userID string) (ratelimit.Decision, error) {
	if l.err != nil {
		return ratelimit.Decision{}, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[userID]++
	n := l.counts[userID]
	if n > l.limit {
		return ratelimit.Decision{Allowed: false, Count: int64(n), Limit: l.limit, RetryAfter: 3 * time.Hour}, nil
	}
	return ratelimit.Decision{Allowed: true, Count: int64(n), Limit: l.limit}, nil
}

func (l *fakeLimiter) Release(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[userID]--
	l.released++
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.IssueRecord
	deleted []string
	results []search.Result
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: map[string]search.IssueRecord{}}
}

func (s *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: s.results, Total: len(s.results), Query: q.Text, Engine: "meilisearch"}
}

func (s *fakeSearch) IndexIssue(rec search.IssueRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[rec.ID] = rec
}

func (s *fakeSearch) DeleteIssue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexed, id)
	s.deleted = append(s.deleted, id)
}

type fakeExporter struct {
	report export.Report
	err    error
}

func (e *fakeExporter) Export(_ context.Context, report export.Report, format export.Format) (*export.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.report = report
	return &export.Result{Data: []byte("<html></html>"), Filename: report.IssueID + "." + string(format), MimeType: "text/html; charset=utf-8"}, nil
}

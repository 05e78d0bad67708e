package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"townsquare/api/internal/rbac"
)

type HTTPOptions struct {
	CORSOrigins    []string
	MaxUploadBytes int64
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

type HTTPServer struct {
	service *Service
	opts    HTTPOptions
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &HTTPServer{service: service, opts: opts}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, notFoundError("Route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil))
	})

	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/register/resolver", s.handleRegisterResolver)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleGetProfile)
			r.Patch("/me", s.handleUpdateProfile)
			r.Post("/me/avatar", s.handleUploadAvatar)
			r.Post("/me/resolver-document", s.handleUploadResolverDocument)
			r.Get("/me/bookmarks", s.handleListBookmarks)
		})

		r.Route("/issues", func(r chi.Router) {
			r.Get("/", s.handleListIssues)
			r.Get("/search", s.handleSearchIssues)
			r.Get("/{id}", s.handleGetIssue)
			r.Post("/{id}/share", s.handleShare)
			r.Get("/{id}/comments", s.handleListComments)
			r.Get("/{id}/report", s.handleExportReport)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/", s.handleCreateIssue)
				r.Patch("/{id}", s.handleUpdateIssue)
				r.Delete("/{id}", s.handleDeleteIssue)
				r.Patch("/{id}/status", s.handleTransition)
				r.Post("/{id}/assign", s.handleAssign)
				r.Post("/{id}/accept", s.handleAccept)
				r.Post("/{id}/upvote", s.handleUpvote)
				r.Post("/{id}/bookmark", s.handleBookmark)
				r.Post("/{id}/comments", s.handleCreateComment)
				r.Post("/{id}/images", s.handleAddImages)
				r.Post("/{id}/official-response", s.handleOfficialResponse)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Delete("/comments/{id}", s.handleDeleteComment)
			r.Post("/comments/{id}/like", s.handleLikeComment)

			r.Get("/notifications", s.handleListNotifications)
			r.Post("/notifications/read-all", s.handleReadAllNotifications)
			r.Patch("/notifications/{id}/read", s.handleReadNotification)
			r.Delete("/notifications/{id}", s.handleDeleteNotification)

			r.Get("/admin/resolvers", s.handleListResolvers)
			r.Post("/admin/resolvers/{id}/verify", s.handleVerifyResolver)
			r.Post("/admin/resolvers/{id}/reject", s.handleRejectResolver)
			r.Patch("/admin/users/{id}/status", s.handleSetUserStatus)
		})

		r.Get("/categories", s.handleCategories)
		r.Get("/departments", s.handleDepartments)
		r.Get("/status-options", s.handleStatusOptions)
		r.Get("/urgency-levels", s.handleUrgencyLevels)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "OK", map[string]any{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		s.service.log.Warn().Err(err).Msg("readiness check failed")
		s.writeError(w, r, unavailableError("Database unavailable"))
		return
	}
	writeSuccess(w, http.StatusOK, "Ready", map[string]any{
		"status": "ready",
		"checks": map[string]string{"database": "ok"},
	})
}

type ctxKey int

const (
	requestInfoKey ctxKey = iota
	sessionKey
)

// requestInfo is shared by pointer so the access log sees the user that the
// auth middleware resolved further down the chain.
type requestInfo struct {
	ID     string
	UserID string
}

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestInfoKey, &requestInfo{ID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// recoverer turns a handler panic into an enveloped 500.
func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.service.log.Error().
				Str("request_id", requestInfoFrom(r.Context()).ID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Bytes("stack", debug.Stack()).
				Msgf("panic recovered: %v", rec)
			s.writeError(w, r, fmt.Errorf("panic: %v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.service.metrics.ObserveHTTP(r.Method, route, status, started)

		info := requestInfoFrom(r.Context())
		event := s.service.log.Info()
		if status >= http.StatusInternalServerError {
			event = s.service.log.Error()
		}
		event.
			Str("request_id", info.ID).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Str("user_id", info.UserID).
			Msg("request")
	})
}

// authenticate resolves the bearer token when one is sent. Anonymous requests
// pass through; a bad token is rejected so clients know to refresh.
func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		requestInfoFrom(r.Context()).UserID = sess.UserID
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, sess)))
	})
}

func (s *HTTPServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	sess, ok := sessionFrom(r)
	if !ok {
		s.writeError(w, r, unauthorizedError())
		return Session{}, false
	}
	return sess, true
}

func sessionFrom(r *http.Request) (Session, bool) {
	sess, ok := r.Context().Value(sessionKey).(Session)
	return sess, ok
}

// actorFrom returns the caller, or the anonymous actor.
func actorFrom(r *http.Request) rbac.Actor {
	sess, _ := sessionFrom(r)
	return sess.Actor()
}

type envelopeMeta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id,omitempty"`
}

type successEnvelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data"`
	Meta    envelopeMeta `json:"meta"`
}

type errorEnvelope struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	Errors    map[string][]string `json:"errors"`
	ErrorCode string              `json:"error_code"`
	Meta      envelopeMeta        `json:"meta"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, successEnvelope{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    envelopeMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	de := mapError(err)
	info := requestInfoFrom(r.Context())
	if de.Status >= http.StatusInternalServerError {
		s.service.log.Error().Err(err).Str("request_id", info.ID).Str("path", r.URL.Path).Msg("request failed")
	}

	fields, ok := de.Details.(map[string][]string)
	if !ok || fields == nil {
		fields = map[string][]string{}
	}
	if de.Code == codeRateLimited {
		if v := fields["retry_after"]; len(v) == 1 {
			w.Header().Set("Retry-After", v[0])
		}
	}
	writeJSON(w, de.Status, errorEnvelope{
		Success:   false,
		Message:   de.Message,
		Errors:    fields,
		ErrorCode: de.Code,
		Meta: envelopeMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			RequestID: info.ID,
		},
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fieldError("non_field_errors", "Invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// queryList accepts both repeated keys and comma separated values.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}

func queryBool(r *http.Request, key string) *bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return nil
	}
	return &v
}

type multipartFiles struct {
	uploads []Upload
	closers []io.Closer
}

func (m *multipartFiles) Close() {
	for _, c := range m.closers {
		_ = c.Close()
	}
}

// parseMultipart reads the form and opens every file sent under field. The
// caller must Close the result.
func (s *HTTPServer) parseMultipart(w http.ResponseWriter, r *http.Request, field string) (*multipartFiles, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fieldError(field, "upload exceeds the size limit")
		}
		return nil, fieldError("non_field_errors", "Invalid multipart form")
	}
	files := &multipartFiles{}
	for _, header := range r.MultipartForm.File[field] {
		f, err := header.Open()
		if err != nil {
			files.Close()
			return nil, err
		}
		files.closers = append(files.closers, f)
		files.uploads = append(files.uploads, Upload{Filename: header.Filename, Size: header.Size, Body: f})
	}
	return files, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

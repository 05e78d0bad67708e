package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"townsquare/api/internal/store"
)

func (s *HTTPServer) handleListResolvers(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("status")
	if state == "" {
		state = "pending"
	}
	resolvers, err := s.service.ListResolvers(r.Context(), actorFrom(r), state)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]userView, 0, len(resolvers))
	for _, pr := range resolvers {
		profile := pr.Profile
		out = append(out, s.newUserView(r.Context(), pr.User, &profile))
	}
	writeSuccess(w, http.StatusOK, "Resolvers retrieved", out)
}

func (s *HTTPServer) handleVerifyResolver(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.VerifyResolver(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Resolver verified", newResolverProfileView(profile))
}

func (s *HTTPServer) handleRejectResolver(w http.ResponseWriter, r *http.Request) {
	var body RejectInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	profile, err := s.service.RejectResolver(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Resolver rejected", newResolverProfileView(profile))
}

func (s *HTTPServer) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.IsActive == nil {
		s.writeError(w, r, fieldError("is_active", "is_active is required"))
		return
	}
	user, err := s.service.SetUserActive(r.Context(), actorFrom(r), chi.URLParam(r, "id"), *body.IsActive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message := "User deactivated"
	if user.IsActive {
		message = "User activated"
	}
	writeSuccess(w, http.StatusOK, message, s.newUserView(r.Context(), user, nil))
}

func (s *HTTPServer) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.ListCategories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]categoryView, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryView{Slug: c.Slug, Name: c.Name, Icon: c.Icon})
	}
	writeSuccess(w, http.StatusOK, "Categories retrieved", out)
}

type departmentView struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *HTTPServer) handleDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := s.service.ListDepartments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]departmentView, 0, len(departments))
	for _, d := range departments {
		out = append(out, departmentView{Slug: d.Slug, Name: d.Name, Description: d.Description})
	}
	writeSuccess(w, http.StatusOK, "Departments retrieved", out)
}

func (s *HTTPServer) handleStatusOptions(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Status options retrieved", store.StatusOptions)
}

func (s *HTTPServer) handleUrgencyLevels(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, "Urgency levels retrieved", store.UrgencyLevels)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Platform statistics", stats)
}

package app

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"townsquare/api/internal/store"
)

func (s *HTTPServer) handleListIssues(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	q := IssueQuery{
		Statuses:      queryList(r, "status"),
		Categories:    queryList(r, "category"),
		Urgencies:     queryList(r, "urgency"),
		Area:          r.URL.Query().Get("area"),
		Search:        r.URL.Query().Get("search"),
		CreatedAfter:  r.URL.Query().Get("created_after"),
		CreatedBefore: r.URL.Query().Get("created_before"),
		Sort:          r.URL.Query().Get("sort"),
		Page:          queryInt(r, "page"),
		PageSize:      queryInt(r, "page_size"),
	}
	if v := queryBool(r, "mine"); v != nil {
		q.Mine = *v
	}
	if v := queryBool(r, "assigned_to_me"); v != nil {
		q.AssignedToMe = *v
	}
	if r.URL.Query().Get("assigned") == "me" {
		q.AssignedToMe = true
	}
	page, err := s.service.ListIssues(r.Context(), actor, q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Issues retrieved",
		newPageView(newIssueViews(actor, page.Items), page.Total, page.Page, page.PageSize))
}

func (s *HTTPServer) handleSearchIssues(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	page, err := s.service.SearchIssues(r.Context(), actor, r.URL.Query().Get("q"), queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := newPageView(newIssueViews(actor, page.Items), page.Total, page.Page, page.PageSize)
	writeSuccess(w, http.StatusOK, "Search results", struct {
		pageView
		Engine string `json:"engine"`
	}{view, page.Engine})
}

// issueForm reads the issue fields from a multipart form.
func issueForm(r *http.Request) (IssueInput, error) {
	in := IssueInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Urgency:     r.FormValue("urgency"),
		Address:     r.FormValue("address"),
		Area:        r.FormValue("area"),
	}
	fields := map[string][]string{}
	for key, dst := range map[string]**float64{"latitude": &in.Latitude, "longitude": &in.Longitude} {
		raw := strings.TrimSpace(r.FormValue(key))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fields[key] = []string{key + " must be a number"}
			continue
		}
		*dst = &v
	}
	if raw := strings.TrimSpace(r.FormValue("is_anonymous")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			fields["is_anonymous"] = []string{"is_anonymous must be a boolean"}
		}
		in.IsAnonymous = v
	}
	if len(fields) > 0 {
		return IssueInput{}, validationError(fields)
	}
	return in, nil
}

func (s *HTTPServer) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var (
		in      IssueInput
		uploads []Upload
	)
	if isMultipart(r) {
		files, err := s.parseMultipart(w, r, "images")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer files.Close()
		if in, err = issueForm(r); err != nil {
			s.writeError(w, r, err)
			return
		}
		uploads = files.uploads
	} else if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	actor := actorFrom(r)
	issue, err := s.service.CreateIssue(r.Context(), actor, in, uploads)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Issue reported successfully", newIssueView(actor, issue))
}

func (s *HTTPServer) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	detail, err := s.service.GetIssue(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Issue retrieved", s.newIssueDetailView(r.Context(), actor, detail))
}

func (s *HTTPServer) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	var patch IssuePatch
	if err := decodeBody(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor := actorFrom(r)
	issue, err := s.service.UpdateIssue(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Issue updated", newIssueView(actor, issue))
}

func (s *HTTPServer) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteIssue(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Issue deleted", nil)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor := actorFrom(r)
	issue, err := s.service.Transition(r.Context(), actor, chi.URLParam(r, "id"), body.Status, body.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Status updated to "+store.StatusLabel(issue.Status), newIssueView(actor, issue))
}

func (s *HTTPServer) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResolverID string `json:"resolver_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	actor := actorFrom(r)
	issue, err := s.service.Assign(r.Context(), actor, chi.URLParam(r, "id"), body.ResolverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Issue assigned", newIssueView(actor, issue))
}

func (s *HTTPServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	issue, err := s.service.Accept(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Issue accepted", newIssueView(actor, issue))
}

func (s *HTTPServer) handleAddImages(w http.ResponseWriter, r *http.Request) {
	after := false
	if v := queryBool(r, "after"); v != nil {
		after = *v
	}
	files, err := s.parseMultipart(w, r, "images")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer files.Close()

	images, err := s.service.AddIssueImages(r.Context(), actorFrom(r), chi.URLParam(r, "id"), after, files.uploads)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Images uploaded", s.newImageViews(r.Context(), images))
}

func (s *HTTPServer) handleOfficialResponse(w http.ResponseWriter, r *http.Request) {
	var body ResponseInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.service.CreateOfficialResponse(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Official response posted", newResponseView(resp))
}

// handleExportReport streams the rendered report instead of the JSON envelope.
func (s *HTTPServer) handleExportReport(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ExportIssueReport(r.Context(), actorFrom(r), chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", res.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

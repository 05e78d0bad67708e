package app

import (
	"net/http"
)

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Registration successful", s.newAuthView(r.Context(), res))
}

func (s *HTTPServer) handleRegisterResolver(w http.ResponseWriter, r *http.Request) {
	var body ResolverRegisterInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.RegisterResolver(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Registration submitted, pending verification", s.newAuthView(r.Context(), res))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body LoginInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.service.Login(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", s.newAuthView(r.Context(), res))
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, user, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token refreshed", s.newAuthView(r.Context(), AuthResult{Session: sess, User: user}))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, _ := sessionFrom(r)
	if err := s.service.Logout(r.Context(), sess, body.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logged out", nil)
}

func (s *HTTPServer) writeProfile(w http.ResponseWriter, r *http.Request, message string, p Profile) {
	writeSuccess(w, http.StatusOK, message, s.newUserView(r.Context(), p.User, p.Resolver))
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetProfile(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeProfile(w, r, "Profile retrieved", p)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body ProfileInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.service.UpdateProfile(r.Context(), actorFrom(r), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeProfile(w, r, "Profile updated", p)
}

// singleUpload parses a multipart request carrying exactly one file under field.
func (s *HTTPServer) singleUpload(w http.ResponseWriter, r *http.Request, field string) (*multipartFiles, bool) {
	files, err := s.parseMultipart(w, r, field)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if len(files.uploads) != 1 {
		files.Close()
		s.writeError(w, r, fieldError(field, "exactly one file is required"))
		return nil, false
	}
	return files, true
}

func (s *HTTPServer) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	files, ok := s.singleUpload(w, r, "avatar")
	if !ok {
		return
	}
	defer files.Close()
	p, err := s.service.UploadAvatar(r.Context(), actorFrom(r), files.uploads[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeProfile(w, r, "Profile image updated", p)
}

func (s *HTTPServer) handleUploadResolverDocument(w http.ResponseWriter, r *http.Request) {
	files, ok := s.singleUpload(w, r, "document")
	if !ok {
		return
	}
	defer files.Close()
	p, err := s.service.UploadResolverDocument(r.Context(), actorFrom(r), files.uploads[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeProfile(w, r, "Identity document uploaded", p)
}

func (s *HTTPServer) handleListBookmarks(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	page, err := s.service.ListBookmarks(r.Context(), actor, queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Bookmarks retrieved",
		newPageView(newIssueViews(actor, page.Items), page.Total, page.Page, page.PageSize))
}

package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleUpvote(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ToggleUpvote(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message := "Upvote removed"
	if res.Upvoted {
		message = "Issue upvoted"
	}
	writeSuccess(w, http.StatusOK, message, res)
}

func (s *HTTPServer) handleBookmark(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ToggleBookmark(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message := "Bookmark removed"
	if res.Bookmarked {
		message = "Issue bookmarked"
	}
	writeSuccess(w, http.StatusOK, message, res)
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Share(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Share recorded", res)
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	threads, err := s.service.ListComments(r.Context(), actorFrom(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comments retrieved", newCommentThreadViews(threads))
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	var body CommentInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	comment, err := s.service.CreateComment(r.Context(), actorFrom(r), chi.URLParam(r, "id"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Comment added", newCommentView(comment))
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteComment(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Comment deleted", nil)
}

func (s *HTTPServer) handleLikeComment(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ToggleCommentLike(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Like updated", res)
}

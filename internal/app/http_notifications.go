package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.ListNotifications(r.Context(), actorFrom(r), NotificationQuery{
		Read:     queryBool(r, "is_read"),
		Type:     r.URL.Query().Get("type"),
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]notificationView, 0, len(page.Items))
	for _, n := range page.Items {
		items = append(items, newNotificationView(n))
	}
	writeSuccess(w, http.StatusOK, "Notifications retrieved", struct {
		pageView
		UnreadCount int `json:"unread_count"`
	}{newPageView(items, page.Total, page.Page, page.PageSize), page.UnreadCount})
}

func (s *HTTPServer) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkNotificationRead(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Notification marked as read", nil)
}

func (s *HTTPServer) handleReadAllNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.MarkAllNotificationsRead(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "All notifications marked as read", map[string]int{"marked_count": n})
}

func (s *HTTPServer) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteNotification(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Notification deleted", nil)
}

package app

import (
	"context"
	"fmt"
	"strings"

	"townsquare/api/internal/rbac"
	"townsquare/api/internal/store"
)

func statusMessage(status, title string) string {
	switch status {
	case store.StatusAcknowledged:
		return fmt.Sprintf("Your issue '%s' has been acknowledged.", title)
	case store.StatusInProgress:
		return fmt.Sprintf("Your issue '%s' is now in progress.", title)
	case store.StatusResolved:
		return fmt.Sprintf("Your issue '%s' has been resolved.", title)
	default:
		return fmt.Sprintf("Your issue '%s' has been reopened.", title)
	}
}

// notify inserts n inside the caller's transaction. Notifications addressed to
// the actor who caused them are dropped when suppressSelf is set.
func (s *Service) notify(ctx context.Context, n store.Notification, suppressSelf bool) error {
	if n.RecipientID == "" {
		return nil
	}
	if suppressSelf && n.ActorID != nil && *n.ActorID == n.RecipientID {
		return nil
	}
	if _, err := s.store.CreateNotification(ctx, n); err != nil {
		return err
	}
	s.metrics.IncNotification(n.Type)
	return nil
}

func issueNotification(kind string, issue store.Issue, recipientID, actorID, title, message string) store.Notification {
	n := store.Notification{
		RecipientID: recipientID,
		Type:        kind,
		Title:       title,
		Message:     message,
		IssueID:     stringPtr(issue.ID),
	}
	if actorID != "" {
		n.ActorID = stringPtr(actorID)
	}
	return n
}

func (s *Service) notifyStatusUpdate(ctx context.Context, issue store.Issue, status, actorID string) error {
	return s.notify(ctx, issueNotification(store.NotifyStatusUpdate, issue, issue.ReporterID, actorID,
		"Issue status updated", statusMessage(status, issue.Title)), false)
}

func (s *Service) notifyResolution(ctx context.Context, issue store.Issue, actorID string) error {
	return s.notify(ctx, issueNotification(store.NotifyResolution, issue, issue.ReporterID, actorID,
		"Issue resolved", fmt.Sprintf("Great news! Your issue '%s' has been resolved.", issue.Title)), false)
}

func (s *Service) notifyComment(ctx context.Context, issue store.Issue, actorID, actorName string) error {
	return s.notify(ctx, issueNotification(store.NotifyComment, issue, issue.ReporterID, actorID,
		"New comment on your issue", fmt.Sprintf("%s commented on your issue '%s'.", actorName, issue.Title)), true)
}

func (s *Service) notifyUpvote(ctx context.Context, issue store.Issue, actorID string) error {
	return s.notify(ctx, issueNotification(store.NotifyUpvote, issue, issue.ReporterID, actorID,
		"Your issue received an upvote", fmt.Sprintf("Someone upvoted your issue '%s'.", issue.Title)), true)
}

func (s *Service) notifyAssignment(ctx context.Context, issue store.Issue, resolverID, actorID string) error {
	return s.notify(ctx, issueNotification(store.NotifyAssignment, issue, resolverID, actorID,
		"New issue assigned", fmt.Sprintf("You have been assigned to issue '%s'.", issue.Title)), false)
}

func (s *Service) notifyResolverOutcome(ctx context.Context, userID, adminID string, verified bool, reason string) error {
	n := store.Notification{RecipientID: userID, Type: store.NotifySystem, ActorID: stringPtr(adminID)}
	if verified {
		n.Title = "Resolver account verified"
		n.Message = "Your resolver account has been verified."
	} else {
		n.Title = "Resolver application rejected"
		n.Message = "Your resolver application was rejected: " + reason
	}
	return s.notify(ctx, n, false)
}

type NotificationQuery struct {
	Read     *bool
	Type     string
	Page     int
	PageSize int
}

type NotificationPage struct {
	Items       []store.Notification
	Total       int
	UnreadCount int
	Page        int
	PageSize    int
}

func (s *Service) ListNotifications(ctx context.Context, actor rbac.Actor, q NotificationQuery) (NotificationPage, error) {
	if !actor.Authenticated() {
		return NotificationPage{}, unauthorizedError()
	}
	q.Type = strings.TrimSpace(q.Type)
	if q.Type != "" && !store.ValidNotificationType(q.Type) {
		return NotificationPage{}, fieldError("type", "type must be one of: "+strings.Join(store.NotificationTypes, ", "))
	}
	page, size := normalizePage(q.Page, q.PageSize)
	items, total, unread, err := s.store.ListNotifications(ctx, actor.ID, store.NotificationFilter{
		Read:   q.Read,
		Type:   q.Type,
		Limit:  size,
		Offset: (page - 1) * size,
	})
	if err != nil {
		return NotificationPage{}, err
	}
	return NotificationPage{Items: items, Total: total, UnreadCount: unread, Page: page, PageSize: size}, nil
}

// ownNotification loads a notification and hides it from everyone but its recipient.
func (s *Service) ownNotification(ctx context.Context, actor rbac.Actor, id string, need rbac.Capability) (store.Notification, error) {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return store.Notification{}, err
	}
	if !rbac.Capabilities(actor, n).Has(need) {
		return store.Notification{}, notFoundError("Notification")
	}
	return n, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, actor rbac.Actor, id string) error {
	if _, err := s.ownNotification(ctx, actor, id, rbac.CapEdit); err != nil {
		return err
	}
	return s.store.MarkNotificationRead(ctx, id)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, actor rbac.Actor) (int, error) {
	if !actor.Authenticated() {
		return 0, unauthorizedError()
	}
	return s.store.MarkAllNotificationsRead(ctx, actor.ID)
}

func (s *Service) DeleteNotification(ctx context.Context, actor rbac.Actor, id string) error {
	if _, err := s.ownNotification(ctx, actor, id, rbac.CapDelete); err != nil {
		return err
	}
	return s.store.DeleteNotification(ctx, id)
}

func stringPtr(v string) *string {
	return &v
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

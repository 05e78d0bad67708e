package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *PostgresStore) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = newID()
	}
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, issue_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, n.ID, n.RecipientID, n.Type, n.Title, n.Message, n.IssueID, n.ActorID).Scan(&n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("insert notification: %w", mapError(err))
	}
	return n, nil
}

func notificationFilter(b sq.SelectBuilder, recipientID string, f NotificationFilter) sq.SelectBuilder {
	b = b.Where(sq.Eq{"n.recipient_id": recipientID})
	if f.Read != nil {
		b = b.Where(sq.Eq{"n.is_read": *f.Read})
	}
	if f.Type != "" {
		b = b.Where(sq.Eq{"n.type": f.Type})
	}
	return b
}

// ListNotifications returns a page of the recipient's notifications, the
// filtered total and the recipient's overall unread count.
func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, f NotificationFilter) ([]Notification, int, int, error) {
	countQuery, countArgs, err := notificationFilter(psql.Select("COUNT(*)").From("notifications n"), recipientID, f).ToSql()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build notification count: %w", err)
	}
	var total, unread int
	if err := s.q(ctx).QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, 0, fmt.Errorf("count notifications: %w", err)
	}
	if err := s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_id=$1 AND is_read=FALSE
	`, recipientID).Scan(&unread); err != nil {
		return nil, 0, 0, fmt.Errorf("count unread notifications: %w", err)
	}

	b := notificationFilter(psql.Select(
		"n.id, n.recipient_id, n.type, n.title, n.message, n.issue_id, n.actor_id, COALESCE(a.full_name, ''), n.is_read, n.created_at",
	).From("notifications n").LeftJoin("users a ON a.id = n.actor_id"), recipientID, f).
		OrderBy("n.created_at DESC", "n.id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("build notification list: %w", err)
	}
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.IssueID, &n.ActorID, &n.ActorName, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, total, unread, nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, id string) (Notification, error) {
	var n Notification
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, recipient_id, type, title, message, issue_id, actor_id, is_read, created_at
		FROM notifications WHERE id=$1
	`, id).Scan(&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Message, &n.IssueID, &n.ActorID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return Notification{}, fmt.Errorf("get notification: %w", mapError(err))
	}
	return n, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := s.q(ctx).ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1`, id)
	return expectOne(result, err, "mark notification read")
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE recipient_id=$1 AND is_read=FALSE
	`, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", mapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id string) error {
	result, err := s.q(ctx).ExecContext(ctx, `DELETE FROM notifications WHERE id=$1`, id)
	return expectOne(result, err, "delete notification")
}

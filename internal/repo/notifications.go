package repo

import (
	"context"

	"taxline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(user_id,title,message,is_read,created_at) VALUES (?,?,?,?,?)`,
		n.UserID, n.Title, n.Message, boolInt(n.IsRead), n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListNotifications returns a user's inbox, newest first.
func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,title,message,is_read,created_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.IsRead = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=? AND is_read=0`, userID).Scan(&n)
	return n, err
}

// MarkNotificationRead flips one entry to read. The user filter keeps a
// caller from acknowledging someone else's inbox.
func (r Repo) MarkNotificationRead(ctx context.Context, id int64, userID string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE user_id=? AND is_read=0`, userID)
	return err
}

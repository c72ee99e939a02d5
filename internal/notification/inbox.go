package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

// MaxPageSize は通知一覧の最大ページサイズ。
const MaxPageSize = 100

// Inbox はユーザーの通知一覧と既読・開封操作を提供する。
type Inbox struct {
	repo repository.NotificationRepository
	now  func() time.Time
}

// NewInbox はInboxを生成する。
func NewInbox(repo repository.NotificationRepository) *Inbox {
	return &Inbox{repo: repo, now: time.Now}
}

// List はユーザーの通知を新しい順に返す。
func (s *Inbox) List(ctx context.Context, userID string, page, pageSize int) (*model.NotificationPage, error) {
	if page < 1 {
		return nil, model.NewInvalidPageError("page must be >= 1")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, model.NewInvalidPageError("page_size must be between 1 and 100")
	}

	list, total, unread, err := s.repo.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &model.NotificationPage{
		Notifications: list,
		Total:         total,
		UnreadCount:   unread,
		Page:          page,
		PageSize:      pageSize,
	}, nil
}

// MarkRead は通知を既読にする。他ユーザーの通知は見つからないものとして扱う。
func (s *Inbox) MarkRead(ctx context.Context, userID, notificationID string) error {
	ok, err := s.repo.MarkRead(ctx, notificationID, userID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return model.NewNotificationNotFoundError(notificationID)
	}
	return nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
func (s *Inbox) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	slog.Info("通知を一括既読にしました", "user_id", userID, "count", n)
	return n, nil
}

// MarkClicked は通知を開封済みにし、更新後の通知を返す。
// 開封済みの通知に対しては何もせずそのまま返す。
func (s *Inbox) MarkClicked(ctx context.Context, userID, notificationID string) (*model.Notification, error) {
	ok, err := s.repo.MarkClicked(ctx, notificationID, userID, s.now())
	if err != nil {
		return nil, err
	}

	n, err := s.repo.FindByID(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n == nil || n.UserID != userID {
		return nil, model.NewNotificationNotFoundError(notificationID)
	}
	if !ok && n.Status != model.NotificationStatusClicked {
		return nil, model.NewNotificationNotSentError(notificationID)
	}
	return n, nil
}

// MarkDelivered は端末到達の受信通知を記録する。SENT以外の通知は変更しない。
func (s *Inbox) MarkDelivered(ctx context.Context, notificationID string) (bool, error) {
	return s.repo.MarkDelivered(ctx, notificationID, s.now())
}

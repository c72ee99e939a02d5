package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
)

const notificationColumns = `id, user_id, deal_id, title, body, matched_keywords, status,
	scheduled_for, sent_at, delivered_at, clicked_at, read_at,
	error_message, push_response, created_at, updated_at`

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

func scanNotification(s rowScanner) (*model.Notification, error) {
	n := &model.Notification{}
	var dealID, errorMessage sql.NullString
	var keywords, pushResponse []byte
	var status string
	var scheduledFor, sentAt, deliveredAt, clickedAt, readAt sql.NullTime

	err := s.Scan(
		&n.ID, &n.UserID, &dealID, &n.Title, &n.Body, &keywords, &status,
		&scheduledFor, &sentAt, &deliveredAt, &clickedAt, &readAt,
		&errorMessage, &pushResponse, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(keywords, &n.MatchedKeywords); err != nil {
		return nil, fmt.Errorf("matched_keywordsの解析に失敗しました: %w", err)
	}
	n.DealID = nullStringValue(dealID)
	n.Status = model.NotificationStatus(status)
	n.ScheduledFor = nullTimePtr(scheduledFor)
	n.SentAt = nullTimePtr(sentAt)
	n.DeliveredAt = nullTimePtr(deliveredAt)
	n.ClickedAt = nullTimePtr(clickedAt)
	n.ReadAt = nullTimePtr(readAt)
	n.ErrorMessage = nullStringValue(errorMessage)
	if len(pushResponse) > 0 {
		n.PushResponse = json.RawMessage(pushResponse)
	}
	return n, nil
}

// nullJSON は空のRawMessageをNULLとして渡す。
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Create は通知を作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	keywords := n.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("matched_keywordsのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, deal_id, title, body, matched_keywords, status,
		                            scheduled_for, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.UserID, nullString(n.DealID), n.Title, n.Body, kwJSON, string(n.Status),
		n.ScheduledFor, n.CreatedAt, n.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return model.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("通知の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
func (r *PostgresNotificationRepo) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	n, err := scanNotification(r.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗しました: %w", err)
	}
	return n, nil
}

// transition は条件付きUPDATEを実行し、1行更新されたかを返す。
func (r *PostgresNotificationRepo) transition(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSent はPENDINGの通知をSENTに遷移させる。
func (r *PostgresNotificationRepo) MarkSent(ctx context.Context, id string, sentAt time.Time, response json.RawMessage) (bool, error) {
	ok, err := r.transition(ctx,
		`UPDATE notifications
		 SET status = 'SENT', sent_at = $2, push_response = $3, error_message = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'`,
		id, sentAt, nullJSON(response),
	)
	if err != nil {
		return false, fmt.Errorf("通知の送信済み更新に失敗しました: %w", err)
	}
	return ok, nil
}

// MarkFailed はPENDINGの通知をFAILEDに遷移させる。
func (r *PostgresNotificationRepo) MarkFailed(ctx context.Context, id, errorMessage string, response json.RawMessage) (bool, error) {
	ok, err := r.transition(ctx,
		`UPDATE notifications
		 SET status = 'FAILED', error_message = $2, push_response = $3, updated_at = now()
		 WHERE id = $1 AND status = 'PENDING'`,
		id, errorMessage, nullJSON(response),
	)
	if err != nil {
		return false, fmt.Errorf("通知の失敗更新に失敗しました: %w", err)
	}
	return ok, nil
}

// MarkDelivered はSENTの通知をDELIVEREDに遷移させる。
func (r *PostgresNotificationRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := r.transition(ctx,
		`UPDATE notifications
		 SET status = 'DELIVERED', delivered_at = $2, updated_at = now()
		 WHERE id = $1 AND status = 'SENT'`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("通知の到達更新に失敗しました: %w", err)
	}
	return ok, nil
}

// MarkClicked はユーザーの通知をCLICKEDに遷移させ、既読にする。
// SENTまたはDELIVEREDの通知のみ対象とする。
func (r *PostgresNotificationRepo) MarkClicked(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	ok, err := r.transition(ctx,
		`UPDATE notifications
		 SET status = 'CLICKED', clicked_at = $3, read_at = COALESCE(read_at, $3), updated_at = now()
		 WHERE id = $1 AND user_id = $2 AND status IN ('SENT', 'DELIVERED')`,
		id, userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("通知のクリック更新に失敗しました: %w", err)
	}
	return ok, nil
}

// MarkRead はユーザーの通知を既読にする。既読済みの場合もtrueを返す。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	ok, err := r.transition(ctx,
		`UPDATE notifications
		 SET read_at = COALESCE(read_at, $3), updated_at = now()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, at,
	)
	if err != nil {
		return false, fmt.Errorf("通知の既読更新に失敗しました: %w", err)
	}
	return ok, nil
}

// MarkAllRead はユーザーの未読通知をすべて既読にする。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = $2, updated_at = now()
		 WHERE user_id = $1 AND read_at IS NULL`,
		userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("通知の一括既読更新に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// ListDuePending は送信予定時刻を過ぎたPENDING通知を予定時刻順に返す。
func (r *PostgresNotificationRepo) ListDuePending(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE status = 'PENDING'
		   AND (scheduled_for <= $1 OR (scheduled_for IS NULL AND created_at <= $2))
		 ORDER BY COALESCE(scheduled_for, created_at), id
		 LIMIT $3`,
		now, staleBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("送信待ち通知の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectNotifications(rows)
}

// ListByUser はユーザーの通知を新しい順に返す。総件数と未読件数も返す。
// 未読件数は送信済みまたは到達済みで未読のものを数える。
func (r *PostgresNotificationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, int, int, error) {
	var total, unread int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE read_at IS NULL AND status IN ('SENT', 'DELIVERED'))
		 FROM notifications WHERE user_id = $1`,
		userID,
	).Scan(&total, &unread)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("通知件数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("通知一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	list, err := collectNotifications(rows)
	if err != nil {
		return nil, 0, 0, err
	}
	return list, total, unread, nil
}

func collectNotifications(rows *sql.Rows) ([]*model.Notification, error) {
	list := make([]*model.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("通知のスキャンに失敗しました: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知の走査に失敗しました: %w", err)
	}
	return list, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockNotificationRepo は(user_id, deal_id)の一意制約と条件付き遷移を再現するメモリ実装。
type mockNotificationRepo struct {
	mu    sync.Mutex
	byID  map[string]*model.Notification
	order []string
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{byID: make(map[string]*model.Notification)}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.UserID == n.UserID && existing.DealID == n.DealID && n.DealID != "" {
			return model.ErrConflict
		}
	}
	cp := *n
	m.byID[n.ID] = &cp
	m.order = append(m.order, n.ID)
	return nil
}

func (m *mockNotificationRepo) FindByID(_ context.Context, id string) (*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *mockNotificationRepo) get(id string) *model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.byID[id]
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

func (m *mockNotificationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *mockNotificationRepo) only() *model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.byID {
		cp := *n
		return &cp
	}
	return nil
}

func (m *mockNotificationRepo) MarkSent(_ context.Context, id string, sentAt time.Time, resp json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Status != model.NotificationStatusPending {
		return false, nil
	}
	n.Status = model.NotificationStatusSent
	n.SentAt = &sentAt
	n.PushResponse = resp
	return true, nil
}

func (m *mockNotificationRepo) MarkFailed(_ context.Context, id, msg string, resp json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Status != model.NotificationStatusPending {
		return false, nil
	}
	n.Status = model.NotificationStatusFailed
	n.ErrorMessage = msg
	n.PushResponse = resp
	return true, nil
}

func (m *mockNotificationRepo) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.Status != model.NotificationStatusSent {
		return false, nil
	}
	n.Status = model.NotificationStatusDelivered
	n.DeliveredAt = &at
	return true, nil
}

func (m *mockNotificationRepo) MarkClicked(_ context.Context, id, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if n.Status != model.NotificationStatusSent && n.Status != model.NotificationStatusDelivered {
		return false, nil
	}
	n.Status = model.NotificationStatusClicked
	n.ClickedAt = &at
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return true, nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, id, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byID[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return true, nil
}

func (m *mockNotificationRepo) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.byID {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &at
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) ListDuePending(_ context.Context, now, staleBefore time.Time, limit int) ([]*model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Notification
	for _, id := range m.order {
		n := m.byID[id]
		if n.Status != model.NotificationStatusPending {
			continue
		}
		due := (n.ScheduledFor != nil && !n.ScheduledFor.After(now)) ||
			(n.ScheduledFor == nil && !n.CreatedAt.After(staleBefore))
		if due {
			cp := *n
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockNotificationRepo) ListByUser(_ context.Context, userID string, limit, offset int) ([]*model.Notification, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.Notification
	unread := 0
	for _, n := range m.byID {
		if n.UserID != userID {
			continue
		}
		cp := *n
		all = append(all, &cp)
		if n.ReadAt == nil && (n.Status == model.NotificationStatusSent || n.Status == model.NotificationStatusDelivered) {
			unread++
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []*model.Notification{}, total, unread, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, unread, nil
}

type mockDeviceRepo struct {
	mu          sync.Mutex
	tokens      map[string][]string
	deactivated []string
	listErr     error
}

func (m *mockDeviceRepo) Register(_ context.Context, _ *model.UserDevice) error {
	return nil
}

func (m *mockDeviceRepo) ListActiveTokens(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.tokens[userID], nil
}

func (m *mockDeviceRepo) Deactivate(_ context.Context, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, tokens...)
	return nil
}

// mockGateway は呼び出しごとにerrsの先頭から順にエラーを返す。
type mockGateway struct {
	mu       sync.Mutex
	errs     []error
	result   *model.PushResult
	calls    int
	messages []model.PushMessage
}

func (m *mockGateway) Send(_ context.Context, msg model.PushMessage) (*model.PushResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.messages = append(m.messages, msg)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.result != nil {
		return m.result, nil
	}
	return &model.PushResult{Success: len(msg.DeviceTokens), Raw: json.RawMessage(`{"success":1}`)}, nil
}

type mockUserRepo struct {
	users map[string]*model.User
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) Create(_ context.Context, _ *model.User) error {
	return nil
}

func (m *mockUserRepo) ListMatchCandidates(_ context.Context, _ []string) ([]repository.MatchCandidate, error) {
	return nil, nil
}

type mockDealFinder struct {
	deals map[string]*model.Deal
	err   error
}

func (m *mockDealFinder) FindByID(_ context.Context, id string) (*model.Deal, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.deals[id], nil
}

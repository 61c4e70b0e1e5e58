package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"section-swap/backend/internal/model"
	"section-swap/backend/internal/repository"
)

// ── Mock UserRepository ──

type mockUserRepo struct {
	users map[string]*model.User
	prefs map[string]*model.NotificationPreference
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users: make(map[string]*model.User),
		prefs: make(map[string]*model.NotificationPreference),
	}
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) GetPreference(_ context.Context, userID string) (*model.NotificationPreference, error) {
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock SwapRequestRepository ──

// mockSwapRequestRepo 内存实现，UpdateIfStatus 与数据库条件更新语义一致
type mockSwapRequestRepo struct {
	mu       sync.Mutex
	requests map[string]*model.SwapRequest
	users    *mockUserRepo

	// 故障注入：对指定 ID 的更新返回错误 / 视为未命中
	failUpdate map[string]error
	missUpdate map[string]bool
	// failOnCall 仅在第 n 次更新该 ID 时失败（n 从 1 开始）
	failOnCall map[string]int
	calls      map[string]int

	findPendingErr error
	updates        int
}

func newMockSwapRequestRepo(users *mockUserRepo) *mockSwapRequestRepo {
	return &mockSwapRequestRepo{
		requests:   make(map[string]*model.SwapRequest),
		users:      users,
		failUpdate: make(map[string]error),
		missUpdate: make(map[string]bool),
		failOnCall: make(map[string]int),
		calls:      make(map[string]int),
	}
}

// withUser 返回带预加载 User 的副本
func (m *mockSwapRequestRepo) withUser(r *model.SwapRequest) model.SwapRequest {
	cp := *r
	cp.User = nil
	if m.users != nil {
		if u, ok := m.users.users[r.UserID]; ok {
			uc := *u
			cp.User = &uc
		}
	}
	return cp
}

func (m *mockSwapRequestRepo) Create(_ context.Context, req *model.SwapRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.SwapRequestID == "" {
		req.SwapRequestID = fmt.Sprintf("req-%d", len(m.requests)+1)
	}
	cp := *req
	m.requests[req.SwapRequestID] = &cp
	return nil
}

func (m *mockSwapRequestRepo) GetByID(_ context.Context, id string) (*model.SwapRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := m.withUser(r)
	return &cp, nil
}

func (m *mockSwapRequestRepo) sorted(keep func(*model.SwapRequest) bool, desc bool) []model.SwapRequest {
	var out []model.SwapRequest
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, m.withUser(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SwapRequestID < out[j].SwapRequestID
		}
		if desc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *mockSwapRequestRepo) FindPending(_ context.Context, branch string) ([]model.SwapRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findPendingErr != nil {
		return nil, m.findPendingErr
	}
	return m.sorted(func(r *model.SwapRequest) bool {
		return r.Status == model.SwapStatusPending && (branch == "" || r.Branch == branch)
	}, false), nil
}

func (m *mockSwapRequestRepo) FindExpiredMatches(_ context.Context, now time.Time) ([]model.SwapRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *model.SwapRequest) bool {
		return r.Status == model.SwapStatusMatched && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
	}, false), nil
}

func (m *mockSwapRequestRepo) ListByMatchGroup(_ context.Context, matchGroupID string) ([]model.SwapRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *model.SwapRequest) bool {
		return r.MatchGroupID != nil && *r.MatchGroupID == matchGroupID
	}, false), nil
}

func (m *mockSwapRequestRepo) ListByUser(_ context.Context, userID string) ([]model.SwapRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(r *model.SwapRequest) bool { return r.UserID == userID }, true), nil
}

func (m *mockSwapRequestRepo) List(_ context.Context, filter repository.SwapRequestFilter, offset, limit int) ([]model.SwapRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(r *model.SwapRequest) bool {
		if filter.Status != "" && r.Status != filter.Status {
			return false
		}
		if filter.Branch != "" && r.Branch != filter.Branch {
			return false
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			return false
		}
		return true
	}, true)
	total := int64(len(all))
	if offset >= len(all) {
		return []model.SwapRequest{}, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *mockSwapRequestRepo) CountActive(_ context.Context, userID, branch string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.requests {
		if r.UserID == userID && r.Branch == branch && !r.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *mockSwapRequestRepo) CountByStatus(_ context.Context) (map[model.SwapStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.SwapStatus]int64)
	for _, r := range m.requests {
		out[r.Status]++
	}
	return out, nil
}

func (m *mockSwapRequestRepo) CountByBranch(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for _, r := range m.requests {
		out[r.Branch]++
	}
	return out, nil
}

func (m *mockSwapRequestRepo) UpdateIfStatus(_ context.Context, id string, guard repository.SwapGuard, patch map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[id]++
	if err, ok := m.failUpdate[id]; ok {
		return false, err
	}
	if n, ok := m.failOnCall[id]; ok && m.calls[id] == n {
		return false, fmt.Errorf("注入的更新失败: %s", id)
	}
	if m.missUpdate[id] {
		return false, nil
	}
	r, ok := m.requests[id]
	if !ok || r.Status != guard.Status {
		return false, nil
	}
	if guard.MatchGroupID != nil && (r.MatchGroupID == nil || *r.MatchGroupID != *guard.MatchGroupID) {
		return false, nil
	}
	applyPatch(r, patch)
	m.updates++
	return true, nil
}

// snapshot / restore 供 mockTransactor 模拟回滚
func (m *mockSwapRequestRepo) snapshot() map[string]model.SwapRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.SwapRequest, len(m.requests))
	for id, r := range m.requests {
		out[id] = *r
	}
	return out
}

func (m *mockSwapRequestRepo) restore(snap map[string]model.SwapRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]*model.SwapRequest, len(snap))
	for id, r := range snap {
		cp := r
		m.requests[id] = &cp
	}
}

// get 直接读取存储中的记录（测试断言用）
func (m *mockSwapRequestRepo) get(id string) model.SwapRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.requests[id]
}

func applyPatch(r *model.SwapRequest, patch map[string]interface{}) {
	for col, v := range patch {
		switch col {
		case "status":
			switch s := v.(type) {
			case model.SwapStatus:
				r.Status = s
			case string:
				r.Status = model.SwapStatus(s)
			}
		case "match_group_id":
			r.MatchGroupID = strPtr(v)
		case "matched_with":
			r.MatchedWith = strPtr(v)
		case "matched_with_name":
			r.MatchedWithName = strPtr(v)
		case "matched_with_email":
			r.MatchedWithEmail = strPtr(v)
		case "matched_with_phone":
			r.MatchedWithPhone = strPtr(v)
		case "matched_at":
			r.MatchedAt = timePtr(v)
		case "expires_at":
			r.ExpiresAt = timePtr(v)
		case "accepted_at":
			r.AcceptedAt = timePtr(v)
		case "completed_at":
			r.CompletedAt = timePtr(v)
		case "updated_at":
			if t := timePtr(v); t != nil {
				r.UpdatedAt = *t
			}
		default:
			panic("未知列: " + col)
		}
	}
}

func strPtr(v interface{}) *string {
	switch s := v.(type) {
	case string:
		return &s
	case *string:
		if s == nil {
			return nil
		}
		cp := *s
		return &cp
	}
	return nil
}

func timePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		if t == nil {
			return nil
		}
		cp := *t
		return &cp
	}
	return nil
}

// ── Mock CompletedSwapRepository ──

type mockCompletedSwapRepo struct {
	mu      sync.Mutex
	records map[string]*model.CompletedSwap // key: match_group_id
	order   []string
	err     error
}

func newMockCompletedSwapRepo() *mockCompletedSwapRepo {
	return &mockCompletedSwapRepo{records: make(map[string]*model.CompletedSwap)}
}

func (m *mockCompletedSwapRepo) Create(_ context.Context, swap *model.CompletedSwap) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.records[swap.MatchGroupID]; ok {
		return false, nil
	}
	if swap.CompletedSwapID == "" {
		swap.CompletedSwapID = "cs-" + swap.MatchGroupID
	}
	cp := *swap
	m.records[swap.MatchGroupID] = &cp
	m.order = append(m.order, swap.MatchGroupID)
	return true, nil
}

func (m *mockCompletedSwapRepo) ListRecent(_ context.Context, limit int) ([]model.CompletedSwap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CompletedSwap
	for i := len(m.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *m.records[m.order[i]])
	}
	return out, nil
}

func (m *mockCompletedSwapRepo) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

// ── Mock NotificationRepository ──

type mockNotificationRepo struct {
	mu    sync.Mutex
	items []model.Notification
	err   error
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if n.NotificationID == "" {
		n.NotificationID = fmt.Sprintf("n-%d", len(m.items)+1)
	}
	m.items = append(m.items, *n)
	return nil
}

func (m *mockNotificationRepo) ListByUser(_ context.Context, userID string, offset, limit int) ([]model.Notification, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []model.Notification
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].UserID == userID {
			mine = append(mine, m.items[i])
		}
	}
	total := int64(len(mine))
	if offset >= len(mine) {
		return []model.Notification{}, total, nil
	}
	mine = mine[offset:]
	if limit > 0 && limit < len(mine) {
		mine = mine[:limit]
	}
	return mine, total, nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, userID, notificationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].NotificationID == notificationID && m.items[i].UserID == userID {
			m.items[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (m *mockNotificationRepo) list() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Notification, len(m.items))
	copy(out, m.items)
	return out
}

// ── Mock Transactor ──

// mockTransactor 事务内复用同一组 mock，fn 返回错误时恢复快照
type mockTransactor struct {
	repo  *repository.Repository
	swaps *mockSwapRequestRepo
	calls int
}

func (m *mockTransactor) Transaction(_ context.Context, fn func(tx *repository.Repository) error) error {
	m.calls++
	snap := m.swaps.snapshot()
	if err := fn(m.repo); err != nil {
		m.swaps.restore(snap)
		return err
	}
	return nil
}

// ── Recording Notifier ──

type notifyCall struct {
	Kind      string
	Recipient Identity
	Partner   Identity
	Sections  SectionChange
	ExpiresAt time.Time
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) NotifyMatch(_ context.Context, recipient, partner Identity, sections SectionChange, expiresAt time.Time) {
	n.record(notifyCall{Kind: model.NotificationSwapMatched, Recipient: recipient, Partner: partner, Sections: sections, ExpiresAt: expiresAt})
}

func (n *recordingNotifier) NotifyExpiry(_ context.Context, recipient Identity, sections SectionChange) {
	n.record(notifyCall{Kind: model.NotificationSwapExpired, Recipient: recipient, Sections: sections})
}

func (n *recordingNotifier) NotifyCompletion(_ context.Context, recipient, partner Identity, sections SectionChange) {
	n.record(notifyCall{Kind: model.NotificationSwapCompleted, Recipient: recipient, Partner: partner, Sections: sections})
}

func (n *recordingNotifier) record(c notifyCall) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, call := range n.calls {
		if call.Kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = nil
}

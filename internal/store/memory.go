package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// Memory 記憶體儲存
//
// 所有讀寫都回傳副本，呼叫端修改後必須呼叫 Save 才會生效，
// 行為與資料庫實作一致。
type Memory struct {
	players        map[string]*Player
	rooms          map[string]*Room
	instances      map[int64]*allocation.Instance
	nextInstanceID int64
	mu             sync.RWMutex
	now            func() time.Time
}

// NewMemory 創建記憶體儲存
func NewMemory() *Memory {
	return &Memory{
		players:   make(map[string]*Player),
		rooms:     make(map[string]*Room),
		instances: make(map[int64]*allocation.Instance),
		now:       time.Now,
	}
}

// CreatePlayer 建立玩家
func (m *Memory) CreatePlayer(_ context.Context, token string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[token]; exists {
		return nil, apperrors.ErrInvalidInput.WithDetails("player %s already exists", token)
	}

	p := &Player{Token: token, CreatedAt: m.now()}
	m.players[token] = p

	cp := *p
	return &cp, nil
}

// GetPlayer 取得玩家
func (m *Memory) GetPlayer(_ context.Context, token string) (*Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.players[token]
	if !exists {
		return nil, apperrors.ErrNotFound.WithDetails("player %s", token)
	}

	cp := *p
	return &cp, nil
}

// SavePlayer 寫回玩家
func (m *Memory) SavePlayer(_ context.Context, p *Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.players[p.Token]
	if !exists {
		return apperrors.ErrNotFound.WithDetails("player %s", p.Token)
	}
	if p.ConnectedTo != "" {
		if _, ok := m.rooms[p.ConnectedTo]; !ok {
			return apperrors.ErrNotFound.WithDetails("room %s", p.ConnectedTo)
		}
	}

	stored.IsReady = p.IsReady
	stored.ConnectedTo = p.ConnectedTo
	return nil
}

// GetOrCreateRoom 取得或建立房間
func (m *Memory) GetOrCreateRoom(_ context.Context, token string) (*Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.rooms[token]
	if !exists {
		r = &Room{Token: token, CreatedAt: m.now()}
		m.rooms[token] = r
	}

	cp := *r
	return &cp, !exists, nil
}

// GetRoom 取得房間
func (m *Memory) GetRoom(_ context.Context, token string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.rooms[token]
	if !exists {
		return nil, apperrors.ErrNotFound.WithDetails("room %s", token)
	}

	cp := *r
	return &cp, nil
}

// SaveRoom 寫回房間
func (m *Memory) SaveRoom(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.rooms[r.Token]
	if !exists {
		return apperrors.ErrNotFound.WithDetails("room %s", r.Token)
	}
	if r.InstanceID != 0 {
		if _, ok := m.instances[r.InstanceID]; !ok {
			return apperrors.ErrNotFound.WithDetails("instance %d", r.InstanceID)
		}
	}

	stored.InstanceID = r.InstanceID
	return nil
}

// DeleteRoom 刪除房間（連同題目）
func (m *Memory) DeleteRoom(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.rooms[token]
	if !exists {
		return apperrors.ErrNotFound.WithDetails("room %s", token)
	}

	for _, p := range m.players {
		if p.ConnectedTo == token {
			p.ConnectedTo = ""
			p.IsReady = false
		}
	}
	if r.InstanceID != 0 {
		delete(m.instances, r.InstanceID)
	}
	delete(m.rooms, token)
	return nil
}

// ListRooms 列出房間
func (m *Memory) ListRooms(_ context.Context) ([]RoomSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.rooms))
	for _, p := range m.players {
		if p.ConnectedTo != "" {
			counts[p.ConnectedTo]++
		}
	}

	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	slices.SortFunc(rooms, func(a, b *Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Token, b.Token)
	})

	result := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		result = append(result, RoomSummary{Token: r.Token, ConnectedCount: counts[r.Token]})
	}
	return result, nil
}

// ConnectedPlayers 房間內的玩家
func (m *Memory) ConnectedPlayers(_ context.Context, roomToken string) ([]*Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Player
	for _, p := range m.players {
		if p.ConnectedTo == roomToken {
			cp := *p
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *Player) int {
		return strings.Compare(a.Token, b.Token)
	})
	return result, nil
}

// CreateInstance 儲存題目
func (m *Memory) CreateInstance(_ context.Context, inst *allocation.Instance) error {
	if err := inst.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid instance")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextInstanceID++
	inst.ID = m.nextInstanceID
	m.instances[inst.ID] = inst.Clone()
	return nil
}

// GetInstance 取得題目
func (m *Memory) GetInstance(_ context.Context, id int64) (*allocation.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, exists := m.instances[id]
	if !exists {
		return nil, apperrors.ErrNotFound.WithDetails("instance %d", id)
	}
	return inst.Clone(), nil
}

// MarkSolved 寫入解題結果（只能一次）
func (m *Memory) MarkSolved(_ context.Context, id int64, solvedBy string, sol allocation.Solution, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, exists := m.instances[id]
	if !exists {
		return apperrors.ErrNotFound.WithDetails("instance %d", id)
	}
	return inst.MarkSolved(solvedBy, sol, at)
}

// Ping 記憶體儲存永遠可用
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Close 無資源需要釋放
func (m *Memory) Close() error {
	return nil
}

package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// Manager 房間管理器（連線登記處）
//
// 負責加入、離開、訊息處理的序列化，以及房間清空時的刪除。
//
// 鎖順序：Room.mu → Manager.mu。持有 Manager.mu 時不可再取得任何房間的鎖。
type Manager struct {
	store     store.Store
	router    *Router
	publisher Publisher
	cfg       GameConfig
	logger    *slog.Logger

	rooms      map[string]*Room  // roomToken -> Room
	playerRoom map[string]string // playerToken -> roomToken
	mu         sync.RWMutex

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager 創建房間管理器
//
// OrphanSweepInterval 大於 0 時啟動定期清理。
func NewManager(st store.Store, generator *allocation.Generator, publisher Publisher, cfg GameConfig, logger *slog.Logger) *Manager {
	if publisher == nil {
		publisher = NopPublisher{}
	}

	m := &Manager{
		store:      st,
		router:     NewRouter(st, generator, publisher, cfg.InstanceSize, logger),
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger,
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
		stopCh:     make(chan struct{}),
	}

	if cfg.OrphanSweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop(cfg.OrphanSweepInterval)
	}

	return m
}

// acquire 取得並鎖定房間，不存在時建立
//
// 取得鎖後若房間已被關閉（另一個 goroutine 剛刪除它），改用新的房間重試。
func (m *Manager) acquire(token string) *Room {
	for {
		m.mu.Lock()
		room, exists := m.rooms[token]
		if !exists {
			room = NewRoom(token, m.logger)
			m.rooms[token] = room
		}
		m.mu.Unlock()

		room.mu.Lock()
		if !room.closed {
			return room
		}
		room.mu.Unlock()
	}
}

// lookup 取得並鎖定既有的房間
func (m *Manager) lookup(token string) (*Room, bool) {
	m.mu.RLock()
	room, exists := m.rooms[token]
	m.mu.RUnlock()
	if !exists {
		return nil, false
	}

	room.mu.Lock()
	if room.closed {
		room.mu.Unlock()
		return nil, false
	}
	return room, true
}

// Join 玩家連線加入房間
//
// 房間不存在時建立；玩家必須已在大廳註冊。
// 同一玩家重新連線時，新連線取代舊連線。
func (m *Manager) Join(ctx context.Context, roomToken string, sub Subscriber) error {
	if m.stopped.Load() {
		return errShuttingDown
	}

	room := m.acquire(roomToken)
	defer room.mu.Unlock()

	if err := m.join(ctx, room, sub); err != nil {
		if len(room.subscribers) == 0 {
			m.closeRoom(ctx, room)
		}
		return err
	}
	return nil
}

// join 實際的加入流程（呼叫端持有 room.mu）
func (m *Manager) join(ctx context.Context, room *Room, sub Subscriber) error {
	playerToken := sub.PlayerToken()

	player, err := m.store.GetPlayer(ctx, playerToken)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.ErrUnknownPlayer.WithDetails("player %s", playerToken)
		}
		return err
	}

	previous, reconnect := room.subscriber(playerToken)
	if !reconnect && len(room.subscribers) >= m.cfg.MaxPlayersPerRoom {
		return apperrors.ErrRoomFull.WithDetails("room %s already has %d players", room.Token, len(room.subscribers))
	}

	if err := m.claimPlayer(playerToken, room.Token); err != nil {
		return err
	}

	_, created, err := m.store.GetOrCreateRoom(ctx, room.Token)
	if err != nil {
		if !reconnect {
			m.releasePlayer(playerToken, room.Token)
		}
		return err
	}

	player.ConnectedTo = room.Token
	if err := m.store.SavePlayer(ctx, player); err != nil {
		if !reconnect {
			m.releasePlayer(playerToken, room.Token)
		}
		return err
	}

	if reconnect {
		previous.Close()
		m.logger.Info("玩家重新連線", "room_token", room.Token, "player_token", playerToken)
	}
	room.subscribers[playerToken] = sub

	if created {
		m.publisher.Publish(Event{Type: EventRoomCreated, RoomToken: room.Token})
		m.logger.Info("房間已創建", "room_token", room.Token)
	}
	m.publisher.Publish(Event{Type: EventPlayerJoined, RoomToken: room.Token, PlayerToken: playerToken})
	m.logger.Info("玩家加入房間",
		"room_token", room.Token,
		"player_token", playerToken,
		"players", len(room.subscribers))

	return nil
}

// claimPlayer 記錄玩家所在房間，玩家同時只能在一個房間
func (m *Manager) claimPlayer(playerToken, roomToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.playerRoom[playerToken]; exists && current != roomToken {
		return apperrors.ErrPlayerInOtherRoom.WithDetails("player %s is in room %s", playerToken, current)
	}
	m.playerRoom[playerToken] = roomToken
	return nil
}

func (m *Manager) releasePlayer(playerToken, roomToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playerRoom[playerToken] == roomToken {
		delete(m.playerRoom, playerToken)
	}
}

// Leave 連線離開房間
//
// 只有目前登記的連線可以離開，被取代的舊連線呼叫時不做任何事。
// 最後一位玩家離開時刪除房間與其題目。
func (m *Manager) Leave(ctx context.Context, roomToken string, sub Subscriber) {
	room, ok := m.lookup(roomToken)
	if !ok {
		return
	}
	defer room.mu.Unlock()

	playerToken := sub.PlayerToken()
	if current, exists := room.subscriber(playerToken); !exists || current != sub {
		return
	}

	// 群組成員與 Player.ConnectedTo 在同一把鎖內一起更新
	delete(room.subscribers, playerToken)
	m.releasePlayer(playerToken, roomToken)

	player, err := m.store.GetPlayer(ctx, playerToken)
	if err == nil {
		player.ConnectedTo = ""
		player.IsReady = false
		err = m.store.SavePlayer(ctx, player)
	}
	if err != nil {
		m.logger.Error("更新離線玩家失敗",
			"error", err,
			"room_token", roomToken,
			"player_token", playerToken)
	}

	room.deliver(nil, []Response{{Delivery: DeliverBroadcast, Action: ActionNotifyDisconnect}})

	m.publisher.Publish(Event{Type: EventPlayerLeft, RoomToken: roomToken, PlayerToken: playerToken})
	m.logger.Info("玩家離開房間",
		"room_token", roomToken,
		"player_token", playerToken,
		"players", len(room.subscribers))

	if len(room.subscribers) == 0 {
		m.closeRoom(ctx, room)
	}
}

// closeRoom 關閉空房間並從儲存中刪除（呼叫端持有 room.mu）
//
// 回傳儲存中是否真的有這個房間。
func (m *Manager) closeRoom(ctx context.Context, room *Room) bool {
	room.closed = true

	m.mu.Lock()
	if m.rooms[room.Token] == room {
		delete(m.rooms, room.Token)
	}
	m.mu.Unlock()

	if err := m.store.DeleteRoom(ctx, room.Token); err != nil {
		if !apperrors.IsNotFound(err) {
			m.logger.Error("刪除房間失敗", "error", err, "room_token", room.Token)
		}
		return false
	}

	m.publisher.Publish(Event{Type: EventRoomDeleted, RoomToken: room.Token})
	m.logger.Info("房間已移除", "room_token", room.Token)
	return true
}

// Handle 處理房間內一則客戶端訊息
//
// 同一房間的訊息依序處理，回應（包含後續動作）在鎖內依序投遞，
// 不會與另一位玩家的訊息交錯。
func (m *Manager) Handle(ctx context.Context, roomToken string, sub Subscriber, raw []byte) {
	room, ok := m.lookup(roomToken)
	if !ok {
		return
	}
	defer room.mu.Unlock()

	playerToken := sub.PlayerToken()
	if current, exists := room.subscriber(playerToken); !exists || current != sub {
		m.logger.Debug("忽略已被取代的連線訊息", "room_token", roomToken, "player_token", playerToken)
		return
	}

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		room.deliver(sub, []Response{newErrorResponse(apperrors.ErrInvalidInput.WithDetails("decode message: %v", err))})
		return
	}

	responses := m.router.Dispatch(ctx, Request{
		RoomToken:   roomToken,
		PlayerToken: playerToken,
		Action:      msg.Action,
		Data:        msg.Data,
	})
	room.deliver(sub, responses)
}

// ListRooms 列出房間摘要
func (m *Manager) ListRooms(ctx context.Context) ([]store.RoomSummary, error) {
	return m.store.ListRooms(ctx)
}

// PlayerRoom 玩家目前所在的房間
func (m *Manager) PlayerRoom(playerToken string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomToken, exists := m.playerRoom[playerToken]
	return roomToken, exists
}

// sweepLoop 定期清理孤兒房間
func (m *Manager) sweepLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := m.SweepOrphans(ctx); err != nil {
				m.logger.Error("清理孤兒房間失敗", "error", err)
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// SweepOrphans 刪除儲存中沒有任何連線的房間
//
// 例如行程異常結束後留下的房間。回傳刪除的房間數。
func (m *Manager) SweepOrphans(ctx context.Context) (int, error) {
	summaries, err := m.store.ListRooms(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, s := range summaries {
		room := m.acquire(s.Token)
		if len(room.subscribers) == 0 && m.closeRoom(ctx, room) {
			removed++
		}
		room.mu.Unlock()
	}

	if removed > 0 {
		m.logger.Info("孤兒房間已清理", "count", removed)
	}
	return removed, nil
}

// Stats 統計資訊
type Stats struct {
	Rooms              int   `json:"rooms"`
	Connections        int   `json:"connections"`
	InstancesGenerated int64 `json:"instances_generated"`
	InstancesSolved    int64 `json:"instances_solved"`
}

// Stats 獲取統計資訊
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	connections := 0
	for _, room := range rooms {
		connections += room.Size()
	}

	return Stats{
		Rooms:              len(rooms),
		Connections:        connections,
		InstancesGenerated: m.router.generated.Load(),
		InstancesSolved:    m.router.solved.Load(),
	}
}

// Stop 停止管理器並中斷所有連線
//
// 連線各自的離開流程會在讀取迴圈結束後執行。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
		m.wg.Wait()

		m.mu.RLock()
		rooms := make([]*Room, 0, len(m.rooms))
		for _, room := range m.rooms {
			rooms = append(rooms, room)
		}
		m.mu.RUnlock()

		for _, room := range rooms {
			room.disconnectAll()
		}

		m.logger.Info("房間管理器已停止")
	})
}

package internal

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   兩位玩家同時對同一個房間送出訊息時，如何保證狀態一致且廣播有序？
//
// 核心挑戰：
//   1. 序列化：同一房間的訊息不能並行處理（準備、出題、解題會互相覆寫）
//   2. 有序廣播：load_context 與後續的 load_instance 必須連續送達，不可被打斷
//   3. 成員一致：廣播群組與 Player.ConnectedTo 必須一起更新
//
// 設計方案：
//   ✅ 每個房間一把 Mutex：處理訊息、加入、離開都在鎖內完成
//   ✅ 房間自己持有訂閱者集合：不需要全域的群組訊息層
//   ✅ closed 旗標：房間被刪除後，等待中的加入者會改用新的 Room
//
// 房間的狀態機：Empty（無紀錄）→ Active（至少一條連線）→ Empty（紀錄刪除）

// Subscriber 房間廣播群組的成員（一條連線）
type Subscriber interface {
	// PlayerToken 連線所屬的玩家
	PlayerToken() string
	// Send 非阻塞地放入發送緩衝，緩衝已滿或已關閉時回傳 false
	Send(message []byte) bool
	// Close 關閉連線
	Close()
}

// Room 一個房間的即時狀態（連線與序列化鎖）
//
// 持久化的房間資料在 store 中，這裡只管理本行程內的連線。
// 所有欄位都由 mu 保護；持有 mu 時可以取得 Manager 的鎖，反之不行。
type Room struct {
	Token     string
	CreatedAt time.Time

	mu          sync.Mutex
	subscribers map[string]Subscriber // playerToken -> Subscriber
	closed      bool
	logger      *slog.Logger
}

// NewRoom 創建房間
func NewRoom(token string, logger *slog.Logger) *Room {
	return &Room{
		Token:       token,
		CreatedAt:   time.Now(),
		subscribers: make(map[string]Subscriber),
		logger:      logger.With("room_token", token),
	}
}

// Size 目前的連線數
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// subscriber 取得玩家的連線（呼叫端持有 mu）
func (r *Room) subscriber(playerToken string) (Subscriber, bool) {
	sub, ok := r.subscribers[playerToken]
	return sub, ok
}

// deliver 依投遞方式送出回應（呼叫端持有 mu）
func (r *Room) deliver(sender Subscriber, responses []Response) {
	for _, resp := range responses {
		data, err := json.Marshal(resp.Message())
		if err != nil {
			r.logger.Error("序列化回應失敗", "error", err, "action", resp.Action)
			continue
		}

		if resp.Delivery == DeliverBroadcast {
			r.broadcast(data)
			continue
		}
		if sender != nil {
			r.send(sender, data)
		}
	}
}

// broadcast 送給所有連線（呼叫端持有 mu）
func (r *Room) broadcast(data []byte) {
	for _, sub := range r.subscribers {
		r.send(sub, data)
	}
}

// send 送給單一連線，送不進去就中斷它
//
// 訊息流不能有缺口（例如收到 load_context 卻漏掉後續的 load_instance），
// 中斷後客戶端重新連線並重新載入狀態。成員的移除由連線的離開流程負責。
func (r *Room) send(sub Subscriber, data []byte) {
	if sub.Send(data) {
		return
	}
	r.logger.Warn("連接緩衝區滿，中斷連線", "player_token", sub.PlayerToken())
	sub.Close()
}

// disconnectAll 中斷所有連線
//
// 只關閉底層連線，成員的移除由各連線的離開流程負責。
func (r *Room) disconnectAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subscribers {
		sub.Close()
	}
}

package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
	"golang.org/x/time/rate"
)

// 系統設計問題：
//   如何讓兩位玩家即時看到對方的準備狀態、題目與解題結果？
//
// 核心挑戰：
//   1. 實時通信：狀態變更需要立即推送給房間內的玩家
//   2. 連接管理：處理斷線、重連（新連線取代舊連線）
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 濫用保護：單一連線不能以大量訊息拖垮房間
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ 讀取迴圈同步處理訊息 - 斷線清理一定發生在處理中的訊息之後
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞房間）
//   ✅ rate.Limiter - 每條連線的訊息頻率限制

// opTimeout 單一訊息處理（含儲存操作）的時間上限
const opTimeout = 10 * time.Second

var errShuttingDown = apperrors.ErrInternal.WithDetails("server is shutting down")

// WebSocketHub WebSocket 連接中心
//
// 大廳連線只做一問一答；房間連線透過 Manager 加入房間、處理訊息、離開房間。
type WebSocketHub struct {
	manager  *Manager
	logger   *slog.Logger
	cfg      WebSocketConfig
	game     GameConfig
	upgrader websocket.Upgrader

	connections map[*Connection]struct{}
	stopping    bool // 由 mu 保護；設定後不再啟動新的連線
	mu          sync.Mutex
	wg          sync.WaitGroup
}

// Connection WebSocket 連接
type Connection struct {
	playerToken string
	roomToken   string
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	hub         *WebSocketHub
	limiter     *rate.Limiter
	handle      func(ctx context.Context, c *Connection, message []byte)
	onClose     func(ctx context.Context, c *Connection)
	closeOnce   sync.Once
}

// NewWebSocketHub 創建 WebSocket Hub
func NewWebSocketHub(manager *Manager, cfg WebSocketConfig, game GameConfig, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		manager: manager,
		logger:  logger,
		cfg:     cfg,
		game:    game,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]struct{}),
	}
}

// ServeMenu 處理大廳連線
func (hub *WebSocketHub) ServeMenu(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := hub.newConnection(conn, "", "")
	c.handle = hub.handleMenu
	if !hub.start(c) {
		hub.reject(conn, errShuttingDown)
		return
	}

	hub.logger.Debug("大廳連接建立", "remote_addr", r.RemoteAddr)
}

// ServeRoom 處理房間連線
//
// 路徑：/ws/room/{room_token}/{player_token}
func (hub *WebSocketHub) ServeRoom(w http.ResponseWriter, r *http.Request) {
	roomToken := r.PathValue("room_token")
	playerToken := r.PathValue("player_token")

	if err := ValidateToken("room", roomToken); err != nil {
		writeError(w, hub.logger, err, http.StatusBadRequest)
		return
	}
	if err := ValidateToken("player", playerToken); err != nil {
		writeError(w, hub.logger, err, http.StatusBadRequest)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := hub.newConnection(conn, roomToken, playerToken)
	c.handle = func(ctx context.Context, c *Connection, message []byte) {
		hub.manager.Handle(ctx, c.roomToken, c, message)
	}
	c.onClose = func(ctx context.Context, c *Connection) {
		hub.manager.Leave(ctx, c.roomToken, c)
	}

	if err := hub.manager.Join(r.Context(), roomToken, c); err != nil {
		hub.logger.Warn("加入房間失敗",
			"error", err,
			"room_token", roomToken,
			"player_token", playerToken)
		hub.reject(conn, err)
		return
	}

	if !hub.start(c) {
		// Join 已登記這條連線，交還給離開流程清理
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		c.onClose(ctx, c)
		cancel()
		hub.reject(conn, errShuttingDown)
		return
	}

	hub.logger.Info("WebSocket 連接建立",
		"room_token", roomToken,
		"player_token", playerToken)
}

func (hub *WebSocketHub) newConnection(conn *websocket.Conn, roomToken, playerToken string) *Connection {
	return &Connection{
		playerToken: playerToken,
		roomToken:   roomToken,
		conn:        conn,
		send:        make(chan []byte, hub.game.SendBuffer),
		done:        make(chan struct{}),
		hub:         hub,
		limiter:     rate.NewLimiter(rate.Limit(hub.game.MessageRate), hub.game.MessageBurst),
	}
}

// start 註冊連接並啟動讀寫 goroutine
//
// Hub 停止中時回傳 false，呼叫端負責關閉連線。
// wg.Add 與 stopping 檢查在同一把鎖內，Stop 的 wg.Wait 不會漏掉任何連線。
func (hub *WebSocketHub) start(c *Connection) bool {
	hub.mu.Lock()
	if hub.stopping {
		hub.mu.Unlock()
		return false
	}
	hub.connections[c] = struct{}{}
	hub.wg.Add(2)
	hub.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return true
}

func (hub *WebSocketHub) unregister(c *Connection) {
	hub.mu.Lock()
	delete(hub.connections, c)
	hub.mu.Unlock()
}

// reject 在加入失敗時送出錯誤並關閉連線
func (hub *WebSocketHub) reject(conn *websocket.Conn, err error) {
	defer conn.Close()

	deadline := time.Now().Add(hub.cfg.WriteWait)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return
	}

	data, marshalErr := json.Marshal(newErrorResponse(err).Message())
	if marshalErr == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, apperrors.Code(err)))
}

// handleMenu 大廳唯一的動作：load_context
func (hub *WebSocketHub) handleMenu(ctx context.Context, c *Connection, message []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError(apperrors.ErrInvalidInput.WithDetails("decode message: %v", err))
		return
	}
	if msg.Action != "" && msg.Action != ActionLoadContext {
		c.sendError(apperrors.ErrUnknownAction.WithDetails("action %q", msg.Action))
		return
	}

	playerToken := msg.PlayerToken
	if playerToken == "" && len(msg.Data) > 0 {
		var req LobbyRequest
		if err := json.Unmarshal(msg.Data, &req); err == nil {
			playerToken = req.PlayerToken
		}
	}

	lobby, err := hub.manager.LoadLobby(ctx, playerToken)
	if err != nil {
		hub.logger.Error("載入大廳失敗", "error", err)
		c.sendError(err)
		return
	}

	c.sendResponse(Response{
		Delivery: DeliverPrivate,
		Action:   ActionLoadContext,
		Payload:  lobby,
	})
}

// ConnectionCount 目前的連接數（含大廳）
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	return len(hub.connections)
}

// Stop 中斷所有連線並等待清理完成
func (hub *WebSocketHub) Stop(ctx context.Context) error {
	hub.mu.Lock()
	hub.stopping = true
	hub.mu.Unlock()

	hub.manager.Stop()

	hub.mu.Lock()
	for c := range hub.connections {
		c.Close()
	}
	hub.mu.Unlock()

	done := make(chan struct{})
	go func() {
		hub.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		hub.logger.Info("WebSocket Hub 已停止")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlayerToken 實作 Subscriber
func (c *Connection) PlayerToken() string {
	return c.playerToken
}

// Send 實作 Subscriber：非阻塞地放入發送緩衝
func (c *Connection) Send(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close 實作 Subscriber：通知 writePump 送出關閉訊息
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Connection) sendResponse(resp Response) {
	data, err := json.Marshal(resp.Message())
	if err != nil {
		c.hub.logger.Error("序列化回應失敗", "error", err, "action", resp.Action)
		return
	}
	if !c.Send(data) {
		c.hub.logger.Warn("連接緩衝區滿，中斷連線", "player_token", c.playerToken, "action", resp.Action)
		c.Close()
	}
}

func (c *Connection) sendError(err error) {
	c.sendResponse(newErrorResponse(err))
}

// readPump 讀取客戶端消息
//
// 訊息在此 goroutine 中同步處理，因此迴圈結束後的離開流程
// 一定在最後一則訊息處理完之後才執行。
//
// 心跳：pong_wait（60 秒）內沒有收到任何訊息（包含 Pong）就視為死連接。
func (c *Connection) readPump() {
	defer func() {
		if c.onClose != nil {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			c.onClose(ctx, c)
			cancel()
		}
		c.Close()
		c.hub.unregister(c)
		c.hub.wg.Done()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"error", err,
					"room_token", c.roomToken,
					"player_token", c.playerToken)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if !c.limiter.Allow() {
			c.sendError(apperrors.ErrRateLimited)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		c.handle(ctx, c, message)
		cancel()
	}
}

// writePump 寫入消息到客戶端
//
// 每 ping_period（54 秒）送出 Ping，留給 Pong 回應的余量。
// done 關閉時送出關閉訊息後結束，關閉底層連線讓 readPump 退出。
func (c *Connection) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息
			n := len(c.send)
			for range n {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.hub.logger.Error("發送消息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush(cfg.WriteWait)
			deadline := time.Now().Add(time.Second)
			if err := c.conn.SetWriteDeadline(deadline); err == nil {
				// 嘗試發送關閉消息，忽略錯誤（連接可能已關閉）
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

// flush 關閉前盡量送出緩衝中的訊息
func (c *Connection) flush(writeWait time.Duration) {
	for {
		select {
		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

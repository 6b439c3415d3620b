package internal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType 房間生命週期事件
type EventType string

const (
	EventRoomCreated       EventType = "room_created"
	EventPlayerJoined      EventType = "player_joined"
	EventPlayerLeft        EventType = "player_left"
	EventRoomDeleted       EventType = "room_deleted"
	EventInstanceGenerated EventType = "instance_generated"
	EventInstanceSolved    EventType = "instance_solved"
)

// Event 發佈到訊息匯流排的事件
type Event struct {
	Type        EventType      `json:"type"`
	RoomToken   string         `json:"room_token"`
	PlayerToken string         `json:"player_token,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Publisher 事件發佈者
//
// 發佈失敗只記錄日誌，不影響遊戲流程。
type Publisher interface {
	Publish(event Event)
	Close()
}

// NATSPublisher 以 Core NATS 發佈事件
//
// 主題格式：<prefix>.rooms.<room_token>.<event>
// 事件是通知性質，不需要 JetStream 的持久化與 ACK。
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher 連線到 NATS
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("envy-free-duel"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Subject 事件對應的主題
func (p *NATSPublisher) Subject(event Event) string {
	return fmt.Sprintf("%s.rooms.%s.%s", p.prefix, event.RoomToken, event.Type)
}

// Publish 發佈事件
func (p *NATSPublisher) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("序列化事件失敗", "error", err, "type", event.Type)
		return
	}

	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		p.logger.Warn("發佈事件失敗",
			"error", err,
			"type", event.Type,
			"room_token", event.RoomToken)
	}
}

// Close 送出緩衝中的事件後關閉連線
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain 失敗", "error", err)
		p.conn.Close()
	}
}

// NopPublisher 不發佈任何事件
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}
func (NopPublisher) Close()        {}

package internal

import (
	"encoding/json"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// Action 協議動作
type Action string

const (
	ActionLoadContext      Action = "load_context"
	ActionSetReady         Action = "set_ready"
	ActionCheckSolution    Action = "check_solution"
	ActionLoadInstance     Action = "load_instance" // 只作為後續動作，客戶端不可直接呼叫
	ActionNotifyDisconnect Action = "notify_disconnect"
	ActionError            Action = "error"
)

// Delivery 回應的投遞方式
type Delivery int

const (
	// DeliverPrivate 只送給發送者
	DeliverPrivate Delivery = iota
	// DeliverBroadcast 送給房間內所有連線
	DeliverBroadcast
)

func (d Delivery) String() string {
	if d == DeliverBroadcast {
		return "broadcast"
	}
	return "private"
}

// InboundMessage 客戶端送來的訊息
//
// PlayerToken 只有大廳使用，房間內以連線路徑上的 token 為準。
type InboundMessage struct {
	Action      Action          `json:"action"`
	Data        json.RawMessage `json:"csmr_data,omitempty"`
	PlayerToken string          `json:"player_token,omitempty"`
}

// OutboundMessage 送往客戶端的訊息
type OutboundMessage struct {
	Action Action `json:"action"`
	Data   any    `json:"client_data,omitempty"`
}

// Response 單一回應描述
type Response struct {
	Delivery Delivery
	Action   Action
	Payload  any
}

// Message 轉成線上格式
func (r Response) Message() OutboundMessage {
	return OutboundMessage{Action: r.Action, Data: r.Payload}
}

// PlayerView 玩家序列化格式
type PlayerView struct {
	Token       string `json:"token"`
	ConnectedTo string `json:"connected_to"`
	IsReady     bool   `json:"is_ready"`
}

func newPlayerView(p *store.Player) PlayerView {
	return PlayerView{
		Token:       p.Token,
		ConnectedTo: p.ConnectedTo,
		IsReady:     p.IsReady,
	}
}

// ContextPayload load_context 的內容
type ContextPayload struct {
	Players []PlayerView `json:"players"`
}

// InstancePayload load_instance 的內容
type InstancePayload struct {
	Instance allocation.View `json:"instance"`
}

// SolutionPayload check_solution 的內容
//
// IsSolved 為 nil 表示題目先前已被解出，本次結果不可採信。
type SolutionPayload struct {
	IsSolved *bool           `json:"is_solved"`
	Instance allocation.View `json:"instance"`
}

// ErrorPayload 錯誤回應的內容
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func newErrorResponse(err error) Response {
	payload := ErrorPayload{
		Code:    apperrors.Code(err),
		Message: "internal error",
	}
	if appErr, ok := asAppError(err); ok {
		payload.Message = appErr.Message
		payload.Details = appErr.Details
	}

	return Response{
		Delivery: DeliverPrivate,
		Action:   ActionError,
		Payload:  payload,
	}
}

// LobbyRequest 大廳請求的資料
type LobbyRequest struct {
	PlayerToken string `json:"player_token"`
}

// LobbyContext 大廳回應的內容
type LobbyContext struct {
	PlayerToken   string              `json:"player_token"`
	NextRoomToken string              `json:"next_room_token"`
	Rooms         []store.RoomSummary `json:"rooms"`
}

// checkSolutionRequest check_solution 的 csmr_data
type checkSolutionRequest struct {
	Solution map[string]int `json:"solution"`
}

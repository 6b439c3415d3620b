// Package store 是遊戲實體（玩家、房間、題目）的持久化邊界。
//
// 本套件不含業務邏輯，只提供 fetch-or-create、get、save、delete 等操作。
// 提供三種實作：
//   - Memory：單一行程、測試用
//   - Postgres：pgx 連線池 + golang-migrate 管理結構
//   - Redis：hash / set 結構，解題以 Lua script 保證只寫入一次
//
// 所有實作都以 pkg/errors 的錯誤碼回報「找不到」與「已解出」，
// 呼叫端不需要知道底層是哪一種儲存。
package store

import (
	"context"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
)

// Player 玩家
//
// ConnectedTo 是房間 token 的弱參照（空字串表示未連線），不擁有房間。
type Player struct {
	Token       string
	IsReady     bool
	ConnectedTo string
	CreatedAt   time.Time
}

// Room 房間
//
// 房間獨佔其題目：刪除房間時一併刪除題目。InstanceID 為 0 表示尚未出題。
type Room struct {
	Token      string
	InstanceID int64
	CreatedAt  time.Time
}

// RoomSummary 大廳列表中的房間摘要
type RoomSummary struct {
	Token          string `json:"token"`
	ConnectedCount int    `json:"connected_count"`
}

// Store 實體儲存介面
type Store interface {
	// CreatePlayer 建立新玩家（token 由呼叫端產生）
	CreatePlayer(ctx context.Context, token string) (*Player, error)
	// GetPlayer 取得玩家，不存在時回傳 NOT_FOUND
	GetPlayer(ctx context.Context, token string) (*Player, error)
	// SavePlayer 寫回玩家的 IsReady 與 ConnectedTo
	SavePlayer(ctx context.Context, p *Player) error

	// GetOrCreateRoom 取得房間，不存在時建立；created 表示是否為新建
	GetOrCreateRoom(ctx context.Context, token string) (room *Room, created bool, err error)
	GetRoom(ctx context.Context, token string) (*Room, error)
	SaveRoom(ctx context.Context, r *Room) error
	// DeleteRoom 刪除房間與其題目，並重設仍指向此房間的玩家
	DeleteRoom(ctx context.Context, token string) error
	ListRooms(ctx context.Context) ([]RoomSummary, error)
	// ConnectedPlayers 回傳 ConnectedTo 指向此房間的玩家（依 token 排序）
	ConnectedPlayers(ctx context.Context, roomToken string) ([]*Player, error)

	// CreateInstance 持久化題目並回填 ID
	CreateInstance(ctx context.Context, inst *allocation.Instance) error
	// GetInstance 取得題目，偏好順序依參與者排序
	GetInstance(ctx context.Context, id int64) (*allocation.Instance, error)
	// MarkSolved 原子地寫入解題者與解答；已解出時回傳 ALREADY_SOLVED
	MarkSolved(ctx context.Context, id int64, solvedBy string, sol allocation.Solution, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

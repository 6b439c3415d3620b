package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// Request 一則已解碼的房間訊息
//
// RoomToken 與 PlayerToken 來自連線路徑，不信任訊息內容。
type Request struct {
	RoomToken   string
	PlayerToken string
	Action      Action
	Data        json.RawMessage
}

// Router 協議路由器
//
// 將動作分派到對應的處理函數，回傳依序投遞的回應列表。
// Router 本身不加鎖，呼叫端（Manager）保證同一房間的訊息依序處理。
type Router struct {
	store        store.Store
	generator    *allocation.Generator
	publisher    Publisher
	instanceSize int
	logger       *slog.Logger
	now          func() time.Time

	generated atomic.Int64
	solved    atomic.Int64
}

// NewRouter 創建路由器
func NewRouter(st store.Store, generator *allocation.Generator, publisher Publisher, instanceSize int, logger *slog.Logger) *Router {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Router{
		store:        st,
		generator:    generator,
		publisher:    publisher,
		instanceSize: instanceSize,
		logger:       logger,
		now:          time.Now,
	}
}

// Dispatch 處理一則訊息
//
// 任何錯誤（包含 panic）都轉成只送給發送者的錯誤回應，
// 已產生的回應仍會送出。
func (rt *Router) Dispatch(ctx context.Context, req Request) (responses []Response) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("處理訊息時發生 panic",
				"panic", rec,
				"action", req.Action,
				"room_token", req.RoomToken,
				"player_token", req.PlayerToken)
			responses = append(responses, newErrorResponse(apperrors.ErrInternal))
		}
	}()

	var err error
	responses, err = rt.dispatch(ctx, req)
	if err != nil {
		level := slog.LevelWarn
		if apperrors.Code(err) == apperrors.ErrCodeInternal {
			level = slog.LevelError
		}
		rt.logger.Log(ctx, level, "處理訊息失敗",
			"error", err,
			"action", req.Action,
			"room_token", req.RoomToken,
			"player_token", req.PlayerToken)
		responses = append(responses, newErrorResponse(err))
	}
	return responses
}

// dispatch 動作分派表
func (rt *Router) dispatch(ctx context.Context, req Request) ([]Response, error) {
	switch req.Action {
	case ActionLoadContext:
		return rt.loadContext(ctx, req)
	case ActionSetReady:
		return rt.setReady(ctx, req)
	case ActionCheckSolution:
		return rt.checkSolution(ctx, req)
	default:
		return nil, apperrors.ErrUnknownAction.WithDetails("action %q", req.Action)
	}
}

// loadContext 廣播房間內的玩家，兩位玩家都準備好時接著送出題目
func (rt *Router) loadContext(ctx context.Context, req Request) ([]Response, error) {
	players, err := rt.store.ConnectedPlayers(ctx, req.RoomToken)
	if err != nil {
		return nil, err
	}

	views := make([]PlayerView, 0, len(players))
	ready := 0
	for _, p := range players {
		views = append(views, newPlayerView(p))
		if p.IsReady {
			ready++
		}
	}

	responses := []Response{{
		Delivery: DeliverBroadcast,
		Action:   ActionLoadContext,
		Payload:  ContextPayload{Players: views},
	}}

	if ready == DuelPlayers {
		followup, err := rt.loadInstance(ctx, req)
		if err != nil {
			return responses, err
		}
		responses = append(responses, followup...)
	}
	return responses, nil
}

// setReady 標記玩家已準備，再交給 loadContext
func (rt *Router) setReady(ctx context.Context, req Request) ([]Response, error) {
	player, err := rt.store.GetPlayer(ctx, req.PlayerToken)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.ErrUnknownPlayer.WithDetails("player %s", req.PlayerToken)
		}
		return nil, err
	}

	if !player.IsReady {
		player.IsReady = true
		if err := rt.store.SavePlayer(ctx, player); err != nil {
			return nil, err
		}
		rt.logger.Info("玩家已準備", "room_token", req.RoomToken, "player_token", req.PlayerToken)
	}

	return rt.loadContext(ctx, req)
}

// loadInstance 廣播房間的題目，尚未出題時產生新題目
func (rt *Router) loadInstance(ctx context.Context, req Request) ([]Response, error) {
	room, err := rt.store.GetRoom(ctx, req.RoomToken)
	if err != nil {
		return nil, err
	}

	var inst *allocation.Instance
	if room.InstanceID == 0 {
		inst, err = rt.generator.Generate(rt.instanceSize)
		if err != nil {
			return nil, err
		}
		if err := rt.store.CreateInstance(ctx, inst); err != nil {
			return nil, err
		}

		room.InstanceID = inst.ID
		if err := rt.store.SaveRoom(ctx, room); err != nil {
			return nil, err
		}

		rt.generated.Add(1)
		rt.publisher.Publish(Event{
			Type:      EventInstanceGenerated,
			RoomToken: req.RoomToken,
			Data:      map[string]any{"instance_id": inst.ID, "size": inst.Size},
		})
		rt.logger.Info("題目已產生",
			"room_token", req.RoomToken,
			"instance_id", inst.ID,
			"size", inst.Size)
	} else {
		inst, err = rt.store.GetInstance(ctx, room.InstanceID)
		if err != nil {
			return nil, err
		}
	}

	return []Response{{
		Delivery: DeliverBroadcast,
		Action:   ActionLoadInstance,
		Payload:  InstancePayload{Instance: inst.View()},
	}}, nil
}

// checkSolution 驗證玩家提交的解答
//
// 解出時廣播給整個房間，否則只回給提交者。
// 題目已被解出時 is_solved 為 null，不重複廣播。
func (rt *Router) checkSolution(ctx context.Context, req Request) ([]Response, error) {
	var body checkSolutionRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &body); err != nil {
			return nil, apperrors.ErrMalformedSolution.WithDetails("decode solution: %v", err)
		}
	}
	if body.Solution == nil {
		return nil, apperrors.ErrMalformedSolution.WithDetails("missing solution")
	}

	room, err := rt.store.GetRoom(ctx, req.RoomToken)
	if err != nil {
		return nil, err
	}
	if room.InstanceID == 0 {
		return nil, apperrors.ErrNoInstance
	}

	inst, err := rt.store.GetInstance(ctx, room.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Solved() {
		return alreadySolved(inst), nil
	}

	sol, err := allocation.ParseSolution(body.Solution, inst.Size)
	if err != nil {
		return nil, err
	}
	if err := inst.ValidateAllocation(sol); err != nil {
		return nil, err
	}

	ok, err := inst.CheckSolution(sol)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Response{{
			Delivery: DeliverPrivate,
			Action:   ActionCheckSolution,
			Payload:  SolutionPayload{IsSolved: &ok, Instance: inst.View()},
		}}, nil
	}

	at := rt.now()
	if err := rt.store.MarkSolved(ctx, inst.ID, req.PlayerToken, sol, at); err != nil {
		if !apperrors.IsAlreadySolved(err) {
			return nil, err
		}
		current, err := rt.store.GetInstance(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		return alreadySolved(current), nil
	}
	if err := inst.MarkSolved(req.PlayerToken, sol, at); err != nil {
		return nil, err
	}

	rt.solved.Add(1)
	rt.publisher.Publish(Event{
		Type:        EventInstanceSolved,
		RoomToken:   req.RoomToken,
		PlayerToken: req.PlayerToken,
		Data: map[string]any{
			"instance_id":      inst.ID,
			"time_to_solution": inst.TimeToSolution(),
		},
	})
	rt.logger.Info("題目已解出",
		"room_token", req.RoomToken,
		"player_token", req.PlayerToken,
		"instance_id", inst.ID,
		"time_to_solution", inst.TimeToSolution())

	return []Response{{
		Delivery: DeliverBroadcast,
		Action:   ActionCheckSolution,
		Payload:  SolutionPayload{IsSolved: &ok, Instance: inst.View()},
	}}, nil
}

func alreadySolved(inst *allocation.Instance) []Response {
	return []Response{{
		Delivery: DeliverPrivate,
		Action:   ActionCheckSolution,
		Payload:  SolutionPayload{IsSolved: nil, Instance: inst.View()},
	}}
}

func asAppError(err error) (*apperrors.AppError, bool) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore 在指定的操作上注入故障
type failingStore struct {
	*store.Memory
	getRoomErr        error
	createInstanceErr error
	panicOnPlayers    bool
}

func (s *failingStore) GetRoom(ctx context.Context, token string) (*store.Room, error) {
	if s.getRoomErr != nil {
		return nil, s.getRoomErr
	}
	return s.Memory.GetRoom(ctx, token)
}

func (s *failingStore) CreateInstance(ctx context.Context, inst *allocation.Instance) error {
	if s.createInstanceErr != nil {
		return s.createInstanceErr
	}
	return s.Memory.CreateInstance(ctx, inst)
}

func (s *failingStore) ConnectedPlayers(ctx context.Context, roomToken string) ([]*store.Player, error) {
	if s.panicOnPlayers {
		panic("players table corrupted")
	}
	return s.Memory.ConnectedPlayers(ctx, roomToken)
}

// seedRoom 建立一個房間，並讓列出的玩家連線進去
func seedRoom(t *testing.T, st store.Store, roomToken string, players ...string) {
	t.Helper()
	ctx := context.Background()

	_, _, err := st.GetOrCreateRoom(ctx, roomToken)
	require.NoError(t, err)

	for _, token := range players {
		p, err := st.CreatePlayer(ctx, token)
		require.NoError(t, err)
		p.ConnectedTo = roomToken
		p.IsReady = true
		require.NoError(t, st.SavePlayer(ctx, p))
	}
}

// seedInstance 為房間放入固定的 3x3 題目
func seedInstance(t *testing.T, st store.Store, roomToken string) *allocation.Instance {
	t.Helper()
	ctx := context.Background()

	inst := &allocation.Instance{
		Size: 3,
		Prefs: []allocation.PreferenceOrder{
			{Actor: 0, Values: []int{1, 2, 0}},
			{Actor: 1, Values: []int{0, 2, 1}},
			{Actor: 2, Values: []int{2, 0, 1}},
		},
		CreatedAt: time.Now().Add(-42 * time.Second).Truncate(time.Second),
	}
	require.NoError(t, st.CreateInstance(ctx, inst))

	room, err := st.GetRoom(ctx, roomToken)
	require.NoError(t, err)
	room.InstanceID = inst.ID
	require.NoError(t, st.SaveRoom(ctx, room))
	return inst
}

func checkSolutionRequest(roomToken, playerToken string, solution map[string]int) internal.Request {
	data, err := json.Marshal(map[string]any{"solution": solution})
	if err != nil {
		panic(err)
	}
	return internal.Request{
		RoomToken:   roomToken,
		PlayerToken: playerToken,
		Action:      internal.ActionCheckSolution,
		Data:        data,
	}
}

func errorCode(t *testing.T, resp internal.Response) string {
	t.Helper()

	require.Equal(t, internal.ActionError, resp.Action)
	require.Equal(t, internal.DeliverPrivate, resp.Delivery)
	payload, ok := resp.Payload.(internal.ErrorPayload)
	require.True(t, ok)
	return payload.Code
}

// TestRouter_CheckSolution 以固定題目測試解答判定
func TestRouter_CheckSolution(t *testing.T) {
	tests := []struct {
		name         string
		solution     map[string]int
		wantCode     string
		wantSolved   bool
		wantDelivery internal.Delivery
	}{
		{
			// 參與者 0 與 2 都分到物品 1
			name:     "物品重複分配",
			solution: map[string]int{"0": 0, "1": 1, "2": 2},
			wantCode: apperrors.ErrCodeMalformedSolution,
		},
		{
			name:     "名次超出範圍",
			solution: map[string]int{"0": 0, "1": 0, "2": 3},
			wantCode: apperrors.ErrCodeMalformedSolution,
		},
		{
			name:     "參與者索引不是數字",
			solution: map[string]int{"0": 0, "1": 0, "x": 0},
			wantCode: apperrors.ErrCodeMalformedSolution,
		},
		{
			// 參與者 1 嫉妒參與者 2 分到的物品 0
			name:         "有嫉妒的分配",
			solution:     map[string]int{"0": 0, "1": 1, "2": 1},
			wantDelivery: internal.DeliverPrivate,
		},
		{
			name:         "每人都拿到第一志願",
			solution:     map[string]int{"0": 0, "1": 0, "2": 0},
			wantSolved:   true,
			wantDelivery: internal.DeliverBroadcast,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			seedRoom(t, st, "r1", "alice", "bob")
			inst := seedInstance(t, st, "r1")

			publisher := &recordingPublisher{}
			router := internal.NewRouter(st, testGenerator(), publisher, 3, testLogger())

			responses := router.Dispatch(context.Background(), checkSolutionRequest("r1", "alice", tt.solution))
			require.Len(t, responses, 1)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, responses[0]))
				return
			}

			resp := responses[0]
			assert.Equal(t, internal.ActionCheckSolution, resp.Action)
			assert.Equal(t, tt.wantDelivery, resp.Delivery)

			payload, ok := resp.Payload.(internal.SolutionPayload)
			require.True(t, ok)
			require.NotNil(t, payload.IsSolved)
			assert.Equal(t, tt.wantSolved, *payload.IsSolved)

			stored, err := st.GetInstance(context.Background(), inst.ID)
			require.NoError(t, err)
			if tt.wantSolved {
				assert.Equal(t, "alice", stored.SolvedBy)
				require.NotNil(t, payload.Instance.TimeToSolution)
				assert.GreaterOrEqual(t, *payload.Instance.TimeToSolution, 42)
				assert.Equal(t, []internal.EventType{internal.EventInstanceSolved}, publisher.types())
			} else {
				assert.False(t, stored.Solved())
				assert.Empty(t, publisher.types())
			}
		})
	}
}

// TestRouter_AlreadySolved 測試已解出的題目不再接受解答
func TestRouter_AlreadySolved(t *testing.T) {
	st := store.NewMemory()
	seedRoom(t, st, "r1", "alice", "bob")
	seedInstance(t, st, "r1")
	router := internal.NewRouter(st, testGenerator(), nil, 3, testLogger())
	ctx := context.Background()

	first := router.Dispatch(ctx, checkSolutionRequest("r1", "alice", map[string]int{"0": 0, "1": 0, "2": 0}))
	require.Len(t, first, 1)
	assert.Equal(t, internal.DeliverBroadcast, first[0].Delivery)

	// 即使格式錯誤，已解出的題目也只回報 null
	for _, solution := range []map[string]int{
		{"0": 0, "1": 0, "2": 0},
		{"0": 0, "1": 1, "2": 2},
	} {
		responses := router.Dispatch(ctx, checkSolutionRequest("r1", "bob", solution))
		require.Len(t, responses, 1)
		assert.Equal(t, internal.DeliverPrivate, responses[0].Delivery)

		payload, ok := responses[0].Payload.(internal.SolutionPayload)
		require.True(t, ok)
		assert.Nil(t, payload.IsSolved)
		require.NotNil(t, payload.Instance.SolvedBy)
		assert.Equal(t, "alice", *payload.Instance.SolvedBy)
	}
}

// TestRouter_Failures 測試儲存故障與 panic 都轉成錯誤回應
func TestRouter_Failures(t *testing.T) {
	tests := []struct {
		name     string
		store    func(st *failingStore)
		request  internal.Request
		validate func(t *testing.T, responses []internal.Response)
	}{
		{
			name: "儲存回傳非預期錯誤",
			store: func(st *failingStore) {
				st.getRoomErr = errors.New("connection reset by peer")
			},
			request: checkSolutionRequest("r1", "alice", map[string]int{"0": 0, "1": 0}),
			validate: func(t *testing.T, responses []internal.Response) {
				require.Len(t, responses, 1)
				assert.Equal(t, apperrors.ErrCodeInternal, errorCode(t, responses[0]))

				// 內部細節不外洩
				payload := responses[0].Payload.(internal.ErrorPayload)
				assert.Equal(t, "internal error", payload.Message)
				assert.Empty(t, payload.Details)
			},
		},
		{
			name: "處理中發生 panic",
			store: func(st *failingStore) {
				st.panicOnPlayers = true
			},
			request: internal.Request{RoomToken: "r1", PlayerToken: "alice", Action: internal.ActionLoadContext},
			validate: func(t *testing.T, responses []internal.Response) {
				require.Len(t, responses, 1)
				assert.Equal(t, apperrors.ErrCodeInternal, errorCode(t, responses[0]))
			},
		},
		{
			name: "出題失敗時仍送出已產生的 load_context",
			store: func(st *failingStore) {
				st.createInstanceErr = errors.New("disk full")
			},
			request: internal.Request{RoomToken: "r1", PlayerToken: "alice", Action: internal.ActionLoadContext},
			validate: func(t *testing.T, responses []internal.Response) {
				require.Len(t, responses, 2)
				assert.Equal(t, internal.ActionLoadContext, responses[0].Action)
				assert.Equal(t, internal.DeliverBroadcast, responses[0].Delivery)
				assert.Equal(t, apperrors.ErrCodeInternal, errorCode(t, responses[1]))
			},
		},
		{
			name:    "set_ready 的玩家不存在",
			request: internal.Request{RoomToken: "r1", PlayerToken: "nobody", Action: internal.ActionSetReady},
			validate: func(t *testing.T, responses []internal.Response) {
				require.Len(t, responses, 1)
				assert.Equal(t, apperrors.ErrCodeUnknownPlayer, errorCode(t, responses[0]))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &failingStore{Memory: store.NewMemory()}
			seedRoom(t, st, "r1", "alice", "bob")
			if tt.store != nil {
				tt.store(st)
			}

			router := internal.NewRouter(st, testGenerator(), nil, 3, testLogger())
			tt.validate(t, router.Dispatch(context.Background(), tt.request))
		})
	}
}

// TestRouter_LoadContextGeneratesOnce 測試兩位玩家都準備時只出題一次
func TestRouter_LoadContextGeneratesOnce(t *testing.T) {
	st := store.NewMemory()
	seedRoom(t, st, "r1", "alice", "bob")
	publisher := &recordingPublisher{}
	router := internal.NewRouter(st, testGenerator(), publisher, 4, testLogger())
	ctx := context.Background()

	var views []allocation.View
	for range 3 {
		responses := router.Dispatch(ctx, internal.Request{RoomToken: "r1", PlayerToken: "bob", Action: internal.ActionLoadContext})
		require.Len(t, responses, 2)
		assert.Equal(t, internal.ActionLoadInstance, responses[1].Action)

		payload, ok := responses[1].Payload.(internal.InstancePayload)
		require.True(t, ok)
		assert.Equal(t, 4, payload.Instance.Size)
		views = append(views, payload.Instance)
	}

	assert.Equal(t, views[0], views[1])
	assert.Equal(t, views[0], views[2])
	assert.Equal(t, []internal.EventType{internal.EventInstanceGenerated}, publisher.types())
}

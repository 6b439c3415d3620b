package internal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/koopa0/system-design/14-envy-free-duel/internal"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

func testGenerator() *allocation.Generator {
	return allocation.NewGenerator(rand.New(rand.NewPCG(1, 2)))
}

func testGameConfig() internal.GameConfig {
	cfg := internal.DefaultConfig().Game
	cfg.OrphanSweepInterval = 0
	return cfg
}

// fakeSubscriber 記錄收到的訊息
type fakeSubscriber struct {
	token    string
	capacity int // 緩衝上限，0 表示不限
	mu       sync.Mutex
	messages []wireMessage
	closed   bool
}

// wireMessage 解碼後的伺服器訊息
type wireMessage struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"client_data"`
}

func newSubscriber(token string) *fakeSubscriber {
	return &fakeSubscriber{token: token}
}

func (s *fakeSubscriber) PlayerToken() string { return s.token }

func (s *fakeSubscriber) Send(message []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.capacity > 0 && len(s.messages) >= s.capacity {
		return false
	}
	var msg wireMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		panic(err)
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *fakeSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// drain 取出並清空目前收到的訊息
func (s *fakeSubscriber) drain() []wireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages
	s.messages = nil
	return msgs
}

func actions(msgs []wireMessage) []string {
	result := make([]string, len(msgs))
	for i, m := range msgs {
		result[i] = m.Action
	}
	return result
}

// recordingPublisher 記錄發佈的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []internal.Event
}

func (p *recordingPublisher) Publish(event internal.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []internal.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]internal.EventType, len(p.events))
	for i, e := range p.events {
		result[i] = e.Type
	}
	return result
}

// testEnv 一組共用記憶體儲存的管理器
type testEnv struct {
	store     *store.Memory
	manager   *internal.Manager
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     store.NewMemory(),
		publisher: &recordingPublisher{},
	}
	env.manager = internal.NewManager(env.store, testGenerator(), env.publisher, testGameConfig(), testLogger())
	t.Cleanup(env.manager.Stop)
	return env
}

// player 在大廳註冊玩家並回傳其連線
func (env *testEnv) player(t *testing.T, token string) *fakeSubscriber {
	t.Helper()

	_, err := env.store.CreatePlayer(context.Background(), token)
	require.NoError(t, err)
	return newSubscriber(token)
}

func (env *testEnv) join(t *testing.T, roomToken string, sub *fakeSubscriber) {
	t.Helper()
	require.NoError(t, env.manager.Join(context.Background(), roomToken, sub))
}

func (env *testEnv) send(roomToken string, sub *fakeSubscriber, msg any) {
	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	env.manager.Handle(context.Background(), roomToken, sub, raw)
}

func (env *testEnv) setReady(roomToken string, sub *fakeSubscriber) {
	env.send(roomToken, sub, map[string]any{
		"action":    "set_ready",
		"csmr_data": map[string]any{"player_token": sub.token},
	})
}

func (env *testEnv) submit(roomToken string, sub *fakeSubscriber, sol allocation.Solution) {
	raw := make(map[string]int, len(sol))
	for actor, rank := range sol {
		raw[strconv.Itoa(actor)] = rank
	}
	env.send(roomToken, sub, map[string]any{
		"action": "check_solution",
		"csmr_data": map[string]any{
			"player_token": sub.token,
			"solution":     raw,
		},
	})
}

// currentInstance 從儲存讀取房間目前的題目
func (env *testEnv) currentInstance(t *testing.T, roomToken string) *allocation.Instance {
	t.Helper()

	ctx := context.Background()
	room, err := env.store.GetRoom(ctx, roomToken)
	require.NoError(t, err)
	require.NotZero(t, room.InstanceID)

	inst, err := env.store.GetInstance(ctx, room.InstanceID)
	require.NoError(t, err)
	return inst
}

// findSolutions 窮舉所有一對一分配，分成無嫉妒與有嫉妒兩組
func findSolutions(inst *allocation.Instance) (good, bad []allocation.Solution) {
	n := inst.Size
	objects := make([]int, n)
	for i := range objects {
		objects[i] = i
	}

	var permute func(k int)
	permute = func(k int) {
		if k == n {
			sol := make(allocation.Solution, n)
			for a, o := range objects {
				sol[a] = inst.Prefs[a].Rank(o)
			}
			if ok, _ := inst.CheckSolution(sol); ok {
				good = append(good, sol)
			} else {
				bad = append(bad, sol)
			}
			return
		}
		for i := k; i < n; i++ {
			objects[k], objects[i] = objects[i], objects[k]
			permute(k + 1)
			objects[k], objects[i] = objects[i], objects[k]
		}
	}
	permute(0)
	return good, bad
}

func decode[T any](t *testing.T, msg wireMessage) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

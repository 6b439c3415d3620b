package internal_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentJoinLeave 測試大量玩家同時進出房間
func TestStress_ConcurrentJoinLeave(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()

	const numRooms = 100

	var (
		wg           sync.WaitGroup
		successCount int32
		errorCount   int32
	)

	start := time.Now()

	for i := range numRooms {
		roomToken := fmt.Sprintf("room-%d", i)
		for p := range 2 {
			sub := env.player(t, fmt.Sprintf("p-%d-%d", i, p))

			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := env.manager.Join(ctx, roomToken, sub); err != nil {
					atomic.AddInt32(&errorCount, 1)
					return
				}
				atomic.AddInt32(&successCount, 1)

				env.setReady(roomToken, sub)
				env.send(roomToken, sub, map[string]any{"action": "load_context"})
				env.manager.Leave(ctx, roomToken, sub)
			}()
		}
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("進出房間壓力測試結果:")
	t.Logf("  總連線數: %d", numRooms*2)
	t.Logf("  成功: %d", successCount)
	t.Logf("  失敗: %d", errorCount)
	t.Logf("  耗時: %v", duration)

	assert.Equal(t, int32(numRooms*2), successCount)
	assert.Zero(t, errorCount)

	// 所有人都離開後不留下任何房間或題目
	stats := env.manager.Stats()
	assert.Zero(t, stats.Rooms)
	assert.Zero(t, stats.Connections)

	rooms, err := env.store.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

// TestStress_ContestedRoom 測試多位玩家搶同一個房間
func TestStress_ContestedRoom(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	env := newTestEnv(t)
	ctx := context.Background()

	const numPlayers = 20

	var (
		wg       sync.WaitGroup
		joined   int32
		roomFull int32
	)

	for i := range numPlayers {
		sub := env.player(t, fmt.Sprintf("player-%d", i))

		wg.Add(1)
		go func() {
			defer wg.Done()

			err := env.manager.Join(ctx, "arena", sub)
			switch {
			case err == nil:
				atomic.AddInt32(&joined, 1)
			case apperrors.Code(err) == apperrors.ErrCodeRoomFull:
				atomic.AddInt32(&roomFull, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(2), joined, "房間最多兩位玩家")
	assert.Equal(t, int32(numPlayers-2), roomFull)

	players, err := env.store.ConnectedPlayers(ctx, "arena")
	require.NoError(t, err)
	assert.Len(t, players, 2, "ConnectedTo 應與房間成員一致")
}

// TestStress_ConcurrentReady 測試兩位玩家同時準備時每個房間只出一題
func TestStress_ConcurrentReady(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	env := newTestEnv(t)
	const numRooms = 50

	type pair struct {
		room string
		subs [2]*fakeSubscriber
	}
	pairs := make([]pair, numRooms)
	for i := range pairs {
		pairs[i].room = fmt.Sprintf("room-%d", i)
		for p := range 2 {
			pairs[i].subs[p] = env.player(t, fmt.Sprintf("p-%d-%d", i, p))
			env.join(t, pairs[i].room, pairs[i].subs[p])
		}
	}

	var wg sync.WaitGroup
	for _, pr := range pairs {
		for _, sub := range pr.subs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				env.setReady(pr.room, sub)
				for range 5 {
					env.send(pr.room, sub, map[string]any{"action": "load_context"})
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int64(numRooms), env.manager.Stats().InstancesGenerated)

	// 每位玩家看到的題目都相同，且 load_instance 緊跟在 load_context 之後
	for _, pr := range pairs {
		var first *internal.InstancePayload
		for _, sub := range pr.subs {
			msgs := sub.drain()
			for i, msg := range msgs {
				if msg.Action != "load_instance" {
					continue
				}
				require.Positive(t, i)
				require.Equal(t, "load_context", msgs[i-1].Action)

				payload := decode[internal.InstancePayload](t, msg)
				if first == nil {
					first = &payload
					continue
				}
				assert.Equal(t, *first, payload)
			}
		}
		require.NotNil(t, first, "房間 %s 沒有出題", pr.room)
	}
}

// TestStress_ConcurrentSolve 測試兩位玩家同時提交正確解答時只有一位勝出
func TestStress_ConcurrentSolve(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	env := newTestEnv(t)
	const numRooms = 30

	for i := range numRooms {
		room := fmt.Sprintf("room-%d", i)
		alice := env.player(t, fmt.Sprintf("a-%d", i))
		bob := env.player(t, fmt.Sprintf("b-%d", i))
		env.join(t, room, alice)
		env.join(t, room, bob)
		env.setReady(room, alice)
		env.setReady(room, bob)
		alice.drain()
		bob.drain()

		good, _ := findSolutions(env.currentInstance(t, room))
		require.NotEmpty(t, good)

		var wg sync.WaitGroup
		for _, sub := range []*fakeSubscriber{alice, bob} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				env.submit(room, sub, good[0])
			}()
		}
		wg.Wait()

		// 勝者的廣播兩人都收到；敗者另外收到 null
		var solved, stale int
		for _, sub := range []*fakeSubscriber{alice, bob} {
			for _, msg := range sub.drain() {
				require.Equal(t, "check_solution", msg.Action)
				payload := decode[internal.SolutionPayload](t, msg)
				if payload.IsSolved == nil {
					stale++
				} else if *payload.IsSolved {
					solved++
				}
			}
		}
		assert.Equal(t, 2, solved, "room %s", room)
		assert.Equal(t, 1, stale, "room %s", room)
	}

	assert.Equal(t, int64(numRooms), env.manager.Stats().InstancesSolved)
}

// benchmarkRoom 建立一個兩位玩家都已準備的房間
func benchmarkRoom(b *testing.B) (*internal.Manager, [2]*fakeSubscriber) {
	b.Helper()

	st := store.NewMemory()
	manager := internal.NewManager(st, testGenerator(), nil, testGameConfig(), testLogger())
	b.Cleanup(manager.Stop)

	ctx := context.Background()
	var subs [2]*fakeSubscriber
	for i, token := range []string{"alice", "bob"} {
		if _, err := st.CreatePlayer(ctx, token); err != nil {
			b.Fatal(err)
		}
		subs[i] = newSubscriber(token)
		if err := manager.Join(ctx, "bench", subs[i]); err != nil {
			b.Fatal(err)
		}
		manager.Handle(ctx, "bench", subs[i], []byte(`{"action":"set_ready"}`))
	}
	return manager, subs
}

// BenchmarkManager_HandleLoadContext 房間內 load_context（含題目）的處理速度
func BenchmarkManager_HandleLoadContext(b *testing.B) {
	manager, subs := benchmarkRoom(b)
	msg := []byte(`{"action":"load_context"}`)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		manager.Handle(ctx, "bench", subs[i%2], msg)
		if i%100 == 0 {
			subs[0].drain()
			subs[1].drain()
		}
	}
}

// BenchmarkManager_JoinLeave 加入與離開（含房間建立與刪除）的成本
func BenchmarkManager_JoinLeave(b *testing.B) {
	st := store.NewMemory()
	manager := internal.NewManager(st, testGenerator(), nil, testGameConfig(), testLogger())
	b.Cleanup(manager.Stop)

	ctx := context.Background()
	if _, err := st.CreatePlayer(ctx, "alice"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sub := newSubscriber("alice")
		if err := manager.Join(ctx, "bench", sub); err != nil {
			b.Fatal(err)
		}
		manager.Leave(ctx, "bench", sub)
	}
}

package store_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenSeq atomic.Int64

// uniqueToken 容器後端在子測試間共用資料，每個子測試使用不同 token
func uniqueToken(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, tokenSeq.Add(1))
}

func sampleInstance() *allocation.Instance {
	return &allocation.Instance{
		Size: 3,
		Prefs: []allocation.PreferenceOrder{
			{Actor: 0, Values: []int{1, 2, 0}},
			{Actor: 1, Values: []int{0, 2, 1}},
			{Actor: 2, Values: []int{2, 0, 1}},
		},
		CreatedAt: time.Now().Truncate(time.Second),
	}
}

// runStoreSuite 所有 Store 實作都必須通過的行為測試
func runStoreSuite(t *testing.T, s store.Store) {
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("create and get player", func(t *testing.T) {
		token := uniqueToken("p")

		created, err := s.CreatePlayer(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, token, created.Token)
		assert.False(t, created.IsReady)
		assert.Empty(t, created.ConnectedTo)

		got, err := s.GetPlayer(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, token, got.Token)
		assert.False(t, got.IsReady)
		assert.Empty(t, got.ConnectedTo)

		_, err = s.CreatePlayer(ctx, token)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("unknown player", func(t *testing.T) {
		_, err := s.GetPlayer(ctx, uniqueToken("missing"))
		assert.True(t, apperrors.IsNotFound(err))

		err = s.SavePlayer(ctx, &store.Player{Token: uniqueToken("missing")})
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("get or create room is idempotent", func(t *testing.T) {
		token := uniqueToken("r")

		room, created, err := s.GetOrCreateRoom(ctx, token)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, token, room.Token)
		assert.Zero(t, room.InstanceID)

		again, created, err := s.GetOrCreateRoom(ctx, token)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, token, again.Token)

		_, err = s.GetRoom(ctx, uniqueToken("missing"))
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("connected players and room listing", func(t *testing.T) {
		roomToken := uniqueToken("r")
		_, _, err := s.GetOrCreateRoom(ctx, roomToken)
		require.NoError(t, err)

		alice, err := s.CreatePlayer(ctx, uniqueToken("alice"))
		require.NoError(t, err)
		bob, err := s.CreatePlayer(ctx, uniqueToken("bob"))
		require.NoError(t, err)

		alice.ConnectedTo = roomToken
		alice.IsReady = true
		require.NoError(t, s.SavePlayer(ctx, alice))
		bob.ConnectedTo = roomToken
		require.NoError(t, s.SavePlayer(ctx, bob))

		players, err := s.ConnectedPlayers(ctx, roomToken)
		require.NoError(t, err)
		require.Len(t, players, 2)
		assert.Equal(t, alice.Token, players[0].Token)
		assert.True(t, players[0].IsReady)
		assert.Equal(t, bob.Token, players[1].Token)
		assert.False(t, players[1].IsReady)

		assert.Equal(t, 2, connectedCount(t, s, roomToken))

		// 離開房間
		bob.ConnectedTo = ""
		require.NoError(t, s.SavePlayer(ctx, bob))
		assert.Equal(t, 1, connectedCount(t, s, roomToken))
	})

	t.Run("player cannot point at missing room", func(t *testing.T) {
		p, err := s.CreatePlayer(ctx, uniqueToken("p"))
		require.NoError(t, err)

		p.ConnectedTo = uniqueToken("missing")
		err = s.SavePlayer(ctx, p)
		assert.Error(t, err)
	})

	t.Run("instance round trip", func(t *testing.T) {
		inst := sampleInstance()
		require.NoError(t, s.CreateInstance(ctx, inst))
		require.NotZero(t, inst.ID)

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, inst.Size, got.Size)
		assert.Equal(t, inst.Values(), got.Values())
		assert.False(t, got.Solved())
		assert.True(t, inst.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", inst.CreatedAt, got.CreatedAt)

		_, err = s.GetInstance(ctx, inst.ID+100000)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("invalid instance is rejected", func(t *testing.T) {
		inst := sampleInstance()
		inst.Prefs[1].Values = []int{0, 0, 1}

		err := s.CreateInstance(ctx, inst)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("mark solved is set once", func(t *testing.T) {
		inst := sampleInstance()
		require.NoError(t, s.CreateInstance(ctx, inst))

		solvedAt := inst.CreatedAt.Add(30 * time.Second)
		require.NoError(t, s.MarkSolved(ctx, inst.ID, "alice", allocation.Solution{0, 0, 0}, solvedAt))

		err := s.MarkSolved(ctx, inst.ID, "bob", allocation.Solution{1, 1, 1}, solvedAt.Add(time.Second))
		assert.True(t, apperrors.IsAlreadySolved(err))

		got, err := s.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.SolvedBy)
		assert.Equal(t, allocation.Solution{0, 0, 0}, got.Solution)
		assert.Equal(t, 30, got.TimeToSolution())

		err = s.MarkSolved(ctx, inst.ID+100000, "alice", allocation.Solution{0, 0, 0}, solvedAt)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("delete room cascades", func(t *testing.T) {
		roomToken := uniqueToken("r")
		room, _, err := s.GetOrCreateRoom(ctx, roomToken)
		require.NoError(t, err)

		inst := sampleInstance()
		require.NoError(t, s.CreateInstance(ctx, inst))
		room.InstanceID = inst.ID
		require.NoError(t, s.SaveRoom(ctx, room))

		p, err := s.CreatePlayer(ctx, uniqueToken("p"))
		require.NoError(t, err)
		p.ConnectedTo = roomToken
		p.IsReady = true
		require.NoError(t, s.SavePlayer(ctx, p))

		require.NoError(t, s.DeleteRoom(ctx, roomToken))

		_, err = s.GetRoom(ctx, roomToken)
		assert.True(t, apperrors.IsNotFound(err))
		_, err = s.GetInstance(ctx, inst.ID)
		assert.True(t, apperrors.IsNotFound(err))

		reset, err := s.GetPlayer(ctx, p.Token)
		require.NoError(t, err)
		assert.Empty(t, reset.ConnectedTo)
		assert.False(t, reset.IsReady)

		assert.True(t, apperrors.IsNotFound(s.DeleteRoom(ctx, roomToken)))

		// 重新加入同一個 token 得到全新的房間
		fresh, created, err := s.GetOrCreateRoom(ctx, roomToken)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Zero(t, fresh.InstanceID)
	})

	t.Run("save room requires existing instance", func(t *testing.T) {
		room, _, err := s.GetOrCreateRoom(ctx, uniqueToken("r"))
		require.NoError(t, err)

		room.InstanceID = 987654321
		assert.Error(t, s.SaveRoom(ctx, room))
	})
}

// connectedCount 從 ListRooms 取出指定房間的連線人數
func connectedCount(t *testing.T, s store.Store, roomToken string) int {
	t.Helper()

	rooms, err := s.ListRooms(context.Background())
	require.NoError(t, err)
	for _, r := range rooms {
		if r.Token == roomToken {
			return r.ConnectedCount
		}
	}
	t.Fatalf("room %s not listed", roomToken)
	return 0
}

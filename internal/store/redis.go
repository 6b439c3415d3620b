package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis 以 Redis 為後端的儲存
//
// 鍵結構（皆加上 prefix）：
//
//	player:{token}          hash  is_ready, connected_to, created_at
//	room:{token}            hash  instance_id, created_at
//	room:{token}:players    set   連線中的玩家 token
//	rooms                   zset  房間 token，score 為建立時間
//	instance:{id}           hash  size, values, created_at, solved_by, solution, solved_at
//	instance:seq            string 題目 ID 產生器
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedis 創建 Redis 儲存
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

// markSolvedScript 原子地檢查並寫入解題結果
//
// 回傳 -1：題目不存在；0：已解出；1：寫入成功。
var markSolvedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HEXISTS', KEYS[1], 'solved_by') == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'solved_by', ARGV[1], 'solution', ARGV[2], 'solved_at', ARGV[3])
return 1
`)

func (s *Redis) playerKey(token string) string      { return s.prefix + "player:" + token }
func (s *Redis) roomKey(token string) string        { return s.prefix + "room:" + token }
func (s *Redis) roomPlayersKey(token string) string { return s.prefix + "room:" + token + ":players" }
func (s *Redis) roomsKey() string                   { return s.prefix + "rooms" }
func (s *Redis) instanceKey(id int64) string        { return s.prefix + "instance:" + strconv.FormatInt(id, 10) }
func (s *Redis) instanceSeqKey() string             { return s.prefix + "instance:seq" }

// CreatePlayer 建立玩家
func (s *Redis) CreatePlayer(ctx context.Context, token string) (*Player, error) {
	now := s.now()
	created, err := s.client.HSetNX(ctx, s.playerKey(token), "created_at", formatTime(now)).Result()
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}
	if !created {
		return nil, apperrors.ErrInvalidInput.WithDetails("player %s already exists", token)
	}

	if err := s.client.HSet(ctx, s.playerKey(token), "is_ready", "0", "connected_to", "").Err(); err != nil {
		return nil, fmt.Errorf("init player: %w", err)
	}

	return &Player{Token: token, CreatedAt: now.Truncate(time.Microsecond)}, nil
}

// GetPlayer 取得玩家
func (s *Redis) GetPlayer(ctx context.Context, token string) (*Player, error) {
	fields, err := s.client.HGetAll(ctx, s.playerKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound.WithDetails("player %s", token)
	}
	return parsePlayer(token, fields), nil
}

// SavePlayer 寫回玩家並同步房間成員集合
func (s *Redis) SavePlayer(ctx context.Context, p *Player) error {
	key := s.playerKey(p.Token)

	old, err := s.client.HMGet(ctx, key, "created_at", "connected_to").Result()
	if err != nil {
		return fmt.Errorf("get player: %w", err)
	}
	if old[0] == nil {
		return apperrors.ErrNotFound.WithDetails("player %s", p.Token)
	}
	oldRoom, _ := old[1].(string)

	if p.ConnectedTo != "" {
		exists, err := s.client.Exists(ctx, s.roomKey(p.ConnectedTo)).Result()
		if err != nil {
			return fmt.Errorf("check room: %w", err)
		}
		if exists == 0 {
			return apperrors.ErrNotFound.WithDetails("room %s", p.ConnectedTo)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "is_ready", formatBool(p.IsReady), "connected_to", p.ConnectedTo)
		if oldRoom != "" && oldRoom != p.ConnectedTo {
			pipe.SRem(ctx, s.roomPlayersKey(oldRoom), p.Token)
		}
		if p.ConnectedTo != "" {
			pipe.SAdd(ctx, s.roomPlayersKey(p.ConnectedTo), p.Token)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}

// GetOrCreateRoom 取得或建立房間
func (s *Redis) GetOrCreateRoom(ctx context.Context, token string) (*Room, bool, error) {
	now := s.now()
	created, err := s.client.HSetNX(ctx, s.roomKey(token), "created_at", formatTime(now)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("create room: %w", err)
	}

	if created {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.roomKey(token), "instance_id", "0")
			pipe.ZAdd(ctx, s.roomsKey(), redis.Z{Score: float64(now.UnixMicro()), Member: token})
			return nil
		})
		if err != nil {
			return nil, false, fmt.Errorf("index room: %w", err)
		}
	}

	r, err := s.GetRoom(ctx, token)
	if err != nil {
		return nil, false, err
	}
	return r, created, nil
}

// GetRoom 取得房間
func (s *Redis) GetRoom(ctx context.Context, token string) (*Room, error) {
	fields, err := s.client.HGetAll(ctx, s.roomKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound.WithDetails("room %s", token)
	}

	instanceID, _ := strconv.ParseInt(fields["instance_id"], 10, 64)
	return &Room{
		Token:      token,
		InstanceID: instanceID,
		CreatedAt:  parseTime(fields["created_at"]),
	}, nil
}

// SaveRoom 寫回房間
func (s *Redis) SaveRoom(ctx context.Context, r *Room) error {
	exists, err := s.client.Exists(ctx, s.roomKey(r.Token)).Result()
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if exists == 0 {
		return apperrors.ErrNotFound.WithDetails("room %s", r.Token)
	}
	if r.InstanceID != 0 {
		exists, err := s.client.Exists(ctx, s.instanceKey(r.InstanceID)).Result()
		if err != nil {
			return fmt.Errorf("check instance: %w", err)
		}
		if exists == 0 {
			return apperrors.ErrNotFound.WithDetails("instance %d", r.InstanceID)
		}
	}

	if err := s.client.HSet(ctx, s.roomKey(r.Token), "instance_id", strconv.FormatInt(r.InstanceID, 10)).Err(); err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	return nil
}

// DeleteRoom 刪除房間（連同題目）
func (s *Redis) DeleteRoom(ctx context.Context, token string) error {
	r, err := s.GetRoom(ctx, token)
	if err != nil {
		return err
	}

	members, err := s.client.SMembers(ctx, s.roomPlayersKey(token)).Result()
	if err != nil {
		return fmt.Errorf("list room players: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, player := range members {
			pipe.HSet(ctx, s.playerKey(player), "is_ready", "0", "connected_to", "")
		}
		pipe.Del(ctx, s.roomKey(token), s.roomPlayersKey(token))
		pipe.ZRem(ctx, s.roomsKey(), token)
		if r.InstanceID != 0 {
			pipe.Del(ctx, s.instanceKey(r.InstanceID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// ListRooms 列出房間與連線人數
func (s *Redis) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	tokens, err := s.client.ZRange(ctx, s.roomsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(tokens) == 0 {
		return []RoomSummary{}, nil
	}

	cmds := make([]*redis.IntCmd, len(tokens))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = pipe.SCard(ctx, s.roomPlayersKey(token))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count room players: %w", err)
	}

	result := make([]RoomSummary, len(tokens))
	for i, token := range tokens {
		result[i] = RoomSummary{Token: token, ConnectedCount: int(cmds[i].Val())}
	}
	return result, nil
}

// ConnectedPlayers 房間內的玩家
func (s *Redis) ConnectedPlayers(ctx context.Context, roomToken string) ([]*Player, error) {
	tokens, err := s.client.SMembers(ctx, s.roomPlayersKey(roomToken)).Result()
	if err != nil {
		return nil, fmt.Errorf("list room players: %w", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	slices.Sort(tokens)

	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, token := range tokens {
			cmds[i] = pipe.HGetAll(ctx, s.playerKey(token))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get room players: %w", err)
	}

	players := make([]*Player, 0, len(tokens))
	for i, token := range tokens {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			s.logger.Warn("dangling room member", "room_token", roomToken, "player_token", token)
			continue
		}
		players = append(players, parsePlayer(token, fields))
	}
	return players, nil
}

// CreateInstance 儲存題目
func (s *Redis) CreateInstance(ctx context.Context, inst *allocation.Instance) error {
	if err := inst.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid instance")
	}

	values, err := json.Marshal(inst.Values())
	if err != nil {
		return fmt.Errorf("encode preference orders: %w", err)
	}

	id, err := s.client.Incr(ctx, s.instanceSeqKey()).Result()
	if err != nil {
		return fmt.Errorf("allocate instance id: %w", err)
	}

	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	if err := s.client.HSet(ctx, s.instanceKey(id),
		"size", strconv.Itoa(inst.Size),
		"values", string(values),
		"created_at", formatTime(createdAt),
	).Err(); err != nil {
		return fmt.Errorf("store instance: %w", err)
	}

	inst.ID = id
	inst.CreatedAt = createdAt
	return nil
}

// GetInstance 取得題目
func (s *Redis) GetInstance(ctx context.Context, id int64) (*allocation.Instance, error) {
	fields, err := s.client.HGetAll(ctx, s.instanceKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.ErrNotFound.WithDetails("instance %d", id)
	}

	size, err := strconv.Atoi(fields["size"])
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "corrupt instance size")
	}

	var values [][]int
	if err := json.Unmarshal([]byte(fields["values"]), &values); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "corrupt preference orders")
	}

	inst := &allocation.Instance{
		ID:        id,
		Size:      size,
		Prefs:     make([]allocation.PreferenceOrder, len(values)),
		SolvedBy:  fields["solved_by"],
		CreatedAt: parseTime(fields["created_at"]),
		SolvedAt:  parseTime(fields["solved_at"]),
	}
	for a, v := range values {
		inst.Prefs[a] = allocation.PreferenceOrder{Actor: a, Values: v}
	}
	if raw, ok := fields["solution"]; ok {
		if err := json.Unmarshal([]byte(raw), &inst.Solution); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "corrupt solution")
		}
	}

	if err := inst.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "corrupt instance")
	}
	return inst, nil
}

// MarkSolved 寫入解題結果
func (s *Redis) MarkSolved(ctx context.Context, id int64, solvedBy string, sol allocation.Solution, at time.Time) error {
	encoded, err := json.Marshal(sol)
	if err != nil {
		return fmt.Errorf("encode solution: %w", err)
	}

	res, err := markSolvedScript.Run(ctx, s.client,
		[]string{s.instanceKey(id)},
		solvedBy, string(encoded), formatTime(at),
	).Int()
	if err != nil {
		return fmt.Errorf("mark solved: %w", err)
	}

	switch res {
	case -1:
		return apperrors.ErrNotFound.WithDetails("instance %d", id)
	case 0:
		return apperrors.ErrAlreadySolved
	default:
		return nil
	}
}

// Ping 檢查連線
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 關閉客戶端
func (s *Redis) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func parsePlayer(token string, fields map[string]string) *Player {
	return &Player{
		Token:       token,
		IsReady:     fields["is_ready"] == "1",
		ConnectedTo: fields["connected_to"],
		CreatedAt:   parseTime(fields["created_at"]),
	}
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// 時間以微秒精度儲存，與 PostgreSQL TIMESTAMPTZ 一致
func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	us, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

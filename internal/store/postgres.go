package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/allocation"
	"github.com/koopa0/system-design/14-envy-free-duel/internal/store/sqlc"
	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// pgUniqueViolation PostgreSQL unique_violation 錯誤碼
const pgUniqueViolation = "23505"

// Postgres 以 PostgreSQL 為後端的儲存
//
// 結構由 store/migrations 管理，查詢由 sqlc 依 store/queries 產生。
// 房間刪除時在同一個交易內重設玩家、刪除房間與題目
// （偏好順序透過 ON DELETE CASCADE 一併刪除）。
type Postgres struct {
	pool    *pgxpool.Pool
	queries *sqlc.Queries
	logger  *slog.Logger
}

// NewPostgres 創建 PostgreSQL 儲存
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	return &Postgres{
		pool:    pool,
		queries: sqlc.New(pool),
		logger:  logger,
	}
}

func playerFromRow(row sqlc.Player) *Player {
	return &Player{
		Token:       row.Token,
		IsReady:     row.IsReady,
		ConnectedTo: row.ConnectedTo.String,
		CreatedAt:   row.CreatedAt,
	}
}

func roomFromRow(row sqlc.Room) *Room {
	return &Room{
		Token:      row.Token,
		InstanceID: row.CurrentInstanceID.Int64,
		CreatedAt:  row.CreatedAt,
	}
}

// 空字串與 0 在資料庫中存成 NULL
func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}

// CreatePlayer 建立玩家
func (s *Postgres) CreatePlayer(ctx context.Context, token string) (*Player, error) {
	row, err := s.queries.CreatePlayer(ctx, token)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, apperrors.ErrInvalidInput.WithDetails("player %s already exists", token)
		}
		return nil, fmt.Errorf("insert player: %w", err)
	}
	return playerFromRow(row), nil
}

// GetPlayer 取得玩家
func (s *Postgres) GetPlayer(ctx context.Context, token string) (*Player, error) {
	row, err := s.queries.GetPlayer(ctx, token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetails("player %s", token)
	}
	if err != nil {
		return nil, fmt.Errorf("select player: %w", err)
	}
	return playerFromRow(row), nil
}

// SavePlayer 寫回玩家
func (s *Postgres) SavePlayer(ctx context.Context, p *Player) error {
	affected, err := s.queries.UpdatePlayer(ctx, sqlc.UpdatePlayerParams{
		Token:       p.Token,
		IsReady:     p.IsReady,
		ConnectedTo: nullText(p.ConnectedTo),
	})
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound.WithDetails("player %s", p.Token)
	}
	return nil
}

// GetOrCreateRoom 取得或建立房間
func (s *Postgres) GetOrCreateRoom(ctx context.Context, token string) (*Room, bool, error) {
	row, err := s.queries.InsertRoomIfAbsent(ctx, token)
	if err == nil {
		return roomFromRow(row), true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert room: %w", err)
	}

	// 衝突：房間已存在
	r, err := s.GetRoom(ctx, token)
	if err != nil {
		return nil, false, err
	}
	return r, false, nil
}

// GetRoom 取得房間
func (s *Postgres) GetRoom(ctx context.Context, token string) (*Room, error) {
	row, err := s.queries.GetRoom(ctx, token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetails("room %s", token)
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	return roomFromRow(row), nil
}

// SaveRoom 寫回房間
func (s *Postgres) SaveRoom(ctx context.Context, r *Room) error {
	affected, err := s.queries.UpdateRoomInstance(ctx, sqlc.UpdateRoomInstanceParams{
		Token:             r.Token,
		CurrentInstanceID: nullID(r.InstanceID),
	})
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrNotFound.WithDetails("room %s", r.Token)
	}
	return nil
}

// DeleteRoom 刪除房間（連同題目）
func (s *Postgres) DeleteRoom(ctx context.Context, token string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := s.queries.WithTx(tx)

		instanceID, err := q.LockRoom(ctx, token)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound.WithDetails("room %s", token)
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}

		if err := q.ResetRoomPlayers(ctx, nullText(token)); err != nil {
			return fmt.Errorf("reset players: %w", err)
		}
		if err := q.DeleteRoom(ctx, token); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		if instanceID.Valid {
			if err := q.DeleteInstance(ctx, instanceID.Int64); err != nil {
				return fmt.Errorf("delete instance: %w", err)
			}
		}
		return nil
	})
}

// ListRooms 列出房間與連線人數
func (s *Postgres) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	rows, err := s.queries.ListRoomSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	summaries := make([]RoomSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, RoomSummary{
			Token:          row.Token,
			ConnectedCount: int(row.ConnectedCount),
		})
	}
	return summaries, nil
}

// ConnectedPlayers 房間內的玩家
func (s *Postgres) ConnectedPlayers(ctx context.Context, roomToken string) ([]*Player, error) {
	rows, err := s.queries.ListConnectedPlayers(ctx, nullText(roomToken))
	if err != nil {
		return nil, fmt.Errorf("select connected players: %w", err)
	}

	players := make([]*Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, playerFromRow(row))
	}
	return players, nil
}

// CreateInstance 儲存題目與偏好順序
func (s *Postgres) CreateInstance(ctx context.Context, inst *allocation.Instance) error {
	if err := inst.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid instance")
	}

	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := s.queries.WithTx(tx)

		id, err := q.InsertInstance(ctx, sqlc.InsertInstanceParams{
			Size:      int32(inst.Size),
			CreatedAt: createdAt,
		})
		if err != nil {
			return fmt.Errorf("insert instance: %w", err)
		}

		orders := make([]sqlc.InsertPreferenceOrdersParams, 0, len(inst.Prefs))
		for _, p := range inst.Prefs {
			orders = append(orders, sqlc.InsertPreferenceOrdersParams{
				InstanceID: id,
				ActorIndex: int32(p.Actor),
				Objects:    toInt32s(p.Values),
			})
		}
		if _, err := q.InsertPreferenceOrders(ctx, orders); err != nil {
			return fmt.Errorf("copy preference orders: %w", err)
		}

		inst.ID = id
		inst.CreatedAt = createdAt
		s.logger.Debug("instance stored", "instance_id", id, "size", inst.Size)
		return nil
	})
}

// GetInstance 取得題目
func (s *Postgres) GetInstance(ctx context.Context, id int64) (*allocation.Instance, error) {
	row, err := s.queries.GetInstance(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithDetails("instance %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select instance: %w", err)
	}

	inst := &allocation.Instance{
		ID:        row.ID,
		Size:      int(row.Size),
		SolvedBy:  row.SolvedBy.String,
		CreatedAt: row.CreatedAt,
	}
	if row.Solution != nil {
		inst.Solution = allocation.Solution(fromInt32s(row.Solution))
	}
	if row.SolvedAt.Valid {
		inst.SolvedAt = row.SolvedAt.Time
	}

	orders, err := s.queries.ListPreferenceOrders(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("select preference orders: %w", err)
	}
	inst.Prefs = make([]allocation.PreferenceOrder, 0, len(orders))
	for _, o := range orders {
		inst.Prefs = append(inst.Prefs, allocation.PreferenceOrder{
			Actor:  int(o.ActorIndex),
			Values: fromInt32s(o.Objects),
		})
	}

	if err := inst.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "corrupt instance")
	}
	return inst, nil
}

// MarkSolved 寫入解題結果
//
// WHERE solved_by IS NULL 讓「只能解出一次」由資料庫保證。
func (s *Postgres) MarkSolved(ctx context.Context, id int64, solvedBy string, sol allocation.Solution, at time.Time) error {
	affected, err := s.queries.MarkInstanceSolved(ctx, sqlc.MarkInstanceSolvedParams{
		ID:       id,
		SolvedBy: pgtype.Text{String: solvedBy, Valid: true},
		Solution: toInt32s(sol),
		SolvedAt: pgtype.Timestamptz{Time: at, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if affected == 1 {
		return nil
	}

	exists, err := s.queries.InstanceExists(ctx, id)
	if err != nil {
		return fmt.Errorf("check instance: %w", err)
	}
	if !exists {
		return apperrors.ErrNotFound.WithDetails("instance %d", id)
	}
	return apperrors.ErrAlreadySolved
}

// Ping 檢查連線
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 關閉連線池
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func toInt32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}

func fromInt32s(values []int32) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

package internal

import (
	"context"

	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// maxTokenAttempts 新 token 碰撞時的重試次數
const maxTokenAttempts = 3

// LoadLobby 處理大廳的 load_context
//
// 沒有 token 或 token 未註冊時建立新玩家，回傳玩家 token、
// 建議的新房間 token 與目前的房間列表。
func (m *Manager) LoadLobby(ctx context.Context, playerToken string) (*LobbyContext, error) {
	token, err := m.resolvePlayer(ctx, playerToken)
	if err != nil {
		return nil, err
	}

	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	return &LobbyContext{
		PlayerToken:   token,
		NextRoomToken: NewToken(),
		Rooms:         rooms,
	}, nil
}

// resolvePlayer 確認玩家存在，否則建立新玩家
func (m *Manager) resolvePlayer(ctx context.Context, playerToken string) (string, error) {
	if playerToken != "" && ValidateToken("player", playerToken) == nil {
		_, err := m.store.GetPlayer(ctx, playerToken)
		if err == nil {
			return playerToken, nil
		}
		if !apperrors.IsNotFound(err) {
			return "", err
		}
	}

	var lastErr error
	for range maxTokenAttempts {
		token := NewToken()
		if _, err := m.store.CreatePlayer(ctx, token); err != nil {
			lastErr = err
			if apperrors.Code(err) == apperrors.ErrCodeInvalidInput {
				continue
			}
			return "", err
		}

		m.logger.Info("新玩家已註冊", "player_token", token)
		return token, nil
	}
	return "", lastErr
}

package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// healthTimeout 健康檢查時 ping 儲存的時間上限
const healthTimeout = 2 * time.Second

// Handler HTTP 請求處理器
type Handler struct {
	manager *Manager
	hub     *WebSocketHub
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, hub *WebSocketHub, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// WebSocket 端點（升級需要原始的 ResponseWriter，不經過日誌中間件）
	mux.HandleFunc("GET /ws/menu", h.recoverer(h.hub.ServeMenu))
	mux.HandleFunc("GET /ws/room/{room_token}/{player_token}", h.recoverer(h.hub.ServeRoom))

	// 房間列表
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.manager.ListRooms(r.Context())
	if err != nil {
		h.logger.Error("列出房間失敗", "error", err)
		writeError(w, h.logger, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, map[string]any{
		"rooms": rooms,
		"total": len(rooms),
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.manager.store.Ping(ctx); err != nil {
		h.logger.Warn("儲存健康檢查失敗", "error", err)
		writeJSON(w, h.logger, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
			"time":   time.Now().Unix(),
		}, http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, h.logger, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	writeJSON(w, h.logger, map[string]any{
		"rooms":               stats.Rooms,
		"connections":         stats.Connections,
		"websocket_clients":   h.hub.ConnectionCount(),
		"instances_generated": stats.InstancesGenerated,
		"instances_solved":    stats.InstancesSolved,
	}, http.StatusOK)
}

// writeJSON 返回 JSON 響應
func writeJSON(w http.ResponseWriter, logger *slog.Logger, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// writeError 返回錯誤響應
func writeError(w http.ResponseWriter, logger *slog.Logger, err error, status int) {
	payload := ErrorPayload{
		Code:    apperrors.Code(err),
		Message: "internal error",
	}
	if appErr, ok := asAppError(err); ok {
		payload.Message = appErr.Message
		payload.Details = appErr.Details
	}
	writeJSON(w, logger, map[string]any{"error": payload}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				writeError(w, h.logger, apperrors.ErrInternal, http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap 讓 http.ResponseController 取得原始的 ResponseWriter
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

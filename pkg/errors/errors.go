// Package errors 提供應用程式錯誤處理
//
// 所有層級（allocation、store、router）共用同一組錯誤碼，
// 路由層只需比對錯誤碼即可轉換成客戶端可見的錯誤回應。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeUnknownPlayer 玩家 token 從未在大廳註冊
	ErrCodeUnknownPlayer = "UNKNOWN_PLAYER"
	// ErrCodeUnknownAction 動作不在分派表中
	ErrCodeUnknownAction = "UNKNOWN_ACTION"
	// ErrCodeMalformedSolution 解答格式錯誤
	ErrCodeMalformedSolution = "MALFORMED_SOLUTION"
	// ErrCodeAlreadySolved 題目已被解出
	ErrCodeAlreadySolved = "ALREADY_SOLVED"
	// ErrCodeNoInstance 房間尚未產生題目
	ErrCodeNoInstance = "NO_INSTANCE"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodePlayerInOtherRoom 玩家已在其他房間
	ErrCodePlayerInOtherRoom = "PLAYER_IN_OTHER_ROOM"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeRateLimited 訊息頻率超限
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（錯誤碼相同即視為同一錯誤）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共用的變數，不能就地修改。
func (e *AppError) WithDetails(format string, args ...any) *AppError {
	cp := *e
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

// 預定義錯誤
var (
	ErrNotFound          = New(ErrCodeNotFound, "record not found")
	ErrUnknownPlayer     = New(ErrCodeUnknownPlayer, "unknown player token")
	ErrUnknownAction     = New(ErrCodeUnknownAction, "unknown action")
	ErrMalformedSolution = New(ErrCodeMalformedSolution, "malformed solution")
	ErrAlreadySolved     = New(ErrCodeAlreadySolved, "instance already solved")
	ErrNoInstance        = New(ErrCodeNoInstance, "room has no instance yet")
	ErrRoomFull          = New(ErrCodeRoomFull, "room is full")
	ErrPlayerInOtherRoom = New(ErrCodePlayerInOtherRoom, "player is connected to another room")
	ErrInvalidInput      = New(ErrCodeInvalidInput, "invalid input")
	ErrRateLimited       = New(ErrCodeRateLimited, "too many messages")
	ErrInternal          = New(ErrCodeInternal, "internal error")
)

// Code 取出錯誤碼；非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// IsAlreadySolved 檢查是否為已解出錯誤
func IsAlreadySolved(err error) bool {
	return Code(err) == ErrCodeAlreadySolved
}

// IsMalformedSolution 檢查是否為解答格式錯誤
func IsMalformedSolution(err error) bool {
	return Code(err) == ErrCodeMalformedSolution
}

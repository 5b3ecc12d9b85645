// Package errors 提供房間協調服務的錯誤分類
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeRoomNotFound 房間不存在或已過期
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodePlayerNotFound 玩家不在房間內
	ErrCodePlayerNotFound = "PLAYER_NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeInvalidGameUpdate 遊戲狀態更新未通過驗證（只在內部使用，不回傳給客戶端）
	ErrCodeInvalidGameUpdate = "INVALID_GAME_UPDATE"
	// ErrCodeDeliveryFailure 單一接收者投遞失敗
	ErrCodeDeliveryFailure = "DELIVERY_FAILURE"
	// ErrCodeStoreUnavailable 外部儲存不可用
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
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
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrRoomFull) 對包裝過的錯誤也成立
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

// WithDetails 回傳帶有詳細資訊的副本，預定義錯誤不會被改動
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrRoomNotFound      = New(ErrCodeRoomNotFound, "room not found")
	ErrRoomFull          = New(ErrCodeRoomFull, "room is full")
	ErrPlayerNotFound    = New(ErrCodePlayerNotFound, "player not in room")
	ErrInvalidCapacity   = New(ErrCodeInvalidInput, "invalid max players")
	ErrInvalidGameUpdate = New(ErrCodeInvalidGameUpdate, "game state update rejected")
	ErrDeliveryFailure   = New(ErrCodeDeliveryFailure, "message delivery failed")
	ErrStoreUnavailable  = New(ErrCodeStoreUnavailable, "room store unavailable")
)

// CodeOf 取出錯誤碼，非 AppError 時回傳 ErrCodeInternal
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsNotFound 檢查是否為房間不存在錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeRoomNotFound
}

// IsRoomFull 檢查是否為房間已滿錯誤
func IsRoomFull(err error) bool {
	return CodeOf(err) == ErrCodeRoomFull
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return CodeOf(err) == ErrCodeInvalidInput
}

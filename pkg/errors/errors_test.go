package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestAppError_Is 測試錯誤碼比對
func TestAppError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same predefined error",
			err:    apperrors.ErrRoomFull,
			target: apperrors.ErrRoomFull,
			want:   true,
		},
		{
			name:   "wrapped by fmt",
			err:    fmt.Errorf("join ABC123: %w", apperrors.ErrRoomNotFound),
			target: apperrors.ErrRoomNotFound,
			want:   true,
		},
		{
			name:   "different code",
			err:    apperrors.ErrRoomFull,
			target: apperrors.ErrRoomNotFound,
			want:   false,
		},
		{
			name:   "with details keeps code",
			err:    apperrors.ErrRoomFull.WithDetails("6/6"),
			target: apperrors.ErrRoomFull,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stderrors.Is(tt.err, tt.target))
		})
	}
}

// TestCodeOf 測試錯誤碼提取
func TestCodeOf(t *testing.T) {
	assert.Equal(t, apperrors.ErrCodeRoomNotFound, apperrors.CodeOf(fmt.Errorf("x: %w", apperrors.ErrRoomNotFound)))
	assert.Equal(t, apperrors.ErrCodeInternal, apperrors.CodeOf(stderrors.New("boom")))
	assert.True(t, apperrors.IsRoomFull(apperrors.ErrRoomFull))
	assert.True(t, apperrors.IsNotFound(apperrors.ErrRoomNotFound))
	assert.True(t, apperrors.IsInvalidInput(apperrors.ErrInvalidCapacity))
}

// TestWithDetails_DoesNotMutate 確認預定義錯誤不會被修改
func TestWithDetails_DoesNotMutate(t *testing.T) {
	detailed := apperrors.ErrRoomFull.WithDetails("capacity 2")
	assert.Equal(t, "capacity 2", detailed.Details)
	assert.Empty(t, apperrors.ErrRoomFull.Details)
}

// TestAppError_Error 測試錯誤訊息格式
func TestAppError_Error(t *testing.T) {
	plain := apperrors.New(apperrors.ErrCodeInvalidInput, "bad")
	assert.Equal(t, "[INVALID_INPUT] bad", plain.Error())

	wrapped := apperrors.Wrap(stderrors.New("dial tcp"), apperrors.ErrCodeStoreUnavailable, "redis down")
	assert.Equal(t, "[STORE_UNAVAILABLE] redis down: dial tcp", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, apperrors.ErrStoreUnavailable))
}

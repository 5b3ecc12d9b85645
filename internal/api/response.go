package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/koopa0/system-design/gesturehub/pkg/errors"
)

// errorBody 錯誤回應
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// statusFor 錯誤碼對應的 HTTP 狀態
func statusFor(code string) int {
	switch code {
	case apperrors.ErrCodeRoomNotFound, apperrors.ErrCodePlayerNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeRoomFull:
		return http.StatusConflict
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

// errorResponse 依錯誤碼返回錯誤響應，內部錯誤不外洩細節
func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: apperrors.CodeOf(err)}
	status := statusFor(body.Code)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && status != http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		body.Error = appErr.Message
		body.Details = appErr.Details
	} else {
		body.Error = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}

	h.jsonResponse(w, body, status)
}
